package state

import (
	"context"
	"math/big"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/common/hexutil"
	"github.com/crytic/medusa-geth/rpc"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	// rpcContract is an account with code and storage on the test node.
	rpcContract = common.HexToAddress("0x00000000000000000000000000000000000c0de0")
	// rpcBroken is an account the test node fails to serve.
	rpcBroken = common.HexToAddress("0x000000000000000000000000000000000000dead")
	// rpcSlow is an account the test node takes a long time to serve.
	rpcSlow = common.HexToAddress("0x0000000000000000000000000000000000000510")
)

// testEthService serves a small, fixed chain state over the "eth" JSON-RPC namespace.
type testEthService struct {
	lock    sync.Mutex
	heights []string

	balanceCalls atomic.Int64
}

func (s *testEthService) record(block string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.heights = append(s.heights, block)
}

func (s *testEthService) GetBalance(addr common.Address, block string) (*hexutil.Big, error) {
	s.record(block)
	s.balanceCalls.Add(1)
	if addr == rpcBroken {
		return nil, errors.New("header not found")
	}
	if addr == rpcContract {
		return (*hexutil.Big)(big.NewInt(1_000_000)), nil
	}
	return (*hexutil.Big)(big.NewInt(0)), nil
}

func (s *testEthService) GetTransactionCount(addr common.Address, block string) (hexutil.Uint64, error) {
	s.record(block)
	if addr == rpcContract {
		return 7, nil
	}
	return 0, nil
}

func (s *testEthService) GetCode(ctx context.Context, addr common.Address, block string) (hexutil.Bytes, error) {
	s.record(block)
	if addr == rpcSlow {
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
		return nil, nil
	}
	if addr == rpcContract {
		return hexutil.Bytes{0x60, 0x80, 0x60, 0x40}, nil
	}
	return hexutil.Bytes{}, nil
}

func (s *testEthService) GetStorageAt(addr common.Address, slot common.Hash, block string) (hexutil.Bytes, error) {
	s.record(block)
	if addr == rpcContract && slot == common.HexToHash("0x01") {
		return common.HexToHash("0x2a").Bytes(), nil
	}
	return common.Hash{}.Bytes(), nil
}

func (s *testEthService) GetBlockByNumber(number hexutil.Uint64, full bool) (map[string]any, error) {
	if number > 100 {
		return nil, nil
	}
	return map[string]any{
		"number": number,
		"hash":   common.BigToHash(new(big.Int).SetUint64(uint64(number) + 0xb000)),
	}, nil
}

// startTestNode serves a testEthService over HTTP for the duration of the test.
func startTestNode(t *testing.T) (*testEthService, string) {
	service := &testEthService{}
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", service))
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		httpServer.Close()
		server.Stop()
	})
	return service, httpServer.URL
}

// TestRPCSource verifies every query of the RPC remote source against an in-process node.
func TestRPCSource(t *testing.T) {
	ctx := context.Background()
	node, url := startTestNode(t)

	source, err := NewRPCSource(ctx, url, 100, 2, 2, 0)
	require.NoError(t, err)
	defer source.Close()

	balance, err := source.GetBalance(ctx, rpcContract.Hex())
	require.NoError(t, err)
	assert.EqualValues(t, uint256.NewInt(1_000_000), balance)

	// Addresses without a prefix are accepted
	nonce, err := source.GetTransactionCount(ctx, common.Bytes2Hex(rpcContract.Bytes()))
	require.NoError(t, err)
	assert.EqualValues(t, uint64(7), nonce.Uint64())

	code, err := source.GetCode(ctx, rpcContract.Hex())
	require.NoError(t, err)
	assert.EqualValues(t, []byte{0x60, 0x80, 0x60, 0x40}, code)

	code, err = source.GetCode(ctx, common.Address{0x01}.Hex())
	require.NoError(t, err)
	assert.Nil(t, code)

	value, err := source.GetStorageAt(ctx, rpcContract.Hex(), uint256.NewInt(1))
	require.NoError(t, err)
	assert.EqualValues(t, common.HexToHash("0x2a").Bytes(), value)

	value, err = source.GetStorageAt(ctx, rpcContract.Hex(), uint256.NewInt(2))
	require.NoError(t, err)
	assert.Len(t, value, 32)
	assert.True(t, isZeroWord(value))

	hash, err := source.GetBlockHash(ctx, 99)
	require.NoError(t, err)
	assert.EqualValues(t, common.BigToHash(big.NewInt(99+0xb000)).Bytes(), hash)

	hash, err = source.GetBlockHash(ctx, 101)
	require.NoError(t, err)
	assert.Nil(t, hash)

	// Every state query is pinned to the fork height
	node.lock.Lock()
	for _, height := range node.heights {
		assert.Equal(t, "0x64", height)
	}
	node.lock.Unlock()

	// Node errors and malformed addresses are errors
	_, err = source.GetBalance(ctx, rpcBroken.Hex())
	assert.Error(t, err)
	_, err = source.GetBalance(ctx, "0x1234")
	assert.Error(t, err)
}

// TestRPCSourceRequestTimeout verifies that the per-call timeout aborts slow requests.
func TestRPCSourceRequestTimeout(t *testing.T) {
	ctx := context.Background()
	_, url := startTestNode(t)

	source, err := NewRPCSource(ctx, url, 1, 1, 1, 100*time.Millisecond)
	require.NoError(t, err)
	defer source.Close()

	start := time.Now()
	_, err = source.GetCode(ctx, rpcSlow.Hex())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

// TestForkingServiceOverRPC verifies the forking service end to end against an in-process node.
func TestForkingServiceOverRPC(t *testing.T) {
	ctx := context.Background()
	node, url := startTestNode(t)

	source, err := NewRPCSource(ctx, url, 100, 4, 2, 5*time.Second)
	require.NoError(t, err)
	defer source.Close()

	store := newTestStore()
	service, err := NewForkingService(store, store, source, FetchModeKeyed)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		balance, err := service.GetBalance(ctx, rpcContract.Hex())
		require.NoError(t, err)
		assert.EqualValues(t, uint64(1_000_000), balance.Uint64())
	}
	assert.EqualValues(t, 1, node.balanceCalls.Load())

	code, err := service.GetCode(ctx, rpcContract.Hex())
	require.NoError(t, err)
	assert.EqualValues(t, []byte{0x60, 0x80, 0x60, 0x40}, code)

	// A node error is swallowed and cached
	balance, err := service.GetBalance(ctx, rpcBroken.Hex())
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
	_, err = service.GetBalance(ctx, rpcBroken.Hex())
	require.NoError(t, err)
	assert.EqualValues(t, 2, node.balanceCalls.Load())
}
