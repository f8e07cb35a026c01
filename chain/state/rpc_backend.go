package state

import (
	"context"
	"time"

	"github.com/crytic/forkstate/chain/state/rpc"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

/*
RPCSource is a RemoteSource for a JSON-RPC node. It is locked to a single block height and performs no caching of its
own: every call is a request (possibly shared with an identical one in flight).
*/
type RPCSource struct {
	clientPool *rpc.ClientPool
	height     string

	// requestTimeout bounds every call when non-zero.
	requestTimeout time.Duration
}

// NewRPCSource dials url and creates an RPCSource pinned at height.
func NewRPCSource(
	ctx context.Context,
	url string,
	height uint64,
	poolSize uint,
	maxRetries int,
	requestTimeout time.Duration) (*RPCSource, error) {
	clientPool, err := rpc.NewClientPool(ctx, url, poolSize, maxRetries)
	if err != nil {
		return nil, err
	}
	return NewRPCSourceFromPool(clientPool, height, requestTimeout), nil
}

// NewRPCSourceFromPool creates an RPCSource pinned at height on top of an existing client pool.
func NewRPCSourceFromPool(clientPool *rpc.ClientPool, height uint64, requestTimeout time.Duration) *RPCSource {
	return &RPCSource{
		clientPool:     clientPool,
		height:         hexutil.Uint64(height).String(),
		requestTimeout: requestTimeout,
	}
}

// Close closes the underlying client pool.
func (q *RPCSource) Close() {
	q.clientPool.Close()
}

// callContext derives the context of a single call.
func (q *RPCSource) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.requestTimeout > 0 {
		return context.WithTimeout(ctx, q.requestTimeout)
	}
	return context.WithCancel(ctx)
}

// wireAddress converts a textual address into the form the node accepts.
func wireAddress(address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, errors.Errorf("invalid address %q", address)
	}
	return common.HexToAddress(address), nil
}

// GetBalance returns the balance of address at the pinned height.
func (q *RPCSource) GetBalance(ctx context.Context, address string) (*uint256.Int, error) {
	addr, err := wireAddress(address)
	if err != nil {
		return nil, err
	}
	ctx, cancel := q.callContext(ctx)
	defer cancel()

	var balance hexutil.Big
	if err = q.clientPool.ExecuteRequestBlocking(ctx, &balance, "eth_getBalance", addr, q.height); err != nil {
		return nil, err
	}
	result, overflow := uint256.FromBig(balance.ToInt())
	if overflow {
		return nil, errors.Errorf("balance of %s overflows 256 bits", address)
	}
	return result, nil
}

// GetTransactionCount returns the nonce of address at the pinned height.
func (q *RPCSource) GetTransactionCount(ctx context.Context, address string) (*uint256.Int, error) {
	addr, err := wireAddress(address)
	if err != nil {
		return nil, err
	}
	ctx, cancel := q.callContext(ctx)
	defer cancel()

	var nonce hexutil.Uint64
	if err = q.clientPool.ExecuteRequestBlocking(ctx, &nonce, "eth_getTransactionCount", addr, q.height); err != nil {
		return nil, err
	}
	return uint256.NewInt(uint64(nonce)), nil
}

// GetCode returns the code deployed at address at the pinned height, or nil.
func (q *RPCSource) GetCode(ctx context.Context, address string) ([]byte, error) {
	addr, err := wireAddress(address)
	if err != nil {
		return nil, err
	}
	ctx, cancel := q.callContext(ctx)
	defer cancel()

	var code hexutil.Bytes
	if err = q.clientPool.ExecuteRequestBlocking(ctx, &code, "eth_getCode", addr, q.height); err != nil {
		return nil, err
	}
	if len(code) == 0 {
		return nil, nil
	}
	return code, nil
}

/*
GetStorageAt returns the 32-byte value of a storage slot at the pinned height.
Note that Ethereum RPC will return zero for slots that have never been written to or are associated with undeployed
contracts.
*/
func (q *RPCSource) GetStorageAt(ctx context.Context, address string, position *uint256.Int) ([]byte, error) {
	addr, err := wireAddress(address)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = new(uint256.Int)
	}
	ctx, cancel := q.callContext(ctx)
	defer cancel()

	var result hexutil.Bytes
	slot := common.Hash(position.Bytes32())
	if err = q.clientPool.ExecuteRequestBlocking(ctx, &result, "eth_getStorageAt", addr, slot, q.height); err != nil {
		return nil, err
	}
	return common.BytesToHash(result).Bytes(), nil
}

// blockHeader holds the part of an eth_getBlockByNumber response we use.
type blockHeader struct {
	Hash *common.Hash `json:"hash"`
}

// GetBlockHash returns the hash of block number, or nil if the node does not know it.
func (q *RPCSource) GetBlockHash(ctx context.Context, number uint64) ([]byte, error) {
	ctx, cancel := q.callContext(ctx)
	defer cancel()

	var header *blockHeader
	if err := q.clientPool.ExecuteRequestBlocking(ctx, &header, "eth_getBlockByNumber", hexutil.Uint64(number).String(), false); err != nil {
		return nil, err
	}
	if header == nil || header.Hash == nil {
		return nil, nil
	}
	return header.Hash.Bytes(), nil
}
