package state

import (
	"context"
	"testing"

	"github.com/crytic/medusa-geth/common"
	gethstate "github.com/crytic/medusa-geth/core/state"
	"github.com/crytic/medusa-geth/core/tracing"
	"github.com/crytic/medusa-geth/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createEmptyStateDb creates an empty stateDB using the provided factory. Intended for tests only.
func createEmptyStateDb(factory StateDBFactory) (*gethstate.ForkStateDb, error) {
	cachingDb := gethstate.NewDatabaseForTesting()
	return factory.New(types.EmptyRootHash, cachingDb)
}

// verifyAgainstState checks that a stateDB exposes the fixture's remote state.
func (f *forkFixture) verifyAgainstState(t *testing.T, stateDb *gethstate.ForkStateDb) {
	assert.EqualValues(t, f.Contract.Balance, stateDb.GetBalance(f.ContractAddress))
	assert.EqualValues(t, f.Contract.Nonce.Uint64(), stateDb.GetNonce(f.ContractAddress))
	assert.EqualValues(t, f.Contract.Code, stateDb.GetCode(f.ContractAddress))
	assert.EqualValues(t, f.StorageSlotPopulatedData, stateDb.GetState(f.ContractAddress, f.StorageSlotPopulatedKey))

	assert.EqualValues(t, f.EOA.Balance, stateDb.GetBalance(f.EOAAddress))
	assert.EqualValues(t, f.EOA.Nonce.Uint64(), stateDb.GetNonce(f.EOAAddress))
}

// TestForkedStateDB verifies that a forked geth StateDB imports state through the forking service.
func TestForkedStateDB(t *testing.T) {
	f, err := newForkFixture(FetchModeKeyed)
	require.NoError(t, err)
	factory := NewForkedStateFactory(context.Background(), f.Service)

	stateDb, err := createEmptyStateDb(factory)
	require.NoError(t, err)
	genesisSnap := stateDb.Snapshot()

	assert.True(t, stateDb.Exist(f.ContractAddress))
	assert.True(t, stateDb.Exist(f.EOAAddress))
	f.verifyAgainstState(t, stateDb)

	// write some new data and make sure it's readable
	newAccount := common.BytesToAddress([]byte{1, 2, 3, 4, 5, 6})
	stateDb.SetNonce(newAccount, 99, tracing.NonceChangeUnspecified)
	stateDb.SetBalance(newAccount, uint256.NewInt(5), tracing.BalanceChangeUnspecified)
	assert.True(t, stateDb.Exist(newAccount))
	assert.EqualValues(t, uint64(99), stateDb.GetNonce(newAccount))

	// roll back to snapshot, ensure fork data still queryable and newly added data was purged
	stateDb.RevertToSnapshot(genesisSnap)
	f.verifyAgainstState(t, stateDb)
	assert.False(t, stateDb.Exist(newAccount))
}

// TestForkedStateFactory verifies that StateDBs created by one factory share the forking service without leaking state
// into each other.
func TestForkedStateFactory(t *testing.T) {
	f, err := newForkFixture(FetchModeKeyed)
	require.NoError(t, err)
	factory := NewForkedStateFactory(context.Background(), f.Service)

	stateDb1, err := createEmptyStateDb(factory)
	require.NoError(t, err)
	stateDb2, err := createEmptyStateDb(factory)
	require.NoError(t, err)

	f.verifyAgainstState(t, stateDb1)
	f.verifyAgainstState(t, stateDb2)

	// mutate an account in one stateDB and ensure the mutation doesn't propagate
	valueAdded := uint256.NewInt(100)
	expectedSum := new(uint256.Int).Add(f.EOA.Balance, valueAdded)
	stateDb1.AddBalance(f.EOAAddress, valueAdded, tracing.BalanceChangeUnspecified)
	assert.EqualValues(t, expectedSum, stateDb1.GetBalance(f.EOAAddress))
	assert.EqualValues(t, f.EOA.Balance, stateDb2.GetBalance(f.EOAAddress))

	stateDb3, err := createEmptyStateDb(factory)
	require.NoError(t, err)
	assert.EqualValues(t, f.EOA.Balance, stateDb3.GetBalance(f.EOAAddress))

	// The remote source was consulted once for everything
	assert.EqualValues(t, 2, f.Remote.accountCalls())
	assert.EqualValues(t, 1, f.Remote.slotCalls.Load())
}

// TestUnbackedStateFactory verifies that unbacked StateDBs start out empty and remain writable.
func TestUnbackedStateFactory(t *testing.T) {
	stateDb, err := createEmptyStateDb(NewUnbackedStateFactory())
	require.NoError(t, err)

	address := common.HexToAddress("0x00000000000000000000000000000000000000ab")
	assert.True(t, stateDb.GetBalance(address).IsZero())
	assert.EqualValues(t, uint64(0), stateDb.GetNonce(address))
	assert.Empty(t, stateDb.GetCode(address))
	assert.Equal(t, common.Hash{}, stateDb.GetState(address, common.Hash{0x01}))

	stateDb.SetBalance(address, uint256.NewInt(12), tracing.BalanceChangeUnspecified)
	assert.EqualValues(t, uint256.NewInt(12), stateDb.GetBalance(address))
}
