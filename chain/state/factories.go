package state

import (
	"context"

	"github.com/crytic/medusa-geth/common"
	gethstate "github.com/crytic/medusa-geth/core/state"
	"github.com/holiman/uint256"
)

/*
ForkedStateFactory builds geth StateDBs that import missing state through a shared StateReader. Every StateDB gets its
own RemoteStateProvider, so imports made by one StateDB never leak into another, while the reader (and its caches) is
shared by all of them.
*/
type ForkedStateFactory struct {
	ctx    context.Context
	reader StateReader
}

// NewForkedStateFactory creates a ForkedStateFactory reading through reader.
func NewForkedStateFactory(ctx context.Context, reader StateReader) *ForkedStateFactory {
	return &ForkedStateFactory{ctx: ctx, reader: reader}
}

// New creates a StateDB at root on top of db.
func (f *ForkedStateFactory) New(root common.Hash, db gethstate.Database) (*gethstate.ForkStateDb, error) {
	return gethstate.NewForkedStateDb(root, db, NewRemoteStateProvider(f.ctx, f.reader))
}

// StateDBFactory builds geth StateDBs on top of a state database.
type StateDBFactory interface {
	New(root common.Hash, db gethstate.Database) (*gethstate.ForkStateDb, error)
}

var _ StateDBFactory = (*ForkedStateFactory)(nil)
var _ StateDBFactory = (*UnbackedStateFactory)(nil)

// UnbackedStateFactory builds StateDBs that are not backed by any remote state, but still use the forked StateDB
// logic around state object existence checks.
type UnbackedStateFactory struct{}

func NewUnbackedStateFactory() *UnbackedStateFactory {
	return &UnbackedStateFactory{}
}

func (f *UnbackedStateFactory) New(root common.Hash, db gethstate.Database) (*gethstate.ForkStateDb, error) {
	return gethstate.NewForkedStateDb(root, db, NewRemoteStateProvider(context.Background(), emptyReader{}))
}

// emptyReader reads a chain with no state at all.
type emptyReader struct{}

func (emptyReader) GetBalance(ctx context.Context, address string) (*uint256.Int, error) {
	return new(uint256.Int), nil
}

func (emptyReader) GetTransactionCount(ctx context.Context, address string) (*uint256.Int, error) {
	return new(uint256.Int), nil
}

func (emptyReader) GetCode(ctx context.Context, address string) ([]byte, error) {
	return nil, nil
}

func (emptyReader) GetStorageAt(ctx context.Context, address string, position *uint256.Int) ([]byte, error) {
	return nil, nil
}

func (emptyReader) GetBlockHash(ctx context.Context, number uint64) ([]byte, error) {
	return nil, nil
}
