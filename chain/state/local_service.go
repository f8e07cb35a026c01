package state

import (
	"context"

	"github.com/holiman/uint256"
)

/*
LocalService implements StateReader directly against a Store and an optional BlockStore, with no remote fallback and
no caching of its own.
*/
type LocalService struct {
	store  Store
	blocks BlockStore
}

// NewLocalService creates a LocalService. blocks may be nil, in which case every block hash is unknown.
func NewLocalService(store Store, blocks BlockStore) (*LocalService, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	return &LocalService{store: store, blocks: blocks}, nil
}

// GetBalance returns the stored balance of address, or zero if no account is stored.
func (s *LocalService) GetBalance(ctx context.Context, address string) (*uint256.Int, error) {
	account, err := s.store.GetAccount(ctx, address)
	if err != nil || account == nil {
		return new(uint256.Int), err
	}
	return new(uint256.Int).Set(account.Balance), nil
}

// GetTransactionCount returns the stored nonce of address, or zero if no account is stored.
func (s *LocalService) GetTransactionCount(ctx context.Context, address string) (*uint256.Int, error) {
	account, err := s.store.GetAccount(ctx, address)
	if err != nil || account == nil {
		return new(uint256.Int), err
	}
	return new(uint256.Int).Set(account.Nonce), nil
}

// GetCode returns the code blob referenced by the stored account of address, or nil.
func (s *LocalService) GetCode(ctx context.Context, address string) ([]byte, error) {
	account, err := s.store.GetAccount(ctx, address)
	if err != nil || account == nil || !account.HasCode() {
		return nil, err
	}
	return s.store.GetCode(ctx, *account.CodeHash)
}

// GetStorageAt returns the stored value of the slot, or nil.
func (s *LocalService) GetStorageAt(ctx context.Context, address string, position *uint256.Int) ([]byte, error) {
	return s.store.GetStorage(ctx, address, position)
}

// GetBlockHash returns the hash of block number from the block store, or nil.
func (s *LocalService) GetBlockHash(ctx context.Context, number uint64) ([]byte, error) {
	if s.blocks == nil {
		return nil, nil
	}
	return s.blocks.GetHashByNumber(ctx, number)
}
