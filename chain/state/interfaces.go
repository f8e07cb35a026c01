package state

import (
	"context"

	"github.com/crytic/medusa-geth/common"
	"github.com/holiman/uint256"
)

/*
StateReader is the state-access contract consumed by an EVM execution core. Addresses are given in textual hex form,
in any case and with or without the "0x" prefix.
"Not found" is never an error: balances and nonces are zero, code, storage values and block hashes are nil. Only
infrastructure failures of the underlying store are returned as errors.
*/
type StateReader interface {
	GetBalance(ctx context.Context, address string) (*uint256.Int, error)
	GetTransactionCount(ctx context.Context, address string) (*uint256.Int, error)
	GetCode(ctx context.Context, address string) ([]byte, error)
	GetStorageAt(ctx context.Context, address string, position *uint256.Int) ([]byte, error)
	GetBlockHash(ctx context.Context, number uint64) ([]byte, error)
}

/*
Store is the persistent key/value storage for accounts, code blobs and storage slots. Once populated it is
authoritative. Getters return nil (and no error) for missing records. Implementations must be safe for concurrent
reads and single-record upserts.
*/
type Store interface {
	GetAccount(ctx context.Context, address string) (*Account, error)
	SaveAccount(ctx context.Context, address string, account *Account) error
	GetCode(ctx context.Context, codeHash common.Hash) ([]byte, error)
	SaveCode(ctx context.Context, codeHash common.Hash, code []byte) error
	GetStorage(ctx context.Context, address string, position *uint256.Int) ([]byte, error)
	SaveStorage(ctx context.Context, address string, position *uint256.Int, value []byte) error
}

// BlockStore maps block numbers to block hashes. A missing block yields a nil hash.
type BlockStore interface {
	GetHashByNumber(ctx context.Context, number uint64) ([]byte, error)
}

/*
RemoteSource issues read queries against a live chain node as of a fixed block. Every call is a single round trip.
Errors may be network errors, malformed responses or a cancelled context.
*/
type RemoteSource interface {
	GetBalance(ctx context.Context, address string) (*uint256.Int, error)
	GetTransactionCount(ctx context.Context, address string) (*uint256.Int, error)
	GetCode(ctx context.Context, address string) ([]byte, error)
	GetStorageAt(ctx context.Context, address string, position *uint256.Int) ([]byte, error)
	GetBlockHash(ctx context.Context, number uint64) ([]byte, error)
}

var _ StateReader = (*LocalService)(nil)
var _ StateReader = (*ForkingService)(nil)
var _ RemoteSource = (*RPCSource)(nil)
