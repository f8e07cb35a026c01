package state

import (
	"context"

	"github.com/crytic/forkstate/events"
	"github.com/crytic/forkstate/logging"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/crypto"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"
)

/*
ForkingService implements StateReader over a partial local store, filling gaps from a remote source pinned at a fixed
block. Every account and every storage slot is fetched from the remote source at most once for the lifetime of the
service: found data is written back to the store, and the fact that the key was fetched is recorded in a negative
cache so empty results and failures are not retried.
*/
type ForkingService struct {
	store  Store
	blocks BlockStore
	remote RemoteSource

	negative *negativeCache
	gate     fetchGate
	mode     FetchMode

	// RemoteFetched is published after every completed remote call.
	RemoteFetched events.EventEmitter[RemoteFetchEvent]

	logger *logging.Logger
}

// remoteAccount is the outcome of an account fetch, shared by every caller waiting on the same key.
type remoteAccount struct {
	balance *uint256.Int
	nonce   *uint256.Int
	code    []byte
}

// remoteSlot is the outcome of a storage fetch, shared by every caller waiting on the same key.
type remoteSlot struct {
	value []byte
}

// accountField selects which part of an account a query returns.
type accountField int

const (
	fieldBalance accountField = iota
	fieldNonce
	fieldCode
)

// accountValue holds the answer to an account query: integer for balance and nonce, code for code.
type accountValue struct {
	integer *uint256.Int
	code    []byte
}

// NewForkingService creates a ForkingService. blocks may be nil. An empty mode selects FetchModeKeyed.
func NewForkingService(store Store, blocks BlockStore, remote RemoteSource, mode FetchMode) (*ForkingService, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if remote == nil {
		return nil, ErrNilRemoteSource
	}
	gate, err := newFetchGate(mode)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = FetchModeKeyed
	}

	return &ForkingService{
		store:    store,
		blocks:   blocks,
		remote:   remote,
		negative: newNegativeCache(),
		gate:     gate,
		mode:     mode,
		logger:   logging.GlobalLogger.NewSubLogger("module", logging.FORKING_SERVICE),
	}, nil
}

// FetchMode returns the mode the service serializes remote fetches with.
func (s *ForkingService) FetchMode() FetchMode {
	return s.mode
}

// FetchedCount returns the number of accounts and storage slots the remote source has been consulted for.
func (s *ForkingService) FetchedCount() (int, int) {
	return s.negative.size()
}

// GetBalance returns the balance of address.
func (s *ForkingService) GetBalance(ctx context.Context, address string) (*uint256.Int, error) {
	value, err := s.resolveAccount(ctx, address, fieldBalance)
	if err != nil {
		return nil, err
	}
	return value.integer, nil
}

// GetTransactionCount returns the nonce of address.
func (s *ForkingService) GetTransactionCount(ctx context.Context, address string) (*uint256.Int, error) {
	value, err := s.resolveAccount(ctx, address, fieldNonce)
	if err != nil {
		return nil, err
	}
	return value.integer, nil
}

// GetCode returns the code deployed at address, or nil.
func (s *ForkingService) GetCode(ctx context.Context, address string) ([]byte, error) {
	value, err := s.resolveAccount(ctx, address, fieldCode)
	if err != nil {
		return nil, err
	}
	return value.code, nil
}

// GetStorageAt returns the value of the storage slot of address at position, or nil.
func (s *ForkingService) GetStorageAt(ctx context.Context, address string, position *uint256.Int) ([]byte, error) {
	if position == nil {
		position = new(uint256.Int)
	}

	// Fast paths: the store is authoritative, then the negative cache.
	value, err := s.store.GetStorage(ctx, address, position)
	if err != nil || value != nil {
		return value, err
	}
	if s.negative.hasSlot(address, position) {
		// Write-back saves before it marks, so a fetch that completed since the first read is visible now.
		return s.store.GetStorage(ctx, address, position)
	}

	res, err := s.gate.do(ctx, "storage:"+slotKey(address, position), func() (any, error) {
		// Another fetch may have completed while we were waiting on the gate.
		stored, err := s.store.GetStorage(ctx, address, position)
		if err != nil {
			return nil, err
		}
		if stored != nil || s.negative.hasSlot(address, position) {
			return nil, nil
		}
		return s.fetchStorage(ctx, address, position)
	})
	if err != nil {
		return nil, err
	}

	// A nil result means the key was resolved by an earlier fetch, so the store holds the answer if there is one.
	if res == nil {
		return s.store.GetStorage(ctx, address, position)
	}
	return common.CopyBytes(res.(*remoteSlot).value), nil
}

// GetBlockHash returns the hash of block number, or nil. Hashes missing from the block store are requested from the
// remote source on every call.
func (s *ForkingService) GetBlockHash(ctx context.Context, number uint64) ([]byte, error) {
	if s.blocks != nil {
		hash, err := s.blocks.GetHashByNumber(ctx, number)
		if err != nil || hash != nil {
			return hash, err
		}
	}

	hash, err := s.remote.GetBlockHash(ctx, number)
	if err != nil {
		s.logger.Warn("Failed to fetch the hash of block ", number, " from the remote source", err)
		hash = nil
	}
	s.publish(RemoteFetchEvent{Kind: RemoteFetchBlockHash, BlockNumber: number, Found: hash != nil, Err: err})
	return hash, nil
}

// resolveAccount answers an account query following the store, negative cache, gate and remote fetch order.
func (s *ForkingService) resolveAccount(ctx context.Context, address string, field accountField) (accountValue, error) {
	value, found, err := s.accountFromStore(ctx, address, field)
	if err != nil || found {
		return value, err
	}
	if s.negative.hasAccount(address) {
		// Write-back saves before it marks, so a fetch that completed since the first read is visible now.
		value, found, err = s.accountFromStore(ctx, address, field)
		if err != nil || found {
			return value, err
		}
		return emptyAccountValue(field), nil
	}

	res, err := s.gate.do(ctx, "account:"+normalizeAddress(address), func() (any, error) {
		// Another fetch may have completed while we were waiting on the gate.
		account, err := s.store.GetAccount(ctx, address)
		if err != nil {
			return nil, err
		}
		if account != nil || s.negative.hasAccount(address) {
			return nil, nil
		}
		return s.fetchAccount(ctx, address)
	})
	if err != nil {
		return accountValue{}, err
	}

	if res == nil {
		value, found, err = s.accountFromStore(ctx, address, field)
		if err != nil || found {
			return value, err
		}
		return emptyAccountValue(field), nil
	}

	fetched := res.(*remoteAccount)
	switch field {
	case fieldBalance:
		return accountValue{integer: new(uint256.Int).Set(fetched.balance)}, nil
	case fieldNonce:
		return accountValue{integer: new(uint256.Int).Set(fetched.nonce)}, nil
	default:
		return accountValue{code: common.CopyBytes(fetched.code)}, nil
	}
}

// accountFromStore reads the requested field of the stored account of address. found is false if the store holds no
// account for it.
func (s *ForkingService) accountFromStore(ctx context.Context, address string, field accountField) (accountValue, bool, error) {
	account, err := s.store.GetAccount(ctx, address)
	if err != nil || account == nil {
		return accountValue{}, false, err
	}

	switch field {
	case fieldBalance:
		return accountValue{integer: new(uint256.Int).Set(account.Balance)}, true, nil
	case fieldNonce:
		return accountValue{integer: new(uint256.Int).Set(account.Nonce)}, true, nil
	default:
		if !account.HasCode() {
			return accountValue{}, true, nil
		}
		code, err := s.store.GetCode(ctx, *account.CodeHash)
		return accountValue{code: code}, true, err
	}
}

func emptyAccountValue(field accountField) accountValue {
	if field == fieldCode {
		return accountValue{}
	}
	return accountValue{integer: new(uint256.Int)}
}

// fetchAccount retrieves the balance, nonce and code of address from the remote source as one unit and writes the
// result back. Must be called while holding the gate for the address.
func (s *ForkingService) fetchAccount(ctx context.Context, address string) (*remoteAccount, error) {
	s.logger.Trace("Fetching account ", address, " from the remote source")

	var balance, nonce *uint256.Int
	var code []byte
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		balance, err = s.remote.GetBalance(groupCtx, address)
		return err
	})
	group.Go(func() (err error) {
		nonce, err = s.remote.GetTransactionCount(groupCtx, address)
		return err
	})
	group.Go(func() (err error) {
		code, err = s.remote.GetCode(groupCtx, address)
		return err
	})

	fetched := &remoteAccount{balance: new(uint256.Int), nonce: new(uint256.Int)}
	remoteErr := group.Wait()
	if remoteErr != nil {
		// A partial result is treated as no data at all.
		s.logger.Warn("Failed to fetch account ", address, " from the remote source, treating it as empty", remoteErr)
	} else {
		if balance != nil {
			fetched.balance.Set(balance)
		}
		if nonce != nil {
			fetched.nonce.Set(nonce)
		}
		fetched.code = code
	}

	found := !fetched.balance.IsZero() || !fetched.nonce.IsZero() || len(fetched.code) > 0
	if found {
		account := NewAccount(fetched.balance, fetched.nonce, nil)
		if len(fetched.code) > 0 {
			codeHash := crypto.Keccak256Hash(fetched.code)
			if err := s.store.SaveCode(ctx, codeHash, fetched.code); err != nil {
				return nil, err
			}
			account.CodeHash = &codeHash
		}
		if err := s.store.SaveAccount(ctx, address, account); err != nil {
			return nil, err
		}
	}
	s.negative.markAccount(address)

	s.publish(RemoteFetchEvent{Kind: RemoteFetchAccount, Address: address, Found: found, Err: remoteErr})
	return fetched, nil
}

// fetchStorage retrieves a storage slot from the remote source and writes non-zero values back. Must be called while
// holding the gate for the slot.
func (s *ForkingService) fetchStorage(ctx context.Context, address string, position *uint256.Int) (*remoteSlot, error) {
	s.logger.Trace("Fetching storage slot ", position.Hex(), " of ", address, " from the remote source")

	value, remoteErr := s.remote.GetStorageAt(ctx, address, position)
	if remoteErr != nil {
		s.logger.Warn("Failed to fetch storage slot ", position.Hex(), " of ", address, " from the remote source, treating it as empty", remoteErr)
		value = nil
	}

	found := value != nil && !isZeroWord(value)
	if found {
		if err := s.store.SaveStorage(ctx, address, position, value); err != nil {
			return nil, err
		}
	}
	s.negative.markSlot(address, position)

	s.publish(RemoteFetchEvent{Kind: RemoteFetchStorage, Address: address, Position: new(uint256.Int).Set(position), Found: found, Err: remoteErr})
	return &remoteSlot{value: value}, nil
}

// publish emits a fetch event. Subscriber errors are logged and otherwise ignored.
func (s *ForkingService) publish(event RemoteFetchEvent) {
	if err := s.RemoteFetched.Publish(event); err != nil {
		s.logger.Error("A remote fetch event subscriber failed", err)
	}
}
