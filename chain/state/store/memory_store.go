package store

import (
	"context"
	"sync"

	"github.com/crytic/forkstate/chain/state"
	"github.com/crytic/medusa-geth/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var _ state.Store = (*MemoryStore)(nil)
var _ state.BlockStore = (*MemoryStore)(nil)

/*
MemoryStore is a thread-safe State Store and Block Store that keeps everything in memory. Textual addresses are parsed
into their 20-byte form, so every spelling of an address maps to the same record. Records are copied on the way in
and on the way out.
*/
type MemoryStore struct {
	accountLock sync.RWMutex
	accounts    map[common.Address]*state.Account

	codeLock sync.RWMutex
	code     map[common.Hash][]byte

	slotLock sync.RWMutex
	slots    map[common.Address]map[common.Hash]common.Hash

	blockLock sync.RWMutex
	blocks    map[uint64]common.Hash
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[common.Address]*state.Account),
		code:     make(map[common.Hash][]byte),
		slots:    make(map[common.Address]map[common.Hash]common.Hash),
		blocks:   make(map[uint64]common.Hash),
	}
}

// positionKey converts a storage position into its 32-byte big-endian key.
func positionKey(position *uint256.Int) common.Hash {
	if position == nil {
		return common.Hash{}
	}
	return position.Bytes32()
}

// GetAccount returns the account stored for address, or nil.
func (m *MemoryStore) GetAccount(ctx context.Context, address string) (*state.Account, error) {
	m.accountLock.RLock()
	defer m.accountLock.RUnlock()
	return m.accounts[common.HexToAddress(address)].Copy(), nil
}

// SaveAccount replaces the account stored for address.
func (m *MemoryStore) SaveAccount(ctx context.Context, address string, account *state.Account) error {
	m.accountLock.Lock()
	defer m.accountLock.Unlock()
	m.accounts[common.HexToAddress(address)] = account.Copy()
	return nil
}

// GetCode returns the code blob stored under codeHash, or nil.
func (m *MemoryStore) GetCode(ctx context.Context, codeHash common.Hash) ([]byte, error) {
	m.codeLock.RLock()
	defer m.codeLock.RUnlock()
	return common.CopyBytes(m.code[codeHash]), nil
}

// SaveCode stores a code blob under codeHash.
func (m *MemoryStore) SaveCode(ctx context.Context, codeHash common.Hash, code []byte) error {
	m.codeLock.Lock()
	defer m.codeLock.Unlock()
	m.code[codeHash] = common.CopyBytes(code)
	return nil
}

// GetStorage returns the 32-byte value of a storage slot, or nil if the slot is not stored.
func (m *MemoryStore) GetStorage(ctx context.Context, address string, position *uint256.Int) ([]byte, error) {
	m.slotLock.RLock()
	defer m.slotLock.RUnlock()
	if slotLookup, ok := m.slots[common.HexToAddress(address)]; ok {
		if data, ok := slotLookup[positionKey(position)]; ok {
			return data.Bytes(), nil
		}
	}
	return nil, nil
}

// SaveStorage stores the value of a storage slot. Saving a zero word removes the slot.
func (m *MemoryStore) SaveStorage(ctx context.Context, address string, position *uint256.Int, value []byte) error {
	if len(value) > common.HashLength {
		return errors.Wrapf(ErrStorageValueTooLong, "%d bytes at slot %s of %s", len(value), positionKey(position).Hex(), address)
	}

	m.slotLock.Lock()
	defer m.slotLock.Unlock()

	addr := common.HexToAddress(address)
	word := common.BytesToHash(value)
	if word == (common.Hash{}) {
		if slotLookup, ok := m.slots[addr]; ok {
			delete(slotLookup, positionKey(position))
			if len(slotLookup) == 0 {
				delete(m.slots, addr)
			}
		}
		return nil
	}

	if _, ok := m.slots[addr]; !ok {
		m.slots[addr] = make(map[common.Hash]common.Hash)
	}
	m.slots[addr][positionKey(position)] = word
	return nil
}

// GetHashByNumber returns the hash of block number, or nil.
func (m *MemoryStore) GetHashByNumber(ctx context.Context, number uint64) ([]byte, error) {
	m.blockLock.RLock()
	defer m.blockLock.RUnlock()
	if hash, ok := m.blocks[number]; ok {
		return hash.Bytes(), nil
	}
	return nil, nil
}

// SetBlockHash records the hash of block number.
func (m *MemoryStore) SetBlockHash(ctx context.Context, number uint64, hash common.Hash) error {
	m.blockLock.Lock()
	defer m.blockLock.Unlock()
	m.blocks[number] = hash
	return nil
}

// Accounts returns the addresses of every stored account in ascending order.
func (m *MemoryStore) Accounts() []common.Address {
	m.accountLock.RLock()
	accounts := maps.Clone(m.accounts)
	m.accountLock.RUnlock()

	addresses := make([]common.Address, 0, len(accounts))
	for addr := range accounts {
		addresses = append(addresses, addr)
	}
	slices.SortFunc(addresses, func(a, b common.Address) int {
		return a.Cmp(b)
	})
	return addresses
}

// SlotCount returns the number of storage slots stored for all accounts.
func (m *MemoryStore) SlotCount() int {
	m.slotLock.RLock()
	defer m.slotLock.RUnlock()
	count := 0
	for _, slotLookup := range m.slots {
		count += len(slotLookup)
	}
	return count
}
