package state

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/crytic/medusa-geth/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

/* This file is exclusively for test fixtures. */

var _ Store = (*testStore)(nil)
var _ BlockStore = (*testStore)(nil)
var _ RemoteSource = (*testRemote)(nil)

// errTestRemote is the error returned by a failing testRemote.
var errTestRemote = errors.New("remote unavailable")

// errTestStore is the error returned by a failing testStore.
var errTestStore = errors.New("store unavailable")

// testStore is a minimal map-backed Store and BlockStore. Like real stores, it parses addresses so that every spelling
// of an address maps to the same record.
type testStore struct {
	lock     sync.RWMutex
	accounts map[string]*Account
	code     map[common.Hash][]byte
	slots    map[string][]byte
	blocks   map[uint64][]byte

	// failing makes every call return errTestStore.
	failing atomic.Bool

	// failWrites makes only writes return errTestStore.
	failWrites atomic.Bool

	accountWrites atomic.Int64
	slotWrites    atomic.Int64

	// missHook, when set, runs once right after the next account or slot read that finds nothing, before that read
	// returns. It lets a test slip a complete fetch in between a reader's store miss and its next step.
	missHook atomic.Pointer[func()]
}

func storeKey(address string) string {
	return common.HexToAddress(address).Hex()
}

func newTestStore() *testStore {
	return &testStore{
		accounts: make(map[string]*Account),
		code:     make(map[common.Hash][]byte),
		slots:    make(map[string][]byte),
		blocks:   make(map[uint64][]byte),
	}
}

func (s *testStore) GetAccount(ctx context.Context, address string) (*Account, error) {
	if s.failing.Load() {
		return nil, errTestStore
	}
	s.lock.RLock()
	account := s.accounts[storeKey(address)].Copy()
	s.lock.RUnlock()
	if account == nil {
		s.runMissHook()
	}
	return account, nil
}

func (s *testStore) SaveAccount(ctx context.Context, address string, account *Account) error {
	if s.failing.Load() || s.failWrites.Load() {
		return errTestStore
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.accounts[storeKey(address)] = account.Copy()
	s.accountWrites.Add(1)
	return nil
}

func (s *testStore) GetCode(ctx context.Context, codeHash common.Hash) ([]byte, error) {
	if s.failing.Load() {
		return nil, errTestStore
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	return common.CopyBytes(s.code[codeHash]), nil
}

func (s *testStore) SaveCode(ctx context.Context, codeHash common.Hash, code []byte) error {
	if s.failing.Load() || s.failWrites.Load() {
		return errTestStore
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.code[codeHash] = common.CopyBytes(code)
	return nil
}

func (s *testStore) GetStorage(ctx context.Context, address string, position *uint256.Int) ([]byte, error) {
	if s.failing.Load() {
		return nil, errTestStore
	}
	s.lock.RLock()
	value := common.CopyBytes(s.slots[storeKey(address)+"/"+position.Hex()])
	s.lock.RUnlock()
	if value == nil {
		s.runMissHook()
	}
	return value, nil
}

// runMissHook runs and clears missHook, if set. The store lock must not be held.
func (s *testStore) runMissHook() {
	if hook := s.missHook.Swap(nil); hook != nil {
		(*hook)()
	}
}

func (s *testStore) SaveStorage(ctx context.Context, address string, position *uint256.Int, value []byte) error {
	if s.failing.Load() || s.failWrites.Load() {
		return errTestStore
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.slots[storeKey(address)+"/"+position.Hex()] = common.CopyBytes(value)
	s.slotWrites.Add(1)
	return nil
}

func (s *testStore) GetHashByNumber(ctx context.Context, number uint64) ([]byte, error) {
	if s.failing.Load() {
		return nil, errTestStore
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	return common.CopyBytes(s.blocks[number]), nil
}

// remoteAccountData is the account data served by a testRemote.
type remoteAccountData struct {
	Balance *uint256.Int
	Nonce   *uint256.Int
	Code    []byte
}

/*
testRemote is an offline RemoteSource serving pre-populated data. Unknown accounts are empty and unknown slots are
zero, like on a real node. It counts calls per method and can be made to fail or to block.
*/
type testRemote struct {
	lock     sync.RWMutex
	accounts map[common.Address]remoteAccountData
	slots    map[common.Address]map[common.Hash]common.Hash
	blocks   map[uint64]common.Hash

	// failing makes every call return errTestRemote.
	failing atomic.Bool

	// failCode makes only GetCode fail.
	failCode atomic.Bool

	// accountGate, when set, blocks balance, nonce and code calls until it is closed or the call's context is done.
	accountGate chan struct{}

	// started receives the method name when a call begins, if set.
	started chan string

	balanceCalls atomic.Int64
	nonceCalls   atomic.Int64
	codeCalls    atomic.Int64
	slotCalls    atomic.Int64
	blockCalls   atomic.Int64
}

func newTestRemote() *testRemote {
	return &testRemote{
		accounts: make(map[common.Address]remoteAccountData),
		slots:    make(map[common.Address]map[common.Hash]common.Hash),
		blocks:   make(map[uint64]common.Hash),
	}
}

func (r *testRemote) setAccount(addr common.Address, data remoteAccountData) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.accounts[addr] = data
}

func (r *testRemote) setStorageAt(addr common.Address, slot common.Hash, value common.Hash) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, exists := r.slots[addr]; !exists {
		r.slots[addr] = make(map[common.Hash]common.Hash)
	}
	r.slots[addr][slot] = value
}

func (r *testRemote) setBlockHash(number uint64, hash common.Hash) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.blocks[number] = hash
}

// enter simulates the round trip of a call.
func (r *testRemote) enter(ctx context.Context, method string) error {
	if r.started != nil {
		r.started <- method
	}
	gated := method == "balance" || method == "nonce" || method == "code"
	if gated && r.accountGate != nil {
		select {
		case <-r.accountGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.failing.Load() {
		return errTestRemote
	}
	return nil
}

func (r *testRemote) account(address string) remoteAccountData {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.accounts[common.HexToAddress(address)]
}

func (r *testRemote) GetBalance(ctx context.Context, address string) (*uint256.Int, error) {
	r.balanceCalls.Add(1)
	if err := r.enter(ctx, "balance"); err != nil {
		return nil, err
	}
	if balance := r.account(address).Balance; balance != nil {
		return new(uint256.Int).Set(balance), nil
	}
	return new(uint256.Int), nil
}

func (r *testRemote) GetTransactionCount(ctx context.Context, address string) (*uint256.Int, error) {
	r.nonceCalls.Add(1)
	if err := r.enter(ctx, "nonce"); err != nil {
		return nil, err
	}
	if nonce := r.account(address).Nonce; nonce != nil {
		return new(uint256.Int).Set(nonce), nil
	}
	return new(uint256.Int), nil
}

func (r *testRemote) GetCode(ctx context.Context, address string) ([]byte, error) {
	r.codeCalls.Add(1)
	if err := r.enter(ctx, "code"); err != nil {
		return nil, err
	}
	if r.failCode.Load() {
		return nil, errTestRemote
	}
	return common.CopyBytes(r.account(address).Code), nil
}

func (r *testRemote) GetStorageAt(ctx context.Context, address string, position *uint256.Int) ([]byte, error) {
	r.slotCalls.Add(1)
	if err := r.enter(ctx, "storage"); err != nil {
		return nil, err
	}
	r.lock.RLock()
	defer r.lock.RUnlock()
	value := r.slots[common.HexToAddress(address)][common.Hash(position.Bytes32())]
	return value.Bytes(), nil
}

func (r *testRemote) GetBlockHash(ctx context.Context, number uint64) ([]byte, error) {
	r.blockCalls.Add(1)
	if err := r.enter(ctx, "blockhash"); err != nil {
		return nil, err
	}
	r.lock.RLock()
	defer r.lock.RUnlock()
	if hash, exists := r.blocks[number]; exists {
		return hash.Bytes(), nil
	}
	return nil, nil
}

// accountCalls returns the number of account fetches, counted by balance requests.
func (r *testRemote) accountCalls() int64 {
	return r.balanceCalls.Load()
}

// forkFixture is a test fixture for a forking service over a pre-populated remote.
type forkFixture struct {
	Store   *testStore
	Remote  *testRemote
	Service *ForkingService

	ContractAddress common.Address
	Contract        remoteAccountData

	EOAAddress common.Address
	EOA        remoteAccountData

	EmptyAddress common.Address

	StorageSlotPopulatedKey  common.Hash
	StorageSlotPopulatedData common.Hash

	StorageSlotEmptyKey common.Hash

	BlockNumber uint64
	BlockHash   common.Hash
}

func newForkFixture(mode FetchMode) (*forkFixture, error) {
	f := &forkFixture{
		Store:           newTestStore(),
		Remote:          newTestRemote(),
		ContractAddress: common.BytesToAddress([]byte{5, 5, 5, 5}),
		Contract: remoteAccountData{
			Balance: uint256.NewInt(1000),
			Nonce:   uint256.NewInt(5),
			Code:    []byte{1, 2, 3},
		},
		EOAAddress: common.BytesToAddress([]byte{6, 6, 6, 6}),
		EOA: remoteAccountData{
			Balance: uint256.NewInt(5000),
			Nonce:   uint256.NewInt(1),
		},
		EmptyAddress:             common.BytesToAddress([]byte{0, 0, 0, 1}),
		StorageSlotPopulatedKey:  common.HexToHash("0xaaaaaaaa"),
		StorageSlotPopulatedData: common.HexToHash("0xdeadbeef"),
		StorageSlotEmptyKey:      common.HexToHash("0xbbbbbbbbb"),
		BlockNumber:              1234,
		BlockHash:                common.HexToHash("0x1234"),
	}

	f.Remote.setAccount(f.ContractAddress, f.Contract)
	f.Remote.setAccount(f.EOAAddress, f.EOA)
	f.Remote.setStorageAt(f.ContractAddress, f.StorageSlotPopulatedKey, f.StorageSlotPopulatedData)
	f.Remote.setStorageAt(f.ContractAddress, f.StorageSlotEmptyKey, common.Hash{})
	f.Remote.setBlockHash(f.BlockNumber, f.BlockHash)

	service, err := NewForkingService(f.Store, f.Store, f.Remote, mode)
	if err != nil {
		return nil, err
	}
	f.Service = service
	return f, nil
}

// position converts a slot key into a storage position.
func position(slot common.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes32(slot[:])
}
