package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/Masterminds/semver"
	"github.com/crytic/forkstate/chain/state"
	"github.com/crytic/forkstate/logging"
	"github.com/crytic/forkstate/utils"
	"github.com/crytic/forkstate/version"
	"github.com/crytic/medusa-geth/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
	"golang.org/x/crypto/sha3"
)

var _ state.Store = (*PersistentStore)(nil)
var _ state.BlockStore = (*PersistentStore)(nil)

var (
	accountsBucket = []byte("accounts")
	codeBucket     = []byte("code")
	storageBucket  = []byte("storage")
	blocksBucket   = []byte("blocks")
	metaBucket     = []byte("meta")

	versionKey = []byte("version")
)

const (
	// DirectoryName is the directory, under the working directory, that holds store files.
	DirectoryName = ".forkstate"

	// defaultFlushThreshold is the number of pending writes that triggers a flush to disk.
	defaultFlushThreshold = 25

	// compatibleFormats is the range of store format versions this build can read.
	compatibleFormats = "^1"
)

/*
PersistentStore is a State Store and Block Store backed by a bbolt database, with a MemoryStore in front of it.
Writes land in memory immediately and are written to disk in batches; Close flushes what is left. The database is also
closed when the context the store was opened with is cancelled.
*/
type PersistentStore struct {
	memStore *MemoryStore
	db       *bbolt.DB
	path     string

	pendingWriteMutex sync.Mutex
	pendingWrites     []pendingWrite
	flushThreshold    int

	// closed is set once Close has flushed for the last time. Guarded by pendingWriteMutex.
	closed bool

	closeOnce sync.Once
	closeErr  error

	logger *logging.Logger
}

// pendingWrite is a put (or a delete when value is nil) not yet written to disk.
type pendingWrite struct {
	bucket []byte
	key    []byte
	value  []byte
}

// OpenPersistentStore opens, or creates, the store file at path.
func OpenPersistentStore(ctx context.Context, path string) (*PersistentStore, error) {
	if err := utils.MakeDirectory(filepath.Dir(path)); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "could not open state store %s", path)
	}

	if err = initializeBuckets(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	p := &PersistentStore{
		memStore:       NewMemoryStore(),
		db:             db,
		path:           path,
		pendingWrites:  []pendingWrite{},
		flushThreshold: defaultFlushThreshold,
		logger:         logging.GlobalLogger.NewSubLogger("module", logging.STORE_SERVICE),
	}

	// close db if context cancelled
	go func() {
		<-ctx.Done()
		if err := p.Close(); err != nil {
			p.logger.Error("Failed to close the state store", err)
		}
	}()

	return p, nil
}

// OpenForkStore opens the store file dedicated to a fork of rpcURL at height, under workingDir.
func OpenForkStore(ctx context.Context, workingDir string, rpcURL string, height uint64) (*PersistentStore, error) {
	return OpenPersistentStore(ctx, ForkStorePath(workingDir, rpcURL, height))
}

// ForkStorePath returns the path of the store file dedicated to a fork of rpcURL at height, under workingDir.
func ForkStorePath(workingDir string, rpcURL string, height uint64) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(rpcURL))
	bs := h.Sum(nil)

	return filepath.Join(workingDir, DirectoryName, fmt.Sprintf("%d-%x.db", height, bs[0:10]))
}

// initializeBuckets creates missing buckets and checks the format version of the file.
func initializeBuckets(db *bbolt.DB) error {
	return db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{accountsBucket, codeBucket, storageBucket, blocksBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.WithStack(err)
			}
		}

		meta := tx.Bucket(metaBucket)
		stored := meta.Get(versionKey)
		if stored == nil {
			return errors.WithStack(meta.Put(versionKey, []byte(version.StoreFormatVersion)))
		}
		return checkFormatVersion(string(stored))
	})
}

// checkFormatVersion returns ErrIncompatibleStore if a file written in format stored can't be read.
func checkFormatVersion(stored string) error {
	constraint, err := semver.NewConstraint(compatibleFormats)
	if err != nil {
		return errors.WithStack(err)
	}
	v, err := semver.NewVersion(stored)
	if err != nil {
		return errors.Wrapf(ErrIncompatibleStore, "unparsable format version %q", stored)
	}
	if !constraint.Check(v) {
		return errors.Wrapf(ErrIncompatibleStore, "format version %s does not satisfy %s", stored, compatibleFormats)
	}
	return nil
}

// Path returns the location of the database file.
func (p *PersistentStore) Path() string {
	return p.path
}

// readPersisted looks up key in bucket, first among the pending writes and then on disk. found is false if the key
// does not exist or is pending deletion.
func (p *PersistentStore) readPersisted(bucket []byte, key []byte) ([]byte, bool, error) {
	p.pendingWriteMutex.Lock()
	for i := len(p.pendingWrites) - 1; i >= 0; i-- {
		pw := p.pendingWrites[i]
		if string(pw.bucket) == string(bucket) && string(pw.key) == string(key) {
			p.pendingWriteMutex.Unlock()
			return common.CopyBytes(pw.value), pw.value != nil, nil
		}
	}
	p.pendingWriteMutex.Unlock()

	var data []byte
	err := p.db.View(func(tx *bbolt.Tx) error {
		// bbolt values are only valid for the lifetime of the transaction
		data = common.CopyBytes(tx.Bucket(bucket).Get(key))
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "could not read from the state store")
	}
	return data, data != nil, nil
}

// writeToPersist queues a write, flushing the queue once it reaches the threshold. A nil value deletes key.
func (p *PersistentStore) writeToPersist(bucket []byte, key []byte, value []byte) error {
	p.pendingWriteMutex.Lock()
	defer p.pendingWriteMutex.Unlock()

	if p.closed {
		return errors.WithStack(ErrStoreClosed)
	}
	p.pendingWrites = append(p.pendingWrites, pendingWrite{bucket: bucket, key: key, value: value})
	if len(p.pendingWrites) >= p.flushThreshold {
		return p.flushWrites()
	}
	return nil
}

// flushWrites writes every pending write in a single transaction. The caller must hold pendingWriteMutex. The batch is
// dropped even if the transaction fails: the records stay available from memory for the lifetime of the store, and
// retrying a batch that already failed would fail every later flush with it.
func (p *PersistentStore) flushWrites() error {
	if len(p.pendingWrites) == 0 {
		return nil
	}
	defer func() {
		p.pendingWrites = p.pendingWrites[:0]
	}()

	err := p.db.Update(func(tx *bbolt.Tx) error {
		for _, pw := range p.pendingWrites {
			b := tx.Bucket(pw.bucket)
			var err error
			if pw.value == nil {
				err = b.Delete(pw.key)
			} else {
				err = b.Put(pw.key, pw.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		p.logger.Error("Dropping ", len(p.pendingWrites), " state store write(s) that could not be flushed", err)
		return errors.Wrap(err, "could not flush writes to the state store")
	}
	return nil
}

// checkOpen returns ErrStoreClosed once the store has been closed.
func (p *PersistentStore) checkOpen() error {
	p.pendingWriteMutex.Lock()
	defer p.pendingWriteMutex.Unlock()
	if p.closed {
		return errors.WithStack(ErrStoreClosed)
	}
	return nil
}

// Flush writes every pending write to disk.
func (p *PersistentStore) Flush() error {
	p.pendingWriteMutex.Lock()
	defer p.pendingWriteMutex.Unlock()
	return p.flushWrites()
}

// GetAccount returns the account stored for address, or nil.
func (p *PersistentStore) GetAccount(ctx context.Context, address string) (*state.Account, error) {
	account, err := p.memStore.GetAccount(ctx, address)
	if err != nil || account != nil {
		return account, err
	}

	data, found, err := p.readPersisted(accountsBucket, common.HexToAddress(address).Bytes())
	if err != nil || !found {
		return nil, err
	}
	account, err = decodeAccount(data)
	if err != nil {
		return nil, err
	}
	return account, p.memStore.SaveAccount(ctx, address, account)
}

// SaveAccount replaces the account stored for address.
func (p *PersistentStore) SaveAccount(ctx context.Context, address string, account *state.Account) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	serialized, err := encodeAccount(account)
	if err != nil {
		return err
	}
	if err = p.memStore.SaveAccount(ctx, address, account); err != nil {
		return err
	}
	return p.writeToPersist(accountsBucket, common.HexToAddress(address).Bytes(), serialized)
}

// GetCode returns the code blob stored under codeHash, or nil.
func (p *PersistentStore) GetCode(ctx context.Context, codeHash common.Hash) ([]byte, error) {
	code, err := p.memStore.GetCode(ctx, codeHash)
	if err != nil || code != nil {
		return code, err
	}

	code, found, err := p.readPersisted(codeBucket, codeHash.Bytes())
	if err != nil || !found {
		return nil, err
	}
	return code, p.memStore.SaveCode(ctx, codeHash, code)
}

// SaveCode stores a code blob under codeHash.
func (p *PersistentStore) SaveCode(ctx context.Context, codeHash common.Hash, code []byte) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := p.memStore.SaveCode(ctx, codeHash, code); err != nil {
		return err
	}
	return p.writeToPersist(codeBucket, codeHash.Bytes(), common.CopyBytes(code))
}

// GetStorage returns the 32-byte value of a storage slot, or nil if the slot is not stored.
func (p *PersistentStore) GetStorage(ctx context.Context, address string, position *uint256.Int) ([]byte, error) {
	value, err := p.memStore.GetStorage(ctx, address, position)
	if err != nil || value != nil {
		return value, err
	}

	data, found, err := p.readPersisted(storageBucket, storageKey(common.HexToAddress(address), positionKey(position)))
	if err != nil || !found {
		return nil, err
	}
	return data, p.memStore.SaveStorage(ctx, address, position, data)
}

// SaveStorage stores the value of a storage slot. Saving a zero word removes the slot.
func (p *PersistentStore) SaveStorage(ctx context.Context, address string, position *uint256.Int, value []byte) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := p.memStore.SaveStorage(ctx, address, position, value); err != nil {
		return err
	}

	key := storageKey(common.HexToAddress(address), positionKey(position))
	word := common.BytesToHash(value)
	if word == (common.Hash{}) {
		return p.writeToPersist(storageBucket, key, nil)
	}
	return p.writeToPersist(storageBucket, key, word.Bytes())
}

// GetHashByNumber returns the hash of block number, or nil.
func (p *PersistentStore) GetHashByNumber(ctx context.Context, number uint64) ([]byte, error) {
	hash, err := p.memStore.GetHashByNumber(ctx, number)
	if err != nil || hash != nil {
		return hash, err
	}

	data, found, err := p.readPersisted(blocksBucket, blockKey(number))
	if err != nil || !found {
		return nil, err
	}
	return data, p.memStore.SetBlockHash(ctx, number, common.BytesToHash(data))
}

// SetBlockHash records the hash of block number.
func (p *PersistentStore) SetBlockHash(ctx context.Context, number uint64, hash common.Hash) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := p.memStore.SetBlockHash(ctx, number, hash); err != nil {
		return err
	}
	return p.writeToPersist(blocksBucket, blockKey(number), hash.Bytes())
}

// Close flushes pending writes and closes the database. Writes made after Close fail with ErrStoreClosed. Calling
// Close more than once is a no-op.
func (p *PersistentStore) Close() error {
	p.closeOnce.Do(func() {
		p.pendingWriteMutex.Lock()
		err := p.flushWrites()
		p.closed = true
		p.pendingWriteMutex.Unlock()

		closeErr := p.db.Close()
		if err == nil && closeErr != nil {
			err = errors.Wrap(closeErr, "could not close the state store")
		}
		p.closeErr = err
	})
	return p.closeErr
}
