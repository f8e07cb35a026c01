package state

import (
	"context"
	"strings"

	"github.com/crytic/medusa-geth/common"
	"github.com/holiman/uint256"
)

// normalizeAddress lowercases a textual address and strips its hex prefix. The result is only used as a
// negative-cache key; the caller's original string is what reaches the store and the remote source.
func normalizeAddress(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	return strings.TrimPrefix(address, "0x")
}

// slotKey builds the negative-cache key of a storage slot.
func slotKey(address string, position *uint256.Int) string {
	if position == nil {
		position = new(uint256.Int)
	}
	return normalizeAddress(address) + ":" + position.Hex()
}

// isZeroWord reports whether every byte of value is zero. An empty value is considered zero.
func isZeroWord(value []byte) bool {
	for _, b := range value {
		if b != 0 {
			return false
		}
	}
	return true
}

/*
AddressReader exposes raw-address entry points over a StateReader. Every method converts its arguments to the textual
form and calls the wrapped reader, so there is a single implementation of each query.
*/
type AddressReader struct {
	reader StateReader
}

// NewAddressReader wraps reader with raw-address entry points.
func NewAddressReader(reader StateReader) *AddressReader {
	return &AddressReader{reader: reader}
}

// BalanceAt returns the balance of addr.
func (r *AddressReader) BalanceAt(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	return r.reader.GetBalance(ctx, addr.Hex())
}

// NonceAt returns the nonce of addr.
func (r *AddressReader) NonceAt(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	return r.reader.GetTransactionCount(ctx, addr.Hex())
}

// CodeAt returns the code deployed at addr, or nil.
func (r *AddressReader) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return r.reader.GetCode(ctx, addr.Hex())
}

// StorageAt returns the value of the storage slot of addr at position slot, or nil.
func (r *AddressReader) StorageAt(ctx context.Context, addr common.Address, slot common.Hash) ([]byte, error) {
	return r.reader.GetStorageAt(ctx, addr.Hex(), new(uint256.Int).SetBytes32(slot[:]))
}

// BlockHashAt returns the hash of block number, or the zero hash if it is unknown.
func (r *AddressReader) BlockHashAt(ctx context.Context, number uint64) (common.Hash, error) {
	hash, err := r.reader.GetBlockHash(ctx, number)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(hash), nil
}
