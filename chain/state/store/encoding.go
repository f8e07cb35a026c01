package store

import (
	"encoding/binary"

	"github.com/crytic/forkstate/chain/state"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/rlp"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// storedAccount is the RLP layout of an account on disk. An empty CodeHash means the account has no code.
type storedAccount struct {
	Balance  *uint256.Int
	Nonce    *uint256.Int
	CodeHash []byte
}

// encodeAccount serializes an account for the accounts bucket.
func encodeAccount(account *state.Account) ([]byte, error) {
	stored := storedAccount{
		Balance: account.Balance,
		Nonce:   account.Nonce,
	}
	if stored.Balance == nil {
		stored.Balance = new(uint256.Int)
	}
	if stored.Nonce == nil {
		stored.Nonce = new(uint256.Int)
	}
	if account.HasCode() {
		stored.CodeHash = account.CodeHash.Bytes()
	}

	data, err := rlp.EncodeToBytes(&stored)
	return data, errors.WithStack(err)
}

// decodeAccount deserializes an account read from the accounts bucket.
func decodeAccount(data []byte) (*state.Account, error) {
	var stored storedAccount
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, errors.Wrap(err, "failed to decode stored account")
	}

	var codeHash *common.Hash
	if len(stored.CodeHash) > 0 {
		if len(stored.CodeHash) != common.HashLength {
			return nil, errors.Errorf("stored code hash has length %d", len(stored.CodeHash))
		}
		h := common.BytesToHash(stored.CodeHash)
		codeHash = &h
	}
	return state.NewAccount(stored.Balance, stored.Nonce, codeHash), nil
}

// storageKey builds the storage bucket key of a slot: the 20-byte address followed by the 32-byte position.
func storageKey(addr common.Address, position common.Hash) []byte {
	key := make([]byte, 0, common.AddressLength+common.HashLength)
	key = append(key, addr[:]...)
	return append(key, position[:]...)
}

// blockKey builds the blocks bucket key of a block number.
func blockKey(number uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, number)
	return key
}
