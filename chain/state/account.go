package state

import (
	"github.com/crytic/medusa-geth/common"
	"github.com/holiman/uint256"
)

// Account is the chain-level record of an address: its balance, its nonce and, for contracts, the hash of its deployed
// code. Accounts are always written as a whole; the forking service never patches a single field.
type Account struct {
	// Balance is the account balance in wei.
	Balance *uint256.Int

	// Nonce is the number of transactions sent from the account.
	Nonce *uint256.Int

	// CodeHash is the Keccak-256 hash of the account's code, or nil if the account has no code.
	CodeHash *common.Hash
}

// NewAccount creates an Account with the provided values. A nil balance or nonce is stored as zero.
func NewAccount(balance *uint256.Int, nonce *uint256.Int, codeHash *common.Hash) *Account {
	account := &Account{
		Balance:  new(uint256.Int),
		Nonce:    new(uint256.Int),
		CodeHash: codeHash,
	}
	if balance != nil {
		account.Balance.Set(balance)
	}
	if nonce != nil {
		account.Nonce.Set(nonce)
	}
	return account
}

// HasCode reports whether the account references a code blob.
func (a *Account) HasCode() bool {
	return a.CodeHash != nil
}

// Copy returns a deep copy of the account so callers can't mutate a stored record through a shared pointer.
func (a *Account) Copy() *Account {
	if a == nil {
		return nil
	}
	var codeHash *common.Hash
	if a.CodeHash != nil {
		h := *a.CodeHash
		codeHash = &h
	}
	return NewAccount(a.Balance, a.Nonce, codeHash)
}
