package state

import "github.com/holiman/uint256"

// RemoteFetchKind describes which piece of state a remote fetch retrieved.
type RemoteFetchKind string

const (
	// RemoteFetchAccount describes a fetch of the balance, nonce and code of an address.
	RemoteFetchAccount RemoteFetchKind = "account"
	// RemoteFetchStorage describes a fetch of a single storage slot.
	RemoteFetchStorage RemoteFetchKind = "storage"
	// RemoteFetchBlockHash describes a fetch of a block hash. These are never cached.
	RemoteFetchBlockHash RemoteFetchKind = "blockhash"
)

// RemoteFetchEvent is published by a ForkingService every time it completes a call to its remote source.
type RemoteFetchEvent struct {
	// Kind describes what was fetched.
	Kind RemoteFetchKind

	// Address is the address as given by the caller. Empty for block hash fetches.
	Address string

	// Position is the storage position, for storage fetches only.
	Position *uint256.Int

	// BlockNumber is the block number, for block hash fetches only.
	BlockNumber uint64

	// Found is true if the remote source returned non-empty data.
	Found bool

	// Err is the remote error, if any. It has already been swallowed by the service.
	Err error
}
