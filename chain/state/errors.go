package state

import "github.com/pkg/errors"

var (
	// ErrNilStore is returned when a service is constructed without a state store.
	ErrNilStore = errors.New("a state store is required")

	// ErrNilRemoteSource is returned when a forking service is constructed without a remote state source.
	ErrNilRemoteSource = errors.New("a remote state source is required")

	// ErrUnknownFetchMode is returned when a forking service is constructed with an unsupported fetch mode.
	ErrUnknownFetchMode = errors.New("unknown fetch mode")
)
