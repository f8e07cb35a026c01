package store

import "github.com/pkg/errors"

// ErrIncompatibleStore is returned when a store file was written in a format this build can't read.
var ErrIncompatibleStore = errors.New("incompatible state store format")

// ErrStoreClosed is returned by writes made to a persistent store after it was closed.
var ErrStoreClosed = errors.New("state store is closed")

// ErrStorageValueTooLong is returned when a storage value does not fit in a 32-byte word.
var ErrStorageValueTooLong = errors.New("storage value is longer than 32 bytes")
