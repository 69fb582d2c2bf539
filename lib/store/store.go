// Package store defines the interface for the cache store used by the resolver, the gateway and the explorer
// services. Entries are opaque byte slices stamped with the time they were saved.
package store

import (
	"errors"
	"time"
)

// Cache defines required methods for cache store implementations.
type Cache interface {
	Exists(key string) (bool, error)
	Load(key string) ([]byte, error)
	Save(key string, data []byte) error
	Clear(key string) error
	// ClearIfOlderThan removes the entry when it was saved more than age ago and reports whether it did.
	ClearIfOlderThan(key string, age time.Duration) (bool, error)
}

// Errors returned
var (
	ErrDataNotFound = errors.New("Data was not found in store")
	ErrUnknownStore = errors.New("unknown cache store type")
)
