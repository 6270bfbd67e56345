// Package store is the key-value layer that persists encoded document state.
package store

import "errors"

var ErrKeyNotFound = errors.New("key not found")

// Store is a transactional key-value store. Documents persisted through
// ydoc.Save live under their own key prefix.
type Store interface {
	Close() error

	// View runs fn in a read-only transaction.
	View(fn func(Tx) error) error

	// Update runs fn in a read-write transaction.
	Update(fn func(Tx) error) error
}

// Tx is a single store transaction.
type Tx interface {
	// Get returns ErrKeyNotFound when the key is absent.
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error

	// Scan calls fn for each key with the given prefix, in key order.
	// Returning an error from fn stops the scan.
	Scan(prefix []byte, fn func(key, value []byte) error) error
}
