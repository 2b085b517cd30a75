package storage

import "errors"

// ErrDisabled is returned by NoOpDB for reads and writes.
var ErrDisabled = errors.New("storage is disabled")

// NoOpDB is used when we need to avoid touching the storage layer while still
// preserving our interactions with an abstract database. The strategy is to
// return whatever value will prevent the calling context from further
// interacting with the storage layer.
//
// For get and put operations, we always return ErrDisabled, so the caller
// knows that no actual data has been read or written.
//
// For database-wide operations, such as cleaning up or closing the database,
// we always return a nil error, since there is nothing to close or clean up.
type NoOpDB struct{}

// Put always returns an error so callers don't assume a new key has been
// written.
func (n *NoOpDB) Put(KVEntry) error {
	return ErrDisabled
}

// Read always returns an error so callers don't assume a key has been read.
func (n *NoOpDB) Read(key []byte) (KVEntry, error) {
	return KVEntry{}, ErrDisabled
}

// Cleanup always returns nil so callers keep going without touching the
// storage layer.
func (n *NoOpDB) Cleanup() error {
	return nil
}

// Close is no-op
func (n *NoOpDB) Close() error {
	return nil
}
