package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned by KeyValue.Read when the key doesn't exist or
// has expired.
var ErrNotFound = errors.New("entry not found")

// KVConfig contains settings specific to BadgerDB connections
type KVConfig struct {
	StorageDirPath string
	// TTL for each key written to the store
	KeyTTLDuration time.Duration
}

// KeyValue exposes a common interface for performing CRUD operations on an
// underlying storage layer. Keys and values are opaque bytes.
//
// Implentations need to include connection logic in code to initialize
// a Store.
type KeyValue interface {
	// Replace the value of an entry or create a new one if it doesn't exist
	Put(KVEntry) error
	// Return an entry given its key
	Read(key []byte) (KVEntry, error)
	// Cleanup performs routine deletion of old records. We assign
	// TTLs to KV pairs and delete them periodically.
	Cleanup() error
	// Drain/tear down the connection, or something analogous for
	// an embedded database
	Close() error
}

// KVEntry is what we'll write to and read from the KV store
type KVEntry struct {
	Key   []byte
	Value []byte
}

// Open returns a BadgerDB for conf, or a NoOpDB if conf has no storage
// directory.
func Open(conf *KVConfig) (KeyValue, error) {
	if conf.StorageDirPath == "" {
		return &NoOpDB{}, nil
	}
	return NewBadgerDB(conf)
}
