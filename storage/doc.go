package storage

// storage contains the KeyValue interface for working with a persistent key/
// value store, an implementation for BadgerDB and a no-op one for when
// persistence is turned off. The Journal built on top of it remembers which
// messages have already been delivered.
