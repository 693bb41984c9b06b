package domain

import "context"

// KVReader reads from an ordered key-value store.
type KVReader interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key []byte) ([]byte, error)
	// Iterate calls fn for every key with the given prefix in ascending key
	// order. Returning an error from fn stops the scan and is returned.
	Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error
}

// KVTxn is a write transaction. Reads observe writes made earlier in the
// same transaction.
type KVTxn interface {
	KVReader
	Set(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
}

// KVStore is the durable state backend of the engine. Update commits every
// write made by fn as one unit, or nothing if fn returns an error or panics.
type KVStore interface {
	View(ctx context.Context, fn func(KVReader) error) error
	Update(ctx context.Context, fn func(KVTxn) error) error
	Close() error
}
