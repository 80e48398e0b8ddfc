package database

import "context"

// Store is a durable key/value namespace. Implementations must make each
// single-key operation atomic and return ScanPrefix results in ascending
// key order.
type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Insert writes value only if key is absent, otherwise ErrKeyExists.
	Insert(ctx context.Context, key string, value []byte) error
	Put(ctx context.Context, key string, value []byte) error
	ScanPrefix(ctx context.Context, prefix string) ([]Entry, error)
}
