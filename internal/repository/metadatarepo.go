package repository

import "context"

// MetadataRepository is an opaque key/value store for collaborators,
// e.g. trust scoring marking a user's primary key as lost. The engine
// stores the bytes and never interprets them.
type MetadataRepository interface {
	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Get returns the value stored under key, ErrNotFound otherwise.
	Get(ctx context.Context, key string) ([]byte, error)
}
