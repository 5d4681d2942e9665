package postgres

import (
	"context"
	"errors"

	"github.com/emberchat/ember-server/internal/errs"
	"github.com/jackc/pgx/v5"
)

// MetadataRepo implements MetadataRepository using PostgreSQL.
type MetadataRepo struct{ db *DB }

// NewMetadataRepo constructs a metadata repository.
func NewMetadataRepo(db *DB) *MetadataRepo { return &MetadataRepo{db: db} }

// Set writes value under key, replacing any previous value.
func (r *MetadataRepo) Set(ctx context.Context, key string, value []byte) error {
	const q = `
INSERT INTO metadata (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	_, err := r.db.Pool.Exec(ctx, q, key, value)
	return err
}

// Get returns the value stored under key.
func (r *MetadataRepo) Get(ctx context.Context, key string) ([]byte, error) {
	const q = `SELECT value FROM metadata WHERE key=$1`
	var value []byte
	if err := r.db.Pool.QueryRow(ctx, q, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return value, nil
}
