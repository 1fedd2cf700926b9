// Package db provides PostgreSQL persistence for the play-history tracker.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eklykti/go-spotify-playtime/internal/secrets"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id       TEXT PRIMARY KEY,
	display_name  TEXT,
	email         TEXT,
	country       TEXT,
	uri           TEXT,
	token_type    TEXT NOT NULL DEFAULT 'Bearer',
	access_token  BYTEA NOT NULL,
	refresh_token BYTEA NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS play_history (
	user_id      TEXT NOT NULL,
	track_id     TEXT NOT NULL,
	track_name   TEXT NOT NULL,
	duration_ms  BIGINT NOT NULL,
	played_at    TIMESTAMPTZ NOT NULL,
	artists      JSONB,
	album        JSONB,
	context_type TEXT,
	context_href TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, track_id, played_at)
);

CREATE INDEX IF NOT EXISTS idx_play_history_user_played
	ON play_history (user_id, played_at);
`

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
	box  *secrets.Box
}

// New creates a new database connection pool. Tokens written through the
// credential repository are sealed with box before they reach the database.
func New(ctx context.Context, databaseURL string, box *secrets.Box) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool, box: box}, nil
}

// Migrate creates the schema if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Credentials returns a CredentialRepository.
func (db *DB) Credentials() *CredentialRepository {
	return &CredentialRepository{pool: db.pool, box: db.box}
}

// History returns a HistoryRepository.
func (db *DB) History() *HistoryRepository {
	return &HistoryRepository{pool: db.pool}
}
