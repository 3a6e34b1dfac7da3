// CLAUDE:SUMMARY Storage facade — durable kv documents + generated-content blobs over SQLite, session store in memory.
// Package store is the storage facade of the packet runtime: typed accessors
// over a durable SQLite kv store (one JSON document per logical key), a
// binary blob store for generated content keyed by (imageId, itemId), and a
// volatile session store that evaporates on daemon restart.
//
// There are no cross-entity transactions. A read-modify-write of one
// per-kind map is a single durable write; consumers must tolerate
// partial-failure interleavings across kinds.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/packetd/dbopen"
)

// Schema creates the durable tables. kv holds one JSON document per logical
// key (packetImages, packetInstances, packetBrowserStates, settings,
// packetContext_<tabId>). generated_content holds binary blobs.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE TABLE IF NOT EXISTS generated_content (
	image_id     TEXT NOT NULL,
	item_id      TEXT NOT NULL,
	name         TEXT NOT NULL,
	content      BLOB NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (image_id, item_id, name)
);
CREATE INDEX IF NOT EXISTS idx_generated_image ON generated_content(image_id);
`

// Store is the durable half of the facade.
type Store struct {
	DB     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open opens (or creates) the packetd database at path with the packetd
// pragmas and schema applied.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := dbopen.Open(path,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// OpenDB wraps an already-open database (tests use dbopen.OpenMemory).
func OpenDB(db *sql.DB, opts ...Option) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	s := &Store{DB: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// getDoc reads the JSON document at key into v. Returns false when the key
// is absent. A corrupt document is treated as absent with a warning, so a
// bad row never wedges the runtime.
func (s *Store) getDoc(ctx context.Context, key string, v any) (bool, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.logger.Warn("store: corrupt document, using default", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

// putDoc writes v as the JSON document at key in a single durable write.
func (s *Store) putDoc(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	_, err = dbopen.Exec(ctx, s.DB, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, unixepoch())
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, raw)
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

// deleteDoc removes the document at key. Deleting an absent key is not an
// error.
func (s *Store) deleteDoc(ctx context.Context, key string) error {
	if _, err := dbopen.Exec(ctx, s.DB, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}
