// Package docstore provides a SQLite-backed JSON document store with atomic
// multi-document batches, set-semantics array operators and change feeds.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/compendium/internal/apperr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL DEFAULT '{}',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
`

// Store wraps a sql.DB holding every collection in one documents table.
type Store struct {
	conn *sql.DB

	mu        sync.RWMutex
	listeners []Listener
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("docstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("docstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("docstore: apply schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Snapshot is the state of one document at a point in time. Data is nil when
// the document does not exist.
type Snapshot struct {
	Collection string
	ID         string
	Data       map[string]any
	UpdateTime time.Time
}

// Exists reports whether the document existed.
func (s *Snapshot) Exists() bool {
	return s != nil && s.Data != nil
}

// DataTo decodes the document into v.
func (s *Snapshot) DataTo(v any) error {
	if !s.Exists() {
		return fmt.Errorf("docstore: %s/%s: %w", s.Collection, s.ID, apperr.ErrNotFound)
	}
	raw, err := json.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("docstore: encode %s/%s: %w", s.Collection, s.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("docstore: decode %s/%s: %w", s.Collection, s.ID, err)
	}
	return nil
}

// Get returns the snapshot of coll/id. A missing document is not an error.
func (s *Store) Get(ctx context.Context, coll, id string) (*Snapshot, error) {
	var (
		raw       string
		updatedAt time.Time
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT data, updated_at FROM documents WHERE collection = ? AND id = ?`,
		coll, id).Scan(&raw, &updatedAt)
	if err == sql.ErrNoRows {
		return &Snapshot{Collection: coll, ID: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: get %s/%s: %w", coll, id, err)
	}
	data, err := decodeData(raw)
	if err != nil {
		return nil, fmt.Errorf("docstore: get %s/%s: %w", coll, id, err)
	}
	return &Snapshot{Collection: coll, ID: id, Data: data, UpdateTime: updatedAt}, nil
}

// Set replaces coll/id with v, which must encode to a JSON object.
func (s *Store) Set(ctx context.Context, coll, id string, v any) error {
	return s.Batch().Set(coll, id, v).Commit(ctx)
}

// Update applies fields to an existing document. Values may be FieldOps.
func (s *Store) Update(ctx context.Context, coll, id string, fields map[string]any) error {
	return s.Batch().Update(coll, id, fields).Commit(ctx)
}

// Delete removes coll/id. Deleting a missing document is a no-op.
func (s *Store) Delete(ctx context.Context, coll, id string) error {
	return s.Batch().Delete(coll, id).Commit(ctx)
}

// GetAs loads coll/id into a T. Missing documents yield apperr.ErrNotFound.
func GetAs[T any](ctx context.Context, s *Store, coll, id string) (*T, error) {
	snap, err := s.Get(ctx, coll, id)
	if err != nil {
		return nil, err
	}
	var out T
	if err := snap.DataTo(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryAs runs Query and decodes every match into a T.
func QueryAs[T any](ctx context.Context, s *Store, coll string, filters ...Filter) ([]T, error) {
	snaps, err := s.Query(ctx, coll, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		var v T
		if err := snap.DataTo(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeData(raw string) (map[string]any, error) {
	data := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return data, nil
}

// toFields converts v to a JSON object map.
func toFields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("value is not a JSON object: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("value is not a JSON object")
	}
	return out, nil
}
