package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/starford/compendium/internal/apperr"
)

type writeKind int

const (
	writeSet writeKind = iota
	writeUpdate
	writeDelete
)

type write struct {
	kind   writeKind
	coll   string
	id     string
	fields map[string]any
}

type docKey struct {
	coll string
	id   string
}

type docState struct {
	before  *Snapshot
	current map[string]any
}

// Batch collects writes that are committed in a single transaction: either
// all of them apply or none does.
type Batch struct {
	store  *Store
	writes []write
	err    error
}

// Batch starts a new write batch.
func (s *Store) Batch() *Batch {
	return &Batch{store: s}
}

// Set replaces coll/id with v.
func (b *Batch) Set(coll, id string, v any) *Batch {
	fields, err := toFields(v)
	if err != nil {
		b.err = errors.Join(b.err, fmt.Errorf("docstore: set %s/%s: %w", coll, id, err))
		return b
	}
	b.writes = append(b.writes, write{kind: writeSet, coll: coll, id: id, fields: fields})
	return b
}

// Update applies fields to coll/id, which must exist at commit time.
func (b *Batch) Update(coll, id string, fields map[string]any) *Batch {
	b.writes = append(b.writes, write{kind: writeUpdate, coll: coll, id: id, fields: fields})
	return b
}

// Delete removes coll/id.
func (b *Batch) Delete(coll, id string) *Batch {
	b.writes = append(b.writes, write{kind: writeDelete, coll: coll, id: id})
	return b
}

// Len returns the number of queued writes.
func (b *Batch) Len() int {
	return len(b.writes)
}

// Commit applies every queued write in one transaction and then notifies
// subscribers with one Change per document whose data changed.
func (b *Batch) Commit(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	if len(b.writes) == 0 {
		return nil
	}

	tx, err := b.store.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("docstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	states := make(map[docKey]*docState)
	var order []docKey

	load := func(key docKey) (*docState, error) {
		if st, ok := states[key]; ok {
			return st, nil
		}
		before := &Snapshot{Collection: key.coll, ID: key.id}
		var (
			raw       string
			updatedAt time.Time
		)
		err := tx.QueryRowContext(ctx,
			`SELECT data, updated_at FROM documents WHERE collection = ? AND id = ?`,
			key.coll, key.id).Scan(&raw, &updatedAt)
		switch {
		case err == nil:
			data, decErr := decodeData(raw)
			if decErr != nil {
				return nil, decErr
			}
			before.Data = data
			before.UpdateTime = updatedAt
		case !isNoRows(err):
			return nil, err
		}
		st := &docState{before: before}
		if before.Data != nil {
			st.current = maps.Clone(before.Data)
		}
		states[key] = st
		order = append(order, key)
		return st, nil
	}

	for _, w := range b.writes {
		key := docKey{coll: w.coll, id: w.id}
		st, err := load(key)
		if err != nil {
			return fmt.Errorf("docstore: load %s/%s: %w", w.coll, w.id, err)
		}
		switch w.kind {
		case writeSet:
			st.current = maps.Clone(w.fields)
		case writeUpdate:
			if st.current == nil {
				return fmt.Errorf("docstore: update %s/%s: %w", w.coll, w.id, apperr.ErrNotFound)
			}
			if err := applyFields(st.current, w.fields); err != nil {
				return fmt.Errorf("docstore: update %s/%s: %w", w.coll, w.id, err)
			}
		case writeDelete:
			st.current = nil
		}
	}

	now := time.Now().UTC()
	changes := make([]Change, 0, len(order))
	for _, key := range order {
		st := states[key]
		if st.current == nil {
			if st.before.Data == nil {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = ? AND id = ?`, key.coll, key.id); err != nil {
				return fmt.Errorf("docstore: delete %s/%s: %w", key.coll, key.id, err)
			}
		} else {
			raw, err := json.Marshal(st.current)
			if err != nil {
				return fmt.Errorf("docstore: encode %s/%s: %w", key.coll, key.id, err)
			}
			if st.before.Data != nil && canonical(st.before.Data) == string(raw) {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO documents (collection, id, data, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(collection, id) DO UPDATE SET
					data       = excluded.data,
					updated_at = excluded.updated_at
			`, key.coll, key.id, string(raw), now); err != nil {
				return fmt.Errorf("docstore: write %s/%s: %w", key.coll, key.id, err)
			}
		}
		changes = append(changes, Change{
			Collection: key.coll,
			ID:         key.id,
			Before:     st.before,
			After:      &Snapshot{Collection: key.coll, ID: key.id, Data: st.current, UpdateTime: now},
		})
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("docstore: commit: %w", err)
	}

	b.store.notify(changes)
	return nil
}
