package docstore

import (
	"database/sql"
	"errors"
)

// EventKind classifies a Change.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// Change describes one committed document write. Before and After are never
// nil; a side where the document did not exist has nil Data.
type Change struct {
	Collection string
	ID         string
	Before     *Snapshot
	After      *Snapshot
}

// Kind reports whether the change created, updated or deleted the document.
func (c Change) Kind() EventKind {
	switch {
	case !c.Before.Exists() && c.After.Exists():
		return EventCreated
	case c.Before.Exists() && !c.After.Exists():
		return EventDeleted
	default:
		return EventUpdated
	}
}

// Listener receives committed changes. Listeners run on the committing
// goroutine and must not block.
type Listener func(Change)

// Subscribe registers fn for every subsequent committed change.
func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, c := range changes {
		for _, fn := range listeners {
			fn(c)
		}
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
