package triggers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func change(coll, id string, before, after map[string]any) docstore.Change {
	return docstore.Change{
		Collection: coll,
		ID:         id,
		Before:     &docstore.Snapshot{Collection: coll, ID: id, Data: before},
		After:      &docstore.Snapshot{Collection: coll, ID: id, Data: after},
	}
}

func TestDeliverMatchesEvent(t *testing.T) {
	d := New(discardLogger())
	var created, updated, written int
	d.On("cards", Created, "c", func(context.Context, docstore.Change) error { created++; return nil })
	d.On("cards", Updated, "u", func(context.Context, docstore.Change) error { updated++; return nil })
	d.On("cards", Written, "w", func(context.Context, docstore.Change) error { written++; return nil })
	d.On("stars", Written, "s", func(context.Context, docstore.Change) error {
		t.Error("stars handler must not see cards changes")
		return nil
	})

	ctx := context.Background()
	_ = d.Deliver(ctx, change("cards", "a", nil, map[string]any{"n": 1}))
	_ = d.Deliver(ctx, change("cards", "a", map[string]any{"n": 1}, map[string]any{"n": 2}))
	_ = d.Deliver(ctx, change("cards", "a", map[string]any{"n": 2}, nil))

	if created != 1 || updated != 1 || written != 3 {
		t.Errorf("created=%d updated=%d written=%d", created, updated, written)
	}
}

func TestRedeliveryUntilSuccess(t *testing.T) {
	m := metrics.New()
	d := New(discardLogger(), WithInitialInterval(time.Millisecond), WithMaxRedeliveries(5), WithMetrics(m))
	calls := 0
	d.On("cards", Written, "flaky", func(context.Context, docstore.Change) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err := d.Deliver(context.Background(), change("cards", "a", nil, map[string]any{})); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if got := testutil.ToFloat64(m.TriggerInvocations.WithLabelValues("flaky", "error")); got != 2 {
		t.Errorf("error count = %v, want 2", got)
	}
}

func TestRedeliveryExhausted(t *testing.T) {
	d := New(discardLogger(), WithInitialInterval(time.Millisecond), WithMaxRedeliveries(2))
	calls := 0
	d.On("cards", Written, "broken", func(context.Context, docstore.Change) error {
		calls++
		return errors.New("always")
	})

	if err := d.Deliver(context.Background(), change("cards", "a", nil, map[string]any{})); err == nil {
		t.Fatal("expected error after exhausting redeliveries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 1 + 2 redeliveries", calls)
	}
}

func TestPermanentErrorNotRedelivered(t *testing.T) {
	d := New(discardLogger(), WithInitialInterval(time.Millisecond))
	calls := 0
	sentinel := errors.New("fatal")
	d.On("cards", Written, "fatal", func(context.Context, docstore.Change) error {
		calls++
		return Permanent(sentinel)
	})

	err := d.Deliver(context.Background(), change("cards", "a", nil, map[string]any{}))
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRunDeliversStoreChanges(t *testing.T) {
	f := t.TempDir() + "/store.db"
	store, err := docstore.Open(f)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	d := New(discardLogger(), WithWorkers(2))
	d.Attach(store)

	var mu sync.Mutex
	seen := map[string]bool{}
	var cascaded atomic.Int32
	d.On("cards", Created, "record", func(ctx context.Context, c docstore.Change) error {
		mu.Lock()
		seen[c.ID] = true
		mu.Unlock()
		// Writing from inside a handler must not deadlock the queue.
		return store.Set(ctx, "audit", c.ID, map[string]any{"seen": true})
	})
	d.On("audit", Created, "cascade", func(context.Context, docstore.Change) error {
		cascaded.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Set(ctx, "cards", id, map[string]any{"title": id}); err != nil {
			t.Fatal(err)
		}
	}
	d.Wait()
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Errorf("seen = %v, want 3 cards", seen)
	}
	if cascaded.Load() != 3 {
		t.Errorf("cascaded = %d, want 3", cascaded.Load())
	}
}
