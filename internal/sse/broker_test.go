package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/models"
	"github.com/starford/compendium/internal/testutil"
)

func drain(ch chan []byte, wait time.Duration) []string {
	var out []string
	deadline := time.After(wait)
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		case <-deadline:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "tweet.posted", Data: map[string]string{"card": "a"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: tweet.posted") || !strings.Contains(s, `"card":"a"`) {
			t.Errorf("unexpected frame %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestCardEventGraphThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishCardEvent(docstore.EventCreated, "a")
	b.PublishCardEvent(docstore.EventUpdated, "b")

	var graph, cards int
	for _, msg := range drain(ch, 100*time.Millisecond) {
		if strings.Contains(msg, "graph.updated") {
			graph++
		} else {
			cards++
		}
	}
	if cards != 2 {
		t.Errorf("card events = %d, want 2", cards)
	}
	if graph != 1 {
		t.Errorf("graph events = %d, want 1", graph)
	}
}

func TestListenerPublishesCardChanges(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	store := testutil.TestStore(t)
	store.Subscribe(b.Listener())
	ctx := context.Background()

	testutil.Put(t, store, models.CollectionCards, "a", models.Card{ID: "a", Title: "A"})
	testutil.Put(t, store, models.CollectionUsers, "u1", models.User{DisplayName: "x"})
	if err := store.Delete(ctx, models.CollectionCards, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	joined := strings.Join(drain(ch, 100*time.Millisecond), "")
	if !strings.Contains(joined, "event: card.created\ndata: {\"id\":\"a\"}") {
		t.Errorf("missing card.created in %q", joined)
	}
	if !strings.Contains(joined, "event: card.deleted") {
		t.Errorf("missing card.deleted in %q", joined)
	}
	if strings.Contains(joined, "u1") {
		t.Errorf("non-card change published: %q", joined)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishCardEvent(docstore.EventUpdated, "x")
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("content type = %q", w.Header().Get("Content-Type"))
	}
	if body := w.Body.String(); !strings.Contains(body, "event: card.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: i})
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Publish(Event{Type: "late"})
	b.PublishCardEvent(docstore.EventUpdated, "x")
}
