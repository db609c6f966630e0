// Package sse streams live card changes to browsers as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/models"
)

// Event is one message on the stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type cardEvent struct {
	kind docstore.EventKind
	id   string
}

// Broker fans events out to connected clients.
//
// A single loop goroutine owns the client set and the graph throttle; every
// public method talks to it over channels.
type Broker struct {
	graphEvery time.Duration
	heartbeat  time.Duration

	join   chan chan []byte
	leave  chan chan []byte
	events chan Event
	cards  chan cardEvent
	count  chan chan int

	stop    chan struct{}
	done    chan struct{}
	closing atomic.Bool
}

// NewBroker starts a broker that emits at most one graph.updated event per
// graphThrottle.
func NewBroker(graphThrottle time.Duration) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}
	b := &Broker{
		graphEvery: graphThrottle,
		heartbeat:  25 * time.Second,
		join:       make(chan chan []byte),
		leave:      make(chan chan []byte),
		events:     make(chan Event, 256),
		cards:      make(chan cardEvent, 256),
		count:      make(chan chan int),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go b.loop()
	return b
}

func frame(e Event) ([]byte, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, payload)), nil
}

func (b *Broker) loop() {
	defer close(b.done)

	clients := make(map[chan []byte]struct{})
	var lastGraph time.Time

	send := func(e Event) {
		raw, err := frame(e)
		if err != nil {
			return
		}
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// slow client, drop
			}
		}
	}

	for {
		select {
		case <-b.stop:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.join:
			clients[ch] = struct{}{}

		case ch := <-b.leave:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case e := <-b.events:
			send(e)

		case c := <-b.cards:
			send(Event{Type: "card." + string(c.kind), Data: map[string]string{"id": c.id}})
			if now := time.Now(); now.Sub(lastGraph) >= b.graphEvery {
				lastGraph = now
				send(Event{Type: "graph.updated", Data: map[string]string{}})
			}

		case resp := <-b.count:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closing.CompareAndSwap(false, true) {
		close(b.stop)
	}
	<-b.done
}

// Subscribe registers a client. The returned channel is closed on
// Unsubscribe or Close.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closing.Load() {
		close(ch)
		return ch
	}
	select {
	case b.join <- ch:
	case <-b.done:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closing.Load() {
		return
	}
	select {
	case b.leave <- ch:
	case <-b.done:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closing.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.count <- resp:
	case <-b.done:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.done:
		return 0
	}
}

// Publish broadcasts e to every client.
func (b *Broker) Publish(e Event) {
	if b.closing.Load() {
		return
	}
	select {
	case b.events <- e:
	case <-b.done:
	}
}

// PublishCardEvent broadcasts card.<kind> for id followed by a throttled
// graph.updated.
func (b *Broker) PublishCardEvent(kind docstore.EventKind, id string) {
	if b.closing.Load() {
		return
	}
	select {
	case b.cards <- cardEvent{kind: kind, id: id}:
	case <-b.done:
	}
}

// Listener returns a store listener that publishes card changes.
func (b *Broker) Listener() docstore.Listener {
	return func(c docstore.Change) {
		if c.Collection != models.CollectionCards {
			return
		}
		b.PublishCardEvent(c.Kind(), c.ID)
	}
}

// ServeHTTP streams events to one client (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
