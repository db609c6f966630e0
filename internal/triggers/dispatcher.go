// Package triggers delivers committed document changes to registered
// handlers, the way a serverless platform invokes document triggers.
//
// Delivery is at-least-once: a handler that returns an error is redelivered
// the same change with exponential backoff until it succeeds, returns a
// permanent error, or exhausts its redeliveries. Handlers must be idempotent.
package triggers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/starford/compendium/internal/docstore"
	"github.com/starford/compendium/internal/metrics"
)

// Event selects which changes a handler receives.
type Event string

const (
	Created Event = "created"
	Updated Event = "updated"
	Deleted Event = "deleted"
	// Written matches every change.
	Written Event = "written"
)

// Handler processes one change.
type Handler func(ctx context.Context, change docstore.Change) error

type registration struct {
	name       string
	collection string
	event      Event
	fn         Handler
}

func (r registration) matches(c docstore.Change) bool {
	if r.collection != c.Collection {
		return false
	}
	return r.event == Written || string(r.event) == string(c.Kind())
}

// Permanent marks err as not worth redelivering.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Dispatcher queues changes and fans them out to matching handlers on a
// worker pool.
type Dispatcher struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	workers         int
	maxRedeliveries uint64
	initialInterval time.Duration

	regMu         sync.RWMutex
	registrations []registration

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []docstore.Change
	inflight int
	closed   bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of delivery goroutines.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithMaxRedeliveries caps how often a failing handler is retried.
func WithMaxRedeliveries(n uint64) Option {
	return func(d *Dispatcher) { d.maxRedeliveries = n }
}

// WithInitialInterval sets the first redelivery delay.
func WithInitialInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.initialInterval = interval
		}
	}
}

// WithMetrics records invocations on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a Dispatcher. Call Run to start delivering.
func New(logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:          logger,
		workers:         4,
		maxRedeliveries: 5,
		initialInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// On registers fn for event on collection. name labels logs and metrics.
func (d *Dispatcher) On(collection string, event Event, name string, fn Handler) {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	d.registrations = append(d.registrations, registration{
		name:       name,
		collection: collection,
		event:      event,
		fn:         fn,
	})
}

// Attach subscribes the dispatcher to every commit on store.
func (d *Dispatcher) Attach(store *docstore.Store) {
	store.Subscribe(d.Enqueue)
}

// Enqueue queues a change for delivery. It never blocks, so it is safe to
// call from a handler that itself writes to the store.
func (d *Dispatcher) Enqueue(c docstore.Change) {
	if !d.hasHandler(c) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending = append(d.pending, c)
	d.setDepth()
	d.cond.Broadcast()
}

func (d *Dispatcher) hasHandler(c docstore.Change) bool {
	d.regMu.RLock()
	defer d.regMu.RUnlock()
	for _, r := range d.registrations {
		if r.matches(c) {
			return true
		}
	}
	return false
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}

	<-ctx.Done()
	d.mu.Lock()
	d.closed = true
	dropped := len(d.pending)
	d.pending = nil
	d.cond.Broadcast()
	d.mu.Unlock()
	wg.Wait()

	if dropped > 0 {
		d.logger.Warn("trigger queue discarded on shutdown", slog.Int("changes", dropped))
	}
	return nil
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		d.mu.Lock()
		for len(d.pending) == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.closed {
			d.mu.Unlock()
			return
		}
		c := d.pending[0]
		d.pending = d.pending[1:]
		d.inflight++
		d.setDepth()
		d.mu.Unlock()

		d.Deliver(ctx, c)

		d.mu.Lock()
		d.inflight--
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

// Wait blocks until the queue is empty and no delivery is in flight, or the
// dispatcher is closed.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for (len(d.pending) > 0 || d.inflight > 0) && !d.closed {
		d.cond.Wait()
	}
}

// Deliver runs every matching handler for c, redelivering failures. It
// returns the joined errors of handlers that never succeeded.
func (d *Dispatcher) Deliver(ctx context.Context, c docstore.Change) error {
	d.regMu.RLock()
	regs := make([]registration, 0, len(d.registrations))
	for _, r := range d.registrations {
		if r.matches(c) {
			regs = append(regs, r)
		}
	}
	d.regMu.RUnlock()

	var errs []error
	for _, r := range regs {
		if err := d.invoke(ctx, r, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) invoke(ctx context.Context, r registration, c docstore.Change) error {
	logger := d.logger.With(
		slog.String("trigger", r.name),
		slog.String("collection", c.Collection),
		slog.String("doc_id", c.ID),
		slog.String("event", string(c.Kind())),
	)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.initialInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, d.maxRedeliveries), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := r.fn(ctx, c)
		if err != nil {
			d.count(r.name, "error")
			return err
		}
		d.count(r.name, "ok")
		return nil
	}, policy, func(err error, wait time.Duration) {
		logger.Warn("trigger failed, redelivering",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	})
	if err != nil {
		d.count(r.name, "dropped")
		logger.Error("trigger dropped",
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()))
	}
	return err
}

func (d *Dispatcher) count(trigger, result string) {
	if d.metrics == nil {
		return
	}
	d.metrics.TriggerInvocations.WithLabelValues(trigger, result).Inc()
}

// setDepth must be called with d.mu held.
func (d *Dispatcher) setDepth() {
	if d.metrics == nil {
		return
	}
	d.metrics.TriggerQueueDepth.Set(float64(len(d.pending)))
}
