// Package outbox implements publish-after-persist: an event reaches the bus
// only once the event store has durably recorded it.
package outbox

import (
	"context"
	"log/slog"
	"sync"

	"gridpass/internal/eventstore"
	"gridpass/internal/platform/metrics"
)

// queueSize bounds each subscriber's backlog. A full queue applies
// backpressure to the publisher rather than dropping: delivery is
// at-least-once, never at-most-once.
const queueSize = 1024

// Handler consumes published events. Handlers must be idempotent: a crash
// between append and publish is recovered by replaying stored events, so the
// same event can arrive twice.
type Handler interface {
	Handle(ctx context.Context, ev eventstore.StoredEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev eventstore.StoredEvent) error

func (f HandlerFunc) Handle(ctx context.Context, ev eventstore.StoredEvent) error {
	return f(ctx, ev)
}

type subscriber struct {
	name    string
	queue   chan eventstore.StoredEvent
	handler Handler
}

// Bus fans events out to independent subscribers. Each subscriber owns one
// buffered queue drained by its own goroutine, so a slow subscriber delays
// neither the publisher nor its peers. Within one queue delivery is FIFO,
// which preserves append order per permission; no order is guaranteed across
// permissions.
type Bus struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu   sync.RWMutex
	subs []*subscriber
	wg   sync.WaitGroup
}

func NewBus(log *slog.Logger, m *metrics.Metrics) *Bus {
	return &Bus{log: log, metrics: m}
}

// Subscribe registers a handler and starts its delivery goroutine. Handler
// errors are logged and counted, not propagated: the event is already
// persisted and a failed subscriber catches up via replay.
func (b *Bus) Subscribe(name string, h Handler) {
	sub := &subscriber{
		name:    name,
		queue:   make(chan eventstore.StoredEvent, queueSize),
		handler: h,
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range sub.queue {
			if err := sub.handler.Handle(context.Background(), ev); err != nil {
				b.metrics.SubscriberFailures.WithLabelValues(sub.name).Inc()
				b.log.Error("subscriber failed to handle event",
					"subscriber", sub.name,
					"permission_id", ev.PermissionID,
					"kind", string(ev.Kind),
					"seq", ev.Seq,
					"error", err,
				)
			}
		}
	}()
}

// Publish enqueues the event for every subscriber. Callers must only publish
// events the store has accepted.
func (b *Bus) Publish(ev eventstore.StoredEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.queue <- ev
	}
	b.metrics.EventsPublished.Inc()
}

// Close stops accepting events and waits for every queue to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.queue)
	}
	b.wg.Wait()
}
