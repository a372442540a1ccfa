package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gridpass/internal/eventstore"
	"gridpass/internal/permission"
	"gridpass/internal/platform/metrics"
)

// Outbox is the only write path into the engine. Commit appends to the event
// store and publishes to the bus only when the append succeeded, which rules
// out notifying subscribers about an event that was never durably recorded.
type Outbox struct {
	store   eventstore.Store
	bus     *Bus
	metrics *metrics.Metrics
	log     *slog.Logger

	// keys serializes append+enqueue per permission so bus delivery order
	// matches append order for one aggregate even under concurrent commits.
	keysMu sync.Mutex
	keys   map[string]*sync.Mutex
}

func New(store eventstore.Store, bus *Bus, m *metrics.Metrics, log *slog.Logger) *Outbox {
	return &Outbox{
		store:   store,
		bus:     bus,
		metrics: m,
		log:     log,
		keys:    make(map[string]*sync.Mutex),
	}
}

func (o *Outbox) keyLock(permissionID string) *sync.Mutex {
	o.keysMu.Lock()
	defer o.keysMu.Unlock()
	lock, ok := o.keys[permissionID]
	if !ok {
		lock = &sync.Mutex{}
		o.keys[permissionID] = lock
	}
	return lock
}

// Commit persists the event and fans it out. On append failure nothing is
// published and the caller may retry the whole operation; a crash after the
// append is recovered by Replay, so subscribers see the event at least once.
func (o *Outbox) Commit(ctx context.Context, ev permission.Event) (eventstore.StoredEvent, error) {
	lock := o.keyLock(ev.PermissionID)
	lock.Lock()
	defer lock.Unlock()

	stored, err := o.store.Append(ctx, ev)
	if err != nil {
		o.metrics.AppendFailures.Inc()
		return eventstore.StoredEvent{}, fmt.Errorf("commit %s event: %w", ev.Kind, err)
	}
	o.metrics.EventsAppended.WithLabelValues(string(ev.Kind)).Inc()

	o.bus.Publish(stored)
	return stored, nil
}

// Replay republishes the stored history of one aggregate, in append order.
// Used after a crash between append and publish; handlers are idempotent, so
// redelivery is safe.
func (o *Outbox) Replay(ctx context.Context, permissionID string) error {
	lock := o.keyLock(permissionID)
	lock.Lock()
	defer lock.Unlock()

	events, err := o.store.FindByPermissionID(ctx, permissionID)
	if err != nil {
		return fmt.Errorf("replay %s: %w", permissionID, err)
	}
	for _, ev := range events {
		o.bus.Publish(ev)
	}
	o.log.Info("replayed permission history", "permission_id", permissionID, "events", len(events))
	return nil
}
