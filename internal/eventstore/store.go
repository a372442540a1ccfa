// Package eventstore defines the append-only persistence contract for
// permission events. The store is the single synchronization point of the
// system: appends for one permission are linearized, appends for different
// permissions proceed in parallel, and reads are plain snapshots.
package eventstore

import (
	"context"

	"gridpass/internal/permission"
)

// StoredEvent is a permission event as persisted: the domain fact plus the
// store-assigned identity and per-aggregate sequence position.
type StoredEvent struct {
	permission.Event

	// ID is the global, store-assigned identifier.
	ID int64
	// Seq is the position within the aggregate, starting at 1. Ordering
	// within one permission id is total and matches append order.
	Seq int64
}

// Store persists permission events. Implementations must serialize concurrent
// appends to the same permission id: two concurrent appends must never be
// assigned the same sequence position.
type Store interface {
	// Append persists the event and assigns its sequence position.
	Append(ctx context.Context, ev permission.Event) (StoredEvent, error)
	// FindByPermissionID returns the aggregate's events in append order. A
	// missing aggregate yields an empty slice, not an error.
	FindByPermissionID(ctx context.Context, permissionID string) ([]StoredEvent, error)
	// FindByCorrelationID locates the Created event carrying the given
	// transient conversation id, so late external callbacks can be matched
	// to their aggregate. Returns sentinel.ErrNotFound when absent.
	FindByCorrelationID(ctx context.Context, correlationID string) (StoredEvent, error)
	// PermissionIDs lists every aggregate key known to the store; the
	// timeout sweeper uses it to find stalled requests.
	PermissionIDs(ctx context.Context) ([]string, error)
}

// Events strips the storage envelope, for callers that fold.
func Events(stored []StoredEvent) []permission.Event {
	events := make([]permission.Event, len(stored))
	for i, s := range stored {
		events[i] = s.Event
	}
	return events
}
