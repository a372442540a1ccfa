// Package notification forwards permission status changes to the eligible
// party's transport.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gridpass/internal/eventstore"
	"gridpass/internal/permission"
	"gridpass/internal/platform/metrics"
)

// StatusMessage is the tuple handed to external transports.
type StatusMessage struct {
	PermissionID string            `json:"permissionId"`
	ConnectionID string            `json:"connectionId"`
	DataNeedID   string            `json:"dataNeedId"`
	OccurredAt   time.Time         `json:"occurredAt"`
	Status       permission.Status `json:"status"`
	Message      string            `json:"message,omitempty"`
}

// Sink delivers a status message to one transport.
type Sink interface {
	Send(ctx context.Context, msg StatusMessage) error
}

// EventSource reads one aggregate's history.
type EventSource interface {
	FindByPermissionID(ctx context.Context, permissionID string) ([]eventstore.StoredEvent, error)
}

// Relay subscribes to the event bus and emits one status message per
// delivered event. The status is folded from the history up to the delivered
// event, so redelivery of the same event produces the same message and the
// sink can deduplicate on (permissionId, seq) if it needs exactly-once.
type Relay struct {
	store     EventSource
	projector *permission.Projector
	sink      Sink
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func NewRelay(store EventSource, projector *permission.Projector, sink Sink, m *metrics.Metrics, log *slog.Logger) *Relay {
	return &Relay{store: store, projector: projector, sink: sink, metrics: m, log: log}
}

func (r *Relay) Handle(ctx context.Context, ev eventstore.StoredEvent) error {
	events, err := r.store.FindByPermissionID(ctx, ev.PermissionID)
	if err != nil {
		return fmt.Errorf("load history for notification: %w", err)
	}

	// Fold only the prefix up to the delivered event: the message reports the
	// status as of that event, not whatever the aggregate has moved on to.
	prefix := make([]permission.Event, 0, len(events))
	for _, stored := range events {
		if stored.Seq > ev.Seq {
			break
		}
		prefix = append(prefix, stored.Event)
	}
	proj := r.projector.Project(prefix)

	msg := StatusMessage{
		PermissionID: ev.PermissionID,
		ConnectionID: proj.ConnectionID,
		DataNeedID:   proj.DataNeedID,
		OccurredAt:   ev.OccurredAt,
		Status:       proj.Status,
		Message:      ev.Message,
	}
	if err := r.sink.Send(ctx, msg); err != nil {
		return fmt.Errorf("send status notification: %w", err)
	}
	r.metrics.NotificationsSent.Inc()
	return nil
}
