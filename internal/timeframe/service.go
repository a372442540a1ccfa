package timeframe

import (
	"context"
	"fmt"

	"gridpass/internal/eventstore"
	"gridpass/internal/permission"
)

// EventSource is the slice of the event store the service reads.
type EventSource interface {
	FindByPermissionID(ctx context.Context, permissionID string) ([]eventstore.StoredEvent, error)
}

// Service answers "which windows have already been fetched" for polling
// collaborators. It holds no state: every query re-derives the merged set
// from the DataReceived history.
type Service struct {
	store EventSource
}

func NewService(store EventSource) *Service {
	return &Service{store: store}
}

// TimeframesFor returns the merged, non-overlapping windows covered by all
// DataReceived events of one permission.
func (s *Service) TimeframesFor(ctx context.Context, permissionID string) ([]MeterReadingTimeframe, error) {
	events, err := s.store.FindByPermissionID(ctx, permissionID)
	if err != nil {
		return nil, fmt.Errorf("load events for timeframes: %w", err)
	}

	var frames []MeterReadingTimeframe
	for _, ev := range events {
		if ev.Kind != permission.KindDataReceived || ev.Window == nil {
			continue
		}
		end := ev.Window.Start
		if ev.Window.End != nil {
			end = *ev.Window.End
		}
		frames = append(frames, MeterReadingTimeframe{
			PermissionID: permissionID,
			Start:        ev.Window.Start,
			End:          end,
		})
	}
	return Merge(frames), nil
}
