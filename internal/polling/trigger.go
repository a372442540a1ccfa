// Package polling hosts the internal collaborators that react to the event
// stream: the fulfillment check on received data and the acknowledgment
// timeout sweeper.
package polling

import (
	"context"
	"log/slog"

	"gridpass/internal/eventstore"
	"gridpass/internal/permission"
	"gridpass/internal/timeframe"
)

// Lifecycle is the slice of the permission service the trigger drives.
type Lifecycle interface {
	Projection(ctx context.Context, permissionID string) (permission.Projection, error)
	Terminate(ctx context.Context, permissionID string) error
}

// Trigger watches published events. On DataReceived it checks whether the
// permission's window is now fully covered and, if so, terminates the
// request as fulfilled; on Accepted and on polling ticks it reports which
// windows still need fetching so connector pollers know where to start.
type Trigger struct {
	lifecycle  Lifecycle
	timeframes *timeframe.Service
	log        *slog.Logger
}

func NewTrigger(lifecycle Lifecycle, timeframes *timeframe.Service, log *slog.Logger) *Trigger {
	return &Trigger{lifecycle: lifecycle, timeframes: timeframes, log: log}
}

func (t *Trigger) Handle(ctx context.Context, ev eventstore.StoredEvent) error {
	switch ev.Kind {
	case permission.KindDataReceived:
		return t.checkFulfillment(ctx, ev.PermissionID)
	case permission.KindAccepted, permission.KindInternalPolling:
		return t.reportRemaining(ctx, ev.PermissionID)
	}
	return nil
}

func (t *Trigger) checkFulfillment(ctx context.Context, permissionID string) error {
	proj, err := t.lifecycle.Projection(ctx, permissionID)
	if err != nil {
		return err
	}
	// Open-ended permissions keep delivering until revoked; nothing to check.
	if proj.Status != permission.StatusAccepted || proj.Window == nil || proj.Window.End == nil {
		return nil
	}

	frames, err := t.timeframes.TimeframesFor(ctx, permissionID)
	if err != nil {
		return err
	}
	// Fulfilled only when the received data forms one continuous run past the
	// requested end. The stored end is exclusive, hence the strict After.
	if len(frames) != 1 || !frames[0].End.After(*proj.Window.End) {
		return nil
	}

	t.log.Info("permission window fully covered, terminating",
		"permission_id", permissionID,
		"covered_until", frames[0].End,
	)
	return t.lifecycle.Terminate(ctx, permissionID)
}

func (t *Trigger) reportRemaining(ctx context.Context, permissionID string) error {
	proj, err := t.lifecycle.Projection(ctx, permissionID)
	if err != nil {
		return err
	}
	if proj.Status != permission.StatusAccepted || proj.Window == nil {
		return nil
	}
	frames, err := t.timeframes.TimeframesFor(ctx, permissionID)
	if err != nil {
		return err
	}
	gaps := Uncovered(*proj.Window, frames)
	for _, gap := range gaps {
		t.log.Info("window awaiting data",
			"permission_id", permissionID,
			"from", gap.Start,
			"until", gap.End,
		)
	}
	return nil
}

// Uncovered returns the parts of the permission window no merged timeframe
// covers yet. An open-ended window reports a single gap from the last covered
// day onward, marked by a zero End.
func Uncovered(window permission.Window, frames []timeframe.MeterReadingTimeframe) []permission.Window {
	var gaps []permission.Window
	cursor := window.Start

	for _, frame := range frames {
		if frame.End.Before(cursor) {
			continue
		}
		if frame.Start.After(cursor) && (window.End == nil || cursor.Before(*window.End)) {
			gapEnd := frame.Start
			if window.End != nil && window.End.Before(gapEnd) {
				gapEnd = *window.End
			}
			gaps = append(gaps, permission.Window{Start: cursor, End: &gapEnd})
		}
		if next := frame.End.AddDate(0, 0, 1); next.After(cursor) {
			cursor = next
		}
	}

	if window.End == nil {
		gaps = append(gaps, permission.Window{Start: cursor})
	} else if cursor.Before(*window.End) {
		gaps = append(gaps, permission.Window{Start: cursor, End: window.End})
	}
	return gaps
}
