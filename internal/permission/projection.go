package permission

import (
	"log/slog"
	"maps"
	"time"
)

// Projection is the derived view of one permission request. It is rebuilt on
// demand by folding the aggregate's events in append order and is never the
// source of truth; discard it after use, or cache it as a non-authoritative
// optimization.
type Projection struct {
	PermissionID  string      `json:"permissionId"`
	ConnectionID  string      `json:"connectionId"`
	DataNeedID    string      `json:"dataNeedId"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Status        Status      `json:"status"`
	Window        *Window     `json:"window,omitempty"`
	Granularity   Granularity `json:"granularity,omitempty"`

	// LastMeterReadings holds, per meter, the end of the latest fetched
	// window.
	LastMeterReadings map[string]time.Time `json:"lastMeterReadings,omitempty"`

	// Errors come from the most recent Malformed event, if any.
	Errors []AttributeError `json:"errors,omitempty"`
}

// Projector folds event histories into projections. The fold itself is pure
// and holds no mutable state, so one Projector serves any number of
// concurrent readers. The logger only fires for unknown event kinds.
type Projector struct {
	log *slog.Logger
}

func NewProjector(log *slog.Logger) *Projector {
	return &Projector{log: log}
}

// Project folds events in the given order into the current projection. Two
// folds of the same sequence yield identical projections. Unknown kinds are
// skipped with a warning: an older build must be able to read histories
// written by a newer one.
func (p *Projector) Project(events []Event) Projection {
	var proj Projection
	for _, ev := range events {
		proj = p.apply(proj, ev)
	}
	return proj
}

func (p *Projector) apply(prev Projection, ev Event) Projection {
	next := prev
	if next.LastMeterReadings != nil {
		next.LastMeterReadings = maps.Clone(prev.LastMeterReadings)
	}

	switch ev.Kind {
	case KindCreated:
		next.PermissionID = ev.PermissionID
		next.ConnectionID = ev.ConnectionID
		next.DataNeedID = ev.DataNeedID
		next.CorrelationID = ev.CorrelationID
		next.Granularity = ev.Granularity
		next.Window = ev.Window
		next.Status = StatusCreated
	case KindValidated:
		// Validation may have adjusted the window, e.g. clamping the end to
		// the data need's horizon.
		if ev.Window != nil {
			next.Window = ev.Window
		}
		next.Status = StatusValidated
	case KindMalformed:
		next.Errors = ev.Errors
		next.Status = StatusMalformed
	case KindDataReceived:
		if ev.Window != nil && ev.MeterID != "" {
			if next.LastMeterReadings == nil {
				next.LastMeterReadings = make(map[string]time.Time)
			}
			end := ev.Window.Start
			if ev.Window.End != nil {
				end = *ev.Window.End
			}
			if last, ok := next.LastMeterReadings[ev.MeterID]; !ok || end.After(last) {
				next.LastMeterReadings[ev.MeterID] = end
			}
		}
	case KindInternalPolling:
		// Diagnostic only.
	default:
		if status, ok := StatusOf(ev.Kind); ok {
			next.Status = status
		} else {
			p.log.Warn("skipping unknown event kind",
				"permission_id", ev.PermissionID,
				"kind", string(ev.Kind),
			)
		}
	}
	return next
}
