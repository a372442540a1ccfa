package polling

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"gridpass/internal/eventstore"
	"gridpass/internal/permission"
)

// sweepConcurrency bounds parallel aggregate folds during one sweep.
const sweepConcurrency = 8

// TimeoutService records the timeout outcome for one permission.
type TimeoutService interface {
	Timeout(ctx context.Context, permissionID string) error
}

// Sweeper periodically scans for requests stuck in PendingAcknowledgment past
// the deadline and records UnableToSend for them. Timeouts are ordinary
// events appended by this separate collaborator; an in-flight commit is never
// cancelled.
type Sweeper struct {
	store     eventstore.Store
	projector *permission.Projector
	timeouts  TimeoutService
	deadline  time.Duration
	interval  time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// SweeperOption tweaks sweeper construction.
type SweeperOption func(*Sweeper)

// WithSweeperClock injects the time source, replacing time.Now.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

func NewSweeper(
	store eventstore.Store,
	projector *permission.Projector,
	timeouts TimeoutService,
	deadline, interval time.Duration,
	log *slog.Logger,
	opts ...SweeperOption,
) *Sweeper {
	s := &Sweeper{
		store:     store,
		projector: projector,
		timeouts:  timeouts,
		deadline:  deadline,
		interval:  interval,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass over all known aggregates.
func (s *Sweeper) Sweep(ctx context.Context) error {
	ids, err := s.store.PermissionIDs(ctx)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(sweepConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			return s.sweepOne(ctx, id)
		})
	}
	return g.Wait()
}

func (s *Sweeper) sweepOne(ctx context.Context, permissionID string) error {
	events, err := s.store.FindByPermissionID(ctx, permissionID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	proj := s.projector.Project(eventstore.Events(events))
	if proj.Status != permission.StatusPendingAcknowledgment {
		return nil
	}
	last := events[len(events)-1]
	if s.now().Sub(last.OccurredAt) < s.deadline {
		return nil
	}

	s.log.Warn("acknowledgment deadline exceeded",
		"permission_id", permissionID,
		"pending_since", last.OccurredAt,
	)
	return s.timeouts.Timeout(ctx, permissionID)
}
