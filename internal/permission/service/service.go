// Package service orchestrates permission lifecycle operations: load the
// history, fold it, consult the transition table, commit the new event
// through the outbox. It owns no state of its own; the event store is the
// single source of truth.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gridpass/internal/eventstore"
	"gridpass/internal/outbox"
	"gridpass/internal/permission"
	"gridpass/internal/platform/metrics"
	"gridpass/internal/registry"
	"gridpass/pkg/platform/sentinel"
)

// Cache is a non-authoritative projection cache. The service works the same
// with a nil cache; the fold over the event log stays the canonical read.
type Cache interface {
	Get(ctx context.Context, permissionID string) (permission.Projection, bool)
	Set(ctx context.Context, proj permission.Projection)
	Invalidate(ctx context.Context, permissionID string)
}

type Service struct {
	store     eventstore.Store
	outbox    *outbox.Outbox
	projector *permission.Projector
	registry  *registry.Registry
	cache     Cache
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
}

// Option tweaks service construction.
type Option func(*Service)

// WithClock injects the time source, replacing time.Now. Guards and
// validators receive their notion of now from here, never from a global.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCache enables the projection cache.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func New(
	store eventstore.Store,
	ob *outbox.Outbox,
	projector *permission.Projector,
	reg *registry.Registry,
	m *metrics.Metrics,
	log *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:     store,
		outbox:    ob,
		projector: projector,
		registry:  reg,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest is the connector-agnostic shape of a new permission request.
type CreateRequest struct {
	ConnectorID   string
	ConnectionID  string
	DataNeedID    string
	CorrelationID string
	Window        permission.Window
	Granularity   permission.Granularity
}

// Create allocates a permission id, records Created, runs the connector's
// validator chain and records either Validated or Malformed. A malformed
// window is not an error: the outcome is returned as data on the projection.
func (s *Service) Create(ctx context.Context, req CreateRequest) (permission.Projection, error) {
	conn, err := s.registry.Get(req.ConnectorID)
	if err != nil {
		return permission.Projection{}, err
	}

	permissionID := uuid.NewString()
	now := s.now().UTC()
	s.log.Info("creating permission request",
		"permission_id", permissionID,
		"connector", conn.ID,
		"connection_id", req.ConnectionID,
		"data_need_id", req.DataNeedID,
	)

	created := permission.Created(permissionID, req.ConnectionID, req.DataNeedID,
		req.CorrelationID, req.Window, req.Granularity, now)
	if _, err := s.outbox.Commit(ctx, created); err != nil {
		return permission.Projection{}, err
	}
	s.invalidate(ctx, permissionID)

	if errs := conn.Validators.Validate(req.Window, now); len(errs) > 0 {
		if _, err := s.outbox.Commit(ctx, permission.Malformed(permissionID, errs, s.now().UTC())); err != nil {
			return permission.Projection{}, err
		}
	} else {
		if _, err := s.outbox.Commit(ctx, permission.Validated(permissionID, req.Window, s.now().UTC())); err != nil {
			return permission.Projection{}, err
		}
	}
	s.invalidate(ctx, permissionID)

	return s.Projection(ctx, permissionID)
}

// Send records that the request went out to the permission administrator.
func (s *Service) Send(ctx context.Context, permissionID string) error {
	return s.transition(ctx, permission.Simple(permissionID, permission.KindSentToAdministrator, "", s.now().UTC()))
}

// responseKinds are the administrator outcomes a callback may carry.
var responseKinds = map[permission.Kind]struct{}{
	permission.KindPendingAcknowledgment: {},
	permission.KindAccepted:              {},
	permission.KindRejected:              {},
	permission.KindInvalid:               {},
}

// ReceiveResponse matches a late administrator callback, correlated by the
// transient conversation id from the Created event, to its aggregate and
// records the outcome.
func (s *Service) ReceiveResponse(ctx context.Context, correlationID string, outcome permission.Kind, message string) (string, error) {
	if _, ok := responseKinds[outcome]; !ok {
		return "", fmt.Errorf("outcome %s is not an administrator response", outcome)
	}
	created, err := s.store.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		return "", err
	}
	err = s.transition(ctx, permission.Simple(created.PermissionID, outcome, message, s.now().UTC()))
	if err != nil {
		return "", err
	}
	return created.PermissionID, nil
}

// Acknowledge loops a pending request back to SentToAdministrator while the
// administrator keeps confirming receipt.
func (s *Service) Acknowledge(ctx context.Context, permissionID string) error {
	return s.transition(ctx, permission.Simple(permissionID, permission.KindSentToAdministrator, "acknowledged", s.now().UTC()))
}

// Timeout records that no acknowledgment arrived within the deadline. Called
// by the sweeper, not by the committer: a stalled send is an ordinary event,
// not a cancellation.
func (s *Service) Timeout(ctx context.Context, permissionID string) error {
	return s.transition(ctx, permission.Simple(permissionID, permission.KindUnableToSend, "acknowledgment deadline exceeded", s.now().UTC()))
}

// DataReceived records a fetched window for one meter.
func (s *Service) DataReceived(ctx context.Context, permissionID, meterID string, window permission.Window) error {
	return s.transition(ctx, permission.DataReceived(permissionID, meterID, window, s.now().UTC()))
}

// RecordPolling records a diagnostic polling fact. Allowed in any state,
// including terminal ones.
func (s *Service) RecordPolling(ctx context.Context, permissionID, message string) error {
	return s.transition(ctx, permission.Simple(permissionID, permission.KindInternalPolling, message, s.now().UTC()))
}

// Revoke ends an accepted permission on the customer's initiative.
func (s *Service) Revoke(ctx context.Context, permissionID string) error {
	return s.transition(ctx, permission.Simple(permissionID, permission.KindRevoked, "", s.now().UTC()))
}

// Terminate records natural fulfillment of an accepted permission.
func (s *Service) Terminate(ctx context.Context, permissionID string) error {
	return s.transition(ctx, permission.Simple(permissionID, permission.KindFulfilled, "", s.now().UTC()))
}

// MarkUnfulfillable records that the remaining window can never be satisfied.
func (s *Service) MarkUnfulfillable(ctx context.Context, permissionID, message string) error {
	return s.transition(ctx, permission.Simple(permissionID, permission.KindUnfulfillable, message, s.now().UTC()))
}

// Projection folds the aggregate's history into its current view. The result
// is disposable; the cache, when present, is only an optimization.
func (s *Service) Projection(ctx context.Context, permissionID string) (permission.Projection, error) {
	if s.cache != nil {
		if proj, ok := s.cache.Get(ctx, permissionID); ok {
			s.metrics.CacheHits.Inc()
			return proj, nil
		}
	}

	proj, err := s.fold(ctx, permissionID)
	if err != nil {
		return permission.Projection{}, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, proj)
	}
	return proj, nil
}

// Events exposes the raw stored history of one aggregate.
func (s *Service) Events(ctx context.Context, permissionID string) ([]eventstore.StoredEvent, error) {
	events, err := s.store.FindByPermissionID(ctx, permissionID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("permission %s: %w", permissionID, sentinel.ErrNotFound)
	}
	return events, nil
}

// fold is the canonical, cache-free read used for transition guards.
func (s *Service) fold(ctx context.Context, permissionID string) (permission.Projection, error) {
	events, err := s.store.FindByPermissionID(ctx, permissionID)
	if err != nil {
		return permission.Projection{}, err
	}
	if len(events) == 0 {
		return permission.Projection{}, fmt.Errorf("permission %s: %w", permissionID, sentinel.ErrNotFound)
	}
	s.metrics.ProjectionRebuilds.Inc()
	return s.projector.Project(eventstore.Events(events)), nil
}

func (s *Service) transition(ctx context.Context, ev permission.Event) error {
	proj, err := s.fold(ctx, ev.PermissionID)
	if err != nil {
		return err
	}
	if err := permission.Guard(ev.PermissionID, proj.Status, ev.Kind); err != nil {
		return err
	}
	if _, err := s.outbox.Commit(ctx, ev); err != nil {
		return err
	}
	s.invalidate(ctx, ev.PermissionID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, permissionID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, permissionID)
	}
}
