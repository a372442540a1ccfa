// Package memory is the in-memory event store used by tests and by
// deployments that have not configured Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gridpass/internal/eventstore"
	"gridpass/internal/permission"
	"gridpass/pkg/platform/sentinel"
)

// Store keeps each aggregate's events in an append-only slice. A per-key
// mutex linearizes appends for one permission while appends for different
// permissions proceed in parallel; the outer RWMutex only guards the maps.
type Store struct {
	mu            sync.RWMutex
	events        map[string][]eventstore.StoredEvent
	byCorrelation map[string]eventstore.StoredEvent
	keyLocks      map[string]*sync.Mutex
	nextID        int64
}

var _ eventstore.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		events:        make(map[string][]eventstore.StoredEvent),
		byCorrelation: make(map[string]eventstore.StoredEvent),
		keyLocks:      make(map[string]*sync.Mutex),
	}
}

func (s *Store) keyLock(permissionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.keyLocks[permissionID]
	if !ok {
		lock = &sync.Mutex{}
		s.keyLocks[permissionID] = lock
	}
	return lock
}

func (s *Store) Append(ctx context.Context, ev permission.Event) (eventstore.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return eventstore.StoredEvent{}, err
	}
	if ev.PermissionID == "" {
		return eventstore.StoredEvent{}, fmt.Errorf("append event: empty permission id")
	}

	lock := s.keyLock(ev.PermissionID)
	lock.Lock()
	defer lock.Unlock()

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	stored := eventstore.StoredEvent{
		Event: ev,
		ID:    s.nextID,
		Seq:   int64(len(s.events[ev.PermissionID])) + 1,
	}
	s.events[ev.PermissionID] = append(s.events[ev.PermissionID], stored)
	if ev.Kind == permission.KindCreated && ev.CorrelationID != "" {
		s.byCorrelation[ev.CorrelationID] = stored
	}
	return stored, nil
}

func (s *Store) FindByPermissionID(_ context.Context, permissionID string) ([]eventstore.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]eventstore.StoredEvent{}, s.events[permissionID]...), nil
}

func (s *Store) FindByCorrelationID(_ context.Context, correlationID string) (eventstore.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.byCorrelation[correlationID]
	if !ok {
		return eventstore.StoredEvent{}, fmt.Errorf("correlation id %s: %w", correlationID, sentinel.ErrNotFound)
	}
	return stored, nil
}

func (s *Store) PermissionIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
