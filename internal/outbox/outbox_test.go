package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridpass/internal/eventstore"
	"gridpass/internal/eventstore/memory"
	"gridpass/internal/outbox"
	"gridpass/internal/permission"
	"gridpass/internal/platform/logger"
	"gridpass/internal/platform/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

var t0 = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

// recorder collects delivered events and signals after each one.
type recorder struct {
	mu     sync.Mutex
	events []eventstore.StoredEvent
	seen   chan struct{}
}

func newRecorder(capacity int) *recorder {
	return &recorder{seen: make(chan struct{}, capacity)}
}

func (r *recorder) Handle(_ context.Context, ev eventstore.StoredEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.seen <- struct{}{}
	return nil
}

func (r *recorder) wait(t *testing.T, n int) []eventstore.StoredEvent {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d of %d", i+1, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventstore.StoredEvent{}, r.events...)
}

type failingStore struct {
	memory.Store
}

func (f *failingStore) Append(context.Context, permission.Event) (eventstore.StoredEvent, error) {
	return eventstore.StoredEvent{}, errors.New("disk on fire")
}

func newFixture(t *testing.T, store eventstore.Store) (*outbox.Outbox, *outbox.Bus) {
	t.Helper()
	log := logger.Discard()
	m := metrics.New(prometheus.NewRegistry())
	bus := outbox.NewBus(log, m)
	t.Cleanup(bus.Close)
	return outbox.New(store, bus, m, log), bus
}

func TestCommitPublishesAfterPersist(t *testing.T) {
	store := memory.New()
	ob, bus := newFixture(t, store)

	rec := newRecorder(4)
	bus.Subscribe("recorder", rec)

	stored, err := ob.Commit(context.Background(), permission.Simple("pid", permission.KindValidated, "", t0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Seq)

	got := rec.wait(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, stored, got[0])
}

func TestCommitDoesNotPublishOnAppendFailure(t *testing.T) {
	ob, bus := newFixture(t, &failingStore{})

	rec := newRecorder(4)
	bus.Subscribe("recorder", rec)

	_, err := ob.Commit(context.Background(), permission.Simple("pid", permission.KindValidated, "", t0))
	require.Error(t, err)

	// Commit already returned; any wrongful publish would be enqueued by now.
	select {
	case <-rec.seen:
		t.Fatal("event published despite failed append")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCommitPreservesPerPermissionOrder(t *testing.T) {
	const commits = 30
	store := memory.New()
	ob, bus := newFixture(t, store)

	rec := newRecorder(commits)
	bus.Subscribe("recorder", rec)

	var wg sync.WaitGroup
	for i := 0; i < commits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ob.Commit(context.Background(), permission.Simple("pid", permission.KindInternalPolling, "", t0))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got := rec.wait(t, commits)
	require.Len(t, got, commits)
	for i, ev := range got {
		assert.Equal(t, int64(i+1), ev.Seq, "delivery order diverged from append order")
	}
}

func TestSlowSubscriberDoesNotBlockPeers(t *testing.T) {
	store := memory.New()
	ob, bus := newFixture(t, store)

	release := make(chan struct{})
	bus.Subscribe("slow", outbox.HandlerFunc(func(context.Context, eventstore.StoredEvent) error {
		<-release
		return nil
	}))
	defer close(release)

	fast := newRecorder(4)
	bus.Subscribe("fast", fast)

	_, err := ob.Commit(context.Background(), permission.Simple("pid", permission.KindValidated, "", t0))
	require.NoError(t, err)

	got := fast.wait(t, 1)
	assert.Len(t, got, 1)
}

func TestSubscriberErrorsAreNotPropagated(t *testing.T) {
	store := memory.New()
	ob, bus := newFixture(t, store)

	done := make(chan struct{}, 1)
	bus.Subscribe("broken", outbox.HandlerFunc(func(context.Context, eventstore.StoredEvent) error {
		done <- struct{}{}
		return errors.New("handler exploded")
	}))

	_, err := ob.Commit(context.Background(), permission.Simple("pid", permission.KindValidated, "", t0))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestReplayRepublishesHistoryInOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ob, bus := newFixture(t, store)

	window := permission.Window{Start: t0.AddDate(0, 0, -30)}
	_, err := store.Append(ctx, permission.Created("pid", "conn-1", "need-1", "", window, permission.GranularityP1D, t0))
	require.NoError(t, err)
	_, err = store.Append(ctx, permission.Simple("pid", permission.KindValidated, "", t0))
	require.NoError(t, err)

	rec := newRecorder(4)
	bus.Subscribe("recorder", rec)

	require.NoError(t, ob.Replay(ctx, "pid"))

	got := rec.wait(t, 2)
	require.Len(t, got, 2)
	assert.Equal(t, permission.KindCreated, got[0].Kind)
	assert.Equal(t, permission.KindValidated, got[1].Kind)
}
