//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"gridpass/internal/eventstore/postgres"
	"gridpass/internal/permission"
	"gridpass/pkg/platform/sentinel"
	txcontext "gridpass/pkg/platform/tx"
	"gridpass/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(postgres.EnsureSchema(context.Background(), s.postgres.DB))
	s.store = postgres.New(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateEvents(context.Background()))
}

func (s *PostgresStoreSuite) occurredAt() time.Time {
	return time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) window() permission.Window {
	end := time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC)
	return permission.Window{
		Start: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   &end,
	}
}

func (s *PostgresStoreSuite) TestAppendAndReadBack() {
	ctx := context.Background()

	created := permission.Created("pid-1", "conn-1", "need-1", "corr-1",
		s.window(), permission.GranularityPT1H, s.occurredAt())
	stored, err := s.store.Append(ctx, created)
	s.Require().NoError(err)
	s.Equal(int64(1), stored.Seq)

	malformed := permission.Malformed("pid-1", []permission.AttributeError{
		{FieldName: "dataFrom", Message: "start date must not be in the past"},
	}, s.occurredAt())
	_, err = s.store.Append(ctx, malformed)
	s.Require().NoError(err)

	events, err := s.store.FindByPermissionID(ctx, "pid-1")
	s.Require().NoError(err)
	s.Require().Len(events, 2)

	s.Equal(permission.KindCreated, events[0].Kind)
	s.Equal("conn-1", events[0].ConnectionID)
	s.Equal("corr-1", events[0].CorrelationID)
	s.Equal(permission.GranularityPT1H, events[0].Granularity)
	s.Require().NotNil(events[0].Window)
	s.True(events[0].Window.Start.Equal(s.window().Start))
	s.Require().NotNil(events[0].Window.End)
	s.True(events[0].Window.End.Equal(*s.window().End))

	s.Equal(permission.KindMalformed, events[1].Kind)
	s.Require().Len(events[1].Errors, 1)
	s.Equal("dataFrom", events[1].Errors[0].FieldName)
}

func (s *PostgresStoreSuite) TestOpenEndedWindowRoundTrip() {
	ctx := context.Background()

	open := permission.Window{Start: time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)}
	_, err := s.store.Append(ctx, permission.Created("pid-open", "conn-1", "need-1", "",
		open, permission.GranularityP1D, s.occurredAt()))
	s.Require().NoError(err)

	events, err := s.store.FindByPermissionID(ctx, "pid-open")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Require().NotNil(events[0].Window)
	s.Nil(events[0].Window.End)
	s.Empty(events[0].CorrelationID)
}

func (s *PostgresStoreSuite) TestFindByCorrelationID() {
	ctx := context.Background()

	_, err := s.store.Append(ctx, permission.Created("pid-1", "conn-1", "need-1", "corr-1",
		s.window(), permission.GranularityPT1H, s.occurredAt()))
	s.Require().NoError(err)

	stored, err := s.store.FindByCorrelationID(ctx, "corr-1")
	s.Require().NoError(err)
	s.Equal("pid-1", stored.PermissionID)

	_, err = s.store.FindByCorrelationID(ctx, "corr-missing")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

// TestConcurrentAppendsNeverShareASequence verifies that appends racing for
// one aggregate either claim a distinct sequence position or surface a
// conflict, never silently collide.
func (s *PostgresStoreSuite) TestConcurrentAppendsNeverShareASequence() {
	ctx := context.Background()
	const writers = 20

	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Append(ctx, permission.Simple("pid-race",
				permission.KindInternalPolling, "", s.occurredAt()))
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflictCount.Add(1)
			default:
				s.Failf("unexpected append error", "%v", err)
			}
		}()
	}
	wg.Wait()

	s.Positive(successCount.Load())
	s.Equal(int32(writers), successCount.Load()+conflictCount.Load())

	events, err := s.store.FindByPermissionID(ctx, "pid-race")
	s.Require().NoError(err)
	s.Require().Len(events, int(successCount.Load()))
	for i, ev := range events {
		s.Equal(int64(i+1), ev.Seq)
	}
}

// TestAppendJoinsCallerTransaction verifies that an append issued under a
// context-carried transaction is rolled back with it.
func (s *PostgresStoreSuite) TestAppendJoinsCallerTransaction() {
	ctx := context.Background()

	dbtx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)

	txCtx := txcontext.WithTx(ctx, dbtx)
	_, err = s.store.Append(txCtx, permission.Created("pid-tx", "conn-1", "need-1", "",
		s.window(), permission.GranularityPT1H, s.occurredAt()))
	s.Require().NoError(err)
	s.Require().NoError(dbtx.Rollback())

	events, err := s.store.FindByPermissionID(ctx, "pid-tx")
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *PostgresStoreSuite) TestPermissionIDs() {
	ctx := context.Background()

	_, err := s.store.Append(ctx, permission.Created("pid-b", "conn-1", "need-1", "",
		s.window(), permission.GranularityPT1H, s.occurredAt()))
	s.Require().NoError(err)
	_, err = s.store.Append(ctx, permission.Created("pid-a", "conn-1", "need-1", "",
		s.window(), permission.GranularityPT1H, s.occurredAt()))
	s.Require().NoError(err)

	ids, err := s.store.PermissionIDs(ctx)
	s.Require().NoError(err)
	s.Equal([]string{"pid-a", "pid-b"}, ids)
}
