// Package postgres persists permission events in one append-only table per
// module, discriminated by kind, with nullable kind-specific columns.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"gridpass/internal/eventstore"
	"gridpass/internal/permission"
	"gridpass/pkg/platform/sentinel"
	txcontext "gridpass/pkg/platform/tx"
)

// appendRetries bounds the optimistic sequence race. Two committers fighting
// over the same aggregate resolve within a retry or two; anything beyond that
// is surfaced as a conflict.
const appendRetries = 5

// Store implements eventstore.Store on PostgreSQL. Appends are serialized per
// permission by the UNIQUE (permission_id, seq) constraint: a losing
// concurrent writer re-reads the head sequence and retries, so two appends
// can never share a position.
type Store struct {
	db *sql.DB
}

var _ eventstore.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, ev permission.Event) (eventstore.StoredEvent, error) {
	if ev.PermissionID == "" {
		return eventstore.StoredEvent{}, fmt.Errorf("append event: empty permission id")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	var attributeErrors []byte
	if len(ev.Errors) > 0 {
		var err error
		attributeErrors, err = json.Marshal(ev.Errors)
		if err != nil {
			return eventstore.StoredEvent{}, fmt.Errorf("marshal attribute errors: %w", err)
		}
	}

	var windowStart, windowEnd *time.Time
	if ev.Window != nil {
		windowStart = &ev.Window.Start
		windowEnd = ev.Window.End
	}

	query := `
		INSERT INTO permission_events (
			permission_id, seq, kind, occurred_at, correlation_id,
			connection_id, data_need_id, granularity, data_start, data_end,
			meter_id, message, attribute_errors
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
		        NULLIF($8, ''), $9, $10, NULLIF($11, ''), NULLIF($12, ''), $13)
		RETURNING id
	`

	for attempt := 0; attempt < appendRetries; attempt++ {
		seq, err := s.headSeq(ctx, ev.PermissionID)
		if err != nil {
			return eventstore.StoredEvent{}, err
		}
		seq++

		var id int64
		err = s.execer(ctx).QueryRowContext(ctx, query,
			ev.PermissionID,
			seq,
			string(ev.Kind),
			ev.OccurredAt,
			ev.CorrelationID,
			ev.ConnectionID,
			ev.DataNeedID,
			string(ev.Granularity),
			windowStart,
			windowEnd,
			ev.MeterID,
			ev.Message,
			attributeErrors,
		).Scan(&id)
		if err == nil {
			return eventstore.StoredEvent{Event: ev, ID: id, Seq: seq}, nil
		}
		if isUniqueViolation(err) {
			// Lost the race for this sequence position; re-read and retry.
			continue
		}
		return eventstore.StoredEvent{}, fmt.Errorf("insert permission event: %w", err)
	}
	return eventstore.StoredEvent{}, fmt.Errorf("append event for %s: %w", ev.PermissionID, sentinel.ErrConflict)
}

func (s *Store) headSeq(ctx context.Context, permissionID string) (int64, error) {
	var seq int64
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM permission_events WHERE permission_id = $1`,
		permissionID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read head sequence: %w", err)
	}
	return seq, nil
}

const selectColumns = `
	SELECT id, permission_id, seq, kind, occurred_at,
	       COALESCE(correlation_id, ''), COALESCE(connection_id, ''),
	       COALESCE(data_need_id, ''), COALESCE(granularity, ''),
	       data_start, data_end, COALESCE(meter_id, ''),
	       COALESCE(message, ''), attribute_errors
	FROM permission_events
`

func (s *Store) FindByPermissionID(ctx context.Context, permissionID string) ([]eventstore.StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE permission_id = $1 ORDER BY seq`,
		permissionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query permission events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *Store) FindByCorrelationID(ctx context.Context, correlationID string) (eventstore.StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE correlation_id = $1 AND kind = $2 ORDER BY id LIMIT 1`,
		correlationID,
		string(permission.KindCreated),
	)
	if err != nil {
		return eventstore.StoredEvent{}, fmt.Errorf("query by correlation id: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return eventstore.StoredEvent{}, err
	}
	if len(events) == 0 {
		return eventstore.StoredEvent{}, fmt.Errorf("correlation id %s: %w", correlationID, sentinel.ErrNotFound)
	}
	return events[0], nil
}

func (s *Store) PermissionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT permission_id FROM permission_events ORDER BY permission_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query permission ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan permission id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission ids: %w", err)
	}
	return ids, nil
}

func scanEvents(rows *sql.Rows) ([]eventstore.StoredEvent, error) {
	var events []eventstore.StoredEvent
	for rows.Next() {
		var (
			stored          eventstore.StoredEvent
			kind            string
			granularity     string
			dataStart       *time.Time
			dataEnd         *time.Time
			attributeErrors []byte
		)
		err := rows.Scan(
			&stored.ID,
			&stored.PermissionID,
			&stored.Seq,
			&kind,
			&stored.OccurredAt,
			&stored.CorrelationID,
			&stored.ConnectionID,
			&stored.DataNeedID,
			&granularity,
			&dataStart,
			&dataEnd,
			&stored.MeterID,
			&stored.Message,
			&attributeErrors,
		)
		if err != nil {
			return nil, fmt.Errorf("scan permission event: %w", err)
		}

		stored.Kind = permission.Kind(kind)
		stored.Granularity = permission.Granularity(granularity)
		if dataStart != nil {
			stored.Window = &permission.Window{Start: *dataStart, End: dataEnd}
		}
		if len(attributeErrors) > 0 {
			if err := json.Unmarshal(attributeErrors, &stored.Errors); err != nil {
				return nil, fmt.Errorf("unmarshal attribute errors: %w", err)
			}
		}
		events = append(events, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission events: %w", err)
	}
	return events, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
