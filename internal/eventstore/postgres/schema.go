package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the append-only event table. All event kinds share one physical
// table; kind-specific payload columns are nullable. There is no UPDATE or
// DELETE path anywhere in this package: the history is audit-grade.
const Schema = `
CREATE TABLE IF NOT EXISTS permission_events (
	id               BIGSERIAL PRIMARY KEY,
	permission_id    TEXT        NOT NULL,
	seq              BIGINT      NOT NULL,
	kind             TEXT        NOT NULL,
	occurred_at      TIMESTAMPTZ NOT NULL,
	correlation_id   TEXT,
	connection_id    TEXT,
	data_need_id     TEXT,
	granularity      TEXT,
	data_start       TIMESTAMPTZ,
	data_end         TIMESTAMPTZ,
	meter_id         TEXT,
	message          TEXT,
	attribute_errors JSONB,
	UNIQUE (permission_id, seq)
);

CREATE INDEX IF NOT EXISTS permission_events_correlation_idx
	ON permission_events (correlation_id)
	WHERE correlation_id IS NOT NULL;
`

// EnsureSchema creates the event table if it does not exist. Deployments with
// managed migrations can run the same DDL out of band.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure permission_events schema: %w", err)
	}
	return nil
}
