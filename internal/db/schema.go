package db

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS render_jobs (
	id            UUID PRIMARY KEY,
	owner         TEXT NOT NULL,
	status        TEXT NOT NULL CHECK (status IN ('queued', 'running', 'done', 'failed')),
	spec          JSONB NOT NULL,
	output_url    TEXT,
	error_code    TEXT,
	error_message TEXT,
	attempts      INTEGER NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS render_jobs_queued_idx
	ON render_jobs (created_at) WHERE status = 'queued';

CREATE TABLE IF NOT EXISTS render_artifacts (
	id         UUID PRIMARY KEY,
	job_id     UUID NOT NULL REFERENCES render_jobs(id) ON DELETE CASCADE,
	owner      TEXT NOT NULL,
	file_name  TEXT NOT NULL UNIQUE,
	byte_size  BIGINT NOT NULL,
	url        TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS render_artifacts_owner_idx
	ON render_artifacts (owner, created_at DESC);
`

// EnsureSchema creates the tables if they do not exist. It is safe to run on
// every start.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
