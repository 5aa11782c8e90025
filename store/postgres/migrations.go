package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// migrationLockID is the advisory lock key serializing concurrent Migrate
// calls across processes.
const migrationLockID = int64(0x686f6f6b6c696e) // "hooklin"

type migration struct {
	version string
	name    string
	up      string
}

// migrations run in order; each version is applied at most once.
var migrations = []migration{
	{
		version: "20250101000001",
		name:    "create_event_types",
		up: `
CREATE TABLE IF NOT EXISTS hookline_event_types (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL UNIQUE,
    description    TEXT NOT NULL DEFAULT '',
    group_name     TEXT NOT NULL DEFAULT '',
    schema         JSONB,
    schema_version TEXT NOT NULL DEFAULT '',
    version        TEXT NOT NULL DEFAULT '',
    example        JSONB,
    is_deprecated  BOOLEAN NOT NULL DEFAULT FALSE,
    deprecated_at  TIMESTAMPTZ,
    metadata       JSONB NOT NULL DEFAULT '{}',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	},
	{
		version: "20250101000002",
		name:    "create_events",
		up: `
CREATE TABLE IF NOT EXISTS hookline_events (
    id              TEXT PRIMARY KEY,
    type            TEXT NOT NULL,
    payload         JSONB,
    idempotency_key TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS hookline_events_idem_key
    ON hookline_events (idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS hookline_events_type_created
    ON hookline_events (type, created_at DESC);
`,
	},
	{
		version: "20250101000003",
		name:    "create_webhooks",
		up: `
CREATE TABLE IF NOT EXISTS hookline_webhooks (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL,
    url        TEXT NOT NULL,
    secret     TEXT NOT NULL DEFAULT '',
    events     TEXT[] NOT NULL DEFAULT '{}',
    active     BOOLEAN NOT NULL DEFAULT TRUE,
    headers    JSONB NOT NULL DEFAULT '{}',
    metadata   JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS hookline_webhooks_owner
    ON hookline_webhooks (owner_id, created_at);
CREATE INDEX IF NOT EXISTS hookline_webhooks_events
    ON hookline_webhooks USING GIN (events) WHERE active;
`,
	},
	{
		version: "20250101000004",
		name:    "create_deliveries",
		up: `
CREATE TABLE IF NOT EXISTS hookline_deliveries (
    id              TEXT PRIMARY KEY,
    event_id        TEXT NOT NULL,
    webhook_id      TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    retry_count     INT NOT NULL DEFAULT 0,
    max_retries     INT NOT NULL DEFAULT 0,
    response_code   INT NOT NULL DEFAULT 0,
    response_body   TEXT NOT NULL DEFAULT '',
    error_kind      TEXT NOT NULL DEFAULT '',
    last_error      TEXT NOT NULL DEFAULT '',
    last_latency_ms INT NOT NULL DEFAULT 0,
    next_attempt_at TIMESTAMPTZ,
    delivered_at    TIMESTAMPTZ,
    completed_at    TIMESTAMPTZ,
    leased_until    TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (event_id, webhook_id)
);
CREATE INDEX IF NOT EXISTS hookline_deliveries_due
    ON hookline_deliveries (next_attempt_at) WHERE status = 'retrying';
CREATE INDEX IF NOT EXISTS hookline_deliveries_pending
    ON hookline_deliveries (created_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS hookline_deliveries_webhook
    ON hookline_deliveries (webhook_id, created_at DESC);
CREATE INDEX IF NOT EXISTS hookline_deliveries_event
    ON hookline_deliveries (event_id);
CREATE INDEX IF NOT EXISTS hookline_deliveries_status
    ON hookline_deliveries (status);
`,
	},
	{
		version: "20250101000005",
		name:    "create_dlq",
		up: `
CREATE TABLE IF NOT EXISTS hookline_dlq (
    id            TEXT PRIMARY KEY,
    delivery_id   TEXT NOT NULL,
    event_id      TEXT NOT NULL,
    webhook_id    TEXT NOT NULL,
    event_type    TEXT NOT NULL DEFAULT '',
    owner_id      TEXT NOT NULL DEFAULT '',
    url           TEXT NOT NULL DEFAULT '',
    payload       JSONB,
    error_kind    TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    response_code INT NOT NULL DEFAULT 0,
    attempt_count INT NOT NULL DEFAULT 0,
    replayed_at   TIMESTAMPTZ,
    failed_at     TIMESTAMPTZ NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS hookline_dlq_failed_at
    ON hookline_dlq (failed_at DESC);
`,
	},
}

// Migrate applies pending migrations under an advisory lock.
func (s *Store) Migrate(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("hookline/postgres: acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("hookline/postgres: acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	if _, err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookline_schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("hookline/postgres: create migrations table: %w", err)
	}

	for _, m := range migrations {
		if err := s.applyMigration(ctx, conn.Conn(), m); err != nil {
			return fmt.Errorf("hookline/postgres: migration %s (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, conn *pgx.Conn, m migration) error {
	var applied bool
	err := conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM hookline_schema_migrations WHERE version = $1)`,
		m.version).Scan(&applied)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, m.up); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO hookline_schema_migrations (version, name) VALUES ($1, $2)`,
		m.version, m.name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
