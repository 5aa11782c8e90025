// Package postgres provides a PostgreSQL-backed Store implementation on
// pgx. Uniqueness of the (event, webhook) pair is a table constraint;
// state transitions are single conditional UPDATE statements, so the
// database arbitrates racing workers.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	hookstore "github.com/hookline/hookline/store"
	"github.com/hookline/hookline/webhook"
)

// compile-time interface check
var _ hookstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via pgx.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a PostgreSQL store on an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to PostgreSQL and returns a store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("hookline/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("hookline/postgres: ping: %w", err)
	}
	return New(pool), nil
}

// Pool returns the underlying connection pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ──────────────────────────────────────────────────
// catalog.Store
// ──────────────────────────────────────────────────

// RegisterType creates or updates an event type definition (upsert by name).
func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	metadata, err := marshalMap(et.Metadata)
	if err != nil {
		return fmt.Errorf("hookline/postgres: register type: %w", err)
	}

	// The original ID and created_at survive re-registration.
	row := s.pool.QueryRow(ctx, `
INSERT INTO hookline_event_types
    (id, name, description, group_name, schema, schema_version, version, example, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (name) DO UPDATE SET
    description    = EXCLUDED.description,
    group_name     = EXCLUDED.group_name,
    schema         = EXCLUDED.schema,
    schema_version = EXCLUDED.schema_version,
    version        = EXCLUDED.version,
    example        = EXCLUDED.example,
    metadata       = EXCLUDED.metadata,
    updated_at     = NOW()
RETURNING id`,
		et.ID.String(), et.Definition.Name, et.Definition.Description,
		et.Definition.Group, []byte(et.Definition.Schema), et.Definition.SchemaVersion,
		et.Definition.Version, []byte(et.Definition.Example), metadata)

	var storedID string
	if err := row.Scan(&storedID); err != nil {
		return fmt.Errorf("hookline/postgres: register type: %w", err)
	}
	parsed, err := id.ParseEventTypeID(storedID)
	if err != nil {
		return fmt.Errorf("hookline/postgres: register type: %w", err)
	}
	et.ID = parsed
	return nil
}

// GetType returns an event type by name.
func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventTypeColumns+` FROM hookline_event_types WHERE name = $1`, name)
	et, err := scanEventType(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, hookline.ErrEventTypeNotFound
		}
		return nil, fmt.Errorf("hookline/postgres: get type: %w", err)
	}
	return et, nil
}

// GetTypeByID returns an event type by its TypeID.
func (s *Store) GetTypeByID(ctx context.Context, etID id.ID) (*catalog.EventType, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventTypeColumns+` FROM hookline_event_types WHERE id = $1`, etID.String())
	et, err := scanEventType(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, hookline.ErrEventTypeNotFound
		}
		return nil, fmt.Errorf("hookline/postgres: get type by ID: %w", err)
	}
	return et, nil
}

// ListTypes returns all registered event types, optionally filtered.
func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	query := `SELECT ` + eventTypeColumns + ` FROM hookline_event_types WHERE 1=1`
	args := []any{}

	if !opts.IncludeDeprecated {
		query += ` AND NOT is_deprecated`
	}
	if opts.Group != "" {
		args = append(args, opts.Group)
		query += fmt.Sprintf(` AND group_name = $%d`, len(args))
	}
	query += ` ORDER BY name`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hookline/postgres: list types: %w", err)
	}
	defer rows.Close()

	var result []*catalog.EventType
	for rows.Next() {
		et, err := scanEventType(rows)
		if err != nil {
			return nil, fmt.Errorf("hookline/postgres: list types: %w", err)
		}
		result = append(result, et)
	}
	return result, rows.Err()
}

// DeleteType soft-deletes (deprecates) an event type.
func (s *Store) DeleteType(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE hookline_event_types
SET is_deprecated = TRUE, deprecated_at = NOW(), updated_at = NOW()
WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("hookline/postgres: delete type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return hookline.ErrEventTypeNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event. A duplicate idempotency key returns
// ErrDuplicateIdempotencyKey; re-inserting an already-persisted event
// (same ID) is a no-op so interrupted ingests can be re-driven.
func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	payload, err := marshalJSON(evt.Payload)
	if err != nil {
		return fmt.Errorf("hookline/postgres: create event: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO hookline_events (id, type, payload, idempotency_key)
VALUES ($1, $2, $3, NULLIF($4, ''))`,
		evt.ID.String(), evt.Type, payload, evt.IdempotencyKey)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "hookline_events_idem_key" {
				return hookline.ErrDuplicateIdempotencyKey
			}
			// Primary key conflict: the event row is already there.
			return nil
		}
		return fmt.Errorf("hookline/postgres: create event: %w", err)
	}
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM hookline_events WHERE id = $1`, evtID.String())
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, hookline.ErrEventNotFound
		}
		return nil, fmt.Errorf("hookline/postgres: get event: %w", err)
	}
	return evt, nil
}

// GetEventByIdempotencyKey returns the event previously ingested under the key.
func (s *Store) GetEventByIdempotencyKey(ctx context.Context, key string) (*event.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM hookline_events WHERE idempotency_key = $1`, key)
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, hookline.ErrEventNotFound
		}
		return nil, fmt.Errorf("hookline/postgres: get event by idempotency key: %w", err)
	}
	return evt, nil
}

// ListEvents returns events, newest first, optionally filtered.
func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM hookline_events WHERE 1=1`
	args := []any{}

	if opts.Type != "" {
		args = append(args, opts.Type)
		query += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	if opts.From != nil {
		args = append(args, *opts.From)
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if opts.To != nil {
		args = append(args, *opts.To)
		query += fmt.Sprintf(` AND created_at <= $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hookline/postgres: list events: %w", err)
	}
	defer rows.Close()

	var result []*event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("hookline/postgres: list events: %w", err)
		}
		result = append(result, evt)
	}
	return result, rows.Err()
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

// CreateWebhook persists a new webhook.
func (s *Store) CreateWebhook(ctx context.Context, wh *webhook.Webhook) error {
	headers, err := marshalMap(wh.Headers)
	if err != nil {
		return fmt.Errorf("hookline/postgres: create webhook: %w", err)
	}
	metadata, err := marshalMap(wh.Metadata)
	if err != nil {
		return fmt.Errorf("hookline/postgres: create webhook: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO hookline_webhooks (id, owner_id, url, secret, events, active, headers, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		wh.ID.String(), wh.OwnerID, wh.URL, wh.Secret, wh.Events, wh.Active, headers, metadata)
	if err != nil {
		return fmt.Errorf("hookline/postgres: create webhook: %w", err)
	}
	return nil
}

// GetWebhook returns a webhook by ID.
func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM hookline_webhooks WHERE id = $1`, whID.String())
	wh, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, hookline.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("hookline/postgres: get webhook: %w", err)
	}
	return wh, nil
}

// UpdateWebhook modifies an existing webhook.
func (s *Store) UpdateWebhook(ctx context.Context, wh *webhook.Webhook) error {
	headers, err := marshalMap(wh.Headers)
	if err != nil {
		return fmt.Errorf("hookline/postgres: update webhook: %w", err)
	}
	metadata, err := marshalMap(wh.Metadata)
	if err != nil {
		return fmt.Errorf("hookline/postgres: update webhook: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
UPDATE hookline_webhooks
SET owner_id = $2, url = $3, secret = $4, events = $5, active = $6,
    headers = $7, metadata = $8, updated_at = NOW()
WHERE id = $1`,
		wh.ID.String(), wh.OwnerID, wh.URL, wh.Secret, wh.Events, wh.Active, headers, metadata)
	if err != nil {
		return fmt.Errorf("hookline/postgres: update webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return hookline.ErrWebhookNotFound
	}
	return nil
}

// DeleteWebhook removes a webhook.
func (s *Store) DeleteWebhook(ctx context.Context, whID id.ID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM hookline_webhooks WHERE id = $1`, whID.String())
	if err != nil {
		return fmt.Errorf("hookline/postgres: delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return hookline.ErrWebhookNotFound
	}
	return nil
}

// ListWebhooks returns webhooks for an owner, optionally filtered.
func (s *Store) ListWebhooks(ctx context.Context, ownerID string, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM hookline_webhooks WHERE owner_id = $1`
	args := []any{ownerID}

	if opts.Active != nil {
		args = append(args, *opts.Active)
		query += fmt.Sprintf(` AND active = $%d`, len(args))
	}
	query += ` ORDER BY created_at`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hookline/postgres: list webhooks: %w", err)
	}
	defer rows.Close()

	var result []*webhook.Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("hookline/postgres: list webhooks: %w", err)
		}
		result = append(result, wh)
	}
	return result, rows.Err()
}

// FindActiveForType returns every active webhook subscribed to the event
// type. Served by the partial GIN index on events.
func (s *Store) FindActiveForType(ctx context.Context, eventType string) ([]*webhook.Webhook, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+webhookColumns+` FROM hookline_webhooks WHERE active AND $1 = ANY(events)`,
		eventType)
	if err != nil {
		return nil, fmt.Errorf("hookline/postgres: find active for type: %w", err)
	}
	defer rows.Close()

	var result []*webhook.Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("hookline/postgres: find active for type: %w", err)
		}
		result = append(result, wh)
	}
	return result, rows.Err()
}

// SetActive activates or deactivates a webhook.
func (s *Store) SetActive(ctx context.Context, whID id.ID, active bool) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE hookline_webhooks SET active = $2, updated_at = NOW() WHERE id = $1`,
		whID.String(), active)
	if err != nil {
		return fmt.Errorf("hookline/postgres: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return hookline.ErrWebhookNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// CreateDeliveriesIfAbsent creates one pending delivery per webhook ID,
// skipping (event, webhook) pairs that already exist. The table's unique
// constraint arbitrates concurrent fan-outs of the same event.
func (s *Store) CreateDeliveriesIfAbsent(ctx context.Context, eventID id.ID, webhookIDs []id.ID, maxRetries int) ([]*delivery.Delivery, error) {
	created := make([]*delivery.Delivery, 0, len(webhookIDs))

	for _, whID := range webhookIDs {
		dlvID := id.NewDeliveryID()
		row := s.pool.QueryRow(ctx, `
INSERT INTO hookline_deliveries (id, event_id, webhook_id, status, max_retries)
VALUES ($1, $2, $3, 'pending', $4)
ON CONFLICT (event_id, webhook_id) DO NOTHING
RETURNING `+deliveryColumns,
			dlvID.String(), eventID.String(), whID.String(), maxRetries)

		d, err := scanDelivery(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue // pair already scheduled
			}
			return nil, fmt.Errorf("hookline/postgres: create delivery: %w", err)
		}
		created = append(created, d)
	}

	return created, nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, dlvID id.ID) (*delivery.Delivery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM hookline_deliveries WHERE id = $1`, dlvID.String())
	d, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, hookline.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("hookline/postgres: get delivery: %w", err)
	}
	return d, nil
}

// ConditionalUpdateDelivery writes the new state iff the stored row still
// has the expected status and retry count.
func (s *Store) ConditionalUpdateDelivery(ctx context.Context, d *delivery.Delivery, expectedStatus delivery.Status, expectedRetryCount int) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE hookline_deliveries
SET status = $2, retry_count = $3, response_code = $4, response_body = $5,
    error_kind = $6, last_error = $7, last_latency_ms = $8,
    next_attempt_at = $9, delivered_at = $10, completed_at = $11,
    updated_at = NOW()
WHERE id = $1 AND status = $12 AND retry_count = $13`,
		d.ID.String(), string(d.Status), d.RetryCount, d.ResponseCode,
		d.ResponseBody, d.ErrorKind, d.LastError, d.LastLatencyMs,
		d.NextAttemptAt, d.DeliveredAt, d.CompletedAt,
		string(expectedStatus), expectedRetryCount)
	if err != nil {
		return fmt.Errorf("hookline/postgres: conditional update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing row.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM hookline_deliveries WHERE id = $1)`,
			d.ID.String()).Scan(&exists); err != nil {
			return fmt.Errorf("hookline/postgres: conditional update: %w", err)
		}
		if !exists {
			return hookline.ErrDeliveryNotFound
		}
		return delivery.ErrStaleDelivery
	}
	return nil
}

// FindDueRetries returns IDs of retrying deliveries due at or before now,
// oldest first.
func (s *Store) FindDueRetries(ctx context.Context, now time.Time, limit int) ([]id.ID, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id FROM hookline_deliveries
WHERE status = 'retrying' AND next_attempt_at <= $1
ORDER BY next_attempt_at
LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("hookline/postgres: find due retries: %w", err)
	}
	defer rows.Close()

	return scanDeliveryIDs(rows)
}

// FindStalePending returns IDs of pending deliveries created at or before
// olderThan.
func (s *Store) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]id.ID, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id FROM hookline_deliveries
WHERE status = 'pending' AND created_at <= $1
ORDER BY created_at
LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("hookline/postgres: find stale pending: %w", err)
	}
	defer rows.Close()

	return scanDeliveryIDs(rows)
}

func scanDeliveryIDs(rows pgx.Rows) ([]id.ID, error) {
	var result []id.ID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		dlvID, err := id.ParseDeliveryID(raw)
		if err != nil {
			return nil, fmt.Errorf("parse delivery ID %q: %w", raw, err)
		}
		result = append(result, dlvID)
	}
	return result, rows.Err()
}

// AcquireLease takes the per-delivery dispatch lease with a conditional
// UPDATE on leased_until. An expired lease counts as free.
func (s *Store) AcquireLease(ctx context.Context, dlvID id.ID, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE hookline_deliveries
SET leased_until = NOW() + $2
WHERE id = $1 AND (leased_until IS NULL OR leased_until <= NOW())`,
		dlvID.String(), ttl)
	if err != nil {
		return false, fmt.Errorf("hookline/postgres: acquire lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLease releases the per-delivery dispatch lease.
func (s *Store) ReleaseLease(ctx context.Context, dlvID id.ID) error {
	if _, err := s.pool.Exec(ctx, `
UPDATE hookline_deliveries SET leased_until = NULL WHERE id = $1`,
		dlvID.String()); err != nil {
		return fmt.Errorf("hookline/postgres: release lease: %w", err)
	}
	return nil
}

// ListByEvent returns all deliveries for a specific event.
func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deliveryColumns+` FROM hookline_deliveries WHERE event_id = $1`,
		evtID.String())
	if err != nil {
		return nil, fmt.Errorf("hookline/postgres: list by event: %w", err)
	}
	defer rows.Close()

	var result []*delivery.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("hookline/postgres: list by event: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// ListByWebhook returns delivery history for a webhook, newest first.
func (s *Store) ListByWebhook(ctx context.Context, whID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM hookline_deliveries WHERE webhook_id = $1`
	args := []any{whID.String()}

	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hookline/postgres: list by webhook: %w", err)
	}
	defer rows.Close()

	var result []*delivery.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("hookline/postgres: list by webhook: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// CountByStatus returns the number of deliveries in the given status.
func (s *Store) CountByStatus(ctx context.Context, status delivery.Status) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM hookline_deliveries WHERE status = $1`,
		string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("hookline/postgres: count by status: %w", err)
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// Push records a terminally failed delivery in the DLQ.
func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	payload, err := marshalJSON(entry.Payload)
	if err != nil {
		return fmt.Errorf("hookline/postgres: push dlq entry: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO hookline_dlq
    (id, delivery_id, event_id, webhook_id, event_type, owner_id, url, payload,
     error_kind, error_message, response_code, attempt_count, failed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID.String(), entry.DeliveryID.String(), entry.EventID.String(),
		entry.WebhookID.String(), entry.EventType, entry.OwnerID, entry.URL,
		payload, entry.ErrorKind, entry.Error, entry.ResponseCode,
		entry.AttemptCount, entry.FailedAt)
	if err != nil {
		return fmt.Errorf("hookline/postgres: push dlq entry: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries, newest failures first, optionally filtered.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM hookline_dlq WHERE 1=1`
	args := []any{}

	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		query += fmt.Sprintf(` AND owner_id = $%d`, len(args))
	}
	if opts.WebhookID != nil {
		args = append(args, opts.WebhookID.String())
		query += fmt.Sprintf(` AND webhook_id = $%d`, len(args))
	}
	if opts.From != nil {
		args = append(args, *opts.From)
		query += fmt.Sprintf(` AND failed_at >= $%d`, len(args))
	}
	if opts.To != nil {
		args = append(args, *opts.To)
		query += fmt.Sprintf(` AND failed_at <= $%d`, len(args))
	}
	query += ` ORDER BY failed_at DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hookline/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var result []*dlq.Entry
	for rows.Next() {
		e, err := scanDLQEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("hookline/postgres: list dlq: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM hookline_dlq WHERE id = $1`, dlqID.String())
	e, err := scanDLQEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, hookline.ErrDLQNotFound
		}
		return nil, fmt.Errorf("hookline/postgres: get dlq entry: %w", err)
	}
	return e, nil
}

// Replay resets the entry's delivery back to pending with a fresh retry
// budget. The existing delivery row is reused; both writes share one
// transaction.
func (s *Store) Replay(ctx context.Context, dlqID id.ID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("hookline/postgres: replay: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var deliveryID string
	err = tx.QueryRow(ctx, `
UPDATE hookline_dlq SET replayed_at = NOW(), updated_at = NOW()
WHERE id = $1 AND replayed_at IS NULL
RETURNING delivery_id`, dlqID.String()).Scan(&deliveryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return hookline.ErrDLQNotFound
		}
		return fmt.Errorf("hookline/postgres: replay: %w", err)
	}

	if _, err := tx.Exec(ctx, resetDeliverySQL, deliveryID); err != nil {
		return fmt.Errorf("hookline/postgres: replay reset: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("hookline/postgres: replay: %w", err)
	}
	return nil
}

// resetDeliverySQL rewinds a failed delivery to pending.
const resetDeliverySQL = `
UPDATE hookline_deliveries
SET status = 'pending', retry_count = 0, response_code = 0, response_body = '',
    error_kind = '', last_error = '', next_attempt_at = NULL,
    delivered_at = NULL, completed_at = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'failed'`

// ReplayBulk replays all unreplayed DLQ entries in a time window.
func (s *Store) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("hookline/postgres: replay bulk: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
UPDATE hookline_dlq SET replayed_at = NOW(), updated_at = NOW()
WHERE failed_at >= $1 AND failed_at <= $2 AND replayed_at IS NULL
RETURNING delivery_id`, from, to)
	if err != nil {
		return 0, fmt.Errorf("hookline/postgres: replay bulk: %w", err)
	}

	var deliveryIDs []string
	for rows.Next() {
		var dlvID string
		if err := rows.Scan(&dlvID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("hookline/postgres: replay bulk: %w", err)
		}
		deliveryIDs = append(deliveryIDs, dlvID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("hookline/postgres: replay bulk: %w", err)
	}

	var count int64
	for _, dlvID := range deliveryIDs {
		tag, err := tx.Exec(ctx, resetDeliverySQL, dlvID)
		if err != nil {
			return 0, fmt.Errorf("hookline/postgres: replay bulk reset: %w", err)
		}
		count += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("hookline/postgres: replay bulk: %w", err)
	}
	return count, nil
}

// Purge deletes DLQ entries that failed before the threshold.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM hookline_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("hookline/postgres: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of DLQ entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM hookline_dlq`).Scan(&count); err != nil {
		return 0, fmt.Errorf("hookline/postgres: count dlq: %w", err)
	}
	return count, nil
}
