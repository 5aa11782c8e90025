package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
	"github.com/hookline/hookline/webhook"
)

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// marshalJSON encodes a value for a JSONB column; nil stays NULL.
func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return raw, nil
}

// marshalMap encodes a map for a JSONB column defaulting to {}.
func marshalMap(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func unmarshalPayload(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal json column: %w", err)
	}
	return v, nil
}

func unmarshalMap(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal json column: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// ──────────────────────────────────────────────────
// Row scanners
// ──────────────────────────────────────────────────

const eventTypeColumns = `id, name, description, group_name, schema, schema_version, version, example, is_deprecated, deprecated_at, metadata, created_at, updated_at`

func scanEventType(row rowScanner) (*catalog.EventType, error) {
	var (
		rawID        string
		def          catalog.Definition
		schema       []byte
		example      []byte
		isDeprecated bool
		deprecatedAt *time.Time
		metadata     []byte
		createdAt    time.Time
		updatedAt    time.Time
	)
	if err := row.Scan(&rawID, &def.Name, &def.Description, &def.Group, &schema,
		&def.SchemaVersion, &def.Version, &example, &isDeprecated, &deprecatedAt,
		&metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	etID, err := id.ParseEventTypeID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse event type ID %q: %w", rawID, err)
	}
	def.Schema = schema
	def.Example = example

	md, err := unmarshalMap(metadata)
	if err != nil {
		return nil, err
	}

	return &catalog.EventType{
		Entity:       entity.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:           etID,
		Definition:   def,
		IsDeprecated: isDeprecated,
		DeprecatedAt: deprecatedAt,
		Metadata:     md,
	}, nil
}

const eventColumns = `id, type, payload, COALESCE(idempotency_key, ''), created_at, updated_at`

func scanEvent(row rowScanner) (*event.Event, error) {
	var (
		rawID     string
		typ       string
		payload   []byte
		idemKey   string
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&rawID, &typ, &payload, &idemKey, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	evtID, err := id.ParseEventID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", rawID, err)
	}
	p, err := unmarshalPayload(payload)
	if err != nil {
		return nil, err
	}

	return &event.Event{
		Entity:         entity.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:             evtID,
		Type:           typ,
		Payload:        p,
		IdempotencyKey: idemKey,
	}, nil
}

const webhookColumns = `id, owner_id, url, secret, events, active, headers, metadata, created_at, updated_at`

func scanWebhook(row rowScanner) (*webhook.Webhook, error) {
	var (
		rawID     string
		ownerID   string
		url       string
		secret    string
		events    []string
		active    bool
		headers   []byte
		metadata  []byte
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&rawID, &ownerID, &url, &secret, &events, &active,
		&headers, &metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	whID, err := id.ParseWebhookID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", rawID, err)
	}
	h, err := unmarshalMap(headers)
	if err != nil {
		return nil, err
	}
	md, err := unmarshalMap(metadata)
	if err != nil {
		return nil, err
	}

	return &webhook.Webhook{
		Entity:   entity.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:       whID,
		OwnerID:  ownerID,
		URL:      url,
		Secret:   secret,
		Events:   events,
		Active:   active,
		Headers:  h,
		Metadata: md,
	}, nil
}

const deliveryColumns = `id, event_id, webhook_id, status, retry_count, max_retries, response_code, response_body, error_kind, last_error, last_latency_ms, next_attempt_at, delivered_at, completed_at, created_at, updated_at`

func scanDelivery(row rowScanner) (*delivery.Delivery, error) {
	var (
		rawID         string
		rawEventID    string
		rawWebhookID  string
		status        string
		retryCount    int
		maxRetries    int
		responseCode  int
		responseBody  string
		errorKind     string
		lastError     string
		lastLatencyMs int
		nextAttemptAt *time.Time
		deliveredAt   *time.Time
		completedAt   *time.Time
		createdAt     time.Time
		updatedAt     time.Time
	)
	if err := row.Scan(&rawID, &rawEventID, &rawWebhookID, &status, &retryCount,
		&maxRetries, &responseCode, &responseBody, &errorKind, &lastError,
		&lastLatencyMs, &nextAttemptAt, &deliveredAt, &completedAt,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	dlvID, err := id.ParseDeliveryID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", rawID, err)
	}
	evtID, err := id.ParseEventID(rawEventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", rawEventID, err)
	}
	whID, err := id.ParseWebhookID(rawWebhookID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", rawWebhookID, err)
	}

	return &delivery.Delivery{
		Entity:        entity.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:            dlvID,
		EventID:       evtID,
		WebhookID:     whID,
		Status:        delivery.Status(status),
		RetryCount:    retryCount,
		MaxRetries:    maxRetries,
		ResponseCode:  responseCode,
		ResponseBody:  responseBody,
		ErrorKind:     errorKind,
		LastError:     lastError,
		LastLatencyMs: lastLatencyMs,
		NextAttemptAt: nextAttemptAt,
		DeliveredAt:   deliveredAt,
		CompletedAt:   completedAt,
	}, nil
}

const dlqColumns = `id, delivery_id, event_id, webhook_id, event_type, owner_id, url, payload, error_kind, error_message, response_code, attempt_count, replayed_at, failed_at, created_at, updated_at`

func scanDLQEntry(row rowScanner) (*dlq.Entry, error) {
	var (
		rawID        string
		rawDlvID     string
		rawEventID   string
		rawWebhookID string
		eventType    string
		ownerID      string
		url          string
		payload      []byte
		errorKind    string
		errorMsg     string
		responseCode int
		attemptCount int
		replayedAt   *time.Time
		failedAt     time.Time
		createdAt    time.Time
		updatedAt    time.Time
	)
	if err := row.Scan(&rawID, &rawDlvID, &rawEventID, &rawWebhookID, &eventType,
		&ownerID, &url, &payload, &errorKind, &errorMsg, &responseCode,
		&attemptCount, &replayedAt, &failedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	dlqID, err := id.ParseDLQID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse dlq ID %q: %w", rawID, err)
	}
	dlvID, err := id.ParseDeliveryID(rawDlvID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", rawDlvID, err)
	}
	evtID, err := id.ParseEventID(rawEventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", rawEventID, err)
	}
	whID, err := id.ParseWebhookID(rawWebhookID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", rawWebhookID, err)
	}
	p, err := unmarshalPayload(payload)
	if err != nil {
		return nil, err
	}

	return &dlq.Entry{
		Entity:       entity.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:           dlqID,
		DeliveryID:   dlvID,
		EventID:      evtID,
		WebhookID:    whID,
		EventType:    eventType,
		OwnerID:      ownerID,
		URL:          url,
		Payload:      p,
		ErrorKind:    errorKind,
		Error:        errorMsg,
		ResponseCode: responseCode,
		AttemptCount: attemptCount,
		ReplayedAt:   replayedAt,
		FailedAt:     failedAt,
	}, nil
}
