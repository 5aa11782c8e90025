package dlq

import (
	"time"

	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
)

// Entry represents a terminally failed delivery in the dead letter queue.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this DLQ entry.
	ID id.ID `json:"id"`

	// DeliveryID references the failed delivery.
	DeliveryID id.ID `json:"delivery_id"`

	// EventID references the original event.
	EventID id.ID `json:"event_id"`

	// WebhookID references the target webhook.
	WebhookID id.ID `json:"webhook_id"`

	// EventType is the event type name for filtering.
	EventType string `json:"event_type"`

	// OwnerID identifies the user that owns the webhook.
	OwnerID string `json:"owner_id"`

	// URL is the webhook URL at the time of failure.
	URL string `json:"url"`

	// Payload is the event payload that failed to deliver.
	Payload any `json:"payload"`

	// ErrorKind classifies the final failure.
	ErrorKind string `json:"error_kind"`

	// Error is the error message from the final attempt.
	Error string `json:"error"`

	// ResponseCode is the HTTP status code from the final attempt.
	ResponseCode int `json:"response_code,omitempty"`

	// AttemptCount is the total number of attempts made (initial + retries).
	AttemptCount int `json:"attempt_count"`

	// ReplayedAt is set when the entry has been replayed.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`

	// FailedAt is when the delivery permanently failed.
	FailedAt time.Time `json:"failed_at"`
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Offset    int
	Limit     int
	OwnerID   string
	WebhookID *id.ID
	From      *time.Time
	To        *time.Time
}
