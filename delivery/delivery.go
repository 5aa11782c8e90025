package delivery

import (
	"errors"
	"time"

	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
)

// Status represents the current state of a delivery.
type Status string

const (
	// StatusPending indicates the delivery is awaiting its first attempt.
	StatusPending Status = "pending"

	// StatusRetrying indicates the last attempt failed and another is scheduled.
	StatusRetrying Status = "retrying"

	// StatusSuccess indicates the receiver accepted the delivery. Terminal.
	StatusSuccess Status = "success"

	// StatusFailed indicates the retry budget was exhausted. Terminal.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ErrStaleDelivery is returned by ConditionalUpdateDelivery when the stored
// delivery no longer matches the expected status and retry count. The caller
// lost a race and must discard its result.
var ErrStaleDelivery = errors.New("hookline: stale delivery update rejected")

// Delivery is the unit of delivery work: one row per (event, webhook) pair,
// created at match time. Retries mutate this row; a pair is never fanned
// out twice.
type Delivery struct {
	entity.Entity

	// ID is the unique TypeID for this delivery.
	ID id.ID `json:"id"`

	// EventID references the event being delivered.
	EventID id.ID `json:"event_id"`

	// WebhookID references the target webhook.
	WebhookID id.ID `json:"webhook_id"`

	// Status is the current delivery status.
	Status Status `json:"status"`

	// RetryCount is the number of retries consumed so far. It never
	// exceeds MaxRetries.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the retry budget, fixed at creation.
	MaxRetries int `json:"max_retries"`

	// ResponseCode is the HTTP status from the most recent attempt.
	// Zero when no response was received.
	ResponseCode int `json:"response_code,omitempty"`

	// ResponseBody is the response body from the most recent attempt,
	// truncated to the configured cap.
	ResponseBody string `json:"response_body,omitempty"`

	// ErrorKind classifies the most recent failure: "http_<status>",
	// "network", or "payload". Empty after a successful attempt.
	ErrorKind string `json:"error_kind,omitempty"`

	// LastError is the error message from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	// LastLatencyMs is the latency in milliseconds of the most recent attempt.
	LastLatencyMs int `json:"last_latency_ms,omitempty"`

	// NextAttemptAt is when the next attempt is due. Set iff Status is retrying.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	// DeliveredAt is when the receiver accepted the delivery. Set iff
	// Status is success.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	// CompletedAt is when the delivery reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status *Status
}
