package event

import (
	"time"

	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
)

// Event represents a domain event submitted for webhook delivery.
// Events are immutable once ingested; the engine only ever reads them.
type Event struct {
	entity.Entity

	// ID is the unique TypeID for this event.
	ID id.ID `json:"id"`

	// Type is the dot-separated event type name (e.g. "order.created").
	Type string `json:"type"`

	// Payload is the opaque event document delivered to subscribers.
	Payload any `json:"payload"`

	// IdempotencyKey identifies the event across repeated ingestions.
	// Two ingest calls with the same key refer to the same event.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ListOpts configures filtering and pagination for event listing.
type ListOpts struct {
	Offset int
	Limit  int
	Type   string
	From   *time.Time
	To     *time.Time
}
