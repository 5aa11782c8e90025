package hookline

import (
	"errors"

	"github.com/hookline/hookline/delivery"
)

// Sentinel errors returned by Hookline operations.
var (
	// ErrNoStore is returned when a Hookline is created without a store.
	ErrNoStore = errors.New("hookline: store is required")

	// ErrEventNotFound is returned when an event cannot be found.
	ErrEventNotFound = errors.New("hookline: event not found")

	// ErrWebhookNotFound is returned when a webhook cannot be found.
	ErrWebhookNotFound = errors.New("hookline: webhook not found")

	// ErrDeliveryNotFound is returned when a delivery cannot be found.
	ErrDeliveryNotFound = errors.New("hookline: delivery not found")

	// ErrDuplicateIdempotencyKey is returned by stores when an event with
	// the same idempotency key already exists. Ingest treats it as a
	// re-ingest of the same event, not an error.
	ErrDuplicateIdempotencyKey = errors.New("hookline: duplicate idempotency key")

	// ErrEventTypeNotFound is returned when an event type is not registered
	// in the catalog.
	ErrEventTypeNotFound = errors.New("hookline: event type not found")

	// ErrEventTypeDeprecated is returned when ingesting an event with a
	// deprecated type.
	ErrEventTypeDeprecated = errors.New("hookline: event type is deprecated")

	// ErrPayloadValidationFailed is returned when an event payload fails
	// JSON Schema validation.
	ErrPayloadValidationFailed = errors.New("hookline: payload validation failed")

	// ErrDLQNotFound is returned when a DLQ entry cannot be found.
	ErrDLQNotFound = errors.New("hookline: dlq entry not found")

	// ErrStoreClosed is returned when a store operation is attempted after
	// the store is closed.
	ErrStoreClosed = errors.New("hookline: store is closed")
)

// ErrStaleDelivery is returned when a conditional delivery update loses a
// race with another worker. Defined in the delivery package; aliased here
// so callers can match it alongside the other sentinels.
var ErrStaleDelivery = delivery.ErrStaleDelivery
