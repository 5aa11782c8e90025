package delivery

import (
	"context"
	"time"

	"github.com/hookline/hookline/id"
)

// Store defines the persistence contract for deliveries.
//
// Implementations must enforce a uniqueness constraint on
// (event_id, webhook_id) and apply every mutation as a single atomic
// conditional write, so racing workers cannot both transition the same
// delivery.
type Store interface {
	// CreateDeliveriesIfAbsent creates one pending delivery per webhook ID
	// for the given event, skipping pairs that already exist. It returns
	// only the newly created deliveries; an existing pair is "already
	// scheduled", not an error.
	CreateDeliveriesIfAbsent(ctx context.Context, eventID id.ID, webhookIDs []id.ID, maxRetries int) ([]*Delivery, error)

	// GetDelivery returns a delivery by ID.
	GetDelivery(ctx context.Context, dlvID id.ID) (*Delivery, error)

	// ConditionalUpdateDelivery writes the delivery's new state iff the
	// stored row still has the expected status and retry count
	// (compare-and-set). Returns ErrStaleDelivery when the expectation
	// no longer holds.
	ConditionalUpdateDelivery(ctx context.Context, d *Delivery, expectedStatus Status, expectedRetryCount int) error

	// FindDueRetries returns IDs of retrying deliveries whose next attempt
	// is due at or before now, oldest first.
	FindDueRetries(ctx context.Context, now time.Time, limit int) ([]id.ID, error)

	// FindStalePending returns IDs of pending deliveries created at or
	// before olderThan. These are first attempts whose in-process
	// submission was lost (e.g. across a restart).
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]id.ID, error)

	// AcquireLease takes the exclusive per-delivery dispatch lease.
	// Returns false without error when another holder has it. The ttl
	// bounds the lease should the holder die without releasing.
	AcquireLease(ctx context.Context, dlvID id.ID, ttl time.Duration) (bool, error)

	// ReleaseLease releases the per-delivery dispatch lease.
	ReleaseLease(ctx context.Context, dlvID id.ID) error

	// ListByEvent returns all deliveries for a specific event.
	ListByEvent(ctx context.Context, evtID id.ID) ([]*Delivery, error)

	// ListByWebhook returns delivery history for a webhook.
	ListByWebhook(ctx context.Context, whID id.ID, opts ListOpts) ([]*Delivery, error)

	// CountByStatus returns the number of deliveries in the given status.
	CountByStatus(ctx context.Context, status Status) (int64, error)
}
