package webhook

import (
	"slices"

	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
)

// Webhook represents a subscriber-registered delivery target.
type Webhook struct {
	entity.Entity

	// ID is the unique TypeID for this webhook.
	ID id.ID `json:"id"`

	// OwnerID identifies the user that registered this webhook.
	OwnerID string `json:"owner_id"`

	// URL is the delivery URL.
	URL string `json:"url"`

	// Secret is the HMAC signing secret for this webhook. Never serialized.
	Secret string `json:"-"`

	// Events is the set of event type names this webhook subscribes to.
	// Non-empty whenever Active is true.
	Events []string `json:"events"`

	// Active indicates whether the webhook receives deliveries.
	Active bool `json:"active"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SubscribedTo reports whether the webhook is active and subscribed to
// the given event type. Subscription is exact set membership on Events.
func (w *Webhook) SubscribedTo(eventType string) bool {
	return w.Active && slices.Contains(w.Events, eventType)
}

// ListOpts configures filtering and pagination for webhook listing.
type ListOpts struct {
	Offset int
	Limit  int
	Active *bool
}
