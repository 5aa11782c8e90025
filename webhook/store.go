package webhook

import (
	"context"

	"github.com/hookline/hookline/id"
)

// Store defines the persistence contract for webhooks.
type Store interface {
	// CreateWebhook persists a new webhook.
	CreateWebhook(ctx context.Context, wh *Webhook) error

	// GetWebhook returns a webhook by ID.
	GetWebhook(ctx context.Context, whID id.ID) (*Webhook, error)

	// UpdateWebhook modifies an existing webhook.
	UpdateWebhook(ctx context.Context, wh *Webhook) error

	// DeleteWebhook removes a webhook.
	DeleteWebhook(ctx context.Context, whID id.ID) error

	// ListWebhooks returns webhooks for an owner, optionally filtered.
	ListWebhooks(ctx context.Context, ownerID string, opts ListOpts) ([]*Webhook, error)

	// FindActiveForType returns every active webhook whose event set
	// contains the given type. This is the match hot path — called on
	// every ingest. Read-only; order is unspecified.
	FindActiveForType(ctx context.Context, eventType string) ([]*Webhook, error)

	// SetActive activates or deactivates a webhook without deleting it.
	SetActive(ctx context.Context, whID id.ID, active bool) error
}
