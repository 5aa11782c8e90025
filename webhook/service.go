package webhook

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
	"github.com/hookline/hookline/signature"
)

// Service provides webhook registration operations.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new webhook service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Create registers a new webhook. The webhook starts active, so a
// non-empty event set is required.
func (svc *Service) Create(ctx context.Context, in Input) (*Webhook, error) {
	if _, err := url.ParseRequestURI(in.URL); err != nil {
		return nil, &ValidationError{Field: "url", Message: "invalid URL"}
	}

	if in.OwnerID == "" {
		return nil, &ValidationError{Field: "owner_id", Message: "required"}
	}

	if len(in.Events) == 0 {
		return nil, &ValidationError{Field: "events", Message: "at least one event type required"}
	}

	secret := in.Secret
	if secret == "" {
		secret = signature.GenerateSecret()
	}

	wh := &Webhook{
		Entity:   entity.New(),
		ID:       id.NewWebhookID(),
		OwnerID:  in.OwnerID,
		URL:      in.URL,
		Secret:   secret,
		Events:   in.Events,
		Active:   true,
		Headers:  in.Headers,
		Metadata: in.Metadata,
	}

	if err := svc.store.CreateWebhook(ctx, wh); err != nil {
		return nil, err
	}

	return wh, nil
}

// Get returns a webhook by ID.
func (svc *Service) Get(ctx context.Context, whID id.ID) (*Webhook, error) {
	return svc.store.GetWebhook(ctx, whID)
}

// Update modifies an existing webhook.
func (svc *Service) Update(ctx context.Context, whID id.ID, in Input) (*Webhook, error) {
	wh, err := svc.store.GetWebhook(ctx, whID)
	if err != nil {
		return nil, err
	}

	if in.URL != "" {
		if _, err := url.ParseRequestURI(in.URL); err != nil {
			return nil, &ValidationError{Field: "url", Message: "invalid URL"}
		}
		wh.URL = in.URL
	}
	if len(in.Events) > 0 {
		wh.Events = in.Events
	}
	if in.Headers != nil {
		wh.Headers = in.Headers
	}
	if in.Metadata != nil {
		wh.Metadata = in.Metadata
	}

	if err := svc.store.UpdateWebhook(ctx, wh); err != nil {
		return nil, err
	}

	return wh, nil
}

// Delete removes a webhook.
func (svc *Service) Delete(ctx context.Context, whID id.ID) error {
	return svc.store.DeleteWebhook(ctx, whID)
}

// List returns webhooks for an owner.
func (svc *Service) List(ctx context.Context, ownerID string, opts ListOpts) ([]*Webhook, error) {
	return svc.store.ListWebhooks(ctx, ownerID, opts)
}

// SetActive activates or deactivates a webhook. Activating a webhook
// with an empty event set is rejected.
func (svc *Service) SetActive(ctx context.Context, whID id.ID, active bool) error {
	if active {
		wh, err := svc.store.GetWebhook(ctx, whID)
		if err != nil {
			return err
		}
		if len(wh.Events) == 0 {
			return &ValidationError{Field: "events", Message: "cannot activate webhook with no event types"}
		}
	}
	return svc.store.SetActive(ctx, whID, active)
}

// RotateSecret generates a new signing secret for a webhook.
func (svc *Service) RotateSecret(ctx context.Context, whID id.ID) (string, error) {
	wh, err := svc.store.GetWebhook(ctx, whID)
	if err != nil {
		return "", err
	}

	newSecret := signature.GenerateSecret()

	wh.Secret = newSecret
	if err := svc.store.UpdateWebhook(ctx, wh); err != nil {
		return "", err
	}

	return newSecret, nil
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "webhook validation: " + e.Field + ": " + e.Message
}
