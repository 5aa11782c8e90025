package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
	"github.com/hookline/hookline/webhook"
)

// webhookModel is the JSON representation stored in Redis.
type webhookModel struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	URL       string            `json:"url"`
	Secret    string            `json:"secret"`
	Events    []string          `json:"events"`
	Active    bool              `json:"active"`
	Headers   map[string]string `json:"headers,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func toWebhookModel(wh *webhook.Webhook) *webhookModel {
	return &webhookModel{
		ID:        wh.ID.String(),
		OwnerID:   wh.OwnerID,
		URL:       wh.URL,
		Secret:    wh.Secret,
		Events:    wh.Events,
		Active:    wh.Active,
		Headers:   wh.Headers,
		Metadata:  wh.Metadata,
		CreatedAt: wh.CreatedAt,
		UpdatedAt: wh.UpdatedAt,
	}
}

func fromWebhookModel(m *webhookModel) (*webhook.Webhook, error) {
	whID, err := id.ParseWebhookID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.ID, err)
	}
	return &webhook.Webhook{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:       whID,
		OwnerID:  m.OwnerID,
		URL:      m.URL,
		Secret:   m.Secret,
		Events:   m.Events,
		Active:   m.Active,
		Headers:  m.Headers,
		Metadata: m.Metadata,
	}, nil
}

// writeWebhook stores the webhook JSON and rebuilds its subscription sets.
// oldEvents lists type sets the webhook may currently be a member of.
func (s *Store) writeWebhook(ctx context.Context, m *webhookModel, oldEvents []string) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("hookline/redis: marshal webhook: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, entityKey(prefixWebhook, m.ID), raw, 0)
	pipe.ZAdd(ctx, zWebhookOwner+m.OwnerID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})

	for _, t := range oldEvents {
		pipe.SRem(ctx, typeSetKey(t), m.ID)
	}
	if m.Active {
		for _, t := range m.Events {
			pipe.SAdd(ctx, typeSetKey(t), m.ID)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: write webhook: %w", err)
	}
	return nil
}

// CreateWebhook persists a new webhook.
func (s *Store) CreateWebhook(ctx context.Context, wh *webhook.Webhook) error {
	return s.writeWebhook(ctx, toWebhookModel(wh), nil)
}

// GetWebhook returns a webhook by ID.
func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error) {
	var m webhookModel
	if err := s.getEntity(ctx, entityKey(prefixWebhook, whID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, hookline.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("hookline/redis: get webhook: %w", err)
	}
	return fromWebhookModel(&m)
}

// UpdateWebhook modifies an existing webhook.
func (s *Store) UpdateWebhook(ctx context.Context, wh *webhook.Webhook) error {
	var existing webhookModel
	if err := s.getEntity(ctx, entityKey(prefixWebhook, wh.ID.String()), &existing); err != nil {
		if isRedisNil(err) {
			return hookline.ErrWebhookNotFound
		}
		return fmt.Errorf("hookline/redis: update webhook: %w", err)
	}

	m := toWebhookModel(wh)
	m.UpdatedAt = now()
	return s.writeWebhook(ctx, m, existing.Events)
}

// DeleteWebhook removes a webhook and its index entries.
func (s *Store) DeleteWebhook(ctx context.Context, whID id.ID) error {
	var m webhookModel
	if err := s.getEntity(ctx, entityKey(prefixWebhook, whID.String()), &m); err != nil {
		if isRedisNil(err) {
			return hookline.ErrWebhookNotFound
		}
		return fmt.Errorf("hookline/redis: delete webhook: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, entityKey(prefixWebhook, m.ID))
	pipe.ZRem(ctx, zWebhookOwner+m.OwnerID, m.ID)
	for _, t := range m.Events {
		pipe.SRem(ctx, typeSetKey(t), m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: delete webhook: %w", err)
	}
	return nil
}

// ListWebhooks returns webhooks for an owner, optionally filtered.
func (s *Store) ListWebhooks(ctx context.Context, ownerID string, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	ids, err := s.rdb.ZRange(ctx, zWebhookOwner+ownerID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: list webhooks: %w", err)
	}

	result := make([]*webhook.Webhook, 0, len(ids))
	for _, whID := range ids {
		var m webhookModel
		if err := s.getEntity(ctx, entityKey(prefixWebhook, whID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.Active != nil && m.Active != *opts.Active {
			continue
		}
		wh, err := fromWebhookModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, wh)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// FindActiveForType returns every active webhook subscribed to the event type.
func (s *Store) FindActiveForType(ctx context.Context, eventType string) ([]*webhook.Webhook, error) {
	ids, err := s.rdb.SMembers(ctx, typeSetKey(eventType)).Result()
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: find active for type: %w", err)
	}

	result := make([]*webhook.Webhook, 0, len(ids))
	for _, whID := range ids {
		var m webhookModel
		if err := s.getEntity(ctx, entityKey(prefixWebhook, whID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		// The set is best-effort; recheck against the stored row.
		if !m.Active {
			continue
		}
		wh, err := fromWebhookModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, wh)
	}
	return result, nil
}

// SetActive activates or deactivates a webhook.
func (s *Store) SetActive(ctx context.Context, whID id.ID, active bool) error {
	var m webhookModel
	if err := s.getEntity(ctx, entityKey(prefixWebhook, whID.String()), &m); err != nil {
		if isRedisNil(err) {
			return hookline.ErrWebhookNotFound
		}
		return fmt.Errorf("hookline/redis: set active: %w", err)
	}

	m.Active = active
	m.UpdatedAt = now()
	return s.writeWebhook(ctx, &m, m.Events)
}
