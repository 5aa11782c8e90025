package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
)

// eventTypeModel is the JSON representation stored in Redis.
type eventTypeModel struct {
	ID           string             `json:"id"`
	Definition   catalog.Definition `json:"definition"`
	IsDeprecated bool               `json:"deprecated"`
	DeprecatedAt *time.Time         `json:"deprecated_at,omitempty"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func toEventTypeModel(et *catalog.EventType) *eventTypeModel {
	return &eventTypeModel{
		ID:           et.ID.String(),
		Definition:   et.Definition,
		IsDeprecated: et.IsDeprecated,
		DeprecatedAt: et.DeprecatedAt,
		Metadata:     et.Metadata,
		CreatedAt:    et.CreatedAt,
		UpdatedAt:    et.UpdatedAt,
	}
}

func fromEventTypeModel(m *eventTypeModel) (*catalog.EventType, error) {
	etID, err := id.ParseEventTypeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event type ID %q: %w", m.ID, err)
	}
	return &catalog.EventType{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           etID,
		Definition:   m.Definition,
		IsDeprecated: m.IsDeprecated,
		DeprecatedAt: m.DeprecatedAt,
		Metadata:     m.Metadata,
	}, nil
}

// RegisterType creates or updates an event type definition (upsert by name).
func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	key := entityKey(prefixEventType, et.Definition.Name)

	// Preserve the original ID on re-registration.
	var existing eventTypeModel
	err := s.getEntity(ctx, key, &existing)
	switch {
	case err == nil:
		parsed, parseErr := id.ParseEventTypeID(existing.ID)
		if parseErr != nil {
			return fmt.Errorf("hookline/redis: register type: %w", parseErr)
		}
		et.ID = parsed
		et.CreatedAt = existing.CreatedAt
		et.UpdatedAt = now()
	case !isRedisNil(err):
		return fmt.Errorf("hookline/redis: register type: %w", err)
	}

	m := toEventTypeModel(et)
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("hookline/redis: marshal event type: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, key, raw, 0)
	pipe.Set(ctx, uniqueEventTypeID+m.ID, et.Definition.Name, 0)
	pipe.ZAdd(ctx, zEventTypeAll, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: et.Definition.Name})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: register type indexes: %w", err)
	}
	return nil
}

// GetType returns an event type by name.
func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	var m eventTypeModel
	if err := s.getEntity(ctx, entityKey(prefixEventType, name), &m); err != nil {
		if isRedisNil(err) {
			return nil, hookline.ErrEventTypeNotFound
		}
		return nil, fmt.Errorf("hookline/redis: get type: %w", err)
	}
	return fromEventTypeModel(&m)
}

// GetTypeByID returns an event type by its TypeID.
func (s *Store) GetTypeByID(ctx context.Context, etID id.ID) (*catalog.EventType, error) {
	name, err := s.rdb.Get(ctx, uniqueEventTypeID+etID.String()).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, hookline.ErrEventTypeNotFound
		}
		return nil, fmt.Errorf("hookline/redis: get type by ID: %w", err)
	}
	return s.GetType(ctx, name)
}

// ListTypes returns all registered event types, optionally filtered.
func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	names, err := s.rdb.ZRange(ctx, zEventTypeAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: list types: %w", err)
	}

	result := make([]*catalog.EventType, 0, len(names))
	for _, name := range names {
		var m eventTypeModel
		if err := s.getEntity(ctx, entityKey(prefixEventType, name), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if !opts.IncludeDeprecated && m.IsDeprecated {
			continue
		}
		if opts.Group != "" && m.Definition.Group != opts.Group {
			continue
		}
		et, err := fromEventTypeModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, et)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Definition.Name < result[j].Definition.Name
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// DeleteType soft-deletes (deprecates) an event type.
func (s *Store) DeleteType(ctx context.Context, name string) error {
	key := entityKey(prefixEventType, name)

	var m eventTypeModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isRedisNil(err) {
			return hookline.ErrEventTypeNotFound
		}
		return fmt.Errorf("hookline/redis: delete type: %w", err)
	}

	ts := now()
	m.IsDeprecated = true
	m.DeprecatedAt = &ts
	m.UpdatedAt = ts

	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("hookline/redis: delete type: %w", err)
	}
	return nil
}
