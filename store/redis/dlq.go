package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
)

// dlqModel is the JSON representation stored in Redis.
type dlqModel struct {
	ID           string     `json:"id"`
	DeliveryID   string     `json:"delivery_id"`
	EventID      string     `json:"event_id"`
	WebhookID    string     `json:"webhook_id"`
	EventType    string     `json:"event_type"`
	OwnerID      string     `json:"owner_id"`
	URL          string     `json:"url"`
	Payload      any        `json:"payload"`
	ErrorKind    string     `json:"error_kind"`
	Error        string     `json:"error"`
	ResponseCode int        `json:"response_code,omitempty"`
	AttemptCount int        `json:"attempt_count"`
	ReplayedAt   *time.Time `json:"replayed_at,omitempty"`
	FailedAt     time.Time  `json:"failed_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toDLQModel(e *dlq.Entry) *dlqModel {
	return &dlqModel{
		ID:           e.ID.String(),
		DeliveryID:   e.DeliveryID.String(),
		EventID:      e.EventID.String(),
		WebhookID:    e.WebhookID.String(),
		EventType:    e.EventType,
		OwnerID:      e.OwnerID,
		URL:          e.URL,
		Payload:      e.Payload,
		ErrorKind:    e.ErrorKind,
		Error:        e.Error,
		ResponseCode: e.ResponseCode,
		AttemptCount: e.AttemptCount,
		ReplayedAt:   e.ReplayedAt,
		FailedAt:     e.FailedAt,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func fromDLQModel(m *dlqModel) (*dlq.Entry, error) {
	dlqID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse dlq ID %q: %w", m.ID, err)
	}
	dlvID, err := id.ParseDeliveryID(m.DeliveryID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.DeliveryID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	whID, err := id.ParseWebhookID(m.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.WebhookID, err)
	}
	return &dlq.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           dlqID,
		DeliveryID:   dlvID,
		EventID:      evtID,
		WebhookID:    whID,
		EventType:    m.EventType,
		OwnerID:      m.OwnerID,
		URL:          m.URL,
		Payload:      m.Payload,
		ErrorKind:    m.ErrorKind,
		Error:        m.Error,
		ResponseCode: m.ResponseCode,
		AttemptCount: m.AttemptCount,
		ReplayedAt:   m.ReplayedAt,
		FailedAt:     m.FailedAt,
	}, nil
}

// Push records a terminally failed delivery in the DLQ.
func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQModel(entry)
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("hookline/redis: marshal dlq entry: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, entityKey(prefixDLQ, m.ID), raw, 0)
	pipe.ZAdd(ctx, zDLQAll, goredis.Z{Score: scoreFromTime(m.FailedAt), Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: push dlq entry: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries, newest failures first, optionally filtered.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.rdb.ZRevRange(ctx, zDLQAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: list dlq: %w", err)
	}

	result := make([]*dlq.Entry, 0, len(ids))
	for _, entryID := range ids {
		var m dlqModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, entryID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.OwnerID != "" && m.OwnerID != opts.OwnerID {
			continue
		}
		if opts.WebhookID != nil && m.WebhookID != opts.WebhookID.String() {
			continue
		}
		if opts.From != nil && m.FailedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && m.FailedAt.After(*opts.To) {
			continue
		}
		e, err := fromDLQModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	var m dlqModel
	if err := s.getEntity(ctx, entityKey(prefixDLQ, dlqID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, hookline.ErrDLQNotFound
		}
		return nil, fmt.Errorf("hookline/redis: get dlq entry: %w", err)
	}
	return fromDLQModel(&m)
}

// Replay resets the entry's delivery back to pending with a fresh retry
// budget. The existing delivery row is reused.
func (s *Store) Replay(ctx context.Context, dlqID id.ID) error {
	entry, err := s.GetDLQ(ctx, dlqID)
	if err != nil {
		return err
	}
	if err := s.resetDelivery(ctx, entry.DeliveryID); err != nil {
		return err
	}
	return s.markReplayed(ctx, entry)
}

// ReplayBulk replays all unreplayed DLQ entries in a time window.
func (s *Store) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, zDLQAll, &goredis.ZRangeBy{
		Min: strconv.FormatFloat(scoreFromTime(from), 'f', -1, 64),
		Max: strconv.FormatFloat(scoreFromTime(to), 'f', -1, 64),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("hookline/redis: replay bulk range: %w", err)
	}

	var count int64
	for _, entryID := range ids {
		parsed, err := id.ParseDLQID(entryID)
		if err != nil {
			return count, fmt.Errorf("hookline/redis: parse indexed dlq ID: %w", err)
		}
		entry, err := s.GetDLQ(ctx, parsed)
		if err != nil {
			if errors.Is(err, hookline.ErrDLQNotFound) {
				continue
			}
			return count, err
		}
		if entry.ReplayedAt != nil {
			continue
		}
		if err := s.resetDelivery(ctx, entry.DeliveryID); err != nil {
			continue
		}
		if err := s.markReplayed(ctx, entry); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// resetDelivery rewinds a failed delivery to pending via the same
// compare-and-set path workers use, so a replay cannot clobber a row that
// moved underneath it.
func (s *Store) resetDelivery(ctx context.Context, dlvID id.ID) error {
	d, err := s.GetDelivery(ctx, dlvID)
	if err != nil {
		return err
	}
	if d.Status != delivery.StatusFailed {
		return delivery.ErrStaleDelivery
	}

	expectedRetry := d.RetryCount

	d.Status = delivery.StatusPending
	d.RetryCount = 0
	d.ResponseCode = 0
	d.ResponseBody = ""
	d.ErrorKind = ""
	d.LastError = ""
	d.NextAttemptAt = nil
	d.DeliveredAt = nil
	d.CompletedAt = nil

	return s.ConditionalUpdateDelivery(ctx, d, delivery.StatusFailed, expectedRetry)
}

func (s *Store) markReplayed(ctx context.Context, entry *dlq.Entry) error {
	ts := now()
	entry.ReplayedAt = &ts
	entry.UpdatedAt = ts
	if err := s.setEntity(ctx, entityKey(prefixDLQ, entry.ID.String()), toDLQModel(entry)); err != nil {
		return fmt.Errorf("hookline/redis: mark replayed: %w", err)
	}
	return nil
}

// Purge deletes DLQ entries that failed before the threshold.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	maxScore := strconv.FormatFloat(scoreFromTime(before), 'f', -1, 64)
	ids, err := s.rdb.ZRangeByScore(ctx, zDLQAll, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + maxScore,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("hookline/redis: purge range: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.rdb.Pipeline()
	for _, entryID := range ids {
		pipe.Del(ctx, entityKey(prefixDLQ, entryID))
		pipe.ZRem(ctx, zDLQAll, entryID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("hookline/redis: purge: %w", err)
	}
	return int64(len(ids)), nil
}

// CountDLQ returns the total number of DLQ entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zDLQAll).Result()
	if err != nil {
		return 0, fmt.Errorf("hookline/redis: count dlq: %w", err)
	}
	return count, nil
}
