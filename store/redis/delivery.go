package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
)

// deliveryModel is the JSON representation stored in Redis. Status and
// retry_count are always present: the compare-and-set script reads them.
type deliveryModel struct {
	ID            string     `json:"id"`
	EventID       string     `json:"event_id"`
	WebhookID     string     `json:"webhook_id"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	ResponseCode  int        `json:"response_code,omitempty"`
	ResponseBody  string     `json:"response_body,omitempty"`
	ErrorKind     string     `json:"error_kind,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastLatencyMs int        `json:"last_latency_ms,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:            d.ID.String(),
		EventID:       d.EventID.String(),
		WebhookID:     d.WebhookID.String(),
		Status:        string(d.Status),
		RetryCount:    d.RetryCount,
		MaxRetries:    d.MaxRetries,
		ResponseCode:  d.ResponseCode,
		ResponseBody:  d.ResponseBody,
		ErrorKind:     d.ErrorKind,
		LastError:     d.LastError,
		LastLatencyMs: d.LastLatencyMs,
		NextAttemptAt: d.NextAttemptAt,
		DeliveredAt:   d.DeliveredAt,
		CompletedAt:   d.CompletedAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	dlvID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	whID, err := id.ParseWebhookID(m.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.WebhookID, err)
	}
	return &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            dlvID,
		EventID:       evtID,
		WebhookID:     whID,
		Status:        delivery.Status(m.Status),
		RetryCount:    m.RetryCount,
		MaxRetries:    m.MaxRetries,
		ResponseCode:  m.ResponseCode,
		ResponseBody:  m.ResponseBody,
		ErrorKind:     m.ErrorKind,
		LastError:     m.LastError,
		LastLatencyMs: m.LastLatencyMs,
		NextAttemptAt: m.NextAttemptAt,
		DeliveredAt:   m.DeliveredAt,
		CompletedAt:   m.CompletedAt,
	}, nil
}

// casScript applies a delivery state transition iff the stored row still
// carries the expected status and retry count, and keeps the status sets
// and schedule indexes consistent with the new state.
//
// KEYS[1] = delivery key
// KEYS[2] = due retries zset
// KEYS[3] = old status set
// KEYS[4] = new status set
// KEYS[5] = pending zset
// ARGV[1] = expected status
// ARGV[2] = expected retry count
// ARGV[3] = new delivery JSON
// ARGV[4] = delivery ID
// ARGV[5] = next attempt score, or "" to clear
// ARGV[6] = pending score, or "" to clear
var casScript = goredis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return -1 end
local cur = cjson.decode(raw)
if cur.status ~= ARGV[1] or tonumber(cur.retry_count) ~= tonumber(ARGV[2]) then
    return 0
end
redis.call('SET', KEYS[1], ARGV[3])
if KEYS[3] ~= KEYS[4] then
    redis.call('SMOVE', KEYS[3], KEYS[4], ARGV[4])
end
if ARGV[5] ~= '' then
    redis.call('ZADD', KEYS[2], tonumber(ARGV[5]), ARGV[4])
else
    redis.call('ZREM', KEYS[2], ARGV[4])
end
if ARGV[6] ~= '' then
    redis.call('ZADD', KEYS[5], tonumber(ARGV[6]), ARGV[4])
else
    redis.call('ZREM', KEYS[5], ARGV[4])
end
return 1
`)

// fanoutScript claims the (event, webhook) pair and writes the delivery
// row plus its indexes in one atomic step. A pair counts as scheduled only
// when its claim points at a live row, so a claim orphaned by a crash
// between writes can never suppress the pair permanently: the script
// reclaims it and recreates the row.
//
// KEYS[1] = pair index key
// KEYS[2] = new delivery key
// KEYS[3] = pending status set
// KEYS[4] = pending zset
// KEYS[5] = per-event zset
// KEYS[6] = per-webhook zset
// ARGV[1] = new delivery ID
// ARGV[2] = delivery JSON
// ARGV[3] = created-at score
// ARGV[4] = delivery key prefix
var fanoutScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and redis.call('EXISTS', ARGV[4] .. cur) == 1 then
    return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[4], tonumber(ARGV[3]), ARGV[1])
redis.call('ZADD', KEYS[5], tonumber(ARGV[3]), ARGV[1])
redis.call('ZADD', KEYS[6], tonumber(ARGV[3]), ARGV[1])
return 1
`)

// CreateDeliveriesIfAbsent creates one pending delivery per webhook ID,
// skipping (event, webhook) pairs that already exist. Claim and row are
// written in a single script so no pair can end up claimed without a row.
func (s *Store) CreateDeliveriesIfAbsent(ctx context.Context, eventID id.ID, webhookIDs []id.ID, maxRetries int) ([]*delivery.Delivery, error) {
	ts := now()
	created := make([]*delivery.Delivery, 0, len(webhookIDs))

	for _, whID := range webhookIDs {
		d := &delivery.Delivery{
			Entity:     entity.Entity{CreatedAt: ts, UpdatedAt: ts},
			ID:         id.NewDeliveryID(),
			EventID:    eventID,
			WebhookID:  whID,
			Status:     delivery.StatusPending,
			MaxRetries: maxRetries,
		}
		m := toDeliveryModel(d)

		raw, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("hookline/redis: marshal delivery: %w", err)
		}

		keys := []string{
			pairIndexKey(m.EventID, m.WebhookID),
			entityKey(prefixDelivery, m.ID),
			statusSetKey(m.Status),
			zDeliveryPend,
			zDeliveryEvt + m.EventID,
			zDeliveryWH + m.WebhookID,
		}
		score := strconv.FormatFloat(scoreFromTime(ts), 'f', -1, 64)

		res, err := fanoutScript.Run(ctx, s.rdb, keys, m.ID, string(raw), score, prefixDelivery).Int()
		if err != nil {
			return nil, fmt.Errorf("hookline/redis: create delivery: %w", err)
		}
		if res == 0 {
			continue // pair already scheduled
		}

		created = append(created, d)
	}

	return created, nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, dlvID id.ID) (*delivery.Delivery, error) {
	var m deliveryModel
	if err := s.getEntity(ctx, entityKey(prefixDelivery, dlvID.String()), &m); err != nil {
		if isRedisNil(err) {
			return nil, hookline.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("hookline/redis: get delivery: %w", err)
	}
	return fromDeliveryModel(&m)
}

// ConditionalUpdateDelivery writes the new state iff the stored row still
// has the expected status and retry count.
func (s *Store) ConditionalUpdateDelivery(ctx context.Context, d *delivery.Delivery, expectedStatus delivery.Status, expectedRetryCount int) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = now()

	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("hookline/redis: marshal delivery: %w", err)
	}

	nextScore := ""
	if d.Status == delivery.StatusRetrying && d.NextAttemptAt != nil {
		nextScore = strconv.FormatFloat(scoreFromTime(*d.NextAttemptAt), 'f', -1, 64)
	}
	pendScore := ""
	if d.Status == delivery.StatusPending {
		pendScore = strconv.FormatFloat(scoreFromTime(m.UpdatedAt), 'f', -1, 64)
	}

	keys := []string{
		entityKey(prefixDelivery, m.ID),
		zDeliveryDue,
		statusSetKey(string(expectedStatus)),
		statusSetKey(m.Status),
		zDeliveryPend,
	}
	res, err := casScript.Run(ctx, s.rdb, keys,
		string(expectedStatus), expectedRetryCount, string(raw), m.ID, nextScore, pendScore).Int()
	if err != nil {
		return fmt.Errorf("hookline/redis: conditional update: %w", err)
	}

	switch res {
	case -1:
		return hookline.ErrDeliveryNotFound
	case 0:
		return delivery.ErrStaleDelivery
	}
	return nil
}

// FindDueRetries returns IDs of retrying deliveries due at or before now,
// oldest first.
func (s *Store) FindDueRetries(ctx context.Context, dueBy time.Time, limit int) ([]id.ID, error) {
	return s.rangeIDsByScore(ctx, zDeliveryDue, dueBy, limit)
}

// FindStalePending returns IDs of pending deliveries created at or before
// olderThan.
func (s *Store) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]id.ID, error) {
	return s.rangeIDsByScore(ctx, zDeliveryPend, olderThan, limit)
}

func (s *Store) rangeIDsByScore(ctx context.Context, key string, until time.Time, limit int) ([]id.ID, error) {
	members, err := s.rdb.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(scoreFromTime(until), 'f', -1, 64),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: range %s: %w", key, err)
	}

	result := make([]id.ID, 0, len(members))
	for _, member := range members {
		dlvID, err := id.ParseDeliveryID(member)
		if err != nil {
			return nil, fmt.Errorf("hookline/redis: parse indexed delivery ID: %w", err)
		}
		result = append(result, dlvID)
	}
	return result, nil
}

// AcquireLease takes the per-delivery dispatch lease via SET NX PX.
func (s *Store) AcquireLease(ctx context.Context, dlvID id.ID, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, prefixLease+dlvID.String(), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("hookline/redis: acquire lease: %w", err)
	}
	return ok, nil
}

// ReleaseLease releases the per-delivery dispatch lease.
func (s *Store) ReleaseLease(ctx context.Context, dlvID id.ID) error {
	if err := s.rdb.Del(ctx, prefixLease+dlvID.String()).Err(); err != nil {
		return fmt.Errorf("hookline/redis: release lease: %w", err)
	}
	return nil
}

// ListByEvent returns all deliveries for a specific event.
func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRange(ctx, zDeliveryEvt+evtID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: list by event: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for _, dlvID := range ids {
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, dlvID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

// ListByWebhook returns delivery history for a webhook, newest first.
func (s *Store) ListByWebhook(ctx context.Context, whID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRevRange(ctx, zDeliveryWH+whID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: list by webhook: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for _, dlvID := range ids {
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, dlvID), &m); err != nil {
			if isRedisNil(err) {
				continue
			}
			return nil, err
		}
		if opts.Status != nil && delivery.Status(m.Status) != *opts.Status {
			continue
		}
		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountByStatus returns the number of deliveries in the given status.
func (s *Store) CountByStatus(ctx context.Context, status delivery.Status) (int64, error) {
	count, err := s.rdb.SCard(ctx, statusSetKey(string(status))).Result()
	if err != nil {
		return 0, fmt.Errorf("hookline/redis: count by status: %w", err)
	}
	return count, nil
}
