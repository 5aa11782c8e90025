// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	hookstore "github.com/hookline/hookline/store"
	"github.com/hookline/hookline/webhook"
)

// compile-time interface check.
var _ hookstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu sync.RWMutex

	eventTypes      map[string]*catalog.EventType // keyed by name
	eventTypesByID  map[string]*catalog.EventType // keyed by ID string
	webhooks        map[string]*webhook.Webhook   // keyed by ID string
	events          map[string]*event.Event       // keyed by ID string
	eventsByIdemKey map[string]*event.Event       // keyed by idempotency key
	deliveries      map[string]*delivery.Delivery // keyed by ID string
	pairIndex       map[string]string             // eventID+"/"+webhookID -> delivery ID
	leases          map[string]time.Time          // delivery ID -> lease expiry
	dlqEntries      map[string]*dlq.Entry         // keyed by ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		eventTypes:      make(map[string]*catalog.EventType),
		eventTypesByID:  make(map[string]*catalog.EventType),
		webhooks:        make(map[string]*webhook.Webhook),
		events:          make(map[string]*event.Event),
		eventsByIdemKey: make(map[string]*event.Event),
		deliveries:      make(map[string]*delivery.Delivery),
		pairIndex:       make(map[string]string),
		leases:          make(map[string]time.Time),
		dlqEntries:      make(map[string]*dlq.Entry),
	}
}

// pairKey indexes the (event, webhook) uniqueness constraint.
func pairKey(eventID, webhookID id.ID) string {
	return eventID.String() + "/" + webhookID.String()
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return hookline.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// catalog.Store
// ──────────────────────────────────────────────────

// copyEventType returns a defensive copy so callers never alias stored rows.
func copyEventType(et *catalog.EventType) *catalog.EventType {
	cp := *et
	return &cp
}

// RegisterType creates or updates an event type definition (upsert by name).
func (s *Store) RegisterType(_ context.Context, et *catalog.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.eventTypes[et.Definition.Name]; ok {
		existing.Definition = et.Definition
		existing.UpdatedAt = time.Now().UTC()
		existing.Metadata = et.Metadata
		et.ID = existing.ID
		return nil
	}

	stored := copyEventType(et)
	s.eventTypes[et.Definition.Name] = stored
	s.eventTypesByID[et.ID.String()] = stored
	return nil
}

// GetType returns an event type by name.
func (s *Store) GetType(_ context.Context, name string) (*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	et, ok := s.eventTypes[name]
	if !ok {
		return nil, hookline.ErrEventTypeNotFound
	}
	return copyEventType(et), nil
}

// GetTypeByID returns an event type by its TypeID.
func (s *Store) GetTypeByID(_ context.Context, etID id.ID) (*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	et, ok := s.eventTypesByID[etID.String()]
	if !ok {
		return nil, hookline.ErrEventTypeNotFound
	}
	return copyEventType(et), nil
}

// ListTypes returns all registered event types, optionally filtered.
func (s *Store) ListTypes(_ context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.EventType, 0, len(s.eventTypes))
	for _, et := range s.eventTypes {
		if !opts.IncludeDeprecated && et.IsDeprecated {
			continue
		}
		if opts.Group != "" && et.Definition.Group != opts.Group {
			continue
		}
		result = append(result, copyEventType(et))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Definition.Name < result[j].Definition.Name
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// DeleteType soft-deletes (deprecates) an event type.
func (s *Store) DeleteType(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	et, ok := s.eventTypes[name]
	if !ok {
		return hookline.ErrEventTypeNotFound
	}

	now := time.Now().UTC()
	et.IsDeprecated = true
	et.DeprecatedAt = &now
	et.UpdatedAt = now
	return nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event. Returns ErrDuplicateIdempotencyKey on conflict.
func (s *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.IdempotencyKey != "" {
		if _, ok := s.eventsByIdemKey[evt.IdempotencyKey]; ok {
			return hookline.ErrDuplicateIdempotencyKey
		}
		s.eventsByIdemKey[evt.IdempotencyKey] = evt
	}

	s.events[evt.ID.String()] = evt
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, hookline.ErrEventNotFound
	}
	return evt, nil
}

// GetEventByIdempotencyKey returns the event previously ingested under the key.
func (s *Store) GetEventByIdempotencyKey(_ context.Context, key string) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.eventsByIdemKey[key]
	if !ok {
		return nil, hookline.ErrEventNotFound
	}
	return evt, nil
}

// ListEvents returns events, optionally filtered.
func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0, len(s.events))
	for _, evt := range s.events {
		if !matchEventOpts(evt, opts) {
			continue
		}
		result = append(result, evt)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

// CreateWebhook persists a new webhook.
func (s *Store) CreateWebhook(_ context.Context, wh *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.webhooks[wh.ID.String()] = wh
	return nil
}

// GetWebhook returns a webhook by ID.
func (s *Store) GetWebhook(_ context.Context, whID id.ID) (*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wh, ok := s.webhooks[whID.String()]
	if !ok {
		return nil, hookline.ErrWebhookNotFound
	}
	return wh, nil
}

// UpdateWebhook modifies an existing webhook.
func (s *Store) UpdateWebhook(_ context.Context, wh *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.webhooks[wh.ID.String()]; !ok {
		return hookline.ErrWebhookNotFound
	}
	wh.UpdatedAt = time.Now().UTC()
	s.webhooks[wh.ID.String()] = wh
	return nil
}

// DeleteWebhook removes a webhook.
func (s *Store) DeleteWebhook(_ context.Context, whID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.webhooks[whID.String()]; !ok {
		return hookline.ErrWebhookNotFound
	}
	delete(s.webhooks, whID.String())
	return nil
}

// ListWebhooks returns webhooks for an owner, optionally filtered.
func (s *Store) ListWebhooks(_ context.Context, ownerID string, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*webhook.Webhook, 0, len(s.webhooks))
	for _, wh := range s.webhooks {
		if wh.OwnerID != ownerID {
			continue
		}
		if opts.Active != nil && wh.Active != *opts.Active {
			continue
		}
		result = append(result, wh)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// FindActiveForType returns every active webhook subscribed to the event type.
func (s *Store) FindActiveForType(_ context.Context, eventType string) ([]*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*webhook.Webhook
	for _, wh := range s.webhooks {
		if wh.SubscribedTo(eventType) {
			result = append(result, wh)
		}
	}
	return result, nil
}

// SetActive activates or deactivates a webhook.
func (s *Store) SetActive(_ context.Context, whID id.ID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wh, ok := s.webhooks[whID.String()]
	if !ok {
		return hookline.ErrWebhookNotFound
	}
	wh.Active = active
	wh.UpdatedAt = time.Now().UTC()
	return nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// copyDelivery returns a shallow copy of the delivery.
func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	return &cp
}

// CreateDeliveriesIfAbsent creates one pending delivery per webhook ID,
// skipping (event, webhook) pairs that already exist.
func (s *Store) CreateDeliveriesIfAbsent(_ context.Context, eventID id.ID, webhookIDs []id.ID, maxRetries int) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	created := make([]*delivery.Delivery, 0, len(webhookIDs))

	for _, whID := range webhookIDs {
		key := pairKey(eventID, whID)
		if _, ok := s.pairIndex[key]; ok {
			continue
		}

		d := &delivery.Delivery{
			Entity:     hookline.Entity{CreatedAt: now, UpdatedAt: now},
			ID:         id.NewDeliveryID(),
			EventID:    eventID,
			WebhookID:  whID,
			Status:     delivery.StatusPending,
			MaxRetries: maxRetries,
		}

		s.deliveries[d.ID.String()] = d
		s.pairIndex[key] = d.ID.String()
		created = append(created, copyDelivery(d))
	}

	return created, nil
}

// GetDelivery returns a copy of the delivery by ID.
func (s *Store) GetDelivery(_ context.Context, dlvID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[dlvID.String()]
	if !ok {
		return nil, hookline.ErrDeliveryNotFound
	}
	return copyDelivery(d), nil
}

// ConditionalUpdateDelivery writes the new state iff the stored row still
// has the expected status and retry count.
func (s *Store) ConditionalUpdateDelivery(_ context.Context, d *delivery.Delivery, expectedStatus delivery.Status, expectedRetryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.deliveries[d.ID.String()]
	if !ok {
		return hookline.ErrDeliveryNotFound
	}
	if stored.Status != expectedStatus || stored.RetryCount != expectedRetryCount {
		return delivery.ErrStaleDelivery
	}

	cp := copyDelivery(d)
	cp.UpdatedAt = time.Now().UTC()
	s.deliveries[d.ID.String()] = cp
	return nil
}

// FindDueRetries returns IDs of retrying deliveries due at or before now,
// oldest first.
func (s *Store) FindDueRetries(_ context.Context, now time.Time, limit int) ([]id.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*delivery.Delivery
	for _, d := range s.deliveries {
		if d.Status != delivery.StatusRetrying {
			continue
		}
		if d.NextAttemptAt == nil || d.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, d)
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(*due[j].NextAttemptAt)
	})

	if limit > 0 && limit < len(due) {
		due = due[:limit]
	}

	result := make([]id.ID, 0, len(due))
	for _, d := range due {
		result = append(result, d.ID)
	}
	return result, nil
}

// FindStalePending returns IDs of pending deliveries created at or before
// olderThan.
func (s *Store) FindStalePending(_ context.Context, olderThan time.Time, limit int) ([]id.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*delivery.Delivery
	for _, d := range s.deliveries {
		if d.Status != delivery.StatusPending {
			continue
		}
		if d.CreatedAt.After(olderThan) {
			continue
		}
		stale = append(stale, d)
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})

	if limit > 0 && limit < len(stale) {
		stale = stale[:limit]
	}

	result := make([]id.ID, 0, len(stale))
	for _, d := range stale {
		result = append(result, d.ID)
	}
	return result, nil
}

// AcquireLease takes the per-delivery dispatch lease. An expired lease
// counts as free.
func (s *Store) AcquireLease(_ context.Context, dlvID id.ID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if expiry, held := s.leases[dlvID.String()]; held && expiry.After(now) {
		return false, nil
	}
	s.leases[dlvID.String()] = now.Add(ttl)
	return true, nil
}

// ReleaseLease releases the per-delivery dispatch lease.
func (s *Store) ReleaseLease(_ context.Context, dlvID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.leases, dlvID.String())
	return nil
}

// ListByEvent returns all deliveries for a specific event.
func (s *Store) ListByEvent(_ context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*delivery.Delivery
	for _, d := range s.deliveries {
		if d.EventID.String() != evtID.String() {
			continue
		}
		result = append(result, copyDelivery(d))
	}
	return result, nil
}

// ListByWebhook returns delivery history for a webhook.
func (s *Store) ListByWebhook(_ context.Context, whID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*delivery.Delivery
	for _, d := range s.deliveries {
		if d.WebhookID.String() != whID.String() {
			continue
		}
		if opts.Status != nil && d.Status != *opts.Status {
			continue
		}
		result = append(result, copyDelivery(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// CountByStatus returns the number of deliveries in the given status.
func (s *Store) CountByStatus(_ context.Context, status delivery.Status) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, d := range s.deliveries {
		if d.Status == status {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// Push records a terminally failed delivery in the DLQ.
func (s *Store) Push(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dlqEntries[entry.ID.String()] = entry
	return nil
}

// ListDLQ returns DLQ entries, optionally filtered.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(s.dlqEntries))
	for _, e := range s.dlqEntries {
		if opts.OwnerID != "" && e.OwnerID != opts.OwnerID {
			continue
		}
		if opts.WebhookID != nil && e.WebhookID.String() != opts.WebhookID.String() {
			continue
		}
		if opts.From != nil && e.FailedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && e.FailedAt.After(*opts.To) {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FailedAt.After(result[j].FailedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(_ context.Context, dlqID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return nil, hookline.ErrDLQNotFound
	}
	return e, nil
}

// Replay resets the entry's delivery back to pending with a fresh retry
// budget. The existing row is reused so the (event, webhook) pair stays
// unique.
func (s *Store) Replay(_ context.Context, dlqID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return hookline.ErrDLQNotFound
	}

	if err := s.resetDeliveryLocked(e.DeliveryID); err != nil {
		return err
	}

	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// ReplayBulk replays all unreplayed DLQ entries in a time window.
func (s *Store) ReplayBulk(_ context.Context, from, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var count int64

	for _, e := range s.dlqEntries {
		if e.FailedAt.Before(from) || e.FailedAt.After(to) {
			continue
		}
		if e.ReplayedAt != nil {
			continue
		}
		if err := s.resetDeliveryLocked(e.DeliveryID); err != nil {
			continue
		}
		e.ReplayedAt = &now
		count++
	}
	return count, nil
}

// resetDeliveryLocked rewinds a failed delivery to pending. Caller holds mu.
func (s *Store) resetDeliveryLocked(dlvID id.ID) error {
	d, ok := s.deliveries[dlvID.String()]
	if !ok {
		return hookline.ErrDeliveryNotFound
	}

	d.Status = delivery.StatusPending
	d.RetryCount = 0
	d.ResponseCode = 0
	d.ResponseBody = ""
	d.ErrorKind = ""
	d.LastError = ""
	d.NextAttemptAt = nil
	d.DeliveredAt = nil
	d.CompletedAt = nil
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// Purge deletes DLQ entries that failed before the threshold.
func (s *Store) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, e := range s.dlqEntries {
		if e.FailedAt.Before(before) {
			delete(s.dlqEntries, k)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of DLQ entries.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.dlqEntries)), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func matchEventOpts(evt *event.Event, opts event.ListOpts) bool {
	if opts.Type != "" && evt.Type != opts.Type {
		return false
	}
	if opts.From != nil && evt.CreatedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && evt.CreatedAt.After(*opts.To) {
		return false
	}
	return true
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
