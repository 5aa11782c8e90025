package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
	"github.com/hookline/hookline/webhook"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb), mr
}

func ctx() context.Context { return context.Background() }

func TestPing(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
}

func TestEventRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	evt := &event.Event{
		Entity:         entity.New(),
		ID:             id.NewEventID(),
		Type:           "order.created",
		Payload:        map[string]any{"order_id": "ord_1", "amount": float64(42)},
		IdempotencyKey: "order-1",
	}
	if err := s.CreateEvent(ctx(), evt); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEvent(ctx(), evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != "order.created" {
		t.Fatalf("got type %q", got.Type)
	}

	// Duplicate idempotency key is rejected, original remains resolvable.
	dup := &event.Event{
		Entity:         entity.New(),
		ID:             id.NewEventID(),
		Type:           "order.created",
		IdempotencyKey: "order-1",
	}
	if err := s.CreateEvent(ctx(), dup); !errors.Is(err, hookline.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}
	byKey, err := s.GetEventByIdempotencyKey(ctx(), "order-1")
	if err != nil {
		t.Fatal(err)
	}
	if byKey.ID != evt.ID {
		t.Fatalf("expected original event, got %s", byKey.ID)
	}
}

func TestWebhookSubscriptionIndex(t *testing.T) {
	s, _ := newTestStore(t)

	wh := &webhook.Webhook{
		Entity:  entity.New(),
		ID:      id.NewWebhookID(),
		OwnerID: "user_1",
		URL:     "https://example.com/hooks",
		Secret:  "whsec_test",
		Events:  []string{"order.created"},
		Active:  true,
	}
	if err := s.CreateWebhook(ctx(), wh); err != nil {
		t.Fatal(err)
	}

	matched, err := s.FindActiveForType(ctx(), "order.created")
	if err != nil {
		t.Fatal(err)
	}
	if len(matched) != 1 || matched[0].ID != wh.ID {
		t.Fatalf("expected webhook match, got %v", matched)
	}

	// Deactivation removes it from the subscription index.
	if err := s.SetActive(ctx(), wh.ID, false); err != nil {
		t.Fatal(err)
	}
	matched, _ = s.FindActiveForType(ctx(), "order.created")
	if len(matched) != 0 {
		t.Fatalf("expected no match after deactivation, got %d", len(matched))
	}

	// Reactivation restores it.
	if err := s.SetActive(ctx(), wh.ID, true); err != nil {
		t.Fatal(err)
	}
	matched, _ = s.FindActiveForType(ctx(), "order.created")
	if len(matched) != 1 {
		t.Fatalf("expected match after reactivation, got %d", len(matched))
	}

	// Changing the event set moves it between type sets.
	wh.Events = []string{"invoice.created"}
	if err := s.UpdateWebhook(ctx(), wh); err != nil {
		t.Fatal(err)
	}
	matched, _ = s.FindActiveForType(ctx(), "order.created")
	if len(matched) != 0 {
		t.Fatal("expected old subscription removed")
	}
	matched, _ = s.FindActiveForType(ctx(), "invoice.created")
	if len(matched) != 1 {
		t.Fatal("expected new subscription added")
	}
}

func TestCreateDeliveriesIfAbsent(t *testing.T) {
	s, _ := newTestStore(t)

	evtID := id.NewEventID()
	wh1, wh2 := id.NewWebhookID(), id.NewWebhookID()

	created, err := s.CreateDeliveriesIfAbsent(ctx(), evtID, []id.ID{wh1, wh2}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(created))
	}

	// Idempotent re-fan-out creates nothing new.
	created, err = s.CreateDeliveriesIfAbsent(ctx(), evtID, []id.ID{wh1, wh2}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 0 {
		t.Fatalf("expected 0 new deliveries, got %d", len(created))
	}

	pending, _ := s.CountByStatus(ctx(), delivery.StatusPending)
	if pending != 2 {
		t.Fatalf("expected 2 pending, got %d", pending)
	}
}

func TestCreateDeliveriesReclaimsOrphanedPair(t *testing.T) {
	s, _ := newTestStore(t)

	evtID := id.NewEventID()
	whID := id.NewWebhookID()

	// A pair claim whose delivery row was never written (a writer died
	// mid-fan-out). It must not suppress the pair forever.
	orphanID := id.NewDeliveryID().String()
	if err := s.rdb.Set(ctx(), pairIndexKey(evtID.String(), whID.String()), orphanID, 0).Err(); err != nil {
		t.Fatal(err)
	}

	created, err := s.CreateDeliveriesIfAbsent(ctx(), evtID, []id.ID{whID}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 {
		t.Fatalf("expected orphaned pair to be reclaimed, got %d created", len(created))
	}

	got, err := s.GetDelivery(ctx(), created[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}

	// With a live row behind the claim, the pair now skips as usual.
	again, err := s.CreateDeliveriesIfAbsent(ctx(), evtID, []id.ID{whID}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("expected 0 new deliveries, got %d", len(again))
	}
}

func TestConditionalUpdateDelivery(t *testing.T) {
	s, _ := newTestStore(t)

	evtID := id.NewEventID()
	created, err := s.CreateDeliveriesIfAbsent(ctx(), evtID, []id.ID{id.NewWebhookID()}, 3)
	if err != nil {
		t.Fatal(err)
	}
	d := created[0]

	next := time.Now().UTC().Add(-time.Second) // already due
	d.Status = delivery.StatusRetrying
	d.RetryCount = 1
	d.ErrorKind = "http_500"
	d.NextAttemptAt = &next
	if err := s.ConditionalUpdateDelivery(ctx(), d, delivery.StatusPending, 0); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDelivery(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusRetrying || got.RetryCount != 1 {
		t.Fatalf("update not applied: %s/%d", got.Status, got.RetryCount)
	}

	// The due index now surfaces the retry; the pending index does not.
	due, err := s.FindDueRetries(ctx(), time.Now().UTC(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0] != d.ID {
		t.Fatalf("expected due retry, got %v", due)
	}
	stale, _ := s.FindStalePending(ctx(), time.Now().UTC().Add(time.Hour), 10)
	if len(stale) != 0 {
		t.Fatalf("expected no stale pending, got %v", stale)
	}

	// A stale expectation is rejected.
	err = s.ConditionalUpdateDelivery(ctx(), got, delivery.StatusPending, 0)
	if !errors.Is(err, delivery.ErrStaleDelivery) {
		t.Fatalf("expected ErrStaleDelivery, got %v", err)
	}

	// Status counts moved with the transition.
	pending, _ := s.CountByStatus(ctx(), delivery.StatusPending)
	retrying, _ := s.CountByStatus(ctx(), delivery.StatusRetrying)
	if pending != 0 || retrying != 1 {
		t.Fatalf("expected 0 pending / 1 retrying, got %d / %d", pending, retrying)
	}
}

func TestLease(t *testing.T) {
	s, mr := newTestStore(t)
	dlvID := id.NewDeliveryID()

	acquired, err := s.AcquireLease(ctx(), dlvID, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !acquired {
		t.Fatal("expected to acquire free lease")
	}
	if acquired, _ := s.AcquireLease(ctx(), dlvID, time.Minute); acquired {
		t.Fatal("expected held lease to be refused")
	}

	// TTL expiry frees the lease.
	mr.FastForward(2 * time.Minute)
	if acquired, _ := s.AcquireLease(ctx(), dlvID, time.Minute); !acquired {
		t.Fatal("expected expired lease to be reacquirable")
	}

	if err := s.ReleaseLease(ctx(), dlvID); err != nil {
		t.Fatal(err)
	}
	if acquired, _ := s.AcquireLease(ctx(), dlvID, time.Minute); !acquired {
		t.Fatal("expected released lease to be reacquirable")
	}
}

func TestDLQReplay(t *testing.T) {
	s, _ := newTestStore(t)

	evtID := id.NewEventID()
	whID := id.NewWebhookID()
	created, err := s.CreateDeliveriesIfAbsent(ctx(), evtID, []id.ID{whID}, 3)
	if err != nil {
		t.Fatal(err)
	}
	d := created[0]

	now := time.Now().UTC()
	d.Status = delivery.StatusFailed
	d.RetryCount = 3
	d.ErrorKind = "http_503"
	d.CompletedAt = &now
	if err := s.ConditionalUpdateDelivery(ctx(), d, delivery.StatusPending, 0); err != nil {
		t.Fatal(err)
	}

	entry := &dlq.Entry{
		Entity:       entity.New(),
		ID:           id.NewDLQID(),
		DeliveryID:   d.ID,
		EventID:      evtID,
		WebhookID:    whID,
		EventType:    "order.created",
		ErrorKind:    "http_503",
		AttemptCount: 4,
		FailedAt:     now,
	}
	if err := s.Push(ctx(), entry); err != nil {
		t.Fatal(err)
	}

	if err := s.Replay(ctx(), entry.ID); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDelivery(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusPending || got.RetryCount != 0 {
		t.Fatalf("expected pending/0 after replay, got %s/%d", got.Status, got.RetryCount)
	}

	// The replayed delivery is back in the stale-pending index for the sweep.
	stale, _ := s.FindStalePending(ctx(), time.Now().UTC().Add(time.Hour), 10)
	if len(stale) != 1 || stale[0] != d.ID {
		t.Fatalf("expected replayed delivery pending, got %v", stale)
	}

	replayed, _ := s.GetDLQ(ctx(), entry.ID)
	if replayed.ReplayedAt == nil {
		t.Fatal("expected ReplayedAt set")
	}

	// Bulk replay skips already-replayed entries.
	n, err := s.ReplayBulk(ctx(), now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected 0 bulk replays, got %d", n)
	}
}
