package delivery_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/store/memory"
	"github.com/hookline/hookline/webhook"
)

func newTestCoordinator(s *memory.Store) *delivery.Coordinator {
	cfg := delivery.CoordinatorConfig{
		Concurrency:    2,
		PollInterval:   20 * time.Millisecond,
		BatchSize:      10,
		RequestTimeout: 5 * time.Second,
		BackoffBase:    time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
	return delivery.NewCoordinator(s, dlq.NewService(s, nil), cfg, nil)
}

// seedDelivery creates a webhook, an event, and one pending delivery
// targeting the given URL.
func seedDelivery(t *testing.T, s *memory.Store, url string) (*delivery.Delivery, *webhook.Webhook, *event.Event) {
	t.Helper()
	ctx := context.Background()

	wh := newTestWebhook(url)
	if err := s.CreateWebhook(ctx, wh); err != nil {
		t.Fatal(err)
	}

	evt := newTestEvent()
	if err := s.CreateEvent(ctx, evt); err != nil {
		t.Fatal(err)
	}

	created, err := s.CreateDeliveriesIfAbsent(ctx, evt.ID, []id.ID{wh.ID}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(created))
	}
	return created[0], wh, evt
}

func TestAttemptSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := memory.New()
	c := newTestCoordinator(s)
	d, _, _ := seedDelivery(t, s, srv.URL)

	if err := c.Attempt(ctx(), d.ID); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDelivery(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusSuccess {
		t.Fatalf("expected success, got %s", got.Status)
	}
	if got.DeliveredAt == nil || got.CompletedAt == nil {
		t.Error("expected DeliveredAt and CompletedAt to be set")
	}
	if got.ResponseCode != http.StatusOK {
		t.Errorf("ResponseCode = %d, want 200", got.ResponseCode)
	}
	if got.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", got.RetryCount)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 request, got %d", hits.Load())
	}
}

func TestAttemptFailureSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := memory.New()
	c := newTestCoordinator(s)
	d, _, _ := seedDelivery(t, s, srv.URL)

	if err := c.Attempt(ctx(), d.ID); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDelivery(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusRetrying {
		t.Fatalf("expected retrying, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
	if got.ErrorKind != "http_500" {
		t.Errorf("ErrorKind = %q, want http_500", got.ErrorKind)
	}
	if got.NextAttemptAt == nil {
		t.Fatal("expected NextAttemptAt to be scheduled")
	}
	if got.CompletedAt != nil {
		t.Error("retrying delivery must not have CompletedAt")
	}
}

func TestAttemptBudgetExhaustion(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := memory.New()
	c := newTestCoordinator(s)
	d, _, _ := seedDelivery(t, s, srv.URL)

	// MaxRetries 3 allows exactly 4 attempts: the first plus 3 retries.
	for i := range 4 {
		if err := c.Attempt(ctx(), d.ID); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	got, err := s.GetDelivery(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", got.RetryCount)
	}
	if got.NextAttemptAt != nil {
		t.Error("failed delivery must not have NextAttemptAt")
	}
	if hits.Load() != 4 {
		t.Errorf("expected exactly 4 requests, got %d", hits.Load())
	}

	// A further attempt on the terminal delivery is a no-op.
	if err := c.Attempt(ctx(), d.ID); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 4 {
		t.Errorf("terminal delivery was dispatched again, %d requests", hits.Load())
	}

	// Exhaustion lands the delivery in the DLQ with the full attempt count.
	entries, err := s.ListDLQ(ctx(), dlq.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}
	if entries[0].DeliveryID != d.ID {
		t.Errorf("DLQ entry references %s, want %s", entries[0].DeliveryID, d.ID)
	}
	if entries[0].AttemptCount != 4 {
		t.Errorf("AttemptCount = %d, want 4", entries[0].AttemptCount)
	}
	if entries[0].ErrorKind != "http_502" {
		t.Errorf("ErrorKind = %q, want http_502", entries[0].ErrorKind)
	}
}

func TestAttemptLeaseHeld(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := memory.New()
	c := newTestCoordinator(s)
	d, _, _ := seedDelivery(t, s, srv.URL)

	// Another holder owns the dispatch lease.
	acquired, err := s.AcquireLease(ctx(), d.ID, time.Minute)
	if err != nil || !acquired {
		t.Fatalf("acquire lease: acquired=%v err=%v", acquired, err)
	}

	if err := c.Attempt(ctx(), d.ID); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetDelivery(ctx(), d.ID)
	if got.Status != delivery.StatusPending {
		t.Fatalf("expected pending while leased, got %s", got.Status)
	}
	if hits.Load() != 0 {
		t.Errorf("leased delivery was dispatched, %d requests", hits.Load())
	}
}

func TestAttemptConcurrentSingleDispatch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		time.Sleep(50 * time.Millisecond) // widen the race window
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := memory.New()
	c := newTestCoordinator(s)
	d, _, _ := seedDelivery(t, s, srv.URL)

	// Many racing attempts on the same delivery: the lease admits one
	// dispatcher, the rest see the lease held or the terminal status.
	const racers = 16
	errs := make(chan error, racers)
	var wg sync.WaitGroup
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Attempt(ctx(), d.ID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	if hits.Load() != 1 {
		t.Fatalf("expected exactly 1 dispatch, got %d", hits.Load())
	}
	got, err := s.GetDelivery(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusSuccess {
		t.Fatalf("expected success, got %s", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", got.RetryCount)
	}
}

// stallingStore delays conditional updates until its gate is closed,
// standing in for a storage backend that stops responding.
type stallingStore struct {
	*memory.Store
	entered sync.Once
	reached chan struct{}
	gate    chan struct{}
}

func (ss *stallingStore) ConditionalUpdateDelivery(ctx context.Context, d *delivery.Delivery, expectedStatus delivery.Status, expectedRetryCount int) error {
	ss.entered.Do(func() { close(ss.reached) })
	<-ss.gate
	return ss.Store.ConditionalUpdateDelivery(ctx, d, expectedStatus, expectedRetryCount)
}

func TestStopHonorsContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := memory.New()
	ss := &stallingStore{
		Store:   s,
		reached: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	defer close(ss.gate)

	cfg := delivery.CoordinatorConfig{
		Concurrency:    1,
		PollInterval:   20 * time.Millisecond,
		BatchSize:      10,
		RequestTimeout: 5 * time.Second,
		BackoffBase:    time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
	c := delivery.NewCoordinator(ss, dlq.NewService(s, nil), cfg, nil)
	d, _, _ := seedDelivery(t, s, srv.URL)

	c.Start(ctx())
	c.Submit(d.ID)

	// The worker is now stuck writing the outcome.
	select {
	case <-ss.reached:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for attempt to reach the store")
	}

	stopCtx, cancel := context.WithTimeout(ctx(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	c.Stop(stopCtx)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Stop did not respect its context, took %v", elapsed)
	}
}

func TestAttemptInactiveWebhook(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := memory.New()
	c := newTestCoordinator(s)
	d, wh, _ := seedDelivery(t, s, srv.URL)

	// Deactivated after match time.
	if err := s.SetActive(ctx(), wh.ID, false); err != nil {
		t.Fatal(err)
	}

	if err := c.Attempt(ctx(), d.ID); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetDelivery(ctx(), d.ID)
	if got.Status != delivery.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorKind != "webhook_inactive" {
		t.Errorf("ErrorKind = %q, want webhook_inactive", got.ErrorKind)
	}
	if hits.Load() != 0 {
		t.Errorf("inactive webhook was dispatched, %d requests", hits.Load())
	}
}

func TestCoordinatorSweepRetriesUntilSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := memory.New()
	c := newTestCoordinator(s)
	d, _, _ := seedDelivery(t, s, srv.URL)

	c.Start(ctx())
	defer c.Stop(ctx())
	c.Submit(d.ID)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for delivery to succeed")
		default:
		}

		got, err := s.GetDelivery(ctx(), d.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == delivery.StatusSuccess {
			if got.RetryCount != 2 {
				t.Errorf("RetryCount = %d, want 2", got.RetryCount)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func ctx() context.Context { return context.Background() }
