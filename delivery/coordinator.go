package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/observability"
	"github.com/hookline/hookline/webhook"
)

// CoordinatorStore is the interface the coordinator needs for delivery
// operations.
type CoordinatorStore interface {
	GetDelivery(ctx context.Context, dlvID id.ID) (*Delivery, error)
	ConditionalUpdateDelivery(ctx context.Context, d *Delivery, expectedStatus Status, expectedRetryCount int) error
	FindDueRetries(ctx context.Context, now time.Time, limit int) ([]id.ID, error)
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]id.ID, error)
	AcquireLease(ctx context.Context, dlvID id.ID, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, dlvID id.ID) error
	GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error)
	GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error)
}

// DLQPusher records terminally failed deliveries in the dead letter queue.
type DLQPusher interface {
	PushFailed(ctx context.Context, d *Delivery, wh *webhook.Webhook, evt *event.Event) error
}

// CoordinatorConfig holds coordinator configuration.
type CoordinatorConfig struct {
	Concurrency      int
	PollInterval     time.Duration
	BatchSize        int
	RequestTimeout   time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	MaxResponseBytes int64
	LeaseTTL         time.Duration
	PendingGrace     time.Duration
	Metrics          *observability.Metrics
	Tracer           *observability.Tracer
}

// Coordinator owns the per-delivery lifecycle: it runs the worker pool,
// executes attempts under the per-delivery lease, applies state machine
// transitions as conditional writes, and sweeps due retries back into the
// pool. Work for distinct deliveries is fully parallel; attempts for one
// delivery are totally ordered by the lease.
type Coordinator struct {
	store      CoordinatorStore
	dispatcher *Dispatcher
	scheduler  *Scheduler
	dlq        DLQPusher
	config     CoordinatorConfig
	logger     *slog.Logger

	jobs   chan id.ID
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a delivery coordinator.
func NewCoordinator(store CoordinatorStore, dlq DLQPusher, cfg CoordinatorConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = cfg.RequestTimeout + 30*time.Second
	}
	return &Coordinator{
		store:      store,
		dispatcher: NewDispatcher(cfg.RequestTimeout, cfg.MaxResponseBytes),
		scheduler:  NewScheduler(cfg.BackoffBase, cfg.BackoffMax),
		dlq:        dlq,
		config:     cfg,
		logger:     logger,
		jobs:       make(chan id.ID, cfg.Concurrency*cfg.BatchSize),
	}
}

// Scheduler returns the retry scheduler, exposing the backoff policy.
func (c *Coordinator) Scheduler() *Scheduler { return c.scheduler }

// Start begins the delivery workers and the retry sweep loop.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	for range c.config.Concurrency {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.worker(ctx)
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sweepLoop(ctx)
	}()
}

// Stop cancels the workers and sweep loop and waits for in-flight
// attempts to complete, or until ctx is done.
func (c *Coordinator) Stop(ctx context.Context) {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("shutdown wait abandoned with attempts in flight",
			"error", ctx.Err())
	}
}

// Submit queues a delivery for an attempt. It never blocks: when the
// worker queue is full the delivery is left for the sweep to pick up.
func (c *Coordinator) Submit(dlvID id.ID) {
	select {
	case c.jobs <- dlvID:
	default:
		c.logger.Debug("worker queue full, deferring to sweep", "delivery_id", dlvID)
	}
}

// worker executes attempts until the context is cancelled.
func (c *Coordinator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case dlvID := <-c.jobs:
			if err := c.Attempt(ctx, dlvID); err != nil {
				c.logger.ErrorContext(ctx, "attempt failed",
					"delivery_id", dlvID, "error", err)
			}
		}
	}
}

// sweepLoop periodically re-submits due retries, plus pending deliveries
// whose in-process first attempt was lost.
func (c *Coordinator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()

			due, err := c.store.FindDueRetries(ctx, now, c.config.BatchSize)
			if err != nil {
				c.logger.ErrorContext(ctx, "sweep: find due retries failed", "error", err)
			} else {
				c.enqueue(ctx, due)
			}

			if c.config.PendingGrace > 0 {
				stale, err := c.store.FindStalePending(ctx, now.Add(-c.config.PendingGrace), c.config.BatchSize)
				if err != nil {
					c.logger.ErrorContext(ctx, "sweep: find stale pending failed", "error", err)
				} else {
					c.enqueue(ctx, stale)
				}
			}
		}
	}
}

// enqueue blocks delivering IDs to the worker queue, bailing on shutdown.
func (c *Coordinator) enqueue(ctx context.Context, ids []id.ID) {
	for _, dlvID := range ids {
		select {
		case <-ctx.Done():
			return
		case c.jobs <- dlvID:
		}
	}
}

// Attempt executes one dispatch attempt for the delivery. It is safe to
// call concurrently and repeatedly for the same ID: the per-delivery lease
// admits one caller and terminal deliveries are no-ops, so redelivered
// work items cannot produce duplicate concurrent sends.
//
// A non-nil error means the attempt could not run (store unavailable) and
// the operation may be re-driven. Budget exhaustion is a normal outcome,
// never an error.
func (c *Coordinator) Attempt(ctx context.Context, dlvID id.ID) error {
	acquired, err := c.store.AcquireLease(ctx, dlvID, c.config.LeaseTTL)
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if !acquired {
		if c.config.Metrics != nil {
			c.config.Metrics.LeaseContention.Inc()
		}
		c.logger.DebugContext(ctx, "lease held, skipping attempt", "delivery_id", dlvID)
		return nil
	}
	defer func() {
		if relErr := c.store.ReleaseLease(ctx, dlvID); relErr != nil {
			c.logger.ErrorContext(ctx, "release lease failed",
				"delivery_id", dlvID, "error", relErr)
		}
	}()

	d, err := c.store.GetDelivery(ctx, dlvID)
	if err != nil {
		return fmt.Errorf("get delivery: %w", err)
	}
	if d.Status.Terminal() {
		return nil
	}

	evt, err := c.store.GetEvent(ctx, d.EventID)
	if err != nil {
		return fmt.Errorf("get event: %w", err)
	}
	wh, err := c.store.GetWebhook(ctx, d.WebhookID)
	if err != nil {
		return fmt.Errorf("get webhook: %w", err)
	}

	var span trace.Span
	if c.config.Tracer != nil {
		ctx, span = c.config.Tracer.StartAttemptSpan(ctx, d.ID.String(), d.EventID.String(), d.WebhookID.String())
	}

	expectedStatus, expectedRetry := d.Status, d.RetryCount

	var out Outcome
	if !wh.Active {
		// The webhook was deactivated after match time. Fail the delivery
		// without consuming an HTTP attempt.
		out = Outcome{ErrorKind: "webhook_inactive", Err: "webhook is inactive"}
	} else {
		out = c.dispatcher.Send(ctx, d, evt, wh)
	}

	c.applyOutcome(d, out, wh.Active)

	if span != nil {
		c.config.Tracer.EndAttemptSpan(span, out.Code, out.LatencyMs, out.Err)
	}

	if err := c.store.ConditionalUpdateDelivery(ctx, d, expectedStatus, expectedRetry); err != nil {
		if errors.Is(err, ErrStaleDelivery) {
			// A racing worker transitioned this delivery first; discard.
			c.logger.WarnContext(ctx, "discarding stale attempt result",
				"delivery_id", d.ID, "expected_status", expectedStatus)
			return nil
		}
		return fmt.Errorf("update delivery: %w", err)
	}

	c.finalize(ctx, d, out, evt, wh)
	return nil
}

// applyOutcome advances the delivery state machine in memory:
//
//	pending|retrying --success-------------------> success  (terminal)
//	pending|retrying --failure, budget left------> retrying (next attempt scheduled)
//	pending|retrying --failure, budget spent-----> failed   (terminal)
func (c *Coordinator) applyOutcome(d *Delivery, out Outcome, consumeBudget bool) {
	d.ResponseCode = out.Code
	d.ResponseBody = out.Body
	d.ErrorKind = out.ErrorKind
	d.LastError = out.Err
	d.LastLatencyMs = out.LatencyMs

	now := time.Now().UTC()

	switch {
	case out.Success:
		d.Status = StatusSuccess
		d.DeliveredAt = &now
		d.CompletedAt = &now
		d.NextAttemptAt = nil

	case consumeBudget && c.scheduler.HasBudget(d):
		d.RetryCount++
		d.Status = StatusRetrying
		next := now.Add(c.scheduler.Backoff(d.RetryCount))
		d.NextAttemptAt = &next

	default:
		d.Status = StatusFailed
		d.CompletedAt = &now
		d.NextAttemptAt = nil
	}
}

// finalize records metrics, logs, and DLQ pushes after the state write
// has been accepted.
func (c *Coordinator) finalize(ctx context.Context, d *Delivery, out Outcome, evt *event.Event, wh *webhook.Webhook) {
	latencySeconds := float64(out.LatencyMs) / 1000.0

	switch d.Status {
	case StatusSuccess:
		if c.config.Metrics != nil {
			c.config.Metrics.RecordDelivery("success", latencySeconds)
			c.config.Metrics.PendingDeliveries.Dec()
		}
		c.logger.DebugContext(ctx, "delivered",
			"delivery_id", d.ID, "status", out.Code, "latency_ms", out.LatencyMs)

	case StatusRetrying:
		if c.config.Metrics != nil {
			c.config.Metrics.RecordDelivery("retried", latencySeconds)
		}
		c.logger.DebugContext(ctx, "retry scheduled",
			"delivery_id", d.ID, "retry", d.RetryCount, "next_at", d.NextAttemptAt)

	case StatusFailed:
		if c.dlq != nil {
			if dlqErr := c.dlq.PushFailed(ctx, d, wh, evt); dlqErr != nil {
				c.logger.ErrorContext(ctx, "push to DLQ failed",
					"delivery_id", d.ID, "error", dlqErr)
			}
		}
		if c.config.Metrics != nil {
			c.config.Metrics.RecordDelivery("failed", latencySeconds)
			c.config.Metrics.PendingDeliveries.Dec()
			c.config.Metrics.DLQSize.Inc()
		}
		c.logger.WarnContext(ctx, "delivery failed permanently",
			"delivery_id", d.ID, "error_kind", d.ErrorKind, "error", d.LastError)

	case StatusPending:
		// Unreachable: applyOutcome always leaves pending.
	}
}
