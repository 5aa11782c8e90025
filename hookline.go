package hookline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
	"github.com/hookline/hookline/store"
	"github.com/hookline/hookline/webhook"
)

// wireServices initializes the internal services after options have been applied.
func (hl *Hookline) wireServices() {
	hl.catalog = catalog.NewCatalog(hl.store, catalog.Config{
		CacheTTL: hl.config.CacheTTL,
	}, hl.logger)

	hl.validator = catalog.NewValidator()

	hl.webhookSvc = webhook.NewService(hl.store, hl.logger)

	hl.dlqSvc = dlq.NewService(hl.store, hl.logger)

	hl.coordinator = delivery.NewCoordinator(hl.store, hl.dlqSvc, delivery.CoordinatorConfig{
		Concurrency:      hl.config.Concurrency,
		PollInterval:     hl.config.PollInterval,
		BatchSize:        hl.config.BatchSize,
		RequestTimeout:   hl.config.RequestTimeout,
		BackoffBase:      hl.config.BackoffBase,
		BackoffMax:       hl.config.BackoffMax,
		MaxResponseBytes: hl.config.MaxResponseBytes,
		LeaseTTL:         hl.config.LeaseTTL,
		PendingGrace:     hl.config.PendingGrace,
		Metrics:          hl.metrics,
		Tracer:           hl.tracer,
	}, hl.logger)
}

// Start begins the delivery workers and the retry sweep.
func (hl *Hookline) Start(ctx context.Context) {
	hl.coordinator.Start(ctx)
}

// Stop gracefully shuts down the delivery workers, waiting at most
// Config.ShutdownTimeout for in-flight attempts to finish.
func (hl *Hookline) Stop(ctx context.Context) {
	if hl.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hl.config.ShutdownTimeout)
		defer cancel()
	}
	hl.coordinator.Stop(ctx)
}

// RegisterEventType registers an event type definition in the catalog.
func (hl *Hookline) RegisterEventType(ctx context.Context, def catalog.Definition, opts ...catalog.RegisterOption) (*catalog.EventType, error) {
	return hl.catalog.RegisterType(ctx, def, opts...)
}

// Ingest persists an event and fans it out to every active webhook
// subscribed to its type, submitting each new delivery for an immediate
// first attempt. It returns the event's ID.
//
// Ingest is idempotent at (event, webhook) granularity: re-ingesting the
// same event (same ID or idempotency key) never duplicates delivery rows,
// so a failed ingest may be safely re-driven.
//
// The critical path:
//  1. Validate the event type against the catalog when registered
//     (reject deprecated types, check the payload schema).
//  2. Persist the event; an idempotency key conflict resolves to the
//     previously ingested event.
//  3. Match active subscribed webhooks.
//  4. Create one pending delivery per matched webhook, skipping pairs
//     that already exist.
//  5. Submit the created deliveries to the worker pool.
func (hl *Hookline) Ingest(ctx context.Context, evt *event.Event) (id.ID, error) {
	// 1. Catalog gate. Unregistered types pass unless registration is required.
	et, err := hl.catalog.GetType(ctx, evt.Type)
	switch {
	case errors.Is(err, ErrEventTypeNotFound):
		if hl.config.RequireRegisteredTypes {
			return id.Nil, fmt.Errorf("%w: %s", ErrEventTypeNotFound, evt.Type)
		}
	case err != nil:
		return id.Nil, fmt.Errorf("hookline: look up event type: %w", err)
	case et.IsDeprecated:
		return id.Nil, fmt.Errorf("%w: %s", ErrEventTypeDeprecated, evt.Type)
	case len(et.Definition.Schema) > 0:
		if validateErr := hl.validator.Validate(et.Definition.Schema, evt.Payload); validateErr != nil {
			return id.Nil, fmt.Errorf("%w: %s", ErrPayloadValidationFailed, validateErr.Error())
		}
	}

	// 2. Assign identity and persist. A caller-supplied ID is kept so
	// re-driving a failed ingest addresses the same event.
	if evt.ID.IsNil() {
		evt.ID = id.NewEventID()
	}
	evt.Entity = entity.New()

	if createErr := hl.store.CreateEvent(ctx, evt); createErr != nil {
		if !errors.Is(createErr, ErrDuplicateIdempotencyKey) {
			return id.Nil, fmt.Errorf("hookline: persist event: %w", createErr)
		}
		// Re-ingest of a known event: resolve to the original and
		// continue, so an interrupted fan-out completes.
		existing, lookupErr := hl.store.GetEventByIdempotencyKey(ctx, evt.IdempotencyKey)
		if lookupErr != nil {
			return id.Nil, fmt.Errorf("hookline: resolve idempotent event: %w", lookupErr)
		}
		*evt = *existing
	}

	// 3. Match.
	webhooks, err := hl.store.FindActiveForType(ctx, evt.Type)
	if err != nil {
		return id.Nil, fmt.Errorf("hookline: match webhooks: %w", err)
	}

	if len(webhooks) == 0 {
		return evt.ID, nil // nothing subscribed, nothing to deliver
	}

	// 4. Fan out. Existing (event, webhook) pairs are already scheduled
	// and are skipped, never duplicated.
	webhookIDs := make([]id.ID, 0, len(webhooks))
	for _, wh := range webhooks {
		webhookIDs = append(webhookIDs, wh.ID)
	}

	created, err := hl.store.CreateDeliveriesIfAbsent(ctx, evt.ID, webhookIDs, hl.config.MaxRetries)
	if err != nil {
		return id.Nil, fmt.Errorf("hookline: create deliveries: %w", err)
	}

	if hl.metrics != nil {
		hl.metrics.EventsIngestedTotal.Inc()
		hl.metrics.PendingDeliveries.Add(float64(len(created)))
	}

	// 5. First attempts.
	for _, d := range created {
		hl.coordinator.Submit(d.ID)
	}

	hl.logger.DebugContext(ctx, "event ingested",
		"event_id", evt.ID,
		"type", evt.Type,
		"matched", len(webhooks),
		"created", len(created),
	)

	return evt.ID, nil
}

// Attempt executes one dispatch attempt for the delivery. Exposed for
// callers that drive attempts from an external work queue; attempts for
// deliveries already leased or terminal are no-ops.
func (hl *Hookline) Attempt(ctx context.Context, dlvID id.ID) error {
	return hl.coordinator.Attempt(ctx, dlvID)
}

// Delivery returns a delivery by ID.
func (hl *Hookline) Delivery(ctx context.Context, dlvID id.ID) (*delivery.Delivery, error) {
	return hl.store.GetDelivery(ctx, dlvID)
}

// DeliveriesByEvent returns the delivery fan-out for an event.
func (hl *Hookline) DeliveriesByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	return hl.store.ListByEvent(ctx, evtID)
}

// DeliveriesByWebhook returns delivery history for a webhook.
func (hl *Hookline) DeliveriesByWebhook(ctx context.Context, whID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	return hl.store.ListByWebhook(ctx, whID, opts)
}

// Webhooks returns the webhook registration service.
func (hl *Hookline) Webhooks() *webhook.Service {
	return hl.webhookSvc
}

// Catalog returns the event type catalog.
func (hl *Hookline) Catalog() *catalog.Catalog {
	return hl.catalog
}

// DLQ returns the dead letter queue service.
func (hl *Hookline) DLQ() *dlq.Service {
	return hl.dlqSvc
}

// Store returns the underlying store.
func (hl *Hookline) Store() store.Store {
	return hl.store
}
