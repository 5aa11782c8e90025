// Package hookline provides an embeddable webhook delivery engine for Go.
//
// Hookline is a library — not a service. Import it into your application to
// record domain events and reliably fan them out as signed HTTP callbacks to
// subscriber-registered webhooks, with at-least-once semantics, bounded
// exponential backoff, and per-delivery state tracking.
//
// Key guarantees:
//   - Exactly one delivery row per (event, webhook) pair; re-ingesting the
//     same event never duplicates fan-out.
//   - At most one in-flight attempt per delivery, enforced by a
//     per-delivery lease.
//   - Every state transition is a single atomic conditional write; a racing
//     worker's result is rejected and discarded.
//   - HMAC-SHA256 signature on every delivery.
//   - Failed deliveries land in a replayable dead letter queue.
//
// Quick start:
//
//	hl, err := hookline.New(
//	    hookline.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	hl.Webhooks().Create(ctx, webhook.Input{
//	    OwnerID: "user_123",
//	    URL:     "https://example.com/hooks",
//	    Events:  []string{"order.created"},
//	})
//
//	hl.Start(ctx)
//	defer hl.Stop(ctx)
//
//	hl.Ingest(ctx, &event.Event{
//	    Type:    "order.created",
//	    Payload: map[string]any{"order_id": "ORD-001"},
//	})
package hookline
