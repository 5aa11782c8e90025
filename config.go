package hookline

import (
	"time"

	"github.com/hookline/hookline/delivery"
)

// Config holds the configuration for a Hookline instance.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often the sweep checks for due retries.
	PollInterval time.Duration

	// BatchSize is the maximum number of deliveries swept per poll cycle.
	BatchSize int

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration

	// MaxRetries is the retry budget assigned to new deliveries.
	MaxRetries int

	// BackoffBase is the base delay for exponential retry backoff, and the
	// width of the jitter window.
	BackoffBase time.Duration

	// BackoffMax caps the exponential retry delay.
	BackoffMax time.Duration

	// MaxResponseBytes caps how much of a receiver's response body is
	// stored on the delivery.
	MaxResponseBytes int64

	// LeaseTTL bounds the per-delivery dispatch lease should a worker die
	// without releasing it. Zero derives it from RequestTimeout.
	LeaseTTL time.Duration

	// PendingGrace is how long a pending delivery may sit before the sweep
	// reclaims it as a lost first attempt. Zero disables reclamation.
	PendingGrace time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight deliveries
	// on shutdown.
	ShutdownTimeout time.Duration

	// CacheTTL is the TTL for the catalog's in-memory event type cache.
	// Set to 0 to disable expiry.
	CacheTTL time.Duration

	// RequireRegisteredTypes rejects ingestion of event types absent from
	// the catalog. When false (the default) unregistered types are
	// delivered as-is.
	RequireRegisteredTypes bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      10,
		PollInterval:     1 * time.Second,
		BatchSize:        50,
		RequestTimeout:   10 * time.Second,
		MaxRetries:       3,
		BackoffBase:      5 * time.Second,
		BackoffMax:       2 * time.Hour,
		MaxResponseBytes: delivery.DefaultMaxResponseBytes,
		PendingGrace:     30 * time.Second,
		ShutdownTimeout:  30 * time.Second,
		CacheTTL:         30 * time.Second,
	}
}
