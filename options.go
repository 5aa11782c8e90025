package hookline

import (
	"log/slog"
	"time"

	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/observability"
	"github.com/hookline/hookline/store"
	"github.com/hookline/hookline/webhook"
)

// Hookline is the root webhook delivery engine.
type Hookline struct {
	config      Config
	store       store.Store
	catalog     *catalog.Catalog
	validator   *catalog.Validator
	webhookSvc  *webhook.Service
	coordinator *delivery.Coordinator
	dlqSvc      *dlq.Service
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	logger      *slog.Logger
}

// Option configures a Hookline instance.
type Option func(*Hookline) error

// New creates a new Hookline with the given options.
func New(opts ...Option) (*Hookline, error) {
	hl := &Hookline{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(hl); err != nil {
			return nil, err
		}
	}
	if hl.store == nil {
		return nil, ErrNoStore
	}
	hl.wireServices()
	return hl, nil
}

// WithStore sets the persistence backend for the Hookline instance.
func WithStore(s store.Store) Option {
	return func(hl *Hookline) error {
		hl.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Hookline instance.
func WithLogger(logger *slog.Logger) Option {
	return func(hl *Hookline) error {
		hl.logger = logger
		return nil
	}
}

// WithMetrics sets the Prometheus metric instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(hl *Hookline) error {
		hl.metrics = m
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer for delivery attempts.
func WithTracer(t *observability.Tracer) Option {
	return func(hl *Hookline) error {
		hl.tracer = t
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(hl *Hookline) error {
		hl.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the sweep checks for due retries.
func WithPollInterval(d time.Duration) Option {
	return func(hl *Hookline) error {
		hl.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of deliveries swept per poll cycle.
func WithBatchSize(n int) Option {
	return func(hl *Hookline) error {
		hl.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(hl *Hookline) error {
		hl.config.RequestTimeout = d
		return nil
	}
}

// WithMaxRetries sets the retry budget assigned to new deliveries.
func WithMaxRetries(n int) Option {
	return func(hl *Hookline) error {
		hl.config.MaxRetries = n
		return nil
	}
}

// WithBackoff sets the base and cap for exponential retry backoff.
func WithBackoff(base, max time.Duration) Option {
	return func(hl *Hookline) error {
		hl.config.BackoffBase = base
		hl.config.BackoffMax = max
		return nil
	}
}

// WithMaxResponseBytes caps how much of a receiver's response body is stored.
func WithMaxResponseBytes(n int64) Option {
	return func(hl *Hookline) error {
		hl.config.MaxResponseBytes = n
		return nil
	}
}

// WithLeaseTTL bounds the per-delivery dispatch lease.
func WithLeaseTTL(d time.Duration) Option {
	return func(hl *Hookline) error {
		hl.config.LeaseTTL = d
		return nil
	}
}

// WithPendingGrace sets how long a pending delivery may sit before the
// sweep reclaims it as a lost first attempt.
func WithPendingGrace(d time.Duration) Option {
	return func(hl *Hookline) error {
		hl.config.PendingGrace = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum wait for in-flight deliveries on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(hl *Hookline) error {
		hl.config.ShutdownTimeout = d
		return nil
	}
}

// WithCacheTTL sets the TTL for the catalog's in-memory event type cache.
func WithCacheTTL(d time.Duration) Option {
	return func(hl *Hookline) error {
		hl.config.CacheTTL = d
		return nil
	}
}

// WithRequireRegisteredTypes rejects ingestion of event types absent from
// the catalog.
func WithRequireRegisteredTypes() Option {
	return func(hl *Hookline) error {
		hl.config.RequireRegisteredTypes = true
		return nil
	}
}
