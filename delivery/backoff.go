package delivery

import (
	"math/rand/v2"
	"time"
)

// Scheduler decides whether a failed delivery gets another attempt and how
// long to wait before it. It is pure policy: the Coordinator's sweep is the
// mechanism that re-submits due deliveries.
type Scheduler struct {
	base time.Duration
	max  time.Duration
}

// NewScheduler creates a scheduler with the given backoff base and cap.
func NewScheduler(base, max time.Duration) *Scheduler {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Scheduler{base: base, max: max}
}

// HasBudget reports whether the delivery has retries remaining.
func (s *Scheduler) HasBudget(d *Delivery) bool {
	return d.RetryCount < d.MaxRetries
}

// Backoff returns the delay before the attempt following the given retry
// count: base * 2^retryCount capped at max, plus jitter in [0, base) to
// spread retries when many deliveries fail at once.
func (s *Scheduler) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	delay := s.max
	// Guard the shift: past 62 bits any base would exceed the cap.
	if retryCount < 62 {
		if shifted := s.base << uint(retryCount); shifted > 0 && shifted < s.max {
			delay = shifted
		}
	}

	return delay + rand.N(s.base)
}

// NextAttemptAt returns the absolute time of the attempt following the
// given retry count.
func (s *Scheduler) NextAttemptAt(retryCount int) time.Time {
	return time.Now().UTC().Add(s.Backoff(retryCount))
}
