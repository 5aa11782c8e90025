package delivery_test

import (
	"testing"
	"time"

	"github.com/hookline/hookline/delivery"
)

func TestBackoffDoubling(t *testing.T) {
	base := 5 * time.Second
	max := 2 * time.Hour
	s := delivery.NewScheduler(base, max)

	tests := []struct {
		retryCount int
		floor      time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{5, 160 * time.Second},
	}

	for _, tt := range tests {
		got := s.Backoff(tt.retryCount)
		// Jitter adds [0, base) on top of the exponential floor.
		if got < tt.floor || got >= tt.floor+base {
			t.Errorf("Backoff(%d) = %v, want [%v, %v)",
				tt.retryCount, got, tt.floor, tt.floor+base)
		}
	}
}

func TestBackoffCap(t *testing.T) {
	base := 5 * time.Second
	max := time.Minute
	s := delivery.NewScheduler(base, max)

	for _, rc := range []int{4, 10, 62, 100} {
		got := s.Backoff(rc)
		if got < max || got >= max+base {
			t.Errorf("Backoff(%d) = %v, want capped in [%v, %v)", rc, got, max, max+base)
		}
	}
}

func TestBackoffNegativeRetryCount(t *testing.T) {
	base := time.Second
	s := delivery.NewScheduler(base, time.Minute)

	got := s.Backoff(-1)
	if got < base || got >= 2*base {
		t.Errorf("Backoff(-1) = %v, want treated as retry 0 in [%v, %v)", got, base, 2*base)
	}
}

func TestBackoffJitterVaries(t *testing.T) {
	s := delivery.NewScheduler(time.Second, time.Hour)

	first := s.Backoff(0)
	for range 50 {
		if s.Backoff(0) != first {
			return
		}
	}
	t.Error("expected jitter to vary across 50 samples, all were equal")
}

func TestHasBudget(t *testing.T) {
	s := delivery.NewScheduler(time.Second, time.Minute)

	tests := []struct {
		retryCount int
		maxRetries int
		want       bool
	}{
		{0, 3, true},
		{2, 3, true},
		{3, 3, false},
		{4, 3, false},
		{0, 0, false},
	}

	for _, tt := range tests {
		d := &delivery.Delivery{RetryCount: tt.retryCount, MaxRetries: tt.maxRetries}
		if got := s.HasBudget(d); got != tt.want {
			t.Errorf("HasBudget(retry=%d, max=%d) = %v, want %v",
				tt.retryCount, tt.maxRetries, got, tt.want)
		}
	}
}

func TestNextAttemptAt(t *testing.T) {
	s := delivery.NewScheduler(time.Second, time.Minute)

	before := time.Now().UTC()
	next := s.NextAttemptAt(0)

	if !next.After(before) {
		t.Errorf("NextAttemptAt(0) = %v, want after %v", next, before)
	}
	if next.After(before.Add(3 * time.Second)) {
		t.Errorf("NextAttemptAt(0) = %v, too far in the future", next)
	}
}

func TestNewSchedulerDefaults(t *testing.T) {
	// A cap below the base is raised to the base.
	s := delivery.NewScheduler(time.Minute, time.Second)
	got := s.Backoff(0)
	if got < time.Minute || got >= 2*time.Minute {
		t.Errorf("Backoff(0) = %v, want [1m, 2m)", got)
	}
}
