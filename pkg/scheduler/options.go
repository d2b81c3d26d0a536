package scheduler

import (
	"log/slog"
	"time"

	"github.com/okapilabs/drainq/pkg/core"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger for run and transition events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the sink for aggregate run counters.
func WithMetrics(m core.Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLeaseTTL sets the lease duration for a run. Fixed per run, never
// refreshed: set it conservatively longer than any plausible batch
// duration, since expiry is the only recovery path for a hung holder.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(s *Scheduler) {
		if ttl > 0 {
			s.leaseTTL = ttl
		}
	}
}

// WithLeaseName overrides the lease scope. Defaults to the family name so
// distinct families drain independently.
func WithLeaseName(name string) Option {
	return func(s *Scheduler) {
		if name != "" {
			s.leaseName = name
		}
	}
}

// WithHolderID overrides the generated holder identity. Tests use this to
// simulate distinct worker instances.
func WithHolderID(id string) Option {
	return func(s *Scheduler) {
		if id != "" {
			s.holderID = id
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}
