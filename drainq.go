// Package drainq provides a resilient background job queue with
// per-dependency circuit breaking and single-active-worker leasing.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage and migrate
//	db, _ := gorm.Open(sqlite.Open("drainq.db"), &gorm.Config{})
//	store := drainq.NewGormStore(db)
//	store.Migrate(context.Background())
//
//	// Register a job family with its handler
//	sched, _ := drainq.New(store, drainq.Family{
//	    Name:        "notifications",
//	    MaxAttempts: 5,
//	    BatchSize:   10,
//	    Backoff:     drainq.MinuteScale(),
//	    Handler: func(ctx context.Context, job *drainq.Job) error {
//	        return deliver(ctx, job.Payload)
//	    },
//	})
//
//	// Drain one batch (from an HTTP trigger or a timer)
//	summary, err := sched.RunOnce(ctx, "manual")
package drainq

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/okapilabs/drainq/pkg/breaker"
	"github.com/okapilabs/drainq/pkg/core"
	"github.com/okapilabs/drainq/pkg/policy"
	"github.com/okapilabs/drainq/pkg/scheduler"
	"github.com/okapilabs/drainq/pkg/security"
	"github.com/okapilabs/drainq/pkg/storage"
)

// Type aliases for the public API
type (
	// Job represents a unit of work in a family's queue table.
	Job = core.Job

	// JobStatus represents the current state of a job.
	JobStatus = core.JobStatus

	// WorkerLease is the shared mutual-exclusion row for a scheduler scope.
	WorkerLease = core.WorkerLease

	// Storage defines the shared-store protocol the scheduler runs on.
	Storage = core.Storage

	// StatusUpdate carries the fields written alongside a status transition.
	StatusUpdate = core.StatusUpdate

	// LeaseResult reports the outcome of a lease acquisition attempt.
	LeaseResult = core.LeaseResult

	// Gateway is the outbound chat-messaging delivery API.
	Gateway = core.Gateway

	// Metrics is the sink for aggregate counters and gauges.
	Metrics = core.Metrics

	// RunSummary aggregates the outcome of one scheduler run.
	RunSummary = core.RunSummary

	// Scheduler drains bounded batches of due jobs under a lease.
	Scheduler = scheduler.Scheduler

	// Family describes one job family.
	Family = scheduler.Family

	// HandlerFunc processes one claimed job.
	HandlerFunc = scheduler.HandlerFunc

	// SchedulerOption configures a Scheduler.
	SchedulerOption = scheduler.Option

	// Breaker tracks the health of one named dependency.
	Breaker = breaker.Breaker

	// BreakerConfig tunes one circuit breaker.
	BreakerConfig = breaker.Config

	// BreakerState is the breaker's closed/open/half-open position.
	BreakerState = breaker.State

	// BreakerMetrics is a point-in-time snapshot of one breaker.
	BreakerMetrics = breaker.Metrics

	// Manager owns the process-wide registry of breakers.
	Manager = breaker.Manager

	// Backoff computes exponential re-delivery delays.
	Backoff = policy.Backoff

	// RetryConfig holds configuration for in-call retry with backoff.
	RetryConfig = policy.RetryConfig

	// GormStore implements Storage using GORM.
	GormStore = storage.GormStore
)

// Job status constants
const (
	StatusQueued     = core.StatusQueued
	StatusProcessing = core.StatusProcessing
	StatusRetry      = core.StatusRetry
	StatusSucceeded  = core.StatusSucceeded
	StatusFailed     = core.StatusFailed
)

// Breaker state constants
const (
	BreakerClosed   = breaker.Closed
	BreakerOpen     = breaker.Open
	BreakerHalfOpen = breaker.HalfOpen
)

// Limits
const (
	MaxAttemptsLimit      = security.MaxAttemptsLimit
	MaxBatchSize          = security.MaxBatchSize
	MaxErrorMessageLength = security.MaxErrorMessageLength
	MaxErrorTrailLength   = security.MaxErrorTrailLength
)

// Error variables
var (
	ErrLeaseHeld         = core.ErrLeaseHeld
	ErrRunInProgress     = core.ErrRunInProgress
	ErrJobNotFound       = core.ErrJobNotFound
	ErrInvalidFamilyName = core.ErrInvalidFamilyName
	ErrNilHandler        = core.ErrNilHandler
)

// New creates a scheduler for one job family.
func New(store Storage, family Family, opts ...SchedulerOption) (*Scheduler, error) {
	return scheduler.New(store, family, opts...)
}

// NewGormStore creates a GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return storage.NewGormStore(db)
}

// NewManager creates a breaker registry with a shared default config.
func NewManager(defaults BreakerConfig, opts ...breaker.Option) *Manager {
	return breaker.NewManager(defaults, opts...)
}

// DefaultBreakerConfig returns the production breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return breaker.DefaultConfig()
}

// NextStatus classifies a job after a failed attempt.
func NextStatus(attempts, maxAttempts int) JobStatus {
	return policy.NextStatus(attempts, maxAttempts)
}

// MinuteScale is the dead-letter redelivery backoff profile.
func MinuteScale() Backoff {
	return policy.MinuteScale()
}

// SecondScale is the in-call provider retry backoff profile.
func SecondScale() Backoff {
	return policy.SecondScale()
}

// Retry executes an operation with exponential backoff on failure.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	return policy.Do(ctx, cfg, op)
}

// IsCircuitOpen reports whether err is a circuit rejection.
func IsCircuitOpen(err error) bool {
	return core.IsCircuitOpen(err)
}

// CircuitOpen wraps a dependency name into a circuit rejection error.
func CircuitOpen(dependency string) error {
	return core.CircuitOpen(dependency)
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage.
func SanitizeErrorMessage(msg string) string {
	return security.SanitizeErrorMessage(msg)
}

// Scheduler option functions

// WithLogger sets the logger for run and transition events.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return scheduler.WithLogger(logger)
}

// WithMetrics sets the sink for aggregate run counters.
func WithMetrics(m Metrics) SchedulerOption {
	return scheduler.WithMetrics(m)
}

// WithLeaseTTL sets the lease duration for a run.
func WithLeaseTTL(ttl time.Duration) SchedulerOption {
	return scheduler.WithLeaseTTL(ttl)
}

// WithLeaseName overrides the lease scope.
func WithLeaseName(name string) SchedulerOption {
	return scheduler.WithLeaseName(name)
}
