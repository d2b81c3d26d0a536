package core

import (
	"context"
	"time"
)

// StatusUpdate carries the fields written alongside a status transition.
type StatusUpdate struct {
	Status        JobStatus
	NextAttemptAt *time.Time
	LastError     string
}

// LeaseResult reports the outcome of a lease acquisition attempt.
// When not granted, HolderID and ExpiresAt describe the current holder.
type LeaseResult struct {
	Granted   bool
	HolderID  string
	ExpiresAt time.Time
}

// Storage defines the shared-store protocol the scheduler runs on.
// Every mutation is a single conditional write at the store level;
// concurrent scheduler instances coordinate through these primitives
// alone.
type Storage interface {
	// FetchDue returns up to limit claimable jobs for the family, ordered
	// by priority then age. Read-only: overlapping candidate sets across
	// concurrent callers are expected, safety comes from Claim.
	FetchDue(ctx context.Context, family string, limit int) ([]*Job, error)

	// Claim transitions a job to processing and increments its attempt
	// counter, but only if the row is still claimable and its attempts
	// still equal expectedAttempts. Returns false without error when the
	// condition fails (another worker won, or the view was stale).
	Claim(ctx context.Context, jobID string, expectedAttempts int) (bool, error)

	// UpdateStatus applies a terminal or retry transition. Terminal
	// transitions also stamp ProcessedAt.
	UpdateStatus(ctx context.Context, jobID string, update StatusUpdate) error

	// CountDue is a best-effort observability gauge. It returns -1 when
	// the query fails rather than surfacing an error.
	CountDue(ctx context.Context, family string) int

	// AcquireLease grants a time-boxed exclusive lease if no unexpired
	// lease exists for the name.
	AcquireLease(ctx context.Context, name, holderID string, ttl time.Duration) (LeaseResult, error)

	// ReleaseLease clears the lease if still held by holderID. Best
	// effort: a crashed holder simply times out.
	ReleaseLease(ctx context.Context, name, holderID string) error
}

// Enqueuer is the producer-side contract. Producers live outside the
// scheduling core and only ever create rows in queued state.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *Job) error
}
