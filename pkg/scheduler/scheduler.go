// Package scheduler drains bounded batches of due jobs under a time-boxed
// exclusive lease.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okapilabs/drainq/pkg/core"
	"github.com/okapilabs/drainq/pkg/policy"
	"github.com/okapilabs/drainq/pkg/security"
)

// HandlerFunc processes one claimed job. A nil return marks the job
// succeeded; an error routes it through the retry policy. Panics are
// recovered and treated as errors.
type HandlerFunc func(ctx context.Context, job *core.Job) error

// Family describes one job family: which table rows it drains, its retry
// budget, and the handler invoked per job. The core is otherwise
// payload-agnostic.
type Family struct {
	Name        string
	MaxAttempts int
	BatchSize   int
	Backoff     policy.Backoff
	Handler     HandlerFunc
}

// Scheduler ties the store, lease, and retry policy together. Each
// invocation of RunOnce is an independent short-lived execution; multiple
// processes may invoke their schedulers simultaneously and coordinate
// only through the shared store.
type Scheduler struct {
	store     core.Storage
	family    Family
	holderID  string
	leaseName string
	leaseTTL  time.Duration
	logger    *slog.Logger
	metrics   core.Metrics
	now       func() time.Time

	// in-process reentrancy guard, distinct from the lease which guards
	// cross-process
	running atomic.Bool
}

// New creates a scheduler for one job family.
func New(store core.Storage, family Family, opts ...Option) (*Scheduler, error) {
	if err := security.ValidateFamilyName(family.Name); err != nil {
		return nil, err
	}
	if family.Handler == nil {
		return nil, core.ErrNilHandler
	}
	family.MaxAttempts = security.ClampAttempts(family.MaxAttempts)
	family.BatchSize = security.ClampBatchSize(family.BatchSize)
	if family.Backoff.Base <= 0 {
		family.Backoff = policy.MinuteScale()
	}

	s := &Scheduler{
		store:     store,
		family:    family,
		holderID:  uuid.New().String(),
		leaseName: family.Name,
		leaseTTL:  3 * time.Minute,
		logger:    slog.Default(),
		metrics:   core.NopMetrics{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HolderID returns this instance's lease holder identity.
func (s *Scheduler) HolderID() string { return s.holderID }

// RunOnce drains one bounded batch of due jobs. Callers are an HTTP
// endpoint or a timer; trigger records which.
//
// Per-job errors are fully contained in the batch loop. Lease, fetch, and
// store update failures are fatal for the run and propagate to the
// trigger caller after the lease is released.
func (s *Scheduler) RunOnce(ctx context.Context, trigger string) (core.RunSummary, error) {
	summary := core.RunSummary{Trigger: trigger}

	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("run skipped, already in progress",
			"family", s.family.Name, "trigger", trigger)
		return summary, core.ErrRunInProgress
	}
	defer s.running.Store(false)

	lease, err := s.store.AcquireLease(ctx, s.leaseName, s.holderID, s.leaseTTL)
	if err != nil {
		return summary, fmt.Errorf("acquire lease: %w", err)
	}
	if !lease.Granted {
		s.logger.Info("run skipped, lease denied",
			"family", s.family.Name,
			"trigger", trigger,
			"holder", lease.HolderID,
			"expires_at", lease.ExpiresAt)
		return summary, core.ErrLeaseHeld
	}
	defer func() {
		if relErr := s.store.ReleaseLease(context.WithoutCancel(ctx), s.leaseName, s.holderID); relErr != nil {
			s.logger.Warn("lease release failed",
				"family", s.family.Name, "error", relErr)
		}
	}()

	start := s.now()
	jobs, err := s.store.FetchDue(ctx, s.family.Name, s.family.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("fetch due jobs: %w", err)
	}

	// Sequential on purpose: a slow downstream dependency throttles the
	// whole batch instead of fanning out unbounded concurrent calls.
	for _, job := range jobs {
		if err := s.processJob(ctx, job, &summary); err != nil {
			return summary, err
		}
	}

	summary.Duration = s.now().Sub(start)
	s.emitSummary(summary)
	return summary, nil
}

// processJob runs the claim/handle/update cycle for one job. The returned
// error is a store failure (fatal for the run); handler failures are
// absorbed into the summary.
func (s *Scheduler) processJob(ctx context.Context, job *core.Job, summary *core.RunSummary) error {
	// A job already past its budget at fetch time is short-circuited to
	// failed without a wasted handler cycle. The claim keeps the terminal
	// write under the same compare-and-set discipline.
	if job.Attempts >= s.family.MaxAttempts {
		claimed, err := s.store.Claim(ctx, job.ID, job.Attempts)
		if err != nil {
			return fmt.Errorf("claim job %s: %w", job.ID, err)
		}
		if !claimed {
			summary.Skipped++
			return nil
		}
		summary.Processed++
		return s.abandon(ctx, job, job.Attempts+1, "attempt budget exhausted before processing", summary)
	}

	claimed, err := s.store.Claim(ctx, job.ID, job.Attempts)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if !claimed {
		// Benign contention: another scheduling pass owns the row now.
		summary.Skipped++
		return nil
	}

	summary.Processed++
	attempt := job.Attempts + 1

	handlerErr := s.invoke(ctx, job)
	if handlerErr == nil {
		if err := s.store.UpdateStatus(ctx, job.ID, core.StatusUpdate{
			Status:    core.StatusSucceeded,
			LastError: job.LastError,
		}); err != nil {
			return fmt.Errorf("mark job %s succeeded: %w", job.ID, err)
		}
		summary.Succeeded++
		s.logger.Debug("job succeeded",
			"family", s.family.Name, "job_id", job.ID, "attempt", attempt)
		return nil
	}

	next := policy.NextStatus(attempt, s.family.MaxAttempts)
	if next == core.StatusFailed {
		return s.abandon(ctx, job, attempt, handlerErr.Error(), summary)
	}

	delay := s.family.Backoff.Delay(attempt)
	nextAttemptAt := s.now().Add(delay)
	trail := policy.AppendError(job.LastError, attempt, handlerErr.Error())
	if err := s.store.UpdateStatus(ctx, job.ID, core.StatusUpdate{
		Status:        core.StatusRetry,
		NextAttemptAt: &nextAttemptAt,
		LastError:     trail,
	}); err != nil {
		return fmt.Errorf("mark job %s for retry: %w", job.ID, err)
	}
	summary.Failed++
	s.logger.Warn("job failed, retry scheduled",
		"family", s.family.Name,
		"job_id", job.ID,
		"attempt", attempt,
		"max_attempts", s.family.MaxAttempts,
		"next_attempt_at", nextAttemptAt,
		"error", handlerErr)
	return nil
}

// abandon quarantines a job that exhausted its budget. The row is kept,
// never deleted, so operators can triage it; the alert-level log is the
// operator-visible signal, distinct from warn-level retry logging.
func (s *Scheduler) abandon(ctx context.Context, job *core.Job, attempt int, msg string, summary *core.RunSummary) error {
	trail := policy.AppendError(job.LastError, attempt, msg)
	if err := s.store.UpdateStatus(ctx, job.ID, core.StatusUpdate{
		Status:    core.StatusFailed,
		LastError: trail,
	}); err != nil {
		return fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	summary.Failed++
	summary.Abandoned++
	s.logger.Error("job abandoned",
		"family", s.family.Name,
		"job_id", job.ID,
		"attempts", attempt,
		"error", msg)
	return nil
}

// invoke runs the family handler with panic containment: an escaping
// panic for one job must not abort the batch.
func (s *Scheduler) invoke(ctx context.Context, job *core.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.family.Handler(ctx, job)
}

func (s *Scheduler) emitSummary(summary core.RunSummary) {
	s.logger.Info("run finished",
		"family", s.family.Name,
		"trigger", summary.Trigger,
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"abandoned", summary.Abandoned,
		"skipped", summary.Skipped,
		"duration_ms", summary.Duration.Milliseconds())

	dims := map[string]string{"family": s.family.Name, "trigger": summary.Trigger}
	s.metrics.Counter("drainq.run.processed", float64(summary.Processed), dims)
	s.metrics.Counter("drainq.run.succeeded", float64(summary.Succeeded), dims)
	s.metrics.Counter("drainq.run.failed", float64(summary.Failed), dims)
	s.metrics.Counter("drainq.run.abandoned", float64(summary.Abandoned), dims)
	s.metrics.Counter("drainq.run.skipped", float64(summary.Skipped), dims)
	s.metrics.Histogram("drainq.run.duration_ms", float64(summary.Duration.Milliseconds()), dims)

	if depth := s.store.CountDue(context.Background(), s.family.Name); depth >= 0 {
		s.metrics.Gauge("drainq.queue.depth", float64(depth), map[string]string{"family": s.family.Name})
	}
}
