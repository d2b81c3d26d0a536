// Package storage provides the GORM-backed shared store for job queues
// and worker leases.
package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/okapilabs/drainq/pkg/core"
	"github.com/okapilabs/drainq/pkg/security"
)

// GormStore implements core.Storage and core.Enqueuer against a shared
// relational database. Safety under concurrent callers comes from single
// conditional updates (compare-and-set), never read-then-write pairs.
type GormStore struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewGormStore creates a GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// DB exposes the underlying handle for callers that need raw access,
// such as operational tooling and tests.
func (s *GormStore) DB() *gorm.DB { return s.db }

// Migrate creates the job and lease tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Job{}, &core.WorkerLease{})
}

// Enqueue adds a job in queued state. Producer-side only; the scheduler
// never creates rows.
func (s *GormStore) Enqueue(ctx context.Context, job *core.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusQueued
	}
	if err := security.ValidateFamilyName(job.Family); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// FetchDue selects claimable jobs for a family, ordered by priority then
// age. Read-only: concurrent schedulers may see overlapping candidate
// sets; safety comes from Claim.
func (s *GormStore) FetchDue(ctx context.Context, family string, limit int) ([]*core.Job, error) {
	var jobs []*core.Job
	now := s.now()

	err := s.db.WithContext(ctx).
		Where("family = ?", family).
		Where("status IN ?", core.ClaimableStatuses).
		Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Find(&jobs).Error

	return jobs, err
}

// Claim conditionally transitions a job to processing and increments its
// attempt counter. The WHERE clause checks both status and the expected
// attempt count in one atomic update; zero rows affected means another
// worker won or the caller's view was stale.
func (s *GormStore) Claim(ctx context.Context, jobID string, expectedAttempts int) (bool, error) {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND attempts = ? AND status IN ?", jobID, expectedAttempts, core.ClaimableStatuses).
		Updates(map[string]any{
			"status":          core.StatusProcessing,
			"attempts":        expectedAttempts + 1,
			"last_attempt_at": now,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpdateStatus applies a terminal or retry transition. Terminal
// transitions stamp processed_at. Error messages are sanitized and the
// trail is truncated before storage.
func (s *GormStore) UpdateStatus(ctx context.Context, jobID string, update core.StatusUpdate) error {
	updates := map[string]any{
		"status":          update.Status,
		"next_attempt_at": update.NextAttemptAt,
		"last_error":      security.TruncateTrail(update.LastError),
	}
	if update.Status.Terminal() {
		updates["processed_at"] = s.now()
	}

	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

// CountDue is a best-effort gauge of claimable, due jobs. Returns -1 on
// query failure instead of an error; the gauge is non-critical.
func (s *GormStore) CountDue(ctx context.Context, family string) int {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("family = ?", family).
		Where("status IN ?", core.ClaimableStatuses).
		Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", s.now()).
		Count(&count).Error
	if err != nil {
		s.logger.Warn("queue depth query failed", "family", family, "error", err)
		return -1
	}
	return int(count)
}

// RequeueStale returns processing rows whose claim is older than the
// given age back to retry. Covers workers that crashed mid-batch after
// claiming; their lease expires but the claimed rows would otherwise
// stay in processing forever.
func (s *GormStore) RequeueStale(ctx context.Context, family string, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("family = ?", family).
		Where("status = ?", core.StatusProcessing).
		Where("last_attempt_at < ?", cutoff).
		Updates(map[string]any{
			"status":          core.StatusRetry,
			"next_attempt_at": s.now(),
		})
	return result.RowsAffected, result.Error
}

// AcquireLease grants the named lease if no unexpired lease exists. The
// takeover of an expired lease is one conditional write; the insert path
// handles the no-row-yet case and treats a lost insert race as denial.
func (s *GormStore) AcquireLease(ctx context.Context, name, holderID string, ttl time.Duration) (core.LeaseResult, error) {
	now := s.now()
	expiresAt := now.Add(ttl)

	result := s.db.WithContext(ctx).
		Model(&core.WorkerLease{}).
		Where("name = ? AND expires_at <= ?", name, now).
		Updates(map[string]any{
			"holder_id":   holderID,
			"acquired_at": now,
			"expires_at":  expiresAt,
		})
	if result.Error != nil {
		return core.LeaseResult{}, result.Error
	}
	if result.RowsAffected == 1 {
		return core.LeaseResult{Granted: true, HolderID: holderID, ExpiresAt: expiresAt}, nil
	}

	// No expired row to take over: the lease is either held or absent.
	var lease core.WorkerLease
	err := s.db.WithContext(ctx).First(&lease, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		lease = core.WorkerLease{
			Name:       name,
			HolderID:   holderID,
			AcquiredAt: now,
			ExpiresAt:  expiresAt,
		}
		if createErr := s.db.WithContext(ctx).Create(&lease).Error; createErr != nil {
			// Another holder won the insert race; report the winner.
			if readErr := s.db.WithContext(ctx).First(&lease, "name = ?", name).Error; readErr != nil {
				return core.LeaseResult{}, createErr
			}
			return core.LeaseResult{Granted: false, HolderID: lease.HolderID, ExpiresAt: lease.ExpiresAt}, nil
		}
		return core.LeaseResult{Granted: true, HolderID: holderID, ExpiresAt: expiresAt}, nil
	}
	if err != nil {
		return core.LeaseResult{}, err
	}

	return core.LeaseResult{Granted: false, HolderID: lease.HolderID, ExpiresAt: lease.ExpiresAt}, nil
}

// ReleaseLease clears the lease if still held by holderID. Best effort:
// releasing a lease that expired and was taken over is a no-op.
func (s *GormStore) ReleaseLease(ctx context.Context, name, holderID string) error {
	return s.db.WithContext(ctx).
		Where("name = ? AND holder_id = ?", name, holderID).
		Delete(&core.WorkerLease{}).Error
}
