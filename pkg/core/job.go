// Package core provides the domain models and interfaces for the drainq module.
package core

import (
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusRetry      JobStatus = "retry"
	StatusSucceeded  JobStatus = "succeeded"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is final. Terminal jobs are never
// picked up again; failed rows stay queryable for manual triage.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Claimable reports whether a job in this status is eligible for claiming.
// Processing rows are claimed-but-unresolved and must never be selected
// by a second claimant.
func (s JobStatus) Claimable() bool {
	return s == StatusQueued || s == StatusRetry
}

// ClaimableStatuses is the claim filter used in conditional updates.
var ClaimableStatuses = []JobStatus{StatusQueued, StatusRetry}

// Job represents a unit of work in a family's queue table.
// Rows are created by producers in queued state; all further transitions
// go through the scheduler's claim/update protocol.
type Job struct {
	ID            string     `gorm:"primaryKey;size:36"`
	Family        string     `gorm:"index;size:255;not null"`
	Payload       []byte     `gorm:"type:bytes"`
	Status        JobStatus  `gorm:"index;size:20;default:'queued'"`
	Priority      int        `gorm:"index;default:0"`
	Attempts      int        `gorm:"default:0"`
	LastError     string     `gorm:"type:text"`
	NextAttemptAt *time.Time `gorm:"index"`
	LastAttemptAt *time.Time
	ProcessedAt   *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// WorkerLease is the shared mutual-exclusion row for a scheduler scope.
// At most one non-expired lease exists per name; a crashed holder simply
// times out, there is no heartbeat protocol.
type WorkerLease struct {
	Name       string    `gorm:"primaryKey;size:255"`
	HolderID   string    `gorm:"size:36;not null"`
	AcquiredAt time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"index;not null"`
}

// Expired reports whether the lease has lapsed at the given instant.
func (l WorkerLease) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
