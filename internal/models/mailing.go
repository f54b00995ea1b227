// Package models defines the durable entities persisted in the
// relational store, per the system's data model.
package models

import (
	"time"

	"github.com/google/uuid"
)

// MailingStatus is the lifecycle state of a Mailing batch job.
type MailingStatus string

const (
	MailingPending    MailingStatus = "PENDING"
	MailingQueued     MailingStatus = "QUEUED"
	MailingProcessing MailingStatus = "PROCESSING"
	MailingCompleted  MailingStatus = "COMPLETED"
	MailingFailed     MailingStatus = "FAILED"
	MailingPaused     MailingStatus = "PAUSED"

	// MailingRunning is a legacy state no longer written by current
	// code; crash recovery demotes any surviving row to PAUSED.
	MailingRunning MailingStatus = "RUNNING"
)

// Mailing is a batch email job: one uploaded CSV of recipients.
type Mailing struct {
	ID             uuid.UUID
	Filename       string
	StorageURL     string
	Status         MailingStatus
	TotalLines     int
	ProcessedLines int
	Attempts       int
	LastAttempt    *time.Time
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EligibleForLock reports whether this Mailing's current status
// satisfies the worker's compare-and-set ownership predicate (§4.4
// Step 2), given the stale-lock threshold and the current time. It
// mirrors the SQL predicate used by the repository's conditional
// UPDATE — kept here too so unit tests can exercise the same logic
// without a database.
func (m Mailing) EligibleForLock(now time.Time, staleThreshold time.Duration) bool {
	switch m.Status {
	case MailingPending, MailingQueued, MailingFailed:
		return true
	case MailingProcessing:
		return m.LastAttempt == nil || now.Sub(*m.LastAttempt) >= staleThreshold
	default:
		return false
	}
}
