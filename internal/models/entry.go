package models

import (
	"time"

	"github.com/google/uuid"
)

// EntryStatus is the lifecycle state of a single recipient row.
type EntryStatus string

const (
	EntryPending EntryStatus = "PENDING"
	EntrySending EntryStatus = "SENDING"
	EntrySent    EntryStatus = "SENT"
	EntryFailed  EntryStatus = "FAILED"
	EntryInvalid EntryStatus = "INVALID"
)

// InvalidReason is a short enum-like code recorded when validation
// rejects a row before any send attempt.
type InvalidReason string

const (
	InvalidSyntax     InvalidReason = "syntax"
	InvalidDisposable InvalidReason = "disposable"
	InvalidMXFail     InvalidReason = "mx-fail"
)

// MailingEntry is the per-recipient result record. Uniqueness of
// (MailingID, Email) is enforced at the database layer and is the
// mechanism that makes row processing idempotent across redelivered
// job attempts.
type MailingEntry struct {
	ID                uuid.UUID
	MailingID         uuid.UUID
	Email             string
	VerificationToken string
	Status            EntryStatus
	Attempts          int
	LastAttempt       *time.Time
	ExternalID        string
	InvalidReason     InvalidReason
	ValidationDetails string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
