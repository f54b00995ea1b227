package models

import (
	"time"

	"github.com/google/uuid"
)

// OutboxMessage is a durable publication intent: the write side of
// the transactional outbox pattern. One row is created per Mailing at
// intake time, in the same DB transaction as the Mailing insert.
type OutboxMessage struct {
	ID          uuid.UUID
	MailingID   uuid.UUID
	TargetQueue string
	Payload     MailingPayload
	Attempts    int
	Published   bool
	PublishedAt *time.Time
	LastError   string
	CreatedAt   time.Time
}

// MailingPayload is the tagged broker payload carried by the main
// queue, the retry queues, and the DLQ. Main-queue deliveries carry
// only the base fields; retry re-publishes add LastError/RetriedAt;
// DLQ messages add FinalError/MovedToDLQAt/TotalAttempts. All three
// variants share one JSON schema that tolerates the optional fields
// being absent, per the "tagged payload" design note.
type MailingPayload struct {
	MailingID  uuid.UUID `json:"mailingId"`
	Filename   string    `json:"filename"`
	StorageURL string    `json:"storageUrl"`
	Attempt    int       `json:"attempt"`
	CreatedAt  time.Time `json:"createdAt"`

	// Retry re-publish fields (§6).
	LastError string     `json:"lastError,omitempty"`
	RetriedAt *time.Time `json:"retriedAt,omitempty"`

	// DLQ fields (§6).
	FinalError    string     `json:"finalError,omitempty"`
	MovedToDLQAt  *time.Time `json:"movedToDLQAt,omitempty"`
	TotalAttempts int        `json:"totalAttempts,omitempty"`
}

// OutboxDeadLetter is the audit row for an OutboxMessage that could
// not be published after OutboxMaxAttempts tries (§4.2). This is kept
// as a table distinct from the row/job DeadLetter table (deadletter.go), per
// the Open Question in spec §9 about the source conflating the two.
type OutboxDeadLetter struct {
	ID          uuid.UUID
	MailingID   uuid.UUID
	TargetQueue string
	Payload     MailingPayload
	Attempts    int
	LastError   string
	CreatedAt   time.Time
}
