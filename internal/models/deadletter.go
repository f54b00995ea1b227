package models

import (
	"time"

	"github.com/google/uuid"
)

// DeadLetter is an audit row for a terminal failure. For job-level
// DLQ entries, Email is left empty and Filename carries the job's
// filename; for row-level DLQ entries (reserved for future per-row
// terminal audit), Email identifies the recipient. Keeping both
// fields on one struct but populating only one per row avoids the
// source's filename-as-email conflation called out in spec §9 while
// still sharing a single audit table.
type DeadLetter struct {
	ID          uuid.UUID
	MailingID   uuid.UUID
	Filename    string
	Email       string
	Reason      string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
}
