package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baechuer/mailblast/internal/models"
)

// EntryRepository persists MailingEntry rows, one per CSV recipient.
// The unique (mailing_id, email) constraint referenced throughout
// this file is what makes row processing safe to re-run after a
// redelivered job attempt (§3, §4.4 Step 5).
type EntryRepository struct {
	pool *pgxpool.Pool
}

func NewEntryRepository(pool *pgxpool.Pool) *EntryRepository {
	return &EntryRepository{pool: pool}
}

// UpsertPending inserts a new PENDING entry for (mailingID, email),
// or returns the existing row untouched if one already exists —
// the CSV resume path (§4.4 Step 4) re-walks rows already seen on a
// prior attempt and must not clobber their outcome.
func (r *EntryRepository) UpsertPending(ctx context.Context, mailingID uuid.UUID, email, verificationToken string) (*models.MailingEntry, error) {
	var e models.MailingEntry
	err := r.pool.QueryRow(ctx, `
		INSERT INTO mailing_entries (id, mailing_id, email, verification_token, status, attempts, last_attempt, external_id, invalid_reason, validation_details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, NULL, '', '', '', $6, $6)
		ON CONFLICT (mailing_id, email) DO UPDATE SET mailing_id = mailing_entries.mailing_id
		RETURNING id, mailing_id, email, verification_token, status, attempts, last_attempt, external_id, invalid_reason, validation_details, created_at, updated_at
	`, uuid.New(), mailingID, email, verificationToken, models.EntryPending, time.Now()).Scan(
		&e.ID, &e.MailingID, &e.Email, &e.VerificationToken, &e.Status, &e.Attempts, &e.LastAttempt, &e.ExternalID, &e.InvalidReason, &e.ValidationDetails, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("repository: upsert pending entry: %w", err)
	}
	return &e, nil
}

// GetByMailingAndEmail reports the current outcome for a row, or nil
// when no row exists. The worker's resume path reads the status that
// UpsertPending returns instead of calling this.
func (r *EntryRepository) GetByMailingAndEmail(ctx context.Context, mailingID uuid.UUID, email string) (*models.MailingEntry, error) {
	var e models.MailingEntry
	err := r.pool.QueryRow(ctx, `
		SELECT id, mailing_id, email, verification_token, status, attempts, last_attempt, external_id, invalid_reason, validation_details, created_at, updated_at
		FROM mailing_entries WHERE mailing_id = $1 AND email = $2
	`, mailingID, email).Scan(&e.ID, &e.MailingID, &e.Email, &e.VerificationToken, &e.Status, &e.Attempts, &e.LastAttempt, &e.ExternalID, &e.InvalidReason, &e.ValidationDetails, &e.CreatedAt, &e.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get entry: %w", err)
	}
	return &e, nil
}

// MarkSending flips a row to SENDING just before the send attempt, so
// a crash mid-send is observable and eligible for the §4.9 sweep back
// to PENDING.
func (r *EntryRepository) MarkSending(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE mailing_entries SET status = $2, last_attempt = $3, attempts = attempts + 1, updated_at = $3 WHERE id = $1
	`, id, models.EntrySending, at)
	if err != nil {
		return fmt.Errorf("repository: mark sending: %w", err)
	}
	return nil
}

// MarkSent records a successful send and its provider message id.
func (r *EntryRepository) MarkSent(ctx context.Context, id uuid.UUID, externalID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE mailing_entries SET status = $2, external_id = $3, updated_at = $4 WHERE id = $1
	`, id, models.EntrySent, externalID, at)
	if err != nil {
		return fmt.Errorf("repository: mark sent: %w", err)
	}
	return nil
}

// MarkFailed records a terminal per-row send failure (after row-level
// retries in §4.4 Step 5c are exhausted).
func (r *EntryRepository) MarkFailed(ctx context.Context, id uuid.UUID, detail string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE mailing_entries SET status = $2, validation_details = $3, updated_at = $4 WHERE id = $1
	`, id, models.EntryFailed, detail, at)
	if err != nil {
		return fmt.Errorf("repository: mark failed: %w", err)
	}
	return nil
}

// MarkInvalid records a validation rejection (§4.4 Step 5b) without
// ever attempting a send.
func (r *EntryRepository) MarkInvalid(ctx context.Context, id uuid.UUID, reason models.InvalidReason, detail string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE mailing_entries SET status = $2, invalid_reason = $3, validation_details = $4, updated_at = $5 WHERE id = $1
	`, id, models.EntryInvalid, reason, detail, at)
	if err != nil {
		return fmt.Errorf("repository: mark invalid: %w", err)
	}
	return nil
}

// ResetStaleSending implements the §4.9 sweep: an entry left in
// SENDING by a crashed worker, whose last_attempt is older than
// staleThreshold, goes back to PENDING so the next attempt retries
// it.
func (r *EntryRepository) ResetStaleSending(ctx context.Context, now time.Time, staleThreshold time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE mailing_entries
		SET status = $1
		WHERE status = $2 AND (last_attempt IS NULL OR $3 - last_attempt >= $4)
	`, models.EntryPending, models.EntrySending, now, staleThreshold)
	if err != nil {
		return 0, fmt.Errorf("repository: reset stale sending: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountStaleSending is the read-only counterpart used by the
// NeedsRecovery health probe.
func (r *EntryRepository) CountStaleSending(ctx context.Context, now time.Time, staleThreshold time.Duration) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM mailing_entries
		WHERE status = $1 AND (last_attempt IS NULL OR $2 - last_attempt >= $3)
	`, models.EntrySending, now, staleThreshold).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("repository: count stale sending: %w", err)
	}
	return n, nil
}

// CountByMailingAndStatus counts one mailing's entries in a given
// status. The worker's failure-rate gate (§4.4 Step 6) tallies
// failures in memory and does not call it.
func (r *EntryRepository) CountByMailingAndStatus(ctx context.Context, mailingID uuid.UUID, status models.EntryStatus) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM mailing_entries WHERE mailing_id = $1 AND status = $2
	`, mailingID, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("repository: count by mailing and status: %w", err)
	}
	return n, nil
}

// ListByMailing supports the status/entries query endpoint, paginated
// by a simple offset/limit.
func (r *EntryRepository) ListByMailing(ctx context.Context, mailingID uuid.UUID, offset, limit int) ([]*models.MailingEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, mailing_id, email, verification_token, status, attempts, last_attempt, external_id, invalid_reason, validation_details, created_at, updated_at
		FROM mailing_entries WHERE mailing_id = $1 ORDER BY created_at ASC OFFSET $2 LIMIT $3
	`, mailingID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: list entries: %w", err)
	}
	defer rows.Close()

	var out []*models.MailingEntry
	for rows.Next() {
		var e models.MailingEntry
		if err := rows.Scan(&e.ID, &e.MailingID, &e.Email, &e.VerificationToken, &e.Status, &e.Attempts, &e.LastAttempt, &e.ExternalID, &e.InvalidReason, &e.ValidationDetails, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
