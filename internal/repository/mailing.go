// Package repository holds the pgxpool-backed data access layer for
// every durable entity in the data model (§3). Query shape and error
// handling are grounded on media-service/internal/repository and
// media-worker/internal/consumer, the only services in the monorepo
// that talk to Postgres directly — email-service itself has no DB
// layer to imitate.
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

// MailingRepository persists Mailing rows.
type MailingRepository struct {
	pool *pgxpool.Pool
}

func NewMailingRepository(pool *pgxpool.Pool) *MailingRepository {
	return &MailingRepository{pool: pool}
}

// Create inserts a new Mailing. Callers running this inside the
// intake transaction should pass the transaction's pgx.Tx via
// CreateTx instead.
func (r *MailingRepository) Create(ctx context.Context, m *models.Mailing) error {
	return r.CreateTx(ctx, r.pool, m)
}

// CreateTx is the same insert run against an arbitrary pgx.Tx/Pool,
// letting Job Intake combine it with the OutboxMessage insert in one
// transaction (§4.1).
func (r *MailingRepository) CreateTx(ctx context.Context, q Queryer, m *models.Mailing) error {
	_, err := q.Exec(ctx, `
		INSERT INTO mailings (id, filename, storage_url, status, total_lines, processed_lines, attempts, last_attempt, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, m.ID, m.Filename, m.StorageURL, m.Status, m.TotalLines, m.ProcessedLines, m.Attempts, m.LastAttempt, m.ErrorMessage, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: create mailing: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when no row matches, per the pattern used
// throughout media-service's repositories.
func (r *MailingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Mailing, error) {
	var m models.Mailing
	err := r.pool.QueryRow(ctx, `
		SELECT id, filename, storage_url, status, total_lines, processed_lines, attempts, last_attempt, error_message, created_at, updated_at
		FROM mailings WHERE id = $1
	`, id).Scan(&m.ID, &m.Filename, &m.StorageURL, &m.Status, &m.TotalLines, &m.ProcessedLines, &m.Attempts, &m.LastAttempt, &m.ErrorMessage, &m.CreatedAt, &m.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get mailing: %w", err)
	}
	return &m, nil
}

// AcquireLock implements the §4.4 Step 2 compare-and-set ownership
// acquisition as one SQL statement under the database's default
// snapshot isolation, per the "single-SQL-statement CAS" design note:
// the UPDATE's WHERE clause encodes the same eligibility predicate as
// models.Mailing.EligibleForLock, so a concurrent worker racing for
// the same row loses unless it targets a row that is PENDING, QUEUED,
// FAILED, or PROCESSING with a stale last_attempt. RETURNING confirms
// whether this caller won the race.
func (r *MailingRepository) AcquireLock(ctx context.Context, id uuid.UUID, now time.Time, staleThreshold time.Duration) (*models.Mailing, error) {
	var m models.Mailing
	err := r.pool.QueryRow(ctx, `
		UPDATE mailings
		SET status = $2, attempts = attempts + 1, last_attempt = $3, updated_at = $3
		WHERE id = $1
		  AND (
		        status IN ('PENDING', 'QUEUED', 'FAILED')
		        OR (status = 'PROCESSING' AND (last_attempt IS NULL OR $3 - last_attempt >= $4))
		      )
		RETURNING id, filename, storage_url, status, total_lines, processed_lines, attempts, last_attempt, error_message, created_at, updated_at
	`, id, models.MailingProcessing, now, staleThreshold).Scan(
		&m.ID, &m.Filename, &m.StorageURL, &m.Status, &m.TotalLines, &m.ProcessedLines, &m.Attempts, &m.LastAttempt, &m.ErrorMessage, &m.CreatedAt, &m.UpdatedAt)
	if err == pgx.ErrNoRows {
		// Someone else holds the lock, or the row is terminal. Not an
		// error: the caller treats this as "skip this delivery".
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: acquire lock: %w", err)
	}
	return &m, nil
}

// SetTotalLines records the row count discovered on (re-)parsing the
// CSV, per §4.4 Step 4 ("if totalLines differs from a prior recorded
// value, update it").
func (r *MailingRepository) SetTotalLines(ctx context.Context, id uuid.UUID, totalLines int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE mailings SET total_lines = $2, updated_at = $3 WHERE id = $1
	`, id, totalLines, time.Now())
	if err != nil {
		return fmt.Errorf("repository: set total lines: %w", err)
	}
	return nil
}

// UpdateProgress checkpoints processed_lines, per §4.4 Step 5's
// yield-every-N-rows checkpoint write.
func (r *MailingRepository) UpdateProgress(ctx context.Context, id uuid.UUID, processedLines int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE mailings SET processed_lines = $2, updated_at = $3 WHERE id = $1
	`, id, processedLines, time.Now())
	if err != nil {
		return fmt.Errorf("repository: update progress: %w", err)
	}
	return nil
}

// Finalize sets the terminal outcome of a processing attempt (§4.4
// Step 7): COMPLETED on success, FAILED with an incremented attempt
// count for a scheduled retry, or FAILED with an error message when
// the job is being routed to the DLQ.
func (r *MailingRepository) Finalize(ctx context.Context, id uuid.UUID, status models.MailingStatus, attempts int, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE mailings SET status = $2, attempts = $3, error_message = $4, updated_at = $5 WHERE id = $1
	`, id, status, attempts, errMsg, time.Now())
	if err != nil {
		return fmt.Errorf("repository: finalize mailing: %w", err)
	}
	return nil
}

// ResetStaleProcessing and DemoteLegacyRunning implement §4.9 crash
// recovery. Both return the number of rows affected for the recovery
// summary.

// ResetStaleProcessing clears last_attempt on PROCESSING mailings
// whose updated_at is older than staleThreshold, letting the next
// re-delivered message re-acquire the lock via the staleness branch
// of §4.4 Step 2. processed_lines is untouched, preserving resume.
func (r *MailingRepository) ResetStaleProcessing(ctx context.Context, now time.Time, staleThreshold time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE mailings
		SET last_attempt = NULL
		WHERE status = $1 AND $2 - updated_at >= $3
	`, models.MailingProcessing, now, staleThreshold)
	if err != nil {
		return 0, fmt.Errorf("repository: reset stale processing: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DemoteLegacyRunning moves any surviving legacy RUNNING row to
// PAUSED, per §4.9.
func (r *MailingRepository) DemoteLegacyRunning(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE mailings SET status = $2, updated_at = $3 WHERE status = $1
	`, models.MailingRunning, models.MailingPaused, now)
	if err != nil {
		return 0, fmt.Errorf("repository: demote legacy running: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus supports the crash-recovery health probe
// (NeedsRecovery).
func (r *MailingRepository) CountByStatus(ctx context.Context, status models.MailingStatus) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM mailings WHERE status = $1`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("repository: count by status: %w", err)
	}
	return n, nil
}

// CountStaleProcessing reports how many PROCESSING rows have an
// updated_at older than staleThreshold, without mutating anything —
// the read-only half of crash recovery's health probe.
func (r *MailingRepository) CountStaleProcessing(ctx context.Context, now time.Time, staleThreshold time.Duration) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM mailings
		WHERE status = $1 AND $2 - updated_at >= $3
	`, models.MailingProcessing, now, staleThreshold).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("repository: count stale processing: %w", err)
	}
	return n, nil
}
