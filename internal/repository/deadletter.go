package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baechuer/mailblast/internal/models"
)

// DeadLetterRepository persists the job/row terminal-failure audit
// table (§3, §4.4 Step 7c) — distinct from OutboxRepository's
// outbox_dead_letters table, per the Open Question decision recorded
// in SPEC_FULL.md.
type DeadLetterRepository struct {
	pool *pgxpool.Pool
}

func NewDeadLetterRepository(pool *pgxpool.Pool) *DeadLetterRepository {
	return &DeadLetterRepository{pool: pool}
}

// Create records a terminal failure for a Mailing job.
func (r *DeadLetterRepository) Create(ctx context.Context, dl *models.DeadLetter) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dead_letters (id, mailing_id, filename, email, reason, attempts, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, dl.ID, dl.MailingID, dl.Filename, dl.Email, dl.Reason, dl.Attempts, dl.LastError, dl.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: create dead letter: %w", err)
	}
	return nil
}

// ListByMailing supports audit/status lookups for a given job.
func (r *DeadLetterRepository) ListByMailing(ctx context.Context, mailingID uuid.UUID) ([]*models.DeadLetter, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, mailing_id, filename, email, reason, attempts, last_error, created_at
		FROM dead_letters WHERE mailing_id = $1 ORDER BY created_at ASC
	`, mailingID)
	if err != nil {
		return nil, fmt.Errorf("repository: list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*models.DeadLetter
	for rows.Next() {
		var dl models.DeadLetter
		if err := rows.Scan(&dl.ID, &dl.MailingID, &dl.Filename, &dl.Email, &dl.Reason, &dl.Attempts, &dl.LastError, &dl.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan dead letter: %w", err)
		}
		out = append(out, &dl)
	}
	return out, rows.Err()
}
