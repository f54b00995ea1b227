package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baechuer/mailblast/internal/models"
)

// OutboxRepository persists OutboxMessage rows: the write side of the
// transactional outbox pattern described in §4.1/§4.2.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// CreateTx inserts a new OutboxMessage in the same transaction as the
// Mailing row it publishes for.
func (r *OutboxRepository) CreateTx(ctx context.Context, q Queryer, o *models.OutboxMessage) error {
	payload, err := json.Marshal(o.Payload)
	if err != nil {
		return fmt.Errorf("repository: marshal outbox payload: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO outbox_messages (id, mailing_id, target_queue, payload, attempts, published, published_at, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, o.ID, o.MailingID, o.TargetQueue, payload, o.Attempts, o.Published, o.PublishedAt, o.LastError, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: create outbox message: %w", err)
	}
	return nil
}

// FetchUnpublished returns up to limit unpublished rows, oldest first,
// for the Outbox Publisher's poll loop (§4.2).
func (r *OutboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, mailing_id, target_queue, payload, attempts, published, published_at, last_error, created_at
		FROM outbox_messages
		WHERE published = false
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: fetch unpublished: %w", err)
	}
	defer rows.Close()

	var out []*models.OutboxMessage
	for rows.Next() {
		m, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanOutbox(row pgx.Rows) (*models.OutboxMessage, error) {
	var o models.OutboxMessage
	var payload []byte
	if err := row.Scan(&o.ID, &o.MailingID, &o.TargetQueue, &payload, &o.Attempts, &o.Published, &o.PublishedAt, &o.LastError, &o.CreatedAt); err != nil {
		return nil, fmt.Errorf("repository: scan outbox message: %w", err)
	}
	if err := json.Unmarshal(payload, &o.Payload); err != nil {
		return nil, fmt.Errorf("repository: unmarshal outbox payload: %w", err)
	}
	return &o, nil
}

// MarkPublished flips an outbox row's published flag once the broker
// confirms receipt.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_messages SET published = true, published_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("repository: mark published: %w", err)
	}
	return nil
}

// RecordPublishFailure increments the attempt counter and records the
// error after a failed publish.
func (r *OutboxRepository) RecordPublishFailure(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_messages SET attempts = attempts + 1, last_error = $2 WHERE id = $1
	`, id, lastError)
	if err != nil {
		return fmt.Errorf("repository: record publish failure: %w", err)
	}
	return nil
}

// Delete removes a published (or dead-lettered) outbox row.
func (r *OutboxRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM outbox_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: delete outbox message: %w", err)
	}
	return nil
}

// CreateDeadLetter moves an outbox row that exhausted its publish
// attempts into the audit table (§4.2).
func (r *OutboxRepository) CreateDeadLetter(ctx context.Context, dl *models.OutboxDeadLetter) error {
	payload, err := json.Marshal(dl.Payload)
	if err != nil {
		return fmt.Errorf("repository: marshal outbox dead letter payload: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO outbox_dead_letters (id, mailing_id, target_queue, payload, attempts, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, dl.ID, dl.MailingID, dl.TargetQueue, payload, dl.Attempts, dl.LastError, dl.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: create outbox dead letter: %w", err)
	}
	return nil
}
