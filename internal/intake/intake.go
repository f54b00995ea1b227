// Package intake implements the Job Intake & Outbox Writer (§4.1):
// the only entry point that creates a Mailing, performed as one
// database transaction that also records the corresponding
// OutboxMessage, per the transactional-outbox pattern.
package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/baechuer/mailblast/internal/apperrors"
	"github.com/baechuer/mailblast/internal/dbtx"
	"github.com/baechuer/mailblast/internal/logger"
	"github.com/baechuer/mailblast/internal/models"
	"github.com/baechuer/mailblast/internal/repository"
	"github.com/baechuer/mailblast/internal/storage"
)

// Result is the contract returned by Writer.Submit: {mailingId, outboxMessageId}.
type Result struct {
	MailingID       uuid.UUID
	OutboxMessageID uuid.UUID
}

// Writer accepts (filename, CSV bytes, targetQueue) and persists them
// atomically.
type Writer struct {
	pool     *pgxpool.Pool
	store    storage.Store
	mailings *repository.MailingRepository
	outbox   *repository.OutboxRepository
	log      zerolog.Logger
}

func New(pool *pgxpool.Pool, store storage.Store, mailings *repository.MailingRepository, outbox *repository.OutboxRepository) *Writer {
	return &Writer{
		pool:     pool,
		store:    store,
		mailings: mailings,
		outbox:   outbox,
		log:      logger.Named("intake"),
	}
}

// Submit runs the four intake steps in §4.1. The storage write
// happens before the DB transaction begins; if the transaction rolls
// back afterward, the stored object is left in place — intake is
// idempotent on retry because filename is unique. A resubmission gets
// a fresh mailing id and so stores a new object under a new pointer;
// the orphaned object is neither reused nor removed.
func (w *Writer) Submit(ctx context.Context, filename string, csvBytes []byte, targetQueue string) (Result, error) {
	existing, err := w.findByFilename(ctx, filename)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		return Result{}, apperrors.NewDuplicateJob(filename)
	}

	mailingID := uuid.New()
	pointer, err := w.store.Save(ctx, mailingID.String(), filename, bytes.NewReader(csvBytes))
	if err != nil {
		return Result{}, apperrors.NewStorage(fmt.Sprintf("save csv for %q", filename), err)
	}

	result := Result{MailingID: mailingID}
	now := time.Now()

	txErr := dbtx.WithTx(ctx, w.pool, func(ctx context.Context, tx pgx.Tx) error {
		mailing := &models.Mailing{
			ID:             mailingID,
			Filename:       filename,
			StorageURL:     pointer,
			Status:         models.MailingPending,
			TotalLines:     0,
			ProcessedLines: 0,
			Attempts:       0,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := w.mailings.CreateTx(ctx, tx, mailing); err != nil {
			return err
		}

		outboxID := uuid.New()
		outboxMsg := &models.OutboxMessage{
			ID:          outboxID,
			MailingID:   mailingID,
			TargetQueue: targetQueue,
			Payload: models.MailingPayload{
				MailingID:  mailingID,
				Filename:   filename,
				StorageURL: pointer,
				Attempt:    0,
				CreatedAt:  now,
			},
			Attempts:  0,
			Published: false,
			CreatedAt: now,
		}
		if err := w.outbox.CreateTx(ctx, tx, outboxMsg); err != nil {
			return err
		}

		result.OutboxMessageID = outboxID
		return nil
	})
	if txErr != nil {
		// The findByFilename pre-check above is a fast path, not the
		// guard: two concurrent submissions of the same filename can
		// both pass it before the unique constraint on mailings.filename
		// resolves the race here. Translate that case to the same
		// DuplicateJob error the pre-check produces instead of
		// surfacing a raw DB conflict.
		var pgErr *pgconn.PgError
		if errors.As(txErr, &pgErr) && pgErr.Code == "23505" {
			return Result{}, apperrors.NewDuplicateJob(filename)
		}
		w.log.Error().Err(txErr).Str("filename", filename).Msg("intake transaction failed; storage object left in place for retry")
		return Result{}, txErr
	}

	w.log.Info().Str("mailing_id", mailingID.String()).Str("filename", filename).Msg("mailing accepted")
	return result, nil
}

func (w *Writer) findByFilename(ctx context.Context, filename string) (*models.Mailing, error) {
	var id uuid.UUID
	err := w.pool.QueryRow(ctx, `SELECT id FROM mailings WHERE filename = $1`, filename).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("intake: check existing filename: %w", err)
	}
	return &models.Mailing{ID: id}, nil
}
