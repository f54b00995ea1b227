// Package worker implements the Worker Consumer (§4.4): the most
// complex component in the pipeline. One Worker.Handle call processes
// a single broker delivery end to end — lock acquisition, CSV
// fetch/parse/resume, per-row validation and send, checkpointing, and
// the final retry/DLQ/complete decision.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/mailblast/internal/broker/rabbitmq"
	"github.com/baechuer/mailblast/internal/emailclient"
	"github.com/baechuer/mailblast/internal/logger"
	"github.com/baechuer/mailblast/internal/models"
	"github.com/baechuer/mailblast/internal/repository"
	"github.com/baechuer/mailblast/internal/retrypolicy"
	"github.com/baechuer/mailblast/internal/storage"
	"github.com/baechuer/mailblast/internal/validation"
)

// Config holds the tunables named in §4.4/§6.
type Config struct {
	StaleLockThreshold time.Duration // default 30s
	CheckpointInterval int           // default 100
	YieldEvery         int           // default 10
	FailureThreshold   float64       // default 0.20
	Retry              retrypolicy.Config
	PublishTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		StaleLockThreshold: 30 * time.Second,
		CheckpointInterval: 100,
		YieldEvery:         10,
		FailureThreshold:   0.20,
		Retry:              retrypolicy.DefaultConfig(),
		PublishTimeout:     10 * time.Second,
	}
}

// Metrics is the subset of metric counters the Worker Consumer
// updates; internal/metrics.Registry satisfies this.
type Metrics interface {
	IncJobRetry(tier string)
	IncJobDeadLettered()
}

type noopMetrics struct{}

func (noopMetrics) IncJobRetry(string)  {}
func (noopMetrics) IncJobDeadLettered() {}

// Worker processes deliveries from the main queue.
type Worker struct {
	cfg Config

	mailings    *repository.MailingRepository
	entries     *repository.EntryRepository
	deadletters *repository.DeadLetterRepository
	store       storage.Store
	validator   *validation.Validator
	email       *emailclient.Client
	publisher   *rabbitmq.Publisher
	metrics     Metrics

	log zerolog.Logger
}

func New(
	cfg Config,
	mailings *repository.MailingRepository,
	entries *repository.EntryRepository,
	deadletters *repository.DeadLetterRepository,
	store storage.Store,
	validator *validation.Validator,
	email *emailclient.Client,
	publisher *rabbitmq.Publisher,
	metrics Metrics,
) *Worker {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Worker{
		cfg:         cfg,
		mailings:    mailings,
		entries:     entries,
		deadletters: deadletters,
		store:       store,
		validator:   validator,
		email:       email,
		publisher:   publisher,
		metrics:     metrics,
		log:         logger.Named("worker"),
	}
}

// Handle is the rabbitmq.Handler entry point: one delivery in, one
// ack/nack decision out. A non-nil return means the delivery should
// be nacked without requeue (unexpected parse/system error, per
// §4.4's "always ACK on terminal paths" rule). A payload parse error
// or a database error while acquiring the Step 2 lock returns non-nil;
// everything after a lock attempt that succeeds acks and relies on
// explicit retry/DLQ re-publishes instead of broker-level requeue.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) error {
	var payload models.MailingPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		return fmt.Errorf("worker: parse payload: %w", err)
	}

	log := w.log.With().Str("mailing_id", payload.MailingID.String()).Int("attempt", payload.Attempt).Logger()

	// Step 2 — acquire ownership lock.
	mailing, err := w.mailings.AcquireLock(ctx, payload.MailingID, time.Now(), w.cfg.StaleLockThreshold)
	if err != nil {
		return fmt.Errorf("worker: acquire lock: %w", err)
	}
	if mailing == nil {
		log.Info().Msg("lock not acquired; another worker owns this job or it is already terminal")
		return nil
	}

	outcome := w.process(ctx, mailing, payload, log)
	w.finalize(ctx, mailing, payload, outcome, log)
	return nil
}

// rowOutcome tallies the per-row results of one processing pass.
type rowOutcome struct {
	total  int
	failed int
	err    error // set on unrecoverable fetch/parse errors (Step 3/4 failures)
}

// process runs Steps 3-6: fetch, parse+resume, per-row send, and the
// failure-rate gate.
func (w *Worker) process(ctx context.Context, mailing *models.Mailing, payload models.MailingPayload, log zerolog.Logger) rowOutcome {
	// Step 3 — fetch CSV.
	rc, err := w.store.Open(ctx, mailing.StorageURL)
	if err != nil {
		return rowOutcome{err: fmt.Errorf("fetch csv: %w", err)}
	}
	defer rc.Close()

	// Step 4 — parse + resume.
	header, rows, err := loadCSV(rc)
	if err != nil {
		return rowOutcome{err: fmt.Errorf("parse csv: %w", err)}
	}

	emailCol := emailColumn(header)
	if emailCol == "" {
		return rowOutcome{err: fmt.Errorf("csv missing an email column")}
	}

	totalLines := len(rows)
	if totalLines != mailing.TotalLines {
		if err := w.mailings.SetTotalLines(ctx, mailing.ID, totalLines); err != nil {
			log.Warn().Err(err).Msg("failed recording updated total line count")
		}
	}

	startIndex := mailing.ProcessedLines
	if startIndex > totalLines {
		startIndex = totalLines
	}

	failed := 0
	lastCheckpoint := startIndex

	for i := startIndex; i < totalLines; i++ {
		row := rows[i]
		if w.processRow(ctx, payload.MailingID, row[emailCol], log) != nil {
			failed++
		}

		// Step 5(e) — yield periodically.
		if (i+1)%w.cfg.YieldEvery == 0 {
			runtime.Gosched()
		}

		// Step 5(f) — checkpoint every CheckpointInterval rows, and on
		// the final row.
		if (i+1)-lastCheckpoint >= w.cfg.CheckpointInterval || i == totalLines-1 {
			if err := w.mailings.UpdateProgress(ctx, mailing.ID, i+1); err != nil {
				log.Warn().Err(err).Int("processed_lines", i+1).Msg("checkpoint write failed")
			} else {
				lastCheckpoint = i + 1
			}
		}
	}

	return rowOutcome{total: totalLines, failed: failed}
}

// processRow implements Step 5(a)-(d) for a single recipient. It
// returns a non-nil error when the row did not end in SENT, purely so
// the caller can tally failed.
func (w *Worker) processRow(ctx context.Context, mailingID uuid.UUID, email string, log zerolog.Logger) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("blank email column")
	}

	token, err := newVerificationToken()
	if err != nil {
		return err
	}

	// (b) three-layer validation, short-circuit on first failure.
	result := w.validator.Validate(ctx, email)
	if !result.Valid {
		entry, uerr := w.entries.UpsertPending(ctx, mailingID, email, token)
		if uerr == nil {
			_ = w.entries.MarkInvalid(ctx, entry.ID, result.Reason, result.Detail, time.Now())
		}
		return fmt.Errorf("validation failed: %s", result.Reason)
	}

	entry, err := w.entries.UpsertPending(ctx, mailingID, email, token)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	if entry.Status == models.EntrySent || entry.Status == models.EntryInvalid {
		// Already terminal from a prior attempt (resume path); nothing
		// further to do. SENT is not a failure; INVALID is still tallied
		// as failed, as it was on the first pass.
		if entry.Status == models.EntryInvalid {
			return fmt.Errorf("already invalid")
		}
		return nil
	}

	if err := w.entries.MarkSending(ctx, entry.ID, time.Now()); err != nil {
		log.Warn().Err(err).Str("email", email).Msg("mark sending failed")
	}

	// (c) idempotency key.
	key := idempotencyKey(mailingID, email, token)

	// (d) send, with a local 429 retry loop.
	res := w.email.SendEmail(ctx, email, "", token, key)
	for attempt := 0; !res.Success && res.HasStatus && res.Status == 429 && attempt < len(retrypolicy.RowRetryDelays); attempt++ {
		select {
		case <-time.After(retrypolicy.RowRetryDelays[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
		res = w.email.SendEmail(ctx, email, "", token, key)
	}

	if res.Success {
		if err := w.entries.MarkSent(ctx, entry.ID, res.MessageID, time.Now()); err != nil {
			log.Warn().Err(err).Str("email", email).Msg("mark sent failed")
		}
		return nil
	}

	detail := "send failed"
	if res.Err != nil {
		detail = res.Err.Error()
		if len(detail) > 500 {
			detail = detail[:500]
		}
	}
	if err := w.entries.MarkFailed(ctx, entry.ID, detail, time.Now()); err != nil {
		log.Warn().Err(err).Str("email", email).Msg("mark failed failed")
	}
	return fmt.Errorf("%s", detail)
}

// finalize implements Step 7: success -> COMPLETED; failure with
// retries remaining -> FAILED + republish to the matching retry tier;
// failure exhausted -> FAILED + DeadLetter row + republish to the DLQ.
func (w *Worker) finalize(ctx context.Context, mailing *models.Mailing, payload models.MailingPayload, outcome rowOutcome, log zerolog.Logger) {
	if outcome.err != nil {
		w.finalizeFailure(ctx, mailing, payload, outcome.err.Error(), log)
		return
	}

	failureRate := 0.0
	if outcome.total > 0 {
		failureRate = float64(outcome.failed) / float64(outcome.total)
	}

	if failureRate <= w.cfg.FailureThreshold {
		if err := w.mailings.Finalize(ctx, mailing.ID, models.MailingCompleted, mailing.Attempts, ""); err != nil {
			log.Error().Err(err).Msg("failed marking mailing completed")
		}
		log.Info().Int("total", outcome.total).Int("failed", outcome.failed).Msg("mailing completed")
		return
	}

	w.finalizeFailure(ctx, mailing, payload, "failure rate exceeded", log)
}

func (w *Worker) finalizeFailure(ctx context.Context, mailing *models.Mailing, payload models.MailingPayload, reason string, log zerolog.Logger) {
	if err := w.mailings.Finalize(ctx, mailing.ID, models.MailingFailed, mailing.Attempts, reason); err != nil {
		log.Error().Err(err).Msg("failed marking mailing failed")
	}

	nextAttempt := payload.Attempt + 1
	retriesExhausted := nextAttempt >= w.cfg.Retry.MaxRetries

	pubCtx, cancel := context.WithTimeout(ctx, w.cfg.PublishTimeout)
	defer cancel()

	if !retriesExhausted {
		now := time.Now()
		retryPayload := payload
		retryPayload.Attempt = nextAttempt
		retryPayload.LastError = reason
		retryPayload.RetriedAt = &now

		tier := retrypolicy.RetryQueueForAttempt(nextAttempt)
		queue := rabbitmq.RetryQueueName(tier)
		w.metrics.IncJobRetry(tier)
		if err := w.publisher.PublishJSON(pubCtx, queue, mailing.ID.String(), retryPayload); err != nil {
			log.Error().Err(err).Str("queue", queue).Msg("failed republishing to retry tier")
		}
		return
	}

	now := time.Now()
	dl := &models.DeadLetter{
		ID:        uuid.New(),
		MailingID: mailing.ID,
		Filename:  mailing.Filename,
		Reason:    reason,
		Attempts:  nextAttempt,
		LastError: reason,
		CreatedAt: now,
	}
	if err := w.deadletters.Create(ctx, dl); err != nil {
		log.Error().Err(err).Msg("failed writing dead letter")
	}
	w.metrics.IncJobDeadLettered()

	dlqPayload := payload
	dlqPayload.Attempt = nextAttempt
	dlqPayload.FinalError = reason
	dlqPayload.MovedToDLQAt = &now
	dlqPayload.TotalAttempts = nextAttempt

	if err := w.publisher.PublishJSON(pubCtx, rabbitmq.QueueDLQ, mailing.ID.String(), dlqPayload); err != nil {
		log.Error().Err(err).Msg("failed publishing to dlq")
	}
}
