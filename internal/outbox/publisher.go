// Package outbox implements the Outbox Publisher (§4.2): a long-lived
// polling loop that bridges committed OutboxMessage rows onto the
// broker, with bounded retries and a terminal audit table for rows
// that never get out the door.
package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/mailblast/internal/broker/rabbitmq"
	"github.com/baechuer/mailblast/internal/logger"
	"github.com/baechuer/mailblast/internal/models"
	"github.com/baechuer/mailblast/internal/repository"
)

// Config configures a Publisher's poll loop.
type Config struct {
	PollInterval      time.Duration // default 5s
	BatchSize         int           // default 10
	MaxPublishAttempts int          // default 5
	PublishTimeout    time.Duration // bound on waiting for a broker confirm
}

func DefaultConfig() Config {
	return Config{
		PollInterval:       5 * time.Second,
		BatchSize:          10,
		MaxPublishAttempts: 5,
		PublishTimeout:     10 * time.Second,
	}
}

// Metrics is the subset of metric counters the Outbox Publisher
// updates; internal/metrics.Registry satisfies this.
type Metrics interface {
	ObserveOutboxPublishLag(seconds float64)
	IncOutboxDeadLettered()
}

type noopMetrics struct{}

func (noopMetrics) ObserveOutboxPublishLag(float64) {}
func (noopMetrics) IncOutboxDeadLettered()          {}

// Publisher runs the outbox poll loop described in §4.2.
type Publisher struct {
	cfg     Config
	repo    *repository.OutboxRepository
	broker  *rabbitmq.Publisher
	metrics Metrics
	log     zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(cfg Config, repo *repository.OutboxRepository, broker *rabbitmq.Publisher, metrics Metrics) *Publisher {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Publisher{
		cfg:     cfg,
		repo:    repo,
		broker:  broker,
		metrics: metrics,
		log:     logger.Named("outbox_publisher"),
	}
}

// Start launches the poll loop in the background.
func (p *Publisher) Start(ctx context.Context) {
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go func() {
		defer close(p.doneCh)
		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it to finish, bounded
// by ctx — satisfies shutdown.Stoppable.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.stopCh == nil {
		return nil
	}
	close(p.stopCh)
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick runs one poll cycle: §4.2 steps 1-3.
func (p *Publisher) tick(ctx context.Context) {
	if !p.broker.Live() {
		p.log.Debug().Msg("broker channel not live; skipping this tick")
		return
	}

	rows, err := p.repo.FetchUnpublished(ctx, p.cfg.BatchSize)
	if err != nil {
		p.log.Error().Err(err).Msg("fetch unpublished outbox rows failed")
		return
	}

	for _, row := range rows {
		p.publishOne(ctx, row)
	}
}

func (p *Publisher) publishOne(ctx context.Context, row *models.OutboxMessage) {
	log := p.log.With().Str("outbox_id", row.ID.String()).Str("mailing_id", row.MailingID.String()).Logger()

	if row.Attempts >= p.cfg.MaxPublishAttempts {
		dl := &models.OutboxDeadLetter{
			ID:          row.ID,
			MailingID:   row.MailingID,
			TargetQueue: row.TargetQueue,
			Payload:     row.Payload,
			Attempts:    row.Attempts,
			LastError:   row.LastError,
			CreatedAt:   time.Now(),
		}
		if err := p.repo.CreateDeadLetter(ctx, dl); err != nil {
			log.Error().Err(err).Msg("failed writing outbox dead letter; will retry next tick")
			return
		}
		if err := p.repo.Delete(ctx, row.ID); err != nil {
			log.Error().Err(err).Msg("failed deleting exhausted outbox row after dead-lettering")
			return
		}
		p.metrics.IncOutboxDeadLettered()
		log.Warn().Int("attempts", row.Attempts).Msg("outbox row exhausted publish attempts; moved to dead-letter audit")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	err := p.broker.PublishJSON(pubCtx, row.TargetQueue, row.ID.String(), row.Payload)
	if err != nil {
		log.Warn().Err(err).Msg("publish attempt failed")
		if rerr := p.repo.RecordPublishFailure(ctx, row.ID, err.Error()); rerr != nil {
			log.Error().Err(rerr).Msg("failed recording publish failure")
		}
		return
	}

	p.metrics.ObserveOutboxPublishLag(time.Since(row.CreatedAt).Seconds())

	if err := p.repo.MarkPublished(ctx, row.ID, time.Now()); err != nil {
		// The broker already has the message; duplicate publishes from
		// this race are resolved downstream by the worker's row-level
		// idempotency (§4.4), not here.
		log.Error().Err(err).Msg("publish confirmed but marking published failed")
	}
}
