// Command worker runs the Worker Consumer (§4.4): it drains the main
// queue, processing one Mailing CSV per delivery, and — unless
// ENABLE_OUTBOX_PUBLISHER is split onto the api process — also runs
// the Outbox Publisher loop. Shutdown wiring mirrors cmd/api, adding
// the broker Consumer to the Stoppable set.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baechuer/mailblast/internal/broker/rabbitmq"
	"github.com/baechuer/mailblast/internal/config"
	"github.com/baechuer/mailblast/internal/emailclient"
	"github.com/baechuer/mailblast/internal/logger"
	"github.com/baechuer/mailblast/internal/metrics"
	"github.com/baechuer/mailblast/internal/migrations"
	"github.com/baechuer/mailblast/internal/outbox"
	"github.com/baechuer/mailblast/internal/ratelimiter"
	"github.com/baechuer/mailblast/internal/recovery"
	"github.com/baechuer/mailblast/internal/repository"
	"github.com/baechuer/mailblast/internal/retrypolicy"
	"github.com/baechuer/mailblast/internal/shutdown"
	"github.com/baechuer/mailblast/internal/storage"
	"github.com/baechuer/mailblast/internal/token"
	"github.com/baechuer/mailblast/internal/validation"
	"github.com/baechuer/mailblast/internal/worker"
)

func main() {
	logger.Init()
	log := logger.Named("worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := migrations.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure database schema")
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage backend")
	}

	mailings := repository.NewMailingRepository(pool)
	entries := repository.NewEntryRepository(pool)
	deadLetters := repository.NewDeadLetterRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool)

	recoveryChecker := recovery.New(recovery.Config{
		StaleSendingThreshold:    cfg.StaleSendingThreshold,
		StaleProcessingThreshold: cfg.StaleLockThreshold,
	}, mailings, entries)
	if _, err := recoveryChecker.Run(ctx); err != nil {
		log.Error().Err(err).Msg("crash recovery sweep failed")
	}

	metricsReg := metrics.New(prometheus.DefaultRegisterer)
	ratelimiter.Init(cfg.RatePerMinute, cfg.WorkerConcurrency)
	limiter, _ := ratelimiter.Get()
	limiter.SetMetrics(metricsReg)

	tokenMgr := token.Init(token.Config{
		AuthURL:  cfg.AuthAPIURL,
		Username: cfg.AuthUser,
		Password: cfg.AuthPass,
		Metrics:  metricsReg,
	})

	emailClient := emailclient.New(emailclient.Config{
		BaseURL: cfg.EmailAPIURL,
		Timeout: cfg.EmailHTTPTimeout,
		Limiter: limiter,
		Tokens:  tokenMgr,
	})

	validator := validation.New(cfg.EnableDisposableCheck, cfg.EnableMXCheck)

	broker, err := rabbitmq.NewPublisher(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect publisher to rabbitmq")
	}

	w := worker.New(worker.Config{
		StaleLockThreshold: cfg.StaleLockThreshold,
		CheckpointInterval: cfg.CheckpointInterval,
		YieldEvery:         10,
		FailureThreshold:   cfg.FailureThreshold,
		Retry: retrypolicy.Config{
			MaxRetries:    cfg.MaxRetries,
			BaseDelay:     cfg.RetryBaseDelay,
			MaxDelay:      cfg.RetryMaxDelay,
			JitterPercent: cfg.RetryJitterPercent,
		},
		PublishTimeout: 10 * time.Second,
	}, mailings, entries, deadLetters, store, validator, emailClient, broker, metricsReg)

	var consumer *rabbitmq.Consumer
	if cfg.EnableWorkerConsumer {
		consumer = rabbitmq.NewConsumer(rabbitmq.Config{
			URL:      cfg.RabbitURL,
			Queue:    rabbitmq.QueueMain,
			Prefetch: cfg.RabbitPrefetch,
			Tag:      "mailblast-worker",
		}, w.Handle)
	}

	var outboxPublisher *outbox.Publisher
	if cfg.EnableOutboxPublisher {
		outboxPublisher = outbox.New(outbox.Config{
			PollInterval:       cfg.OutboxPollInterval,
			BatchSize:          cfg.OutboxBatchSize,
			MaxPublishAttempts: cfg.OutboxMaxAttempts,
			PublishTimeout:     10 * time.Second,
		}, outboxRepo, broker, metricsReg)
		go outboxPublisher.Start(ctx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		needed, err := recoveryChecker.NeedsRecovery(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if needed {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok","recoveryPending":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","recoveryPending":false}`))
	})
	mux.Handle("/metrics", promhttp.Handler())
	healthServer := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("worker health/metrics listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server failed")
		}
	}()

	shutdownCoord := shutdown.New(shutdown.Config{
		ShutdownTimeout:      cfg.ShutdownTimeout,
		ForceShutdownTimeout: cfg.ForceShutdownTimeout,
	})

	if consumer != nil {
		log.Info().Msg("starting worker consumer")
		if err := consumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start worker consumer")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ForceShutdownTimeout+5*time.Second)
	defer shutdownCancel()
	_ = healthServer.Shutdown(shutdownCtx)

	var consumerStoppable shutdown.Stoppable = stoppableFunc(func(context.Context) error { return nil })
	if consumer != nil {
		consumerStoppable = consumer
	}
	var publisherStoppable shutdown.Stoppable = stoppableFunc(func(context.Context) error { return nil })
	if outboxPublisher != nil {
		publisherStoppable = outboxPublisher
	}

	shutdownCoord.Run(shutdownCtx, consumerStoppable, publisherStoppable, limiter, func() error {
		return broker.Close()
	}, func() {
		log.Warn().Msg("force shutdown timeout exceeded")
		os.Exit(1)
	})

	log.Info().Msg("worker shutdown complete")
}

type stoppableFunc func(context.Context) error

func (f stoppableFunc) Stop(ctx context.Context) error { return f(ctx) }

func buildStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.S3Bucket == "" {
		return storage.NewLocalStore(cfg.StorageDir)
	}
	return storage.NewS3Store(ctx, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		UsePathStyle:    cfg.S3UsePathStyle,
	})
}
