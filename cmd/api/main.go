// Command api runs the HTTP surface: job intake, status/entries
// lookup, health, and (optionally, per ENABLE_OUTBOX_PUBLISHER) the
// Outbox Publisher background loop. Wiring follows the teacher's
// app/main.go shutdown shape, generalized across this pipeline's
// larger component set.
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
	"github.com/redis/go-redis/v9"

	"github.com/baechuer/mailblast/internal/broker/rabbitmq"
	"github.com/baechuer/mailblast/internal/config"
	"github.com/baechuer/mailblast/internal/httpapi"
	"github.com/baechuer/mailblast/internal/intake"
	"github.com/baechuer/mailblast/internal/logger"
	"github.com/baechuer/mailblast/internal/metrics"
	"github.com/baechuer/mailblast/internal/migrations"
	"github.com/baechuer/mailblast/internal/outbox"
	"github.com/baechuer/mailblast/internal/ratelimiter"
	"github.com/baechuer/mailblast/internal/recovery"
	"github.com/baechuer/mailblast/internal/repository"
	"github.com/baechuer/mailblast/internal/shutdown"
	"github.com/baechuer/mailblast/internal/storage"
)

func main() {
	logger.Init()
	log := logger.Named("api")

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

	writer := intake.New(pool, store, mailings, outboxRepo)

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

	shutdownCoord := shutdown.New(shutdown.Config{
		ShutdownTimeout:      cfg.ShutdownTimeout,
		ForceShutdownTimeout: cfg.ForceShutdownTimeout,
	})

	var outboxPublisher *outbox.Publisher
	var broker *rabbitmq.Publisher
	if cfg.EnableOutboxPublisher {
		broker, err = rabbitmq.NewPublisher(cfg.RabbitURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect outbox publisher to rabbitmq")
		}
		outboxPublisher = outbox.New(outbox.Config{
			PollInterval:       cfg.OutboxPollInterval,
			BatchSize:          cfg.OutboxBatchSize,
			MaxPublishAttempts: cfg.OutboxMaxAttempts,
			PublishTimeout:     10 * time.Second,
		}, outboxRepo, broker, metricsReg)
		go outboxPublisher.Start(ctx)
	}

	rateLimitMW := httpapi.NewRateLimitMiddleware(httpapi.RateLimitConfig{
		Redis:       buildRedisClient(cfg),
		MaxRequests: cfg.RatePerMinute,
		Window:      time.Minute,
	})

	server := httpapi.NewServer(httpapi.Deps{
		Writer:      writer,
		Mailings:    mailings,
		Entries:     entries,
		DeadLetters: deadLetters,
		Recovery:    recoveryChecker,
		Shutdown:    shutdownCoord,
		RateLimit:   rateLimitMW,
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ForceShutdownTimeout+5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	noopStoppable := stoppableFunc(func(context.Context) error { return nil })
	var publisherStoppable shutdown.Stoppable = noopStoppable
	if outboxPublisher != nil {
		publisherStoppable = outboxPublisher
	}

	shutdownCoord.Run(shutdownCtx, noopStoppable, publisherStoppable, limiter, func() error {
		if broker != nil {
			return broker.Close()
		}
		return nil
	}, func() {
		log.Warn().Msg("force shutdown timeout exceeded")
		os.Exit(1)
	})

	log.Info().Msg("api shutdown complete")
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

func buildRedisClient(cfg *config.Config) *redis.Client {
	if !cfg.RedisEnabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
