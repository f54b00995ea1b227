// Package config loads process configuration from the environment,
// following the conventions of the rest of this codebase: a flat
// struct populated by typed getenv helpers with defaults, an optional
// .env file loaded best-effort via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable named in the system's environment
// contract.
type Config struct {
	Env  string
	Port string

	DatabaseURL string

	AuthAPIURL  string
	AuthUser    string
	AuthPass    string

	EmailAPIURL     string
	EmailHTTPTimeout time.Duration

	RatePerMinute     int
	WorkerConcurrency int

	MaxRetries          int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	RetryJitterPercent  int

	CheckpointInterval int
	CSVBatchSize       int

	StaleLockThreshold    time.Duration
	StaleSendingThreshold time.Duration

	ShutdownTimeout      time.Duration
	ForceShutdownTimeout time.Duration

	OutboxPollInterval  time.Duration
	OutboxBatchSize     int
	OutboxMaxAttempts   int

	RabbitURL      string
	RabbitPrefetch int

	FailureThreshold float64

	EnableMXCheck         bool
	EnableDisposableCheck bool

	EnableWorkerConsumer  bool
	EnableOutboxPublisher bool

	StorageDir string

	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool

	RedisEnabled bool
	RedisAddr    string
	RedisPassword string
	RedisDB      int
}

// Load reads the environment (after an optional .env file) into a
// Config, applying the defaults from the system specification.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:  getEnv("APP_ENV", "dev"),
		Port: getEnv("PORT", "8080"),
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("missing required env var: DATABASE_URL")
	}

	cfg.AuthAPIURL = strings.TrimSpace(os.Getenv("AUTH_API_URL"))
	cfg.AuthUser = os.Getenv("AUTH_USERNAME")
	cfg.AuthPass = os.Getenv("AUTH_PASSWORD")
	if cfg.AuthAPIURL == "" {
		return nil, fmt.Errorf("missing required env var: AUTH_API_URL")
	}

	cfg.EmailAPIURL = strings.TrimSpace(os.Getenv("EMAIL_API_URL"))
	if cfg.EmailAPIURL == "" {
		return nil, fmt.Errorf("missing required env var: EMAIL_API_URL")
	}
	cfg.EmailHTTPTimeout = getDuration("EMAIL_HTTP_TIMEOUT_MS", 30*time.Second)

	cfg.RatePerMinute = getInt("RATE_LIMIT_PER_MINUTE", 60)
	cfg.WorkerConcurrency = getInt("WORKER_CONCURRENCY", 1)

	cfg.MaxRetries = getInt("MAX_RETRIES", 3)
	cfg.RetryBaseDelay = getDuration("RETRY_BASE_DELAY_MS", 1*time.Second)
	cfg.RetryMaxDelay = getDuration("RETRY_MAX_DELAY_MS", 300*time.Second)
	cfg.RetryJitterPercent = getInt("RETRY_JITTER_PERCENT", 20)

	cfg.CheckpointInterval = getInt("CSV_CHECKPOINT_INTERVAL", 100)
	if v := getInt("CHECKPOINT_INTERVAL", 0); v > 0 {
		cfg.CheckpointInterval = v
	}
	cfg.CSVBatchSize = getInt("CSV_BATCH_SIZE", 100)

	cfg.StaleLockThreshold = getDuration("STALE_LOCK_THRESHOLD_MS", 30*time.Second)
	cfg.StaleSendingThreshold = getDuration("STALE_SENDING_THRESHOLD_MS", 5*time.Minute)

	cfg.ShutdownTimeout = getDuration("SHUTDOWN_TIMEOUT_MS", 30*time.Second)
	cfg.ForceShutdownTimeout = getDuration("FORCE_SHUTDOWN_TIMEOUT_MS", 60*time.Second)

	cfg.OutboxPollInterval = getDuration("OUTBOX_POLL_INTERVAL_MS", 5*time.Second)
	cfg.OutboxBatchSize = getInt("OUTBOX_BATCH_SIZE", 10)
	cfg.OutboxMaxAttempts = getInt("OUTBOX_MAX_ATTEMPTS", 5)

	cfg.RabbitURL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	if cfg.RabbitURL == "" {
		return nil, fmt.Errorf("missing required env var: RABBITMQ_URL")
	}
	cfg.RabbitPrefetch = getInt("RABBITMQ_PREFETCH", 1)

	cfg.FailureThreshold = getFloat("FAILURE_THRESHOLD", 0.20)

	cfg.EnableMXCheck = getBool("ENABLE_MX_CHECK", false)
	cfg.EnableDisposableCheck = getBool("ENABLE_DISPOSABLE_CHECK", true)

	cfg.EnableWorkerConsumer = getBool("ENABLE_WORKER_CONSUMER", true)
	cfg.EnableOutboxPublisher = getBool("ENABLE_OUTBOX_PUBLISHER", true)

	cfg.StorageDir = getEnv("STORAGE_DIR", "./data/mailings")

	cfg.S3Bucket = os.Getenv("S3_BUCKET")
	cfg.S3Region = getEnv("S3_REGION", "us-east-1")
	cfg.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.S3AccessKeyID = os.Getenv("S3_ACCESS_KEY_ID")
	cfg.S3SecretAccessKey = os.Getenv("S3_SECRET_ACCESS_KEY")
	cfg.S3UsePathStyle = getBool("S3_USE_PATH_STYLE", cfg.S3Endpoint != "")

	cfg.RedisEnabled = getBool("REDIS_ENABLED", false)
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getInt("REDIS_DB", 0)

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	// Accept either a raw millisecond integer (matching the *_MS env
	// names in the spec) or a Go duration string.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getBool(key string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
