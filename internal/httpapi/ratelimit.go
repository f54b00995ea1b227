package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"

	"github.com/baechuer/mailblast/internal/logger"
)

// RateLimitConfig controls the HTTP-layer per-IP limiter that NewServer
// installs on every route. When Redis is set, requests are counted with
// INCR/EXPIRE so the limit is shared across every api process; when
// Redis is nil, httprate's in-memory limiter is used as a fallback
// for single-process deployments.
type RateLimitConfig struct {
	Redis       *redis.Client
	MaxRequests int
	Window      time.Duration
}

// NewRateLimitMiddleware builds the chi middleware to pass as
// Deps.RateLimit. Returns nil (no-op) if MaxRequests is zero.
func NewRateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.MaxRequests <= 0 {
		return nil
	}
	if cfg.Redis == nil {
		return httprate.LimitByIP(cfg.MaxRequests, cfg.Window)
	}
	return redisRateLimit(cfg.Redis, cfg.MaxRequests, cfg.Window)
}

// redisRateLimit is a fixed-window per-IP limiter backed by Redis,
// grounded on email-service's app/ratelimit RateLimiter.CheckPerIP.
func redisRateLimit(client *redis.Client, maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	log := logger.Named("ratelimit")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			key := fmt.Sprintf("ratelimit:http:ip:%s", ip)

			ctx := r.Context()
			count, err := client.Incr(ctx, key).Result()
			if err != nil {
				// Fail open: a Redis outage should not take intake down.
				log.Warn().Err(err).Msg("rate limiter redis incr failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if count == 1 {
				client.Expire(ctx, key, window)
			}
			if count > int64(maxRequests) {
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", window.Seconds()))
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
