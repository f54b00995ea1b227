// Package shutdown orchestrates the graceful shutdown sequence in
// §4.10, triggered by an OS termination signal or an uncaught error.
// The structure (flag flip, ordered component stop, bounded wait,
// force-exit backstop) follows the teacher's app/main.go and
// api/cmd/main.go shutdown blocks, generalized to this pipeline's own
// component set.
package shutdown

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/mailblast/internal/logger"
	"github.com/baechuer/mailblast/internal/ratelimiter"
)

// Stoppable is any component with an ordered, context-bounded stop.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// Config holds the two timeouts named in §4.10 and §6.
type Config struct {
	ShutdownTimeout      time.Duration // default 30s, bounds the rate-limiter idle wait
	ForceShutdownTimeout time.Duration // default 60s, armed at the start of Run
}

func DefaultConfig() Config {
	return Config{
		ShutdownTimeout:      30 * time.Second,
		ForceShutdownTimeout: 60 * time.Second,
	}
}

// Coordinator carries the process-wide "accepting new work" flag and
// runs the shutdown sequence exactly once.
type Coordinator struct {
	cfg Config
	log zerolog.Logger

	accepting atomic.Bool
}

func New(cfg Config) *Coordinator {
	c := &Coordinator{cfg: cfg, log: logger.Named("shutdown")}
	c.accepting.Store(true)
	return c
}

// Accepting reports whether job-intake endpoints should still accept
// new work. Step 1 of §4.10 flips this off before anything else.
func (c *Coordinator) Accepting() bool {
	return c.accepting.Load()
}

// Run executes the full sequence: flag flip, consumer stop, publisher
// stop, rate-limiter idle wait, a flush hook, and resource close —
// all bounded by ForceShutdownTimeout, which calls onForceExit if the
// sequence as a whole overruns.
func (c *Coordinator) Run(parent context.Context, consumer, publisher Stoppable, limiter *ratelimiter.Limiter, closeResources func() error, onForceExit func()) {
	c.accepting.Store(false)
	c.log.Info().Msg("shutdown: no longer accepting new work")

	forceCtx, cancelForce := context.WithTimeout(parent, c.cfg.ForceShutdownTimeout)
	defer cancelForce()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.runSequence(parent, consumer, publisher, limiter, closeResources)
	}()

	select {
	case <-done:
	case <-forceCtx.Done():
		c.log.Error().Msg("shutdown: force-shutdown timeout elapsed; exiting regardless of in-flight work")
		if onForceExit != nil {
			onForceExit()
		}
	}
}

func (c *Coordinator) runSequence(parent context.Context, consumer, publisher Stoppable, limiter *ratelimiter.Limiter, closeResources func() error) {
	stopCtx, cancel := context.WithTimeout(parent, c.cfg.ShutdownTimeout)
	defer cancel()

	if consumer != nil {
		if err := consumer.Stop(stopCtx); err != nil {
			c.log.Warn().Err(err).Msg("shutdown: worker consumer stop reported an error")
		} else {
			c.log.Info().Msg("shutdown: worker consumer stopped")
		}
	}

	if publisher != nil {
		if err := publisher.Stop(stopCtx); err != nil {
			c.log.Warn().Err(err).Msg("shutdown: outbox publisher stop reported an error")
		} else {
			c.log.Info().Msg("shutdown: outbox publisher stopped")
		}
	}

	if limiter != nil {
		if err := limiter.WaitForIdle(stopCtx); err != nil {
			c.log.Warn().Err(err).Msg("shutdown: rate limiter did not idle within the shutdown timeout; proceeding anyway")
		} else {
			c.log.Info().Msg("shutdown: rate limiter idle")
		}
	}

	// Step 5 — no-op flush hook reserved for future extension; every
	// checkpoint in this system is already written inline.

	if closeResources != nil {
		if err := closeResources(); err != nil {
			c.log.Error().Err(err).Msg("shutdown: closing resources reported an error")
		}
	}

	c.log.Info().Msg("shutdown: sequence complete")
}
