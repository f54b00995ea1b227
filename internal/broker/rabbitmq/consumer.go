package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/mailblast/internal/logger"
)

// Handler processes one delivery and reports how it should be
// acknowledged. Returning a nil error means Ack; any error means
// Nack(requeue=false), letting the message fall out of the queue (the
// Worker Consumer's own finalize logic handles retry/DLQ by
// publishing explicitly — a Nack here is reserved for unexpected
// parse/system errors, per §4.4's "always ACK on terminal paths").
type Handler func(ctx context.Context, d amqp.Delivery) error

// Config configures a Consumer.
type Config struct {
	URL      string
	Queue    string
	Prefetch int
	Tag      string
}

// Consumer is a single channel-level consumer with a reconnect
// supervisor loop, grounded on email-service's rabbitmq consumer:
// the same backoff-with-cap reconnect strategy and ack/nack decision
// shape, narrowed to this system's single queue and handler function.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	tag      string

	log zerolog.Logger

	mu      sync.Mutex
	running bool
	doneCh  chan struct{}

	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery

	handler Handler
}

func NewConsumer(cfg Config, handler Handler) *Consumer {
	return &Consumer{
		url:      cfg.URL,
		queue:    cfg.Queue,
		prefetch: cfg.Prefetch,
		tag:      cfg.Tag,
		handler:  handler,
		log:      logger.Named("rabbitmq_consumer"),
	}
}

// Start launches the supervisor loop in the background.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if c.handler == nil {
		return fmt.Errorf("rabbitmq: consumer has no handler")
	}
	c.doneCh = make(chan struct{})
	c.running = true
	go c.run(ctx)
	return nil
}

// Stop closes the connection, which unblocks the delivery channel and
// lets the supervisor loop exit, then waits for it (bounded by ctx).
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	doneCh := c.doneCh
	c.running = false
	c.mu.Unlock()

	c.closeConn()

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consumer) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		doneCh := c.doneCh
		c.doneCh = nil
		c.running = false
		c.mu.Unlock()
		if doneCh != nil {
			close(doneCh)
		}
	}()

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		if ctx.Err() != nil || !c.isRunning() {
			return
		}

		if err := c.connectAndDeclare(); err != nil {
			c.log.Error().Err(err).Dur("backoff", backoff).Msg("connect failed; retrying")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = minDuration(backoff*2, maxBackoff)
			continue
		}

		backoff = 1 * time.Second
		c.consumeLoop(ctx)

		if ctx.Err() != nil || !c.isRunning() {
			return
		}

		c.log.Warn().Dur("backoff", backoff).Msg("delivery channel closed; reconnecting")
		c.closeConn()
		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = minDuration(backoff*2, maxBackoff)
	}
}

func (c *Consumer) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Consumer) connectAndDeclare() error {
	c.closeConn()

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	if err := DeclareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	if c.prefetch > 0 {
		if err := ch.Qos(c.prefetch, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("rabbitmq: qos: %w", err)
		}
	}

	deliveries, err := ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("rabbitmq: consume: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.ch = ch
	c.deliveries = deliveries
	c.mu.Unlock()

	c.log.Info().Str("queue", c.queue).Int("prefetch", c.prefetch).Msg("consumer ready")
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-c.deliveries:
			if !ok {
				return
			}
			start := time.Now()
			if err := c.handler(ctx, d); err != nil {
				c.log.Error().Err(err).Str("routing_key", d.RoutingKey).Msg("handler error; nack without requeue")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
			c.log.Debug().Str("routing_key", d.RoutingKey).Dur("took", time.Since(start)).Msg("delivery processed")
		}
	}
}

func (c *Consumer) closeConn() {
	c.mu.Lock()
	conn, ch := c.conn, c.ch
	c.conn, c.ch, c.deliveries = nil, nil, nil
	c.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
