package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/mailblast/internal/logger"
)

// Publisher wraps a confirm-mode AMQP channel. It is shared by the
// Outbox Publisher (§4.2, which waits for confirms before marking a
// row published) and the Worker Consumer (§4.4 Step 7, publishing
// retry/DLQ re-deliveries) — both of which may call PublishJSON
// concurrently from their own goroutines in a single-process
// deployment, so mu guards the entire publish-then-await-confirm
// section, not just the field reads.
//
// NotifyPublish is registered exactly once, in NewPublisher, per the
// teacher's own retry_publisher.go ("must be registered AFTER
// Confirm(...)"); amqp091-go delivers confirmations to every listener
// on the channel with no delivery-tag correlation back to the caller,
// so holding mu across the whole publish+wait is what keeps a given
// confirmation paired with the publish that produced it.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	confirms <-chan amqp.Confirmation
	log      zerolog.Logger
}

// NewPublisher dials url and opens a confirm-mode channel.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: enable confirm mode: %w", err)
	}
	if err := DeclareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Publisher{
		conn:     conn,
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		log:      logger.Named("rabbitmq_publisher"),
	}, nil
}

// Live reports whether the underlying channel appears usable, per §4.2
// Step 1 ("if the broker channel is not live, skip and reschedule").
func (p *Publisher) Live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch != nil && !p.ch.IsClosed()
}

// PublishJSON publishes body to routingKey on the mailings exchange
// with persistent delivery, application/json content type, and the
// given messageID, then waits (bounded by ctx) for the broker's
// publish confirm, per §4.2 Step 3.
func (p *Publisher) PublishJSON(ctx context.Context, routingKey, messageID string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		return fmt.Errorf("rabbitmq: publisher channel not live")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal payload: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}

	// mu stays held until the matching confirmation arrives: on a
	// confirm-mode channel the broker acks/nacks publishes in the
	// order they were sent, so the next confirmation on p.confirms is
	// guaranteed to belong to this publish as long as no other
	// publish was interleaved on the channel.
	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			return fmt.Errorf("rabbitmq: confirm channel closed before ack")
		}
		if !confirm.Ack {
			return fmt.Errorf("rabbitmq: broker nacked publish of message %s", messageID)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("rabbitmq: timed out waiting for publish confirm: %w", ctx.Err())
	}
}

// Close tears down the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			firstErr = err
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
