// Package rabbitmq declares the broker topology (§4.3) and provides
// the publisher/consumer pair the rest of the pipeline rides on.
// Structure is grounded on email-service/internal/infrastructure/messaging/rabbitmq,
// the teacher's own reconnect-with-backoff supervisor and
// separate-consume/publish-channel pattern, generalized from its
// topic-exchange/multi-DLX-tier layout to this system's direct
// exchange with two numbered retry tiers plus a terminal DLQ.
package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// Exchange is the single direct exchange all job traffic flows
	// through.
	Exchange = "mailings"

	// QueueMain is the work queue workers consume from.
	QueueMain = "mailing.jobs.process"
	// QueueRetry1 is the first retry tier (60s TTL).
	QueueRetry1 = "mailing.jobs.retry.1"
	// QueueRetry2 is the second (and all subsequent) retry tier (300s TTL).
	QueueRetry2 = "mailing.jobs.retry.2"
	// QueueDLQ is the terminal dead-letter queue.
	QueueDLQ = "mailing.jobs.dlq"

	retry1TTL = 60 * time.Second
	retry2TTL = 300 * time.Second
)

// DeclareTopology declares the exchange and all four queues
// idempotently on the given channel, per §4.3. It is safe to call at
// every process startup: AMQP queue/exchange declarations are no-ops
// when the arguments match what already exists.
func DeclareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare exchange %s: %w", Exchange, err)
	}

	if _, err := ch.QueueDeclare(QueueMain, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare queue %s: %w", QueueMain, err)
	}
	if err := ch.QueueBind(QueueMain, QueueMain, Exchange, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: bind queue %s: %w", QueueMain, err)
	}

	if err := declareRetryQueue(ch, QueueRetry1, retry1TTL); err != nil {
		return err
	}
	if err := declareRetryQueue(ch, QueueRetry2, retry2TTL); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(QueueDLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare queue %s: %w", QueueDLQ, err)
	}

	return nil
}

// declareRetryQueue declares a retry-tier queue with a fixed
// per-message TTL, dead-lettering expired messages back onto the main
// exchange with the main queue's routing key — the mechanism that
// returns a retried job to a worker once its delay has elapsed.
func declareRetryQueue(ch *amqp.Channel, name string, ttl time.Duration) error {
	args := amqp.Table{
		"x-message-ttl":             int64(ttl / time.Millisecond),
		"x-dead-letter-exchange":    Exchange,
		"x-dead-letter-routing-key": QueueMain,
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return fmt.Errorf("rabbitmq: declare retry queue %s: %w", name, err)
	}
	return nil
}

// RetryQueueName maps the retrypolicy tier name ("retry1"/"retry2")
// to its broker queue name.
func RetryQueueName(tier string) string {
	if tier == "retry1" {
		return QueueRetry1
	}
	return QueueRetry2
}
