package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/blogsmith/blogsmith/internal/domain"
	"github.com/blogsmith/blogsmith/shared/rabbitmq"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// rabbitMessage is the JSON body published per job.
type rabbitMessage struct {
	JobID string `json:"job_id"`
}

// RabbitMQQueue is the external-broker queue backend. The broker owns
// delivery state: an unacknowledged message is redelivered when its
// channel closes, so the visibility timeout and ReclaimExpired are
// delegated to RabbitMQ. Dequeue pulls from the consume channel started
// during Initialize.
type RabbitMQQueue struct {
	client *rabbitmq.Client
	logger *slog.Logger

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
	inflight   map[string]amqp.Delivery
}

// NewRabbitMQQueue wraps a connected RabbitMQ client.
func NewRabbitMQQueue(client *rabbitmq.Client, logger *slog.Logger) *RabbitMQQueue {
	return &RabbitMQQueue{
		client:   client,
		logger:   logger,
		inflight: make(map[string]amqp.Delivery),
	}
}

// Initialize starts the consumer. The exchange, queue, and binding are
// declared by the shared client on connect.
func (q *RabbitMQQueue) Initialize(ctx context.Context) error {
	consumerTag := "blogsmith-" + uuid.New().String()[:8]
	deliveries, err := q.client.Consume(consumerTag)
	if err != nil {
		return domain.NewBackendUnavailableError("queue", err)
	}

	q.mu.Lock()
	q.deliveries = deliveries
	q.mu.Unlock()

	q.logger.Info("RabbitMQ consumer started", slog.String("consumer_tag", consumerTag))
	return nil
}

// Close releases in-flight deliveries back to the broker.
func (q *RabbitMQQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for handle, delivery := range q.inflight {
		if err := delivery.Nack(false, true); err != nil {
			q.logger.Warn("Failed to release in-flight delivery",
				slog.String("handle", handle),
				slog.Any("error", err),
			)
		}
	}
	q.inflight = make(map[string]amqp.Delivery)
	return nil
}

// Enqueue publishes a persistent message. Publish retries with backoff
// inside the shared client; a final failure surfaces as retryable.
func (q *RabbitMQQueue) Enqueue(ctx context.Context, jobID string) error {
	body, err := json.Marshal(rabbitMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}
	if err := q.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return domain.NewBackendUnavailableError("queue", err)
	}
	return nil
}

// Dequeue waits up to visibilityTimeout for a delivery from the consume
// channel. The timeout here only bounds the wait; lease expiry itself is
// the broker's concern.
func (q *RabbitMQQueue) Dequeue(ctx context.Context, visibilityTimeout time.Duration) (*Delivery, error) {
	q.mu.Lock()
	deliveries := q.deliveries
	q.mu.Unlock()
	if deliveries == nil {
		return nil, domain.NewBackendUnavailableError("queue", fmt.Errorf("consumer not initialized"))
	}

	timer := time.NewTimer(visibilityTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case delivery, ok := <-deliveries:
		if !ok {
			return nil, domain.NewBackendUnavailableError("queue", fmt.Errorf("delivery channel closed"))
		}

		var msg rabbitMessage
		if err := json.Unmarshal(delivery.Body, &msg); err != nil {
			// Malformed messages go straight to the broker's DLQ.
			q.logger.Error("Rejecting malformed queue message",
				slog.String("body", string(delivery.Body)),
			)
			if nackErr := delivery.Nack(false, false); nackErr != nil {
				q.logger.Error("Failed to NACK malformed message", slog.Any("error", nackErr))
			}
			return nil, nil
		}

		handle := strconv.FormatUint(delivery.DeliveryTag, 10)
		q.mu.Lock()
		q.inflight[handle] = delivery
		q.mu.Unlock()

		attempt := 1
		if delivery.Redelivered {
			attempt = 2
		}
		return &Delivery{
			JobID:   msg.JobID,
			Handle:  handle,
			Attempt: attempt,
		}, nil
	}
}

func (q *RabbitMQQueue) takeInflight(handle string) (amqp.Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delivery, ok := q.inflight[handle]
	if ok {
		delete(q.inflight, handle)
	}
	return delivery, ok
}

// Ack completes a delivery; unknown handles are ignored.
func (q *RabbitMQQueue) Ack(ctx context.Context, handle string) error {
	delivery, ok := q.takeInflight(handle)
	if !ok {
		return nil
	}
	if err := delivery.Ack(false); err != nil {
		return domain.NewBackendUnavailableError("queue", err)
	}
	return nil
}

// Fail NACKs a delivery: first failures requeue, redeliveries go to the
// broker's dead-letter exchange.
func (q *RabbitMQQueue) Fail(ctx context.Context, handle, reason string) error {
	delivery, ok := q.takeInflight(handle)
	if !ok {
		return nil
	}

	requeue := !delivery.Redelivered
	if !requeue {
		q.logger.Warn("Message dead-lettered",
			slog.String("handle", handle),
			slog.String("reason", reason),
		)
	}
	if err := delivery.Nack(false, requeue); err != nil {
		return domain.NewBackendUnavailableError("queue", err)
	}
	return nil
}

// ReclaimExpired is a no-op: the broker redelivers unacknowledged
// messages itself.
func (q *RabbitMQQueue) ReclaimExpired(ctx context.Context) (int, error) {
	return 0, nil
}

// HealthCheck reports broker connectivity.
func (q *RabbitMQQueue) HealthCheck(ctx context.Context) bool {
	return q.client.IsConnected()
}
