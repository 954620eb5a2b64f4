package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blogsmith/blogsmith/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "blogsmith:queue"

// redisMessage is the JSON payload stored per queue entry.
type redisMessage struct {
	JobID    string `json:"job_id"`
	Attempts int    `json:"attempts"`
}

// RedisQueue keeps pending messages in a list and in-flight leases in a
// sorted set scored by lease deadline, with the leased payloads in a
// hash keyed by handle. Expired members of the sorted set are moved back
// to the pending list by ReclaimExpired.
type RedisQueue struct {
	client      *redis.Client
	maxAttempts int
	logger      *slog.Logger

	pendingKey    string
	processingKey string
	payloadKey    string
	deadKey       string
}

// NewRedisQueue wraps a connected Redis client.
func NewRedisQueue(client *redis.Client, maxAttempts int, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{
		client:        client,
		maxAttempts:   maxAttempts,
		logger:        logger,
		pendingKey:    redisKeyPrefix + ":pending",
		processingKey: redisKeyPrefix + ":processing",
		payloadKey:    redisKeyPrefix + ":payloads",
		deadKey:       redisKeyPrefix + ":dead",
	}
}

// Initialize verifies connectivity; Redis needs no schema.
func (q *RedisQueue) Initialize(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return domain.NewBackendUnavailableError("queue", err)
	}
	return nil
}

// Close is a no-op; the caller owns the client.
func (q *RedisQueue) Close() error {
	return nil
}

// Enqueue pushes a message onto the head of the pending list; Dequeue
// pops from the tail, giving FIFO order.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	payload, err := json.Marshal(redisMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}
	if err := q.client.LPush(ctx, q.pendingKey, payload).Err(); err != nil {
		return domain.NewBackendUnavailableError("queue", err)
	}
	return nil
}

// Dequeue pops the oldest pending message and records its lease.
func (q *RedisQueue) Dequeue(ctx context.Context, visibilityTimeout time.Duration) (*Delivery, error) {
	raw, err := q.client.RPop(ctx, q.pendingKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewBackendUnavailableError("queue", err)
	}

	var msg redisMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		q.logger.Error("Dropping malformed queue message", slog.String("payload", raw))
		return nil, fmt.Errorf("failed to unmarshal queue message: %w", err)
	}
	msg.Attempts++

	handle := uuid.New().String()
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queue message: %w", err)
	}

	deadline := float64(time.Now().Add(visibilityTimeout).UnixMilli())
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.payloadKey, handle, payload)
	pipe.ZAdd(ctx, q.processingKey, redis.Z{Score: deadline, Member: handle})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, domain.NewBackendUnavailableError("queue", err)
	}

	return &Delivery{
		JobID:   msg.JobID,
		Handle:  handle,
		Attempt: msg.Attempts,
	}, nil
}

// Ack removes the lease; unknown handles are ignored.
func (q *RedisQueue) Ack(ctx context.Context, handle string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey, handle)
	pipe.HDel(ctx, q.payloadKey, handle)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.NewBackendUnavailableError("queue", err)
	}
	return nil
}

// Fail requeues the message or dead-letters it once the attempt budget is
// spent; unknown handles are ignored.
func (q *RedisQueue) Fail(ctx context.Context, handle, reason string) error {
	raw, err := q.client.HGet(ctx, q.payloadKey, handle).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return domain.NewBackendUnavailableError("queue", err)
	}

	var msg redisMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return fmt.Errorf("failed to unmarshal queue message: %w", err)
	}

	targetKey := q.pendingKey
	if msg.Attempts >= q.maxAttempts {
		targetKey = q.deadKey
		q.logger.Warn("Message dead-lettered",
			slog.String("job_id", msg.JobID),
			slog.Int("attempts", msg.Attempts),
			slog.String("reason", reason),
		)
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, targetKey, raw)
	pipe.ZRem(ctx, q.processingKey, handle)
	pipe.HDel(ctx, q.payloadKey, handle)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.NewBackendUnavailableError("queue", err)
	}
	return nil
}

// ReclaimExpired moves leases whose deadline has passed back to the
// pending list.
func (q *RedisQueue) ReclaimExpired(ctx context.Context) (int, error) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	handles, err := q.client.ZRangeByScore(ctx, q.processingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, domain.NewBackendUnavailableError("queue", err)
	}

	reclaimed := 0
	for _, handle := range handles {
		raw, err := q.client.HGet(ctx, q.payloadKey, handle).Result()
		if errors.Is(err, redis.Nil) {
			q.client.ZRem(ctx, q.processingKey, handle)
			continue
		}
		if err != nil {
			return reclaimed, domain.NewBackendUnavailableError("queue", err)
		}

		pipe := q.client.TxPipeline()
		pipe.LPush(ctx, q.pendingKey, raw)
		pipe.ZRem(ctx, q.processingKey, handle)
		pipe.HDel(ctx, q.payloadKey, handle)
		if _, err := pipe.Exec(ctx); err != nil {
			return reclaimed, domain.NewBackendUnavailableError("queue", err)
		}
		reclaimed++
	}

	if reclaimed > 0 {
		q.logger.Info("Reclaimed expired queue leases", slog.Int("count", reclaimed))
	}
	return reclaimed, nil
}

// HealthCheck pings Redis; it never returns an error.
func (q *RedisQueue) HealthCheck(ctx context.Context) bool {
	if err := q.client.Ping(ctx).Err(); err != nil {
		q.logger.Warn("Queue health check failed", slog.Any("error", err))
		return false
	}
	return true
}
