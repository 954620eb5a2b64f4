// Package queue provides the pending-work FIFO behind a pluggable
// Backend interface: in-memory, PostgreSQL (lease-based, at-least-once),
// Redis, and RabbitMQ (broker-owned redelivery) variants.
//
// A queue message carries only the job id; the job record itself lives in
// storage. Delivery is at-least-once for the persistent backends: a
// dequeued message that is not acknowledged within its visibility timeout
// becomes eligible for redelivery.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blogsmith/blogsmith/shared/postgresql"
	"github.com/blogsmith/blogsmith/shared/rabbitmq"
	"github.com/redis/go-redis/v9"
)

// Backend types selectable via configuration.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendRabbitMQ = "rabbitmq"
)

// DefaultMaxAttempts is how many deliveries a message gets before it is
// dead-lettered.
const DefaultMaxAttempts = 3

// Delivery is one leased queue message. Handle identifies the lease for
// Ack/Fail; Attempt counts deliveries including this one.
type Delivery struct {
	JobID   string
	Handle  string
	Attempt int
}

// Backend is the queue contract.
type Backend interface {
	Initialize(ctx context.Context) error
	Close() error

	// Enqueue adds a job id to the queue. Connectivity failures
	// propagate as BackendUnavailableError; a job is never silently
	// dropped.
	Enqueue(ctx context.Context, jobID string) error

	// Dequeue leases the next message, invisible to other consumers for
	// visibilityTimeout. Returns (nil, nil) when the queue is empty.
	Dequeue(ctx context.Context, visibilityTimeout time.Duration) (*Delivery, error)

	// Ack completes a delivery. Acking an already-acked or unknown
	// handle is a no-op.
	Ack(ctx context.Context, handle string) error

	// Fail records a failed delivery. The message is requeued while its
	// attempt count is below the backend's maximum, dead-lettered after.
	Fail(ctx context.Context, handle, reason string) error

	// ReclaimExpired returns expired leases to the pending queue. A
	// no-op for broker-owned backends.
	ReclaimExpired(ctx context.Context) (int, error)

	HealthCheck(ctx context.Context) bool
}

// Deps carries the infrastructure clients a backend may need.
type Deps struct {
	Postgres *postgresql.Client
	Redis    *redis.Client
	RabbitMQ *rabbitmq.Client
	Logger   *slog.Logger
}

// NewBackend constructs the configured queue backend.
func NewBackend(backendType string, maxAttempts int, deps Deps) (Backend, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	switch backendType {
	case BackendMemory:
		return NewMemoryQueue(maxAttempts, deps.Logger), nil
	case BackendPostgres:
		if deps.Postgres == nil {
			return nil, fmt.Errorf("postgres queue backend requires a database client")
		}
		return NewPostgresQueue(deps.Postgres, maxAttempts, deps.Logger), nil
	case BackendRedis:
		if deps.Redis == nil {
			return nil, fmt.Errorf("redis queue backend requires a redis client")
		}
		return NewRedisQueue(deps.Redis, maxAttempts, deps.Logger), nil
	case BackendRabbitMQ:
		if deps.RabbitMQ == nil {
			return nil, fmt.Errorf("rabbitmq queue backend requires a rabbitmq client")
		}
		return NewRabbitMQQueue(deps.RabbitMQ, deps.Logger), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", backendType)
	}
}
