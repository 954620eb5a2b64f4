package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryMessage struct {
	jobID    string
	attempts int
}

type memoryLease struct {
	msg      memoryMessage
	deadline time.Time
}

// MemoryQueue is the in-process reference implementation: a FIFO of
// pending messages plus an in-flight map keyed by lease handle. Expired
// leases are reclaimed lazily on Dequeue and explicitly via
// ReclaimExpired. Messages are lost on restart.
type MemoryQueue struct {
	mu          sync.Mutex
	pending     []memoryMessage
	inflight    map[string]memoryLease
	dead        []memoryMessage
	maxAttempts int
	logger      *slog.Logger
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(maxAttempts int, logger *slog.Logger) *MemoryQueue {
	return &MemoryQueue{
		inflight:    make(map[string]memoryLease),
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Initialize is a no-op for the in-memory queue.
func (q *MemoryQueue) Initialize(ctx context.Context) error {
	return nil
}

// Close drops all state.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.inflight = make(map[string]memoryLease)
	return nil
}

// Enqueue appends a message to the pending FIFO.
func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, memoryMessage{jobID: jobID})
	return nil
}

// reclaimExpiredLocked moves expired leases back to pending. Callers hold
// the mutex.
func (q *MemoryQueue) reclaimExpiredLocked(now time.Time) int {
	reclaimed := 0
	for handle, lease := range q.inflight {
		if lease.deadline.After(now) {
			continue
		}
		delete(q.inflight, handle)
		q.pending = append(q.pending, lease.msg)
		reclaimed++
	}
	return reclaimed
}

// Dequeue leases the oldest pending message.
func (q *MemoryQueue) Dequeue(ctx context.Context, visibilityTimeout time.Duration) (*Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	if n := q.reclaimExpiredLocked(now); n > 0 {
		q.logger.Debug("Reclaimed expired queue leases", slog.Int("count", n))
	}

	if len(q.pending) == 0 {
		return nil, nil
	}

	msg := q.pending[0]
	q.pending = q.pending[1:]
	msg.attempts++

	handle := uuid.New().String()
	q.inflight[handle] = memoryLease{
		msg:      msg,
		deadline: now.Add(visibilityTimeout),
	}

	return &Delivery{
		JobID:   msg.jobID,
		Handle:  handle,
		Attempt: msg.attempts,
	}, nil
}

// Ack completes a delivery; unknown handles are ignored.
func (q *MemoryQueue) Ack(ctx context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, handle)
	return nil
}

// Fail requeues or dead-letters a delivery depending on its attempt
// count; unknown handles are ignored.
func (q *MemoryQueue) Fail(ctx context.Context, handle, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	lease, ok := q.inflight[handle]
	if !ok {
		return nil
	}
	delete(q.inflight, handle)

	if lease.msg.attempts >= q.maxAttempts {
		q.dead = append(q.dead, lease.msg)
		q.logger.Warn("Message dead-lettered",
			slog.String("job_id", lease.msg.jobID),
			slog.Int("attempts", lease.msg.attempts),
			slog.String("reason", reason),
		)
		return nil
	}

	q.pending = append(q.pending, lease.msg)
	return nil
}

// ReclaimExpired returns expired leases to the pending queue.
func (q *MemoryQueue) ReclaimExpired(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.reclaimExpiredLocked(time.Now()), nil
}

// HealthCheck always succeeds for the in-memory queue.
func (q *MemoryQueue) HealthCheck(ctx context.Context) bool {
	return true
}

// Size reports the number of pending messages. Used by tests and the
// worker's stats logging.
func (q *MemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
