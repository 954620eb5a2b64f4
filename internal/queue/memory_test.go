package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, maxAttempts int) *MemoryQueue {
	t.Helper()
	q := NewMemoryQueue(maxAttempts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, q.Initialize(context.Background()))
	return q
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1"))
	require.NoError(t, q.Enqueue(ctx, "job-2"))
	require.NoError(t, q.Enqueue(ctx, "job-3"))
	assert.Equal(t, 3, q.Size())

	for _, want := range []string{"job-1", "job-2", "job-3"} {
		d, err := q.Dequeue(ctx, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, want, d.JobID)
		assert.Equal(t, 1, d.Attempt)
		assert.NotEmpty(t, d.Handle)
	}
	assert.Equal(t, 0, q.Size())
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	q := newTestQueue(t, 3)

	d, err := q.Dequeue(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestAckRemovesDelivery(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1"))
	d, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, d)

	require.NoError(t, q.Ack(ctx, d.Handle))

	// Nothing left to reclaim or dequeue.
	reclaimed, err := q.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)

	next, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestAckIsIdempotent(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1"))
	d, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)

	require.NoError(t, q.Ack(ctx, d.Handle))
	require.NoError(t, q.Ack(ctx, d.Handle))
	require.NoError(t, q.Ack(ctx, "never-issued-handle"))
}

func TestFailRequeuesUntilMaxAttempts(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1"))

	for attempt := 1; attempt <= 3; attempt++ {
		d, err := q.Dequeue(ctx, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, d, "delivery expected on attempt %d", attempt)
		assert.Equal(t, attempt, d.Attempt)
		require.NoError(t, q.Fail(ctx, d.Handle, "stage error"))
	}

	// Third failure exhausted the attempt budget; the message is
	// dead-lettered, not requeued.
	d, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestFailUnknownHandleIsNoop(t *testing.T) {
	q := newTestQueue(t, 3)
	require.NoError(t, q.Fail(context.Background(), "never-issued-handle", "whatever"))
	assert.Equal(t, 0, q.Size())
}

func TestExpiredLeaseIsRedelivered(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1"))

	first, err := q.Dequeue(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, first)

	// While the lease is live the message is invisible.
	hidden, err := q.Dequeue(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, hidden)

	time.Sleep(20 * time.Millisecond)

	reclaimed, err := q.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	second, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "job-1", second.JobID)
	assert.Equal(t, 2, second.Attempt)
	assert.NotEqual(t, first.Handle, second.Handle)

	// The stale handle no longer settles anything.
	require.NoError(t, q.Ack(ctx, first.Handle))
	require.NoError(t, q.Ack(ctx, second.Handle))
}

func TestDequeueReclaimsLazily(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1"))

	_, err := q.Dequeue(ctx, time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	// No explicit ReclaimExpired call: Dequeue itself recovers the
	// expired lease.
	d, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "job-1", d.JobID)
	assert.Equal(t, 2, d.Attempt)
}

func TestNewBackendSelection(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("memory", func(t *testing.T) {
		q, err := NewBackend(BackendMemory, 0, Deps{Logger: logger})
		require.NoError(t, err)
		assert.IsType(t, &MemoryQueue{}, q)
	})

	t.Run("postgres without client", func(t *testing.T) {
		_, err := NewBackend(BackendPostgres, 3, Deps{Logger: logger})
		require.Error(t, err)
	})

	t.Run("redis without client", func(t *testing.T) {
		_, err := NewBackend(BackendRedis, 3, Deps{Logger: logger})
		require.Error(t, err)
	})

	t.Run("rabbitmq without client", func(t *testing.T) {
		_, err := NewBackend(BackendRabbitMQ, 3, Deps{Logger: logger})
		require.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := NewBackend("kafka", 3, Deps{Logger: logger})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown queue backend")
	})
}
