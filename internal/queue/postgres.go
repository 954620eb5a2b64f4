package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blogsmith/blogsmith/internal/domain"
	"github.com/blogsmith/blogsmith/shared/postgresql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresQueue is the relational queue backend. Messages live in the
// queue_messages table; reservation uses FOR UPDATE SKIP LOCKED so
// concurrent workers never double-deliver, and a lease_expires_at column
// implements the visibility timeout.
type PostgresQueue struct {
	db          *sqlx.DB
	maxAttempts int
	logger      *slog.Logger
}

// NewPostgresQueue wraps a connected PostgreSQL client.
func NewPostgresQueue(pg *postgresql.Client, maxAttempts int, logger *slog.Logger) *PostgresQueue {
	return &PostgresQueue{
		db:          pg.GetDB(),
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Initialize creates the queue table if absent. Safe to call repeatedly.
func (q *PostgresQueue) Initialize(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS queue_messages (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT,
			enqueued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			lease_expires_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_messages_pending
			ON queue_messages (enqueued_at) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_queue_messages_lease
			ON queue_messages (lease_expires_at) WHERE status = 'processing'`,
	}
	for _, stmt := range statements {
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize queue schema: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the shared client owns the connection pool.
func (q *PostgresQueue) Close() error {
	return nil
}

// Enqueue inserts a pending message. Connectivity failures surface as a
// retryable BackendUnavailableError.
func (q *PostgresQueue) Enqueue(ctx context.Context, jobID string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO queue_messages (id, job_id) VALUES ($1, $2)`,
		uuid.New().String(), jobID,
	)
	if err != nil {
		return domain.NewBackendUnavailableError("queue", err)
	}
	return nil
}

// Dequeue reserves the oldest pending message. SKIP LOCKED keeps
// concurrent workers from contending on the same row.
func (q *PostgresQueue) Dequeue(ctx context.Context, visibilityTimeout time.Duration) (*Delivery, error) {
	query := `
		WITH next AS (
			SELECT id FROM queue_messages
			WHERE status = 'pending'
			ORDER BY enqueued_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE queue_messages m
		SET status = 'processing',
			attempts = m.attempts + 1,
			lease_expires_at = NOW() + $1::interval,
			updated_at = NOW()
		FROM next
		WHERE m.id = next.id
		RETURNING m.id, m.job_id, m.attempts
	`
	interval := fmt.Sprintf("%d milliseconds", visibilityTimeout.Milliseconds())

	var d Delivery
	err := q.db.QueryRowContext(ctx, query, interval).Scan(&d.Handle, &d.JobID, &d.Attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewBackendUnavailableError("queue", err)
	}
	return &d, nil
}

// Ack deletes a processed message. Zero rows affected means the handle
// was already acked or reclaimed, which is fine.
func (q *PostgresQueue) Ack(ctx context.Context, handle string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM queue_messages WHERE id = $1 AND status = 'processing'`,
		handle,
	)
	if err != nil {
		return domain.NewBackendUnavailableError("queue", err)
	}
	return nil
}

// Fail requeues the message or dead-letters it once the attempt budget is
// spent.
func (q *PostgresQueue) Fail(ctx context.Context, handle, reason string) error {
	query := `
		UPDATE queue_messages
		SET status = CASE WHEN attempts >= $1 THEN 'dead' ELSE 'pending' END,
			last_error = $2,
			lease_expires_at = NULL,
			updated_at = NOW()
		WHERE id = $3 AND status = 'processing'
		RETURNING status
	`
	var status string
	err := q.db.QueryRowContext(ctx, query, q.maxAttempts, reason, handle).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return domain.NewBackendUnavailableError("queue", err)
	}
	if status == "dead" {
		q.logger.Warn("Message dead-lettered",
			slog.String("handle", handle),
			slog.String("reason", reason),
		)
	}
	return nil
}

// ReclaimExpired returns messages whose lease ran out to pending state.
func (q *PostgresQueue) ReclaimExpired(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE queue_messages
		SET status = 'pending',
			lease_expires_at = NULL,
			updated_at = NOW()
		WHERE status = 'processing' AND lease_expires_at < NOW()
	`)
	if err != nil {
		return 0, domain.NewBackendUnavailableError("queue", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reclaimed messages: %w", err)
	}
	if affected > 0 {
		q.logger.Info("Reclaimed expired queue leases", slog.Int64("count", affected))
	}
	return int(affected), nil
}

// HealthCheck pings the database; it never returns an error.
func (q *PostgresQueue) HealthCheck(ctx context.Context) bool {
	if err := q.db.PingContext(ctx); err != nil {
		q.logger.Warn("Queue health check failed", slog.Any("error", err))
		return false
	}
	return true
}
