package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blogsmith/blogsmith/internal/domain"
	"github.com/blogsmith/blogsmith/internal/queue"
)

// dispatchLoop polls the queue and feeds deliveries to the worker pool.
func (w *Worker) dispatchLoop(ctx context.Context) {
	defer w.wg.Done()

	w.logger.Info("Message dispatcher started", slog.String("worker_id", w.workerID))

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped")
			return
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return
		default:
		}

		delivery, err := w.queue.Dequeue(ctx, w.visibilityTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.logger.Error("Failed to dequeue message", slog.Any("error", err))
			w.sleep(ctx, w.pollInterval)
			continue
		}
		if delivery == nil {
			w.sleep(ctx, w.pollInterval)
			continue
		}

		select {
		case w.jobsChan <- delivery:
			w.logger.Debug("Job dispatched to worker pool",
				slog.String("job_id", delivery.JobID),
				slog.String("handle", delivery.Handle),
			)
		case <-w.stopChan:
			w.release(delivery)
			return
		case <-ctx.Done():
			w.release(delivery)
			return
		}
	}
}

// release returns an undispatched delivery to the queue on shutdown.
func (w *Worker) release(d *queue.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Fail(ctx, d.Handle, "worker shutting down"); err != nil {
		w.logger.Error("Failed to release delivery on shutdown",
			slog.String("job_id", d.JobID),
			slog.Any("error", err),
		)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.stopChan:
	case <-ctx.Done():
	}
}

// spawnWorkerPool spawns N executor goroutines based on concurrency
// configuration.
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each executor goroutine.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started", slog.String("worker_name", workerName))

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping", slog.String("worker_name", workerName))
			return
		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return
		case delivery := <-w.jobsChan:
			w.handleDelivery(ctx, workerName, delivery)
		}
	}
}

// handleDelivery executes one job and settles its queue message.
func (w *Worker) handleDelivery(ctx context.Context, workerName string, delivery *queue.Delivery) {
	w.logger.Info("Worker received job",
		slog.String("worker_name", workerName),
		slog.String("job_id", delivery.JobID),
		slog.Int("attempt", delivery.Attempt),
	)

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	_, err := w.jobs.Execute(jobCtx, delivery.JobID)

	settleCtx, settleCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer settleCancel()

	if err != nil && w.shouldRequeue(err) {
		w.logger.Error("Job processing failed, message will be retried",
			slog.String("worker_name", workerName),
			slog.String("job_id", delivery.JobID),
			slog.Any("error", err),
		)
		if failErr := w.queue.Fail(settleCtx, delivery.Handle, err.Error()); failErr != nil {
			w.logger.Error("Failed to settle message",
				slog.String("job_id", delivery.JobID),
				slog.Any("error", failErr),
			)
		}
		return
	}

	if err != nil {
		// Non-retryable: the job is terminal, claimed elsewhere, or gone.
		// Redelivering would hit the same wall, so the message is done.
		w.logger.Warn("Dropping delivery for non-retryable error",
			slog.String("worker_name", workerName),
			slog.String("job_id", delivery.JobID),
			slog.Any("error", err),
		)
	} else {
		w.logger.Info("Job processed",
			slog.String("worker_name", workerName),
			slog.String("job_id", delivery.JobID),
		)
	}

	if ackErr := w.queue.Ack(settleCtx, delivery.Handle); ackErr != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("job_id", delivery.JobID),
			slog.Any("error", ackErr),
		)
	}
}

// shouldRequeue decides whether an execution error is worth another
// delivery. Pipeline failures never reach here; they are captured into
// the job record and Execute returns nil.
func (w *Worker) shouldRequeue(err error) bool {
	// The job record is authoritative: a terminal or concurrently claimed
	// job cannot be run again.
	if domain.IsTerminalState(err) || domain.IsInvalidTransition(err) {
		return false
	}
	if errors.Is(err, domain.ErrJobNotFound) {
		return false
	}
	// Transient infrastructure failures get another attempt.
	if domain.IsBackendUnavailable(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return true
}
