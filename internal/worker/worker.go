// Package worker runs the background side of the pipeline: it pulls job
// messages off the queue, executes them through the job service, and
// acknowledges or requeues based on the outcome.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/blogsmith/blogsmith/internal/jobs"
	"github.com/blogsmith/blogsmith/internal/queue"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Config holds worker configuration.
type Config struct {
	Logger            *slog.Logger
	Queue             queue.Backend
	Jobs              *jobs.Service
	Concurrency       int
	JobTimeout        time.Duration
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	ReclaimSchedule   string
}

// Worker dispatches queue deliveries to a pool of executor goroutines
// and periodically reclaims expired leases.
type Worker struct {
	logger            *slog.Logger
	queue             queue.Backend
	jobs              *jobs.Service
	workerID          string
	concurrency       int
	jobTimeout        time.Duration
	pollInterval      time.Duration
	visibilityTimeout time.Duration
	reclaimSchedule   string

	jobsChan chan *queue.Delivery
	stopChan chan struct{}
	wg       sync.WaitGroup
	cron     *cron.Cron
}

// NewWorker creates a new worker instance.
func NewWorker(cfg *Config) *Worker {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Worker{
		logger:            cfg.Logger,
		queue:             cfg.Queue,
		jobs:              cfg.Jobs,
		workerID:          fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		concurrency:       cfg.Concurrency,
		jobTimeout:        cfg.JobTimeout,
		pollInterval:      cfg.PollInterval,
		visibilityTimeout: cfg.VisibilityTimeout,
		reclaimSchedule:   cfg.ReclaimSchedule,
		jobsChan:          make(chan *queue.Delivery),
		stopChan:          make(chan struct{}),
	}
}

// Start begins processing jobs. It blocks until ctx is canceled, then
// drains the pool.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("visibility_timeout", w.visibilityTimeout),
	)

	if err := w.startReaper(); err != nil {
		return fmt.Errorf("failed to start lease reaper: %w", err)
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go w.dispatchLoop(ctx)

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")
	w.Stop()
	return nil
}

// Stop gracefully stops the worker: the dispatcher and pool drain, then
// the reaper halts.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...", slog.String("worker_id", w.workerID))
	close(w.stopChan)
	w.wg.Wait()
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
}

// startReaper schedules periodic reclamation of expired leases so that
// messages abandoned by a crashed worker return to the queue.
func (w *Worker) startReaper() error {
	w.cron = cron.New()
	_, err := w.cron.AddFunc(w.reclaimSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		n, err := w.queue.ReclaimExpired(ctx)
		if err != nil {
			w.logger.Warn("Lease reclamation failed", slog.Any("error", err))
			return
		}
		if n > 0 {
			w.logger.Info("Reclaimed abandoned deliveries", slog.Int("count", n))
		}
	})
	if err != nil {
		return err
	}
	w.cron.Start()
	w.logger.Info("Lease reaper scheduled", slog.String("schedule", w.reclaimSchedule))
	return nil
}
