// Package jobs implements the job orchestration service: idempotent
// submission keyed by correlation id, the job lifecycle state machine,
// and delegation to the content pipeline collaborators.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blogsmith/blogsmith/internal/domain"
	"github.com/blogsmith/blogsmith/internal/pipeline"
	"github.com/blogsmith/blogsmith/internal/queue"
	"github.com/blogsmith/blogsmith/internal/storage"
	"github.com/google/uuid"
)

// Defaults fill in submission parameters the caller omitted.
type Defaults struct {
	Topics        []string
	Sources       []string
	NumCandidates int
	MaxResults    int
}

// SubmitResult is the outcome of a job submission. IsDuplicate marks a
// submission that matched an existing live job by correlation id.
type SubmitResult struct {
	JobID         string           `json:"job_id"`
	CorrelationID string           `json:"correlation_id,omitempty"`
	Status        domain.JobStatus `json:"status"`
	IsDuplicate   bool             `json:"is_duplicate"`
	Message       string           `json:"message"`
}

// Service orchestrates job submission and execution. It holds no
// long-lived state of its own: storage is the source of truth for job
// records, the queue owns delivery state.
type Service struct {
	storage  storage.Backend
	queue    queue.Backend
	pipeline pipeline.Pipeline
	defaults Defaults
	logger   *slog.Logger
}

// NewService creates a job service.
func NewService(store storage.Backend, q queue.Backend, p pipeline.Pipeline, defaults Defaults, logger *slog.Logger) *Service {
	return &Service{
		storage:  store,
		queue:    q,
		pipeline: p,
		defaults: defaults,
		logger:   logger,
	}
}

func (s *Service) applyDefaults(sub *domain.JobSubmission) {
	if len(sub.Topics) == 0 {
		sub.Topics = append([]string(nil), s.defaults.Topics...)
	}
	if len(sub.Sources) == 0 {
		sub.Sources = append([]string(nil), s.defaults.Sources...)
	}
	if sub.NumCandidates == 0 {
		sub.NumCandidates = s.defaults.NumCandidates
	}
	if sub.MaxResults == 0 {
		sub.MaxResults = s.defaults.MaxResults
	}
}

// Submit registers a new job and enqueues it for a worker.
//
// When a correlation id is supplied and a non-failed job already carries
// it, the existing job is returned with IsDuplicate set and nothing new
// is created: at most one live job per correlation key. A failed job
// does not block resubmission.
func (s *Service) Submit(ctx context.Context, sub domain.JobSubmission) (*SubmitResult, error) {
	s.applyDefaults(&sub)
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if sub.CorrelationID != "" {
		existing, err := s.storage.GetJobByCorrelationID(ctx, sub.CorrelationID)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.Status != domain.JobStatusFailed {
			return s.duplicateResult(existing), nil
		}
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:            uuid.New().String(),
		CorrelationID: sub.CorrelationID,
		Status:        domain.JobStatusPending,
		Topics:        sub.Topics,
		Sources:       sub.Sources,
		NumCandidates: sub.NumCandidates,
		MaxResults:    sub.MaxResults,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.storage.CreateJob(ctx, job); err != nil {
		// Storage enforces at most one live job per correlation key, so a
		// submitter racing this one lands here rather than creating a
		// second job.
		var dup *domain.DuplicateCorrelationError
		if errors.As(err, &dup) {
			existing, gerr := s.storage.GetJob(ctx, dup.JobID)
			if gerr != nil {
				return nil, gerr
			}
			if existing != nil {
				return s.duplicateResult(existing), nil
			}
		}
		return nil, err
	}

	if _, err := s.storage.AddHistoryEntry(ctx, domain.HistoryEntry{
		JobID:     job.ID,
		Action:    domain.ActionSubmitted,
		NewStatus: string(domain.JobStatusPending),
	}); err != nil {
		s.logger.Warn("Failed to record submission history",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		// The job row must not stay live when it never reached the
		// queue, or the correlation key would block resubmission.
		jobErr := &domain.JobError{
			Code:    "ENQUEUE_ERROR",
			Message: err.Error(),
		}
		if _, markErr := s.storage.UpdateJobStatus(ctx, job.ID, domain.JobStatusFailed, nil, jobErr); markErr != nil {
			s.logger.Error("Failed to mark unenqueued job as failed",
				slog.String("job_id", job.ID),
				slog.Any("error", markErr),
			)
		} else if _, histErr := s.storage.AddHistoryEntry(ctx, domain.HistoryEntry{
			JobID:          job.ID,
			Action:         domain.ActionFailed,
			PreviousStatus: string(domain.JobStatusPending),
			NewStatus:      string(domain.JobStatusFailed),
			Feedback:       jobErr.Message,
		}); histErr != nil {
			s.logger.Warn("Failed to record enqueue failure history",
				slog.String("job_id", job.ID),
				slog.Any("error", histErr),
			)
		}
		return nil, err
	}

	s.logger.Info("Job submitted",
		slog.String("job_id", job.ID),
		slog.String("correlation_id", job.CorrelationID),
	)

	return &SubmitResult{
		JobID:         job.ID,
		CorrelationID: job.CorrelationID,
		Status:        job.Status,
		IsDuplicate:   false,
		Message:       "job submitted",
	}, nil
}

func (s *Service) duplicateResult(existing *domain.Job) *SubmitResult {
	s.logger.Info("Duplicate submission, returning existing job",
		slog.String("job_id", existing.ID),
		slog.String("correlation_id", existing.CorrelationID),
	)
	return &SubmitResult{
		JobID:         existing.ID,
		CorrelationID: existing.CorrelationID,
		Status:        existing.Status,
		IsDuplicate:   true,
		Message:       "job already exists for this correlation id",
	}
}

// GetJob returns a job or (nil, nil) when unknown.
func (s *Service) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.storage.GetJob(ctx, jobID)
}

// GetJobByCorrelationID returns the latest job for a correlation key, or
// (nil, nil).
func (s *Service) GetJobByCorrelationID(ctx context.Context, correlationID string) (*domain.Job, error) {
	return s.storage.GetJobByCorrelationID(ctx, correlationID)
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Service) ListJobs(ctx context.Context, status *domain.JobStatus, limit int) ([]domain.Job, error) {
	return s.storage.ListJobs(ctx, status, limit)
}

// GetHistory returns a job's audit trail oldest first.
func (s *Service) GetHistory(ctx context.Context, jobID string) ([]domain.HistoryEntry, error) {
	return s.storage.GetJobHistory(ctx, jobID)
}

// Execute runs the full pipeline for a pending job, advancing the status
// machine stage by stage. Each status write is acknowledged by storage
// before the stage runs, so observed statuses never regress.
//
// A stage failure is classified and captured into the job's terminal
// error field rather than returned: the job ends failed but queryable.
// Execute only returns an error when the job could not be claimed or
// storage failed.
func (s *Service) Execute(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrJobNotFound
	}

	// Claiming is the pending → fetching transition: the conditional
	// status write makes the second of two racing workers lose here.
	job, err = s.storage.UpdateJobStatus(ctx, jobID, domain.JobStatusFetching, nil, nil)
	if err != nil {
		return nil, err
	}

	if _, err := s.storage.AddHistoryEntry(ctx, domain.HistoryEntry{
		JobID:          jobID,
		Action:         domain.ActionStarted,
		PreviousStatus: string(domain.JobStatusPending),
		NewStatus:      string(domain.JobStatusFetching),
	}); err != nil {
		s.logger.Warn("Failed to record start history",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}

	s.logger.Info("Job execution started",
		slog.String("job_id", jobID),
		slog.Any("topics", job.Topics),
	)

	articles, err := s.pipeline.Fetcher.FetchAll(ctx, job.Topics, job.Sources, job.MaxResults)
	if err != nil {
		return s.markFailed(ctx, job, domain.NewPipelineError(domain.ErrCodeFetch, err))
	}
	if len(articles) == 0 {
		return s.markFailed(ctx, job, domain.NewPipelineError(domain.ErrCodeFetch,
			fmt.Errorf("no articles found for topics %s", strings.Join(job.Topics, ", "))))
	}
	s.logger.Info("Articles fetched",
		slog.String("job_id", jobID),
		slog.Int("count", len(articles)),
	)

	if job, err = s.advance(ctx, job, domain.JobStatusGenerating); err != nil {
		return nil, err
	}
	candidates, err := s.pipeline.Generator.GenerateCandidates(ctx, articles, job.NumCandidates)
	if err != nil {
		return s.markFailed(ctx, job, domain.NewPipelineError(domain.ErrCodeGeneration, err))
	}
	if len(candidates) == 0 {
		return s.markFailed(ctx, job, domain.NewPipelineError(domain.ErrCodeGeneration,
			fmt.Errorf("no candidates were generated")))
	}
	s.logger.Info("Candidates generated",
		slog.String("job_id", jobID),
		slog.Int("count", len(candidates)),
	)

	if job, err = s.advance(ctx, job, domain.JobStatusScoring); err != nil {
		return nil, err
	}
	scored, err := s.pipeline.Scorer.ScoreCandidates(ctx, candidates)
	if err != nil {
		return s.markFailed(ctx, job, domain.NewPipelineError(domain.ErrCodeScoring, err))
	}
	if len(scored) == 0 {
		return s.markFailed(ctx, job, domain.NewPipelineError(domain.ErrCodeScoring,
			fmt.Errorf("no candidates were scored")))
	}
	winner := scored[0]
	s.logger.Info("Winner selected",
		slog.String("job_id", jobID),
		slog.String("title", winner.Candidate.Title),
		slog.Float64("score", winner.Score.Total),
	)

	if job, err = s.advance(ctx, job, domain.JobStatusRefining); err != nil {
		return nil, err
	}
	content, err := s.pipeline.Refiner.RefineWinner(ctx, winner)
	if err != nil {
		return s.markFailed(ctx, job, domain.NewPipelineError(domain.ErrCodeRefinement, err))
	}

	scoring := &domain.Scoring{
		Relevance:   winner.Score.Relevance,
		Originality: winner.Score.Originality,
		Depth:       winner.Score.Depth,
		Clarity:     winner.Score.Clarity,
		Engagement:  winner.Score.Engagement,
		Total:       winner.Score.Total,
		Reasoning:   winner.Score.Reasoning,
	}
	post, err := s.storage.CreatePost(ctx, domain.PostCreate{
		Title:   winner.Candidate.Title,
		Content: content,
		Topic:   winner.Candidate.Topic,
		Sources: winner.Candidate.Sources,
		JobID:   jobID,
		Scoring: scoring,
	})
	if err != nil {
		return s.markFailed(ctx, job, fmt.Errorf("failed to persist post: %w", err))
	}

	result := &domain.JobResult{
		PostID:              post.ID,
		Title:               post.Title,
		WordCount:           post.WordCount,
		Topic:               post.Topic,
		Scoring:             *scoring,
		ArticlesFetched:     len(articles),
		CandidatesGenerated: len(candidates),
	}

	previous := job.Status
	job, err = s.storage.UpdateJobStatus(ctx, jobID, domain.JobStatusCompleted, result, nil)
	if err != nil {
		return nil, err
	}

	if _, err := s.storage.AddHistoryEntry(ctx, domain.HistoryEntry{
		JobID:          jobID,
		PostID:         post.ID,
		Action:         domain.ActionCompleted,
		PreviousStatus: string(previous),
		NewStatus:      string(domain.JobStatusCompleted),
	}); err != nil {
		s.logger.Warn("Failed to record completion history",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}

	s.logger.Info("Job completed",
		slog.String("job_id", jobID),
		slog.String("post_id", post.ID),
		slog.Int("word_count", post.WordCount),
	)
	return job, nil
}

// advance moves the job to the next pipeline stage.
func (s *Service) advance(ctx context.Context, job *domain.Job, next domain.JobStatus) (*domain.Job, error) {
	updated, err := s.storage.UpdateJobStatus(ctx, job.ID, next, nil, nil)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// markFailed transitions the job to failed with a classified error and
// records the failure in history. The execution error itself is consumed
// here; only storage failures propagate.
func (s *Service) markFailed(ctx context.Context, job *domain.Job, execErr error) (*domain.Job, error) {
	jobErr := domain.ClassifyJobError(execErr)

	s.logger.Error("Job failed",
		slog.String("job_id", job.ID),
		slog.String("code", jobErr.Code),
		slog.String("message", jobErr.Message),
	)

	previous := job.Status
	failed, err := s.storage.UpdateJobStatus(ctx, job.ID, domain.JobStatusFailed, nil, jobErr)
	if err != nil {
		return nil, err
	}

	if _, err := s.storage.AddHistoryEntry(ctx, domain.HistoryEntry{
		JobID:          job.ID,
		Action:         domain.ActionFailed,
		PreviousStatus: string(previous),
		NewStatus:      string(domain.JobStatusFailed),
		Feedback:       jobErr.Message,
	}); err != nil {
		s.logger.Warn("Failed to record failure history",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
	return failed, nil
}
