package storage

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blogsmith/blogsmith/internal/domain"
	"github.com/google/uuid"
)

// MemoryBackend is the in-process reference implementation of Backend.
// All state is guarded by a single RWMutex, which also gives approval
// transitions their required atomicity. Data is lost on restart.
type MemoryBackend struct {
	mu          sync.RWMutex
	jobs        map[string]*domain.Job
	posts       map[string]*domain.BlogPost
	history     []domain.HistoryEntry
	initialized bool
	logger      *slog.Logger
}

// NewMemoryBackend creates an empty in-memory store.
func NewMemoryBackend(logger *slog.Logger) *MemoryBackend {
	return &MemoryBackend{
		jobs:   make(map[string]*domain.Job),
		posts:  make(map[string]*domain.BlogPost),
		logger: logger,
	}
}

// Initialize is a no-op beyond marking the store ready; calling it twice
// has no effect.
func (m *MemoryBackend) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	m.initialized = true
	m.logger.Debug("In-memory storage initialized")
	return nil
}

// Close releases nothing but satisfies the contract.
func (m *MemoryBackend) Close() error {
	return nil
}

func copyJob(j *domain.Job) *domain.Job {
	cp := *j
	cp.Topics = append([]string(nil), j.Topics...)
	cp.Sources = append([]string(nil), j.Sources...)
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return &cp
}

func copyPost(p *domain.BlogPost) *domain.BlogPost {
	cp := *p
	cp.Sources = append([]string(nil), p.Sources...)
	if p.Scoring != nil {
		s := *p.Scoring
		cp.Scoring = &s
	}
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// CreateJob stores a new job record. The live-duplicate check happens
// under the write lock, so two concurrent inserts for one correlation
// key cannot both succeed.
func (m *MemoryBackend) CreateJob(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.CorrelationID != "" {
		for _, existing := range m.jobs {
			if existing.CorrelationID == job.CorrelationID && existing.Status != domain.JobStatusFailed {
				return domain.NewDuplicateCorrelationError(job.CorrelationID, existing.ID)
			}
		}
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

// GetJob returns the job or (nil, nil) when unknown.
func (m *MemoryBackend) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, nil
	}
	return copyJob(job), nil
}

// GetJobByCorrelationID returns the most recent job carrying the
// correlation key, or (nil, nil).
func (m *MemoryBackend) GetJobByCorrelationID(ctx context.Context, correlationID string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *domain.Job
	for _, job := range m.jobs {
		if job.CorrelationID != correlationID {
			continue
		}
		if latest == nil || job.CreatedAt.After(latest.CreatedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyJob(latest), nil
}

// UpdateJobStatus applies a state machine checked transition.
func (m *MemoryBackend) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, result *domain.JobResult, jobErr *domain.JobError) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if err := domain.CheckJobTransition(job.Status, status); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job.Status = status
	job.UpdatedAt = now
	if job.StartedAt == nil && status != domain.JobStatusFailed {
		job.StartedAt = &now
	}
	if status.IsTerminal() {
		job.CompletedAt = &now
	}
	if status == domain.JobStatusCompleted {
		job.Result = result
		job.Error = nil
	}
	if status == domain.JobStatusFailed {
		job.Error = jobErr
		job.Result = nil
	}
	return copyJob(job), nil
}

// ListJobs returns jobs ordered by created_at descending.
func (m *MemoryBackend) ListJobs(ctx context.Context, status *domain.JobStatus, limit int) ([]domain.Job, error) {
	if limit < 0 {
		return nil, domain.NewValidationError("limit", "must be non-negative")
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]domain.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if status != nil && job.Status != *status {
			continue
		}
		jobs = append(jobs, *copyJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// CreatePost assigns an id and timestamps and stores the post in pending
// approval state.
func (m *MemoryBackend) CreatePost(ctx context.Context, create domain.PostCreate) (*domain.BlogPost, error) {
	if err := create.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	post := &domain.BlogPost{
		ID:             uuid.New().String(),
		Title:          create.Title,
		Content:        create.Content,
		WordCount:      len(strings.Fields(create.Content)),
		Topic:          create.Topic,
		Sources:        append([]string(nil), create.Sources...),
		JobID:          create.JobID,
		ApprovalStatus: domain.ApprovalPending,
		Scoring:        create.Scoring,
		Metadata:       create.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.posts[post.ID] = post
	return copyPost(post), nil
}

// GetPost returns the post or (nil, nil) when unknown.
func (m *MemoryBackend) GetPost(ctx context.Context, postID string) (*domain.BlogPost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	post, ok := m.posts[postID]
	if !ok {
		return nil, nil
	}
	return copyPost(post), nil
}

// GetPostByJobID returns the post produced by a job, or (nil, nil).
func (m *MemoryBackend) GetPostByJobID(ctx context.Context, jobID string) (*domain.BlogPost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, post := range m.posts {
		if post.JobID == jobID {
			return copyPost(post), nil
		}
	}
	return nil, nil
}

// UpdatePost merges the provided fields and bumps updated_at. A content
// change recomputes the word count, and a post awaiting revision returns
// to pending review.
func (m *MemoryBackend) UpdatePost(ctx context.Context, postID string, update domain.PostUpdate) (*domain.BlogPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	post, ok := m.posts[postID]
	if !ok {
		return nil, nil
	}

	if update.Title != nil {
		post.Title = *update.Title
	}
	if update.Content != nil {
		post.Content = *update.Content
		post.WordCount = len(strings.Fields(*update.Content))
		if post.ApprovalStatus == domain.ApprovalRevisionRequested {
			post.ApprovalStatus = domain.ApprovalPending
		}
	}
	if update.Topic != nil {
		post.Topic = *update.Topic
	}
	if update.Sources != nil {
		post.Sources = append([]string(nil), update.Sources...)
	}
	if update.Metadata != nil {
		post.Metadata = update.Metadata
	}
	post.UpdatedAt = time.Now().UTC()
	return copyPost(post), nil
}

// DeletePost removes a post; it reports whether anything was deleted.
func (m *MemoryBackend) DeletePost(ctx context.Context, postID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[postID]; !ok {
		return false, nil
	}
	delete(m.posts, postID)
	return true, nil
}

// ListPosts returns posts ordered by created_at descending.
func (m *MemoryBackend) ListPosts(ctx context.Context, filter ListPostsFilter) ([]domain.BlogPost, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if filter.Limit == 0 {
		return []domain.BlogPost{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	posts := make([]domain.BlogPost, 0, len(m.posts))
	for _, post := range m.posts {
		if filter.ApprovalStatus != nil && post.ApprovalStatus != *filter.ApprovalStatus {
			continue
		}
		if filter.Topic != "" && post.Topic != filter.Topic {
			continue
		}
		posts = append(posts, *copyPost(post))
	}
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})

	if filter.Offset >= len(posts) {
		return []domain.BlogPost{}, nil
	}
	posts = posts[filter.Offset:]
	if len(posts) > filter.Limit {
		posts = posts[:filter.Limit]
	}
	return posts, nil
}

// approvalTransition applies a decision under the write lock so that of
// two concurrent conflicting decisions only one succeeds.
func (m *MemoryBackend) approvalTransition(postID string, next domain.ApprovalStatus, action, feedback, actor string) (*domain.BlogPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	post, ok := m.posts[postID]
	if !ok {
		return nil, domain.ErrPostNotFound
	}
	if !post.ApprovalStatus.CanApprove() {
		return nil, domain.NewInvalidTransitionError(string(post.ApprovalStatus), string(next))
	}

	previous := post.ApprovalStatus
	now := time.Now().UTC()
	post.ApprovalStatus = next
	post.ApprovalFeedback = feedback
	post.UpdatedAt = now
	if next == domain.ApprovalApproved {
		post.ApprovedAt = &now
	}

	m.appendHistoryLocked(domain.HistoryEntry{
		JobID:          historyJobID(post),
		PostID:         post.ID,
		Action:         action,
		PreviousStatus: string(previous),
		NewStatus:      string(next),
		Actor:          actor,
		Feedback:       feedback,
	})
	return copyPost(post), nil
}

// ApprovePost moves a post awaiting review to approved.
func (m *MemoryBackend) ApprovePost(ctx context.Context, postID, feedback, actor string) (*domain.BlogPost, error) {
	return m.approvalTransition(postID, domain.ApprovalApproved, domain.ActionApproved, feedback, actor)
}

// RejectPost moves a post awaiting review to rejected. Feedback is
// mandatory.
func (m *MemoryBackend) RejectPost(ctx context.Context, postID, feedback, actor string) (*domain.BlogPost, error) {
	if strings.TrimSpace(feedback) == "" {
		return nil, domain.NewValidationError("feedback", "rejection requires feedback")
	}
	return m.approvalTransition(postID, domain.ApprovalRejected, domain.ActionRejected, feedback, actor)
}

// RequestRevision moves a post awaiting review to revision_requested.
// Feedback is mandatory.
func (m *MemoryBackend) RequestRevision(ctx context.Context, postID, feedback, actor string) (*domain.BlogPost, error) {
	if strings.TrimSpace(feedback) == "" {
		return nil, domain.NewValidationError("feedback", "revision request requires feedback")
	}
	return m.approvalTransition(postID, domain.ApprovalRevisionRequested, domain.ActionRevisionRequested, feedback, actor)
}

// PublishPost stamps published_at on an approved post.
func (m *MemoryBackend) PublishPost(ctx context.Context, postID string) (*domain.BlogPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	post, ok := m.posts[postID]
	if !ok {
		return nil, domain.ErrPostNotFound
	}
	if !post.ApprovalStatus.CanPublish() {
		return nil, domain.NewInvalidTransitionError(string(post.ApprovalStatus), "published")
	}

	now := time.Now().UTC()
	post.PublishedAt = &now
	post.UpdatedAt = now

	m.appendHistoryLocked(domain.HistoryEntry{
		JobID:  historyJobID(post),
		PostID: post.ID,
		Action: domain.ActionPublished,
	})
	return copyPost(post), nil
}

func historyJobID(post *domain.BlogPost) string {
	if post.JobID != "" {
		return post.JobID
	}
	return post.ID
}

func (m *MemoryBackend) appendHistoryLocked(entry domain.HistoryEntry) domain.HistoryEntry {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()
	m.history = append(m.history, entry)
	return entry
}

// AddHistoryEntry appends an audit record.
func (m *MemoryBackend) AddHistoryEntry(ctx context.Context, entry domain.HistoryEntry) (*domain.HistoryEntry, error) {
	if entry.JobID == "" {
		return nil, domain.NewValidationError("job_id", "job_id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.appendHistoryLocked(entry)
	return &stored, nil
}

// GetJobHistory returns a job's entries oldest first.
func (m *MemoryBackend) GetJobHistory(ctx context.Context, jobID string) ([]domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]domain.HistoryEntry, 0)
	for _, e := range m.history {
		if e.JobID == jobID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// GetPostHistory returns a post's entries oldest first.
func (m *MemoryBackend) GetPostHistory(ctx context.Context, postID string) ([]domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]domain.HistoryEntry, 0)
	for _, e := range m.history {
		if e.PostID == postID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// GetStats aggregates counts over jobs and posts. Rates stay nil when
// there is nothing to divide by.
func (m *MemoryBackend) GetStats(ctx context.Context) (*domain.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &domain.Stats{}
	for _, job := range m.jobs {
		stats.TotalJobs++
		switch job.Status {
		case domain.JobStatusCompleted:
			stats.CompletedJobs++
		case domain.JobStatusFailed:
			stats.FailedJobs++
		default:
			stats.PendingJobs++
		}
	}

	var approvalHours float64
	var approvedWithTime int
	for _, post := range m.posts {
		stats.TotalPosts++
		switch post.ApprovalStatus {
		case domain.ApprovalPending:
			stats.PendingApproval++
		case domain.ApprovalApproved:
			stats.ApprovedPosts++
			if post.ApprovedAt != nil {
				approvalHours += post.ApprovedAt.Sub(post.CreatedAt).Hours()
				approvedWithTime++
			}
		case domain.ApprovalRejected:
			stats.RejectedPosts++
		case domain.ApprovalRevisionRequested:
			stats.RevisionRequested++
		}
		if post.PublishedAt != nil {
			stats.PublishedPosts++
		}
	}

	if stats.TotalPosts > 0 {
		rate := float64(stats.ApprovedPosts) / float64(stats.TotalPosts) * 100
		stats.ApprovalRate = &rate
	}
	if approvedWithTime > 0 {
		avg := approvalHours / float64(approvedWithTime)
		stats.AvgApprovalTimeHours = &avg
	}
	return stats, nil
}

// HealthCheck always succeeds for the in-memory store.
func (m *MemoryBackend) HealthCheck(ctx context.Context) bool {
	return true
}
