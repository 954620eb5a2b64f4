// Package storage provides the durable record of jobs, blog posts, and
// the append-only history log behind a pluggable Backend interface.
//
// Two implementations are provided: an in-process map-backed store used
// for development and tests, and a PostgreSQL store for production. The
// backend is selected once at startup through NewBackend.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/blogsmith/blogsmith/internal/domain"
	"github.com/blogsmith/blogsmith/shared/postgresql"
)

// MaxListLimit caps list queries to bound response size.
const MaxListLimit = 1000

// Backend types selectable via configuration.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// ListPostsFilter narrows and pages a post listing. Limit < 0 is a
// validation error; Limit == 0 returns an empty sequence.
type ListPostsFilter struct {
	ApprovalStatus *domain.ApprovalStatus
	Topic          string
	Limit          int
	Offset         int
}

// Validate checks the filter bounds and applies the limit cap.
func (f *ListPostsFilter) Validate() error {
	if f.Limit < 0 {
		return domain.NewValidationError("limit", "must be non-negative")
	}
	if f.Offset < 0 {
		return domain.NewValidationError("offset", "must be non-negative")
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	return nil
}

// Backend is the storage contract. All mutating operations on a single
// entity appear atomic to concurrent callers: of two concurrent
// conflicting approval calls, the loser observes InvalidTransitionError.
// Lookups return (nil, nil) on miss; approval and update helpers return
// domain.ErrPostNotFound / domain.ErrJobNotFound when the target must
// exist.
type Backend interface {
	// Initialize is idempotent: it creates schema/collections if absent
	// and records a schema version for forward migration.
	Initialize(ctx context.Context) error
	Close() error

	// Job records.
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetJobByCorrelationID(ctx context.Context, correlationID string) (*domain.Job, error)
	// UpdateJobStatus enforces the job state machine: it fails with
	// TerminalStateError or InvalidTransitionError instead of writing,
	// and stamps started_at/completed_at as the job enters and leaves
	// the running stages. Result/jobErr are persisted only alongside the
	// matching terminal status.
	UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, result *domain.JobResult, jobErr *domain.JobError) (*domain.Job, error)
	ListJobs(ctx context.Context, status *domain.JobStatus, limit int) ([]domain.Job, error)

	// Blog posts.
	CreatePost(ctx context.Context, create domain.PostCreate) (*domain.BlogPost, error)
	GetPost(ctx context.Context, postID string) (*domain.BlogPost, error)
	GetPostByJobID(ctx context.Context, jobID string) (*domain.BlogPost, error)
	UpdatePost(ctx context.Context, postID string, update domain.PostUpdate) (*domain.BlogPost, error)
	DeletePost(ctx context.Context, postID string) (bool, error)
	ListPosts(ctx context.Context, filter ListPostsFilter) ([]domain.BlogPost, error)

	// Approval transitions. Each atomically updates the approval status
	// and appends one history entry in the same logical transaction.
	ApprovePost(ctx context.Context, postID, feedback, actor string) (*domain.BlogPost, error)
	RejectPost(ctx context.Context, postID, feedback, actor string) (*domain.BlogPost, error)
	RequestRevision(ctx context.Context, postID, feedback, actor string) (*domain.BlogPost, error)
	PublishPost(ctx context.Context, postID string) (*domain.BlogPost, error)

	// History. Entries are append-only; reads return chronological order
	// (oldest first).
	AddHistoryEntry(ctx context.Context, entry domain.HistoryEntry) (*domain.HistoryEntry, error)
	GetJobHistory(ctx context.Context, jobID string) ([]domain.HistoryEntry, error)
	GetPostHistory(ctx context.Context, postID string) ([]domain.HistoryEntry, error)

	GetStats(ctx context.Context) (*domain.Stats, error)
	HealthCheck(ctx context.Context) bool
}

// NewBackend constructs the configured storage backend. The Postgres
// variant requires a connected client.
func NewBackend(backendType string, pg *postgresql.Client, logger *slog.Logger) (Backend, error) {
	switch backendType {
	case BackendMemory:
		return NewMemoryBackend(logger), nil
	case BackendPostgres:
		if pg == nil {
			return nil, fmt.Errorf("postgres storage backend requires a database client")
		}
		return NewPostgresBackend(pg, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backendType)
	}
}
