package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blogsmith/blogsmith/internal/domain"
	"github.com/blogsmith/blogsmith/shared/postgresql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const schemaVersion = 1

// PostgresBackend is the relational implementation of Backend. Approval
// transitions lock the post row (SELECT ... FOR UPDATE) and append the
// history entry in the same transaction; job status writes use a
// conditional UPDATE so a stale writer never overwrites a terminal state.
type PostgresBackend struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresBackend wraps a connected PostgreSQL client.
func NewPostgresBackend(pg *postgresql.Client, logger *slog.Logger) *PostgresBackend {
	return &PostgresBackend{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// Initialize creates the schema if absent and records the schema version.
// Safe to call repeatedly.
func (p *PostgresBackend) Initialize(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			correlation_id TEXT,
			status TEXT NOT NULL,
			topics JSONB,
			sources JSONB,
			num_candidates INT NOT NULL,
			max_results INT NOT NULL,
			result JSONB,
			error JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_correlation_id ON jobs (correlation_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_correlation_live
			ON jobs (correlation_id) WHERE correlation_id IS NOT NULL AND status <> 'failed'`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
		`CREATE TABLE IF NOT EXISTS blog_posts (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			word_count INT NOT NULL,
			topic TEXT NOT NULL,
			sources JSONB,
			job_id TEXT,
			approval_status TEXT NOT NULL,
			approval_feedback TEXT,
			scoring JSONB,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			approved_at TIMESTAMPTZ,
			published_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_blog_posts_job_id ON blog_posts (job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_blog_posts_approval_status ON blog_posts (approval_status)`,
		`CREATE TABLE IF NOT EXISTS job_history (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			post_id TEXT,
			action TEXT NOT NULL,
			previous_status TEXT,
			new_status TEXT,
			actor TEXT,
			feedback TEXT,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_history_job_id ON job_history (job_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_job_history_post_id ON job_history (post_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize storage schema: %w", err)
		}
	}

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO schema_version (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`,
		schemaVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	p.logger.Info("Storage schema initialized", slog.Int("schema_version", schemaVersion))
	return nil
}

// Close is a no-op; the shared client owns the connection pool.
func (p *PostgresBackend) Close() error {
	return nil
}

type jobRow struct {
	JobID         string         `db:"job_id"`
	CorrelationID sql.NullString `db:"correlation_id"`
	Status        string         `db:"status"`
	Topics        []byte         `db:"topics"`
	Sources       []byte         `db:"sources"`
	NumCandidates int            `db:"num_candidates"`
	MaxResults    int            `db:"max_results"`
	Result        []byte         `db:"result"`
	Error         []byte         `db:"error"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	StartedAt     sql.NullTime   `db:"started_at"`
	CompletedAt   sql.NullTime   `db:"completed_at"`
}

const jobColumns = `job_id, correlation_id, status, topics, sources, num_candidates,
	max_results, result, error, created_at, updated_at, started_at, completed_at`

func (r *jobRow) toDomain() (*domain.Job, error) {
	job := &domain.Job{
		ID:            r.JobID,
		CorrelationID: r.CorrelationID.String,
		Status:        domain.JobStatus(r.Status),
		NumCandidates: r.NumCandidates,
		MaxResults:    r.MaxResults,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		job.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		job.CompletedAt = &t
	}
	if err := unmarshalJSON(r.Topics, &job.Topics); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(r.Sources, &job.Sources); err != nil {
		return nil, err
	}
	if len(r.Result) > 0 {
		job.Result = &domain.JobResult{}
		if err := unmarshalJSON(r.Result, job.Result); err != nil {
			return nil, err
		}
	}
	if len(r.Error) > 0 {
		job.Error = &domain.JobError{}
		if err := unmarshalJSON(r.Error, job.Error); err != nil {
			return nil, err
		}
	}
	return job, nil
}

type postRow struct {
	ID               string         `db:"id"`
	Title            string         `db:"title"`
	Content          string         `db:"content"`
	WordCount        int            `db:"word_count"`
	Topic            string         `db:"topic"`
	Sources          []byte         `db:"sources"`
	JobID            sql.NullString `db:"job_id"`
	ApprovalStatus   string         `db:"approval_status"`
	ApprovalFeedback sql.NullString `db:"approval_feedback"`
	Scoring          []byte         `db:"scoring"`
	Metadata         []byte         `db:"metadata"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	ApprovedAt       sql.NullTime   `db:"approved_at"`
	PublishedAt      sql.NullTime   `db:"published_at"`
}

const postColumns = `id, title, content, word_count, topic, sources, job_id, approval_status,
	approval_feedback, scoring, metadata, created_at, updated_at, approved_at, published_at`

func (r *postRow) toDomain() (*domain.BlogPost, error) {
	post := &domain.BlogPost{
		ID:               r.ID,
		Title:            r.Title,
		Content:          r.Content,
		WordCount:        r.WordCount,
		Topic:            r.Topic,
		JobID:            r.JobID.String,
		ApprovalStatus:   domain.ApprovalStatus(r.ApprovalStatus),
		ApprovalFeedback: r.ApprovalFeedback.String,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.ApprovedAt.Valid {
		t := r.ApprovedAt.Time
		post.ApprovedAt = &t
	}
	if r.PublishedAt.Valid {
		t := r.PublishedAt.Time
		post.PublishedAt = &t
	}
	if err := unmarshalJSON(r.Sources, &post.Sources); err != nil {
		return nil, err
	}
	if len(r.Scoring) > 0 {
		post.Scoring = &domain.Scoring{}
		if err := unmarshalJSON(r.Scoring, post.Scoring); err != nil {
			return nil, err
		}
	}
	if len(r.Metadata) > 0 {
		if err := unmarshalJSON(r.Metadata, &post.Metadata); err != nil {
			return nil, err
		}
	}
	return post, nil
}

type historyRow struct {
	ID             string         `db:"id"`
	JobID          string         `db:"job_id"`
	PostID         sql.NullString `db:"post_id"`
	Action         string         `db:"action"`
	PreviousStatus sql.NullString `db:"previous_status"`
	NewStatus      sql.NullString `db:"new_status"`
	Actor          sql.NullString `db:"actor"`
	Feedback       sql.NullString `db:"feedback"`
	Metadata       []byte         `db:"metadata"`
	CreatedAt      time.Time      `db:"created_at"`
}

const historyColumns = `id, job_id, post_id, action, previous_status, new_status,
	actor, feedback, metadata, created_at`

func (r *historyRow) toDomain() (*domain.HistoryEntry, error) {
	entry := &domain.HistoryEntry{
		ID:             r.ID,
		JobID:          r.JobID,
		PostID:         r.PostID.String,
		Action:         r.Action,
		PreviousStatus: r.PreviousStatus.String,
		NewStatus:      r.NewStatus.String,
		Actor:          r.Actor.String,
		Feedback:       r.Feedback.String,
		CreatedAt:      r.CreatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := unmarshalJSON(r.Metadata, &entry.Metadata); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return data, nil
}

func unmarshalJSON(data []byte, dest any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal json column: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateJob inserts a new job record. The partial unique index on live
// correlation ids turns a concurrent duplicate insert into a unique
// violation, reported as DuplicateCorrelationError.
func (p *PostgresBackend) CreateJob(ctx context.Context, job *domain.Job) error {
	topics, err := marshalJSON(job.Topics)
	if err != nil {
		return err
	}
	sources, err := marshalJSON(job.Sources)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (
			job_id, correlation_id, status, topics, sources,
			num_candidates, max_results, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = p.db.ExecContext(ctx, query,
		job.ID,
		nullString(job.CorrelationID),
		job.Status,
		topics,
		sources,
		job.NumCandidates,
		job.MaxResults,
		job.CreatedAt,
		job.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" && job.CorrelationID != "" {
		var existingID string
		lookupErr := p.db.GetContext(ctx, &existingID,
			`SELECT job_id FROM jobs WHERE correlation_id = $1 AND status <> 'failed' LIMIT 1`,
			job.CorrelationID,
		)
		if lookupErr != nil && !errors.Is(lookupErr, sql.ErrNoRows) {
			return fmt.Errorf("failed to resolve duplicate job: %w", lookupErr)
		}
		return domain.NewDuplicateCorrelationError(job.CorrelationID, existingID)
	}
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob returns the job or (nil, nil) when unknown.
func (p *PostgresBackend) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var row jobRow
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`
	err := p.db.GetContext(ctx, &row, query, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain()
}

// GetJobByCorrelationID returns the most recent job with the key, or
// (nil, nil).
func (p *PostgresBackend) GetJobByCorrelationID(ctx context.Context, correlationID string) (*domain.Job, error) {
	var row jobRow
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE correlation_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	err := p.db.GetContext(ctx, &row, query, correlationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job by correlation id: %w", err)
	}
	return row.toDomain()
}

// UpdateJobStatus applies a state machine checked transition with a
// conditional UPDATE keyed on the previously observed status, so a
// concurrent writer cannot be overwritten unnoticed.
func (p *PostgresBackend) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, result *domain.JobResult, jobErr *domain.JobError) (*domain.Job, error) {
	current, err := p.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrJobNotFound
	}
	if err := domain.CheckJobTransition(current.Status, status); err != nil {
		return nil, err
	}

	var resultJSON, errorJSON []byte
	if status == domain.JobStatusCompleted {
		if resultJSON, err = marshalJSON(result); err != nil {
			return nil, err
		}
	}
	if status == domain.JobStatusFailed {
		if errorJSON, err = marshalJSON(jobErr); err != nil {
			return nil, err
		}
	}

	query := `
		UPDATE jobs
		SET status = $1,
			result = $2,
			error = $3,
			started_at = CASE WHEN started_at IS NULL AND $1 <> 'failed' THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $1 IN ('completed', 'failed') THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		WHERE job_id = $4 AND status = $5
		RETURNING ` + jobColumns
	var row jobRow
	err = p.db.GetContext(ctx, &row, query, status, resultJSON, errorJSON, jobID, current.Status)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost a race: re-read and report the transition that actually failed.
		fresh, ferr := p.GetJob(ctx, jobID)
		if ferr != nil {
			return nil, ferr
		}
		if fresh == nil {
			return nil, domain.ErrJobNotFound
		}
		if terr := domain.CheckJobTransition(fresh.Status, status); terr != nil {
			return nil, terr
		}
		return nil, fmt.Errorf("concurrent update on job %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update job status: %w", err)
	}
	return row.toDomain()
}

// ListJobs returns jobs ordered by created_at descending.
func (p *PostgresBackend) ListJobs(ctx context.Context, status *domain.JobStatus, limit int) ([]domain.Job, error) {
	if limit < 0 {
		return nil, domain.NewValidationError("limit", "must be non-negative")
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []interface{}{}
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, *status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	var rows []jobRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// CreatePost inserts a new post in pending approval state.
func (p *PostgresBackend) CreatePost(ctx context.Context, create domain.PostCreate) (*domain.BlogPost, error) {
	if err := create.Validate(); err != nil {
		return nil, err
	}

	sources, err := marshalJSON(create.Sources)
	if err != nil {
		return nil, err
	}
	scoring, err := marshalJSON(create.Scoring)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalJSON(create.Metadata)
	if err != nil {
		return nil, err
	}

	postID := uuid.New().String()
	query := `
		INSERT INTO blog_posts (
			id, title, content, word_count, topic, sources, job_id,
			approval_status, scoring, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING ` + postColumns
	var row postRow
	err = p.db.GetContext(ctx, &row, query,
		postID,
		create.Title,
		create.Content,
		len(strings.Fields(create.Content)),
		create.Topic,
		sources,
		nullString(create.JobID),
		domain.ApprovalPending,
		scoring,
		metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	return row.toDomain()
}

// GetPost returns the post or (nil, nil) when unknown.
func (p *PostgresBackend) GetPost(ctx context.Context, postID string) (*domain.BlogPost, error) {
	var row postRow
	query := `SELECT ` + postColumns + ` FROM blog_posts WHERE id = $1`
	err := p.db.GetContext(ctx, &row, query, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return row.toDomain()
}

// GetPostByJobID returns the post produced by a job, or (nil, nil).
func (p *PostgresBackend) GetPostByJobID(ctx context.Context, jobID string) (*domain.BlogPost, error) {
	var row postRow
	query := `SELECT ` + postColumns + ` FROM blog_posts WHERE job_id = $1 ORDER BY created_at DESC LIMIT 1`
	err := p.db.GetContext(ctx, &row, query, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post by job id: %w", err)
	}
	return row.toDomain()
}

// UpdatePost merges the provided fields. A content change recomputes the
// word count, and a post awaiting revision returns to pending review.
func (p *PostgresBackend) UpdatePost(ctx context.Context, postID string, update domain.PostUpdate) (*domain.BlogPost, error) {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{}
	idx := 1

	addSet := func(expr string, value interface{}) {
		sets = append(sets, fmt.Sprintf(expr, idx))
		args = append(args, value)
		idx++
	}

	if update.Title != nil {
		addSet("title = $%d", *update.Title)
	}
	if update.Content != nil {
		addSet("content = $%d", *update.Content)
		addSet("word_count = $%d", len(strings.Fields(*update.Content)))
		sets = append(sets, fmt.Sprintf("approval_status = CASE WHEN approval_status = '%s' THEN '%s' ELSE approval_status END",
			domain.ApprovalRevisionRequested, domain.ApprovalPending))
	}
	if update.Topic != nil {
		addSet("topic = $%d", *update.Topic)
	}
	if update.Sources != nil {
		sources, err := marshalJSON(update.Sources)
		if err != nil {
			return nil, err
		}
		addSet("sources = $%d", sources)
	}
	if update.Metadata != nil {
		metadata, err := marshalJSON(update.Metadata)
		if err != nil {
			return nil, err
		}
		addSet("metadata = $%d", metadata)
	}

	query := fmt.Sprintf(`UPDATE blog_posts SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), idx, postColumns)
	args = append(args, postID)

	var row postRow
	err := p.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}
	return row.toDomain()
}

// DeletePost removes a post; it reports whether anything was deleted.
func (p *PostgresBackend) DeletePost(ctx context.Context, postID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM blog_posts WHERE id = $1`, postID)
	if err != nil {
		return false, fmt.Errorf("failed to delete post: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete post: %w", err)
	}
	return affected > 0, nil
}

// ListPosts returns posts ordered by created_at descending.
func (p *PostgresBackend) ListPosts(ctx context.Context, filter ListPostsFilter) ([]domain.BlogPost, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if filter.Limit == 0 {
		return []domain.BlogPost{}, nil
	}

	query := `SELECT ` + postColumns + ` FROM blog_posts WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if filter.ApprovalStatus != nil {
		query += fmt.Sprintf(` AND approval_status = $%d`, idx)
		args = append(args, *filter.ApprovalStatus)
		idx++
	}
	if filter.Topic != "" {
		query += fmt.Sprintf(` AND topic = $%d`, idx)
		args = append(args, filter.Topic)
		idx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, filter.Limit, filter.Offset)

	var rows []postRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	posts := make([]domain.BlogPost, 0, len(rows))
	for i := range rows {
		post, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		posts = append(posts, *post)
	}
	return posts, nil
}

// approvalTransition locks the post row, validates the transition, applies
// it, and appends the history entry, all in one transaction.
func (p *PostgresBackend) approvalTransition(ctx context.Context, postID string, next domain.ApprovalStatus, action, feedback, actor string) (*domain.BlogPost, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row postRow
	query := `SELECT ` + postColumns + ` FROM blog_posts WHERE id = $1 FOR UPDATE`
	err = tx.GetContext(ctx, &row, query, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock post: %w", err)
	}

	current := domain.ApprovalStatus(row.ApprovalStatus)
	if !current.CanApprove() {
		return nil, domain.NewInvalidTransitionError(string(current), string(next))
	}

	update := `
		UPDATE blog_posts
		SET approval_status = $1,
			approval_feedback = $2,
			approved_at = CASE WHEN $1 = 'approved' THEN NOW() ELSE approved_at END,
			updated_at = NOW()
		WHERE id = $3
		RETURNING ` + postColumns
	err = tx.GetContext(ctx, &row, update, next, nullString(feedback), postID)
	if err != nil {
		return nil, fmt.Errorf("failed to update approval status: %w", err)
	}

	if err := p.insertHistoryTx(ctx, tx, domain.HistoryEntry{
		JobID:          historyJobIDRow(&row),
		PostID:         postID,
		Action:         action,
		PreviousStatus: string(current),
		NewStatus:      string(next),
		Actor:          actor,
		Feedback:       feedback,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit approval transition: %w", err)
	}
	return row.toDomain()
}

func historyJobIDRow(row *postRow) string {
	if row.JobID.Valid && row.JobID.String != "" {
		return row.JobID.String
	}
	return row.ID
}

// ApprovePost moves a post awaiting review to approved.
func (p *PostgresBackend) ApprovePost(ctx context.Context, postID, feedback, actor string) (*domain.BlogPost, error) {
	return p.approvalTransition(ctx, postID, domain.ApprovalApproved, domain.ActionApproved, feedback, actor)
}

// RejectPost moves a post awaiting review to rejected. Feedback is
// mandatory.
func (p *PostgresBackend) RejectPost(ctx context.Context, postID, feedback, actor string) (*domain.BlogPost, error) {
	if strings.TrimSpace(feedback) == "" {
		return nil, domain.NewValidationError("feedback", "rejection requires feedback")
	}
	return p.approvalTransition(ctx, postID, domain.ApprovalRejected, domain.ActionRejected, feedback, actor)
}

// RequestRevision moves a post awaiting review to revision_requested.
// Feedback is mandatory.
func (p *PostgresBackend) RequestRevision(ctx context.Context, postID, feedback, actor string) (*domain.BlogPost, error) {
	if strings.TrimSpace(feedback) == "" {
		return nil, domain.NewValidationError("feedback", "revision request requires feedback")
	}
	return p.approvalTransition(ctx, postID, domain.ApprovalRevisionRequested, domain.ActionRevisionRequested, feedback, actor)
}

// PublishPost stamps published_at on an approved post.
func (p *PostgresBackend) PublishPost(ctx context.Context, postID string) (*domain.BlogPost, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row postRow
	query := `SELECT ` + postColumns + ` FROM blog_posts WHERE id = $1 FOR UPDATE`
	err = tx.GetContext(ctx, &row, query, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock post: %w", err)
	}

	current := domain.ApprovalStatus(row.ApprovalStatus)
	if !current.CanPublish() {
		return nil, domain.NewInvalidTransitionError(string(current), "published")
	}

	err = tx.GetContext(ctx, &row,
		`UPDATE blog_posts SET published_at = NOW(), updated_at = NOW() WHERE id = $1 RETURNING `+postColumns,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to publish post: %w", err)
	}

	if err := p.insertHistoryTx(ctx, tx, domain.HistoryEntry{
		JobID:  historyJobIDRow(&row),
		PostID: postID,
		Action: domain.ActionPublished,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit publish: %w", err)
	}
	return row.toDomain()
}

func (p *PostgresBackend) insertHistoryTx(ctx context.Context, tx *sqlx.Tx, entry domain.HistoryEntry) error {
	metadata, err := marshalJSON(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_history (
			id, job_id, post_id, action, previous_status, new_status,
			actor, feedback, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`,
		uuid.New().String(),
		entry.JobID,
		nullString(entry.PostID),
		entry.Action,
		nullString(entry.PreviousStatus),
		nullString(entry.NewStatus),
		nullString(entry.Actor),
		nullString(entry.Feedback),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// AddHistoryEntry appends an audit record.
func (p *PostgresBackend) AddHistoryEntry(ctx context.Context, entry domain.HistoryEntry) (*domain.HistoryEntry, error) {
	if entry.JobID == "" {
		return nil, domain.NewValidationError("job_id", "job_id is required")
	}
	metadata, err := marshalJSON(entry.Metadata)
	if err != nil {
		return nil, err
	}

	var row historyRow
	query := `
		INSERT INTO job_history (
			id, job_id, post_id, action, previous_status, new_status,
			actor, feedback, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING ` + historyColumns
	err = p.db.GetContext(ctx, &row, query,
		uuid.New().String(),
		entry.JobID,
		nullString(entry.PostID),
		entry.Action,
		nullString(entry.PreviousStatus),
		nullString(entry.NewStatus),
		nullString(entry.Actor),
		nullString(entry.Feedback),
		metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add history entry: %w", err)
	}
	return row.toDomain()
}

func (p *PostgresBackend) queryHistory(ctx context.Context, query string, arg string) ([]domain.HistoryEntry, error) {
	var rows []historyRow
	if err := p.db.SelectContext(ctx, &rows, query, arg); err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	entries := make([]domain.HistoryEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// GetJobHistory returns a job's entries oldest first.
func (p *PostgresBackend) GetJobHistory(ctx context.Context, jobID string) ([]domain.HistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM job_history WHERE job_id = $1 ORDER BY created_at ASC`
	return p.queryHistory(ctx, query, jobID)
}

// GetPostHistory returns a post's entries oldest first.
func (p *PostgresBackend) GetPostHistory(ctx context.Context, postID string) ([]domain.HistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM job_history WHERE post_id = $1 ORDER BY created_at ASC`
	return p.queryHistory(ctx, query, postID)
}

// GetStats aggregates counts in two queries. Rates stay nil when there is
// nothing to divide by.
func (p *PostgresBackend) GetStats(ctx context.Context) (*domain.Stats, error) {
	stats := &domain.Stats{}

	jobQuery := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status NOT IN ('completed', 'failed')) AS pending
		FROM jobs
	`
	err := p.db.QueryRowContext(ctx, jobQuery).Scan(
		&stats.TotalJobs, &stats.CompletedJobs, &stats.FailedJobs, &stats.PendingJobs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate job stats: %w", err)
	}

	postQuery := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE approval_status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE approval_status = 'approved') AS approved,
			COUNT(*) FILTER (WHERE approval_status = 'rejected') AS rejected,
			COUNT(*) FILTER (WHERE approval_status = 'revision_requested') AS revision,
			COUNT(*) FILTER (WHERE published_at IS NOT NULL) AS published,
			AVG(EXTRACT(EPOCH FROM (approved_at - created_at)) / 3600.0)
				FILTER (WHERE approved_at IS NOT NULL) AS avg_approval_hours
		FROM blog_posts
	`
	var avgApprovalHours sql.NullFloat64
	err = p.db.QueryRowContext(ctx, postQuery).Scan(
		&stats.TotalPosts, &stats.PendingApproval, &stats.ApprovedPosts,
		&stats.RejectedPosts, &stats.RevisionRequested, &stats.PublishedPosts,
		&avgApprovalHours,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate post stats: %w", err)
	}

	if stats.TotalPosts > 0 {
		rate := float64(stats.ApprovedPosts) / float64(stats.TotalPosts) * 100
		stats.ApprovalRate = &rate
	}
	if avgApprovalHours.Valid {
		avg := avgApprovalHours.Float64
		stats.AvgApprovalTimeHours = &avg
	}
	return stats, nil
}

// HealthCheck pings the database; it never returns an error.
func (p *PostgresBackend) HealthCheck(ctx context.Context) bool {
	if err := p.db.PingContext(ctx); err != nil {
		p.logger.Warn("Storage health check failed", slog.Any("error", err))
		return false
	}
	return true
}
