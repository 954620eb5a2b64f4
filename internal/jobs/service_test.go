package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/blogsmith/blogsmith/internal/domain"
	"github.com/blogsmith/blogsmith/internal/pipeline"
	"github.com/blogsmith/blogsmith/internal/queue"
	"github.com/blogsmith/blogsmith/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	articles []pipeline.Article
	err      error
}

func (s *stubFetcher) FetchAll(ctx context.Context, topics, sources []string, maxResults int) ([]pipeline.Article, error) {
	return s.articles, s.err
}

type stubGenerator struct {
	candidates []pipeline.Candidate
	err        error
}

func (s *stubGenerator) GenerateCandidates(ctx context.Context, articles []pipeline.Article, numCandidates int) ([]pipeline.Candidate, error) {
	return s.candidates, s.err
}

type stubScorer struct {
	scored []pipeline.ScoredCandidate
	err    error
}

func (s *stubScorer) ScoreCandidates(ctx context.Context, candidates []pipeline.Candidate) ([]pipeline.ScoredCandidate, error) {
	return s.scored, s.err
}

type stubRefiner struct {
	content string
	err     error
}

func (s *stubRefiner) RefineWinner(ctx context.Context, winner pipeline.ScoredCandidate) (string, error) {
	return s.content, s.err
}

// failingQueue rejects every enqueue.
type failingQueue struct {
	queue.Backend
}

func (f *failingQueue) Enqueue(ctx context.Context, jobID string) error {
	return domain.NewBackendUnavailableError("queue", fmt.Errorf("broker down"))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func workingPipeline() pipeline.Pipeline {
	winner := pipeline.ScoredCandidate{
		Candidate: pipeline.Candidate{
			Title:   "Why Go Channels Age Well",
			Content: "draft",
			Topic:   "golang",
			Sources: []string{"hn"},
		},
		Score: pipeline.Score{
			Relevance: 0.9, Originality: 0.8, Depth: 0.7,
			Clarity: 0.9, Engagement: 0.6, Total: 0.81,
			Reasoning: "strong technical depth",
		},
	}
	return pipeline.Pipeline{
		Fetcher: &stubFetcher{articles: []pipeline.Article{
			{Title: "a1", Source: "hn"},
			{Title: "a2", Source: "hn"},
		}},
		Generator: &stubGenerator{candidates: []pipeline.Candidate{
			winner.Candidate,
			{Title: "runner-up", Content: "draft", Topic: "golang"},
		}},
		Scorer: &stubScorer{scored: []pipeline.ScoredCandidate{
			winner,
			{Candidate: pipeline.Candidate{Title: "runner-up"}, Score: pipeline.Score{Total: 0.4}},
		}},
		Refiner: &stubRefiner{content: "---\ntitle: Why Go Channels Age Well\n---\n\nFinal words here."},
	}
}

func newTestService(t *testing.T, p pipeline.Pipeline) (*Service, storage.Backend, *queue.MemoryQueue) {
	t.Helper()
	logger := testLogger()
	store := storage.NewMemoryBackend(logger)
	q := queue.NewMemoryQueue(queue.DefaultMaxAttempts, logger)
	defaults := Defaults{
		Topics:        []string{"golang"},
		Sources:       []string{"hn"},
		NumCandidates: 3,
		MaxResults:    10,
	}
	return NewService(store, q, p, defaults, logger), store, q
}

func TestSubmitCreatesAndEnqueues(t *testing.T) {
	svc, store, q := newTestService(t, workingPipeline())
	ctx := context.Background()

	res, err := svc.Submit(ctx, domain.JobSubmission{CorrelationID: "daily-2026-08-31"})
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
	assert.Equal(t, domain.JobStatusPending, res.Status)
	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, 1, q.Size())

	job, err := store.GetJob(ctx, res.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, []string{"golang"}, job.Topics)
	assert.Equal(t, 3, job.NumCandidates)

	history, err := store.GetJobHistory(ctx, res.JobID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ActionSubmitted, history[0].Action)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	svc, _, q := newTestService(t, workingPipeline())

	tests := []struct {
		name string
		sub  domain.JobSubmission
	}{
		{name: "empty topic entry", sub: domain.JobSubmission{Topics: []string{"golang", ""}}},
		{name: "empty source entry", sub: domain.JobSubmission{Sources: []string{""}}},
		{name: "negative candidates", sub: domain.JobSubmission{NumCandidates: -1}},
		{name: "negative max results", sub: domain.JobSubmission{MaxResults: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tt.sub)
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err))
		})
	}
	assert.Equal(t, 0, q.Size())
}

func TestSubmitDuplicateCorrelationID(t *testing.T) {
	svc, _, q := newTestService(t, workingPipeline())
	ctx := context.Background()

	first, err := svc.Submit(ctx, domain.JobSubmission{CorrelationID: "weekly-35"})
	require.NoError(t, err)

	second, err := svc.Submit(ctx, domain.JobSubmission{CorrelationID: "weekly-35"})
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, first.JobID, second.JobID)
	assert.Equal(t, 1, q.Size(), "duplicate submission must not enqueue")
}

// correlationBlindStore hides existing jobs from the pre-insert
// correlation lookup, the way simultaneous submitters race past each
// other's lookups before either row exists.
type correlationBlindStore struct {
	storage.Backend
}

func (s *correlationBlindStore) GetJobByCorrelationID(ctx context.Context, correlationID string) (*domain.Job, error) {
	return nil, nil
}

func TestSubmitConcurrentSameCorrelationID(t *testing.T) {
	logger := testLogger()
	store := storage.NewMemoryBackend(logger)
	q := queue.NewMemoryQueue(queue.DefaultMaxAttempts, logger)
	svc := NewService(&correlationBlindStore{Backend: store}, q, workingPipeline(),
		Defaults{Topics: []string{"golang"}, Sources: []string{"hn"}, NumCandidates: 3, MaxResults: 10}, logger)

	const submitters = 4
	results := make([]*SubmitResult, submitters)
	errs := make([]error, submitters)

	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Submit(context.Background(), domain.JobSubmission{
				CorrelationID: "same-key",
			})
		}(i)
	}
	wg.Wait()

	created := 0
	jobID := ""
	for i := 0; i < submitters; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		if jobID == "" {
			jobID = results[i].JobID
		}
		assert.Equal(t, jobID, results[i].JobID)
		if !results[i].IsDuplicate {
			created++
		}
	}

	// Exactly one submitter created a job; the rest got it back as a
	// duplicate.
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, q.Size())

	jobs, err := store.ListJobs(context.Background(), nil, 100)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestSubmitAfterFailedJobCreatesNew(t *testing.T) {
	svc, store, _ := newTestService(t, workingPipeline())
	ctx := context.Background()

	first, err := svc.Submit(ctx, domain.JobSubmission{CorrelationID: "weekly-36"})
	require.NoError(t, err)

	_, err = store.UpdateJobStatus(ctx, first.JobID, domain.JobStatusFailed, nil,
		&domain.JobError{Code: "FETCH_ERROR", Message: "no articles"})
	require.NoError(t, err)

	second, err := svc.Submit(ctx, domain.JobSubmission{CorrelationID: "weekly-36"})
	require.NoError(t, err)
	assert.False(t, second.IsDuplicate)
	assert.NotEqual(t, first.JobID, second.JobID)
}

func TestSubmitEnqueueFailureDoesNotBlockResubmission(t *testing.T) {
	logger := testLogger()
	store := storage.NewMemoryBackend(logger)
	svc := NewService(store, &failingQueue{}, workingPipeline(),
		Defaults{Topics: []string{"golang"}, Sources: []string{"hn"}, NumCandidates: 3, MaxResults: 10}, logger)
	ctx := context.Background()

	_, err := svc.Submit(ctx, domain.JobSubmission{CorrelationID: "stuck-key"})
	require.Error(t, err)
	assert.True(t, domain.IsBackendUnavailable(err))

	failed, err := store.GetJobByCorrelationID(ctx, "stuck-key")
	require.NoError(t, err)
	require.NotNil(t, failed)
	assert.Equal(t, domain.JobStatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "ENQUEUE_ERROR", failed.Error.Code)

	// The audit trail records the failure, not just the submission.
	history, err := store.GetJobHistory(ctx, failed.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ActionSubmitted, history[0].Action)
	assert.Equal(t, domain.ActionFailed, history[1].Action)
	assert.Equal(t, string(domain.JobStatusFailed), history[1].NewStatus)
	assert.NotEmpty(t, history[1].Feedback)

	// The correlation key is free again once the broker recovers.
	q := queue.NewMemoryQueue(queue.DefaultMaxAttempts, logger)
	svc2 := NewService(store, q, workingPipeline(),
		Defaults{Topics: []string{"golang"}, Sources: []string{"hn"}, NumCandidates: 3, MaxResults: 10}, logger)
	res, err := svc2.Submit(ctx, domain.JobSubmission{CorrelationID: "stuck-key"})
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
}

func TestExecuteHappyPath(t *testing.T) {
	svc, store, _ := newTestService(t, workingPipeline())
	ctx := context.Background()

	res, err := svc.Submit(ctx, domain.JobSubmission{})
	require.NoError(t, err)

	job, err := svc.Execute(ctx, res.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Nil(t, job.Error)
	assert.Equal(t, "Why Go Channels Age Well", job.Result.Title)
	assert.Equal(t, 2, job.Result.ArticlesFetched)
	assert.Equal(t, 2, job.Result.CandidatesGenerated)
	assert.InDelta(t, 0.81, job.Result.Scoring.Total, 1e-9)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)

	post, err := store.GetPost(ctx, job.Result.PostID)
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.Equal(t, domain.ApprovalPending, post.ApprovalStatus)
	assert.Equal(t, res.JobID, post.JobID)
	assert.Greater(t, post.WordCount, 0)

	history, err := store.GetJobHistory(ctx, res.JobID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.ActionSubmitted, history[0].Action)
	assert.Equal(t, domain.ActionStarted, history[1].Action)
	assert.Equal(t, domain.ActionCompleted, history[2].Action)
	assert.Equal(t, post.ID, history[2].PostID)
}

func TestExecuteFetchFailure(t *testing.T) {
	p := workingPipeline()
	p.Fetcher = &stubFetcher{articles: nil}
	svc, _, _ := newTestService(t, p)
	ctx := context.Background()

	res, err := svc.Submit(ctx, domain.JobSubmission{})
	require.NoError(t, err)

	job, err := svc.Execute(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Nil(t, job.Result)
	assert.Equal(t, domain.ErrCodeFetch, job.Error.Code)
}

func TestExecuteStageErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(p *pipeline.Pipeline)
		wantCode string
	}{
		{
			name:     "generator error",
			mutate:   func(p *pipeline.Pipeline) { p.Generator = &stubGenerator{err: fmt.Errorf("model timeout")} },
			wantCode: domain.ErrCodeGeneration,
		},
		{
			name:     "empty candidates",
			mutate:   func(p *pipeline.Pipeline) { p.Generator = &stubGenerator{} },
			wantCode: domain.ErrCodeGeneration,
		},
		{
			name:     "scorer error",
			mutate:   func(p *pipeline.Pipeline) { p.Scorer = &stubScorer{err: fmt.Errorf("judge unavailable")} },
			wantCode: domain.ErrCodeScoring,
		},
		{
			name:     "refiner error",
			mutate:   func(p *pipeline.Pipeline) { p.Refiner = &stubRefiner{err: fmt.Errorf("render failed")} },
			wantCode: domain.ErrCodeRefinement,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := workingPipeline()
			tt.mutate(&p)
			svc, store, _ := newTestService(t, p)
			ctx := context.Background()

			res, err := svc.Submit(ctx, domain.JobSubmission{})
			require.NoError(t, err)

			job, err := svc.Execute(ctx, res.JobID)
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusFailed, job.Status)
			require.NotNil(t, job.Error)
			assert.Equal(t, tt.wantCode, job.Error.Code)

			history, err := store.GetJobHistory(ctx, res.JobID)
			require.NoError(t, err)
			last := history[len(history)-1]
			assert.Equal(t, domain.ActionFailed, last.Action)
			assert.Equal(t, string(domain.JobStatusFailed), last.NewStatus)
		})
	}
}

func TestExecuteUnknownJob(t *testing.T) {
	svc, _, _ := newTestService(t, workingPipeline())
	_, err := svc.Execute(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestExecuteRejectsNonPendingJob(t *testing.T) {
	svc, _, _ := newTestService(t, workingPipeline())
	ctx := context.Background()

	res, err := svc.Submit(ctx, domain.JobSubmission{})
	require.NoError(t, err)

	_, err = svc.Execute(ctx, res.JobID)
	require.NoError(t, err)

	// A redelivered message hits a terminal job; the caller acks it away.
	_, err = svc.Execute(ctx, res.JobID)
	require.Error(t, err)
	assert.True(t, domain.IsTerminalState(err))
}
