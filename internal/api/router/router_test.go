package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/blogsmith/blogsmith/internal/api/handler"
	"github.com/blogsmith/blogsmith/internal/config"
	"github.com/blogsmith/blogsmith/internal/domain"
	"github.com/blogsmith/blogsmith/internal/feedback"
	"github.com/blogsmith/blogsmith/internal/jobs"
	"github.com/blogsmith/blogsmith/internal/pipeline/static"
	"github.com/blogsmith/blogsmith/internal/queue"
	"github.com/blogsmith/blogsmith/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWeights() config.ScoringWeights {
	return config.ScoringWeights{
		Relevance:   0.30,
		Originality: 0.25,
		Depth:       0.20,
		Clarity:     0.15,
		Engagement:  0.10,
	}
}

type testEnv struct {
	router  *gin.Engine
	storage *storage.MemoryBackend
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryBackend(logger)
	require.NoError(t, store.Initialize(context.Background()))
	q := queue.NewMemoryQueue(3, logger)

	jobService := jobs.NewService(store, q, static.New(testWeights(), logger), jobs.Defaults{
		Topics:        []string{"golang"},
		Sources:       []string{"blog.golang.org"},
		NumCandidates: 3,
		MaxResults:    10,
	}, logger)
	feedbackService := feedback.NewService(store, logger)

	r := SetupRouter(&handler.Dependencies{
		Logger:   logger,
		Jobs:     jobService,
		Feedback: feedbackService,
		Storage:  store,
		Queue:    q,
	})
	return &testEnv{router: r, storage: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createPost(t *testing.T) *domain.BlogPost {
	t.Helper()
	post, err := e.storage.CreatePost(context.Background(), domain.PostCreate{
		Title:   "Understanding Go Channels",
		Content: "Channels are typed conduits.",
		Topic:   "golang",
	})
	require.NoError(t, err)
	return post
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitJobEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("new submission returns 202", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/jobs", gin.H{"correlation_id": "daily-1"})
		assert.Equal(t, http.StatusAccepted, w.Code)

		var resp jobs.SubmitResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.JobID)
		assert.False(t, resp.IsDuplicate)
	})

	t.Run("duplicate correlation id returns 200 with same job", func(t *testing.T) {
		first := env.do(t, http.MethodPost, "/api/v1/jobs", gin.H{"correlation_id": "daily-2"})
		require.Equal(t, http.StatusAccepted, first.Code)
		var firstResp jobs.SubmitResult
		require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResp))

		second := env.do(t, http.MethodPost, "/api/v1/jobs", gin.H{"correlation_id": "daily-2"})
		assert.Equal(t, http.StatusOK, second.Code)
		var secondResp jobs.SubmitResult
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResp))
		assert.Equal(t, firstResp.JobID, secondResp.JobID)
		assert.True(t, secondResp.IsDuplicate)
	})

	t.Run("invalid parameters return 400", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/jobs", gin.H{"topics": []string{""}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetJobEndpoint(t *testing.T) {
	env := newTestEnv(t)

	submitted := env.do(t, http.MethodPost, "/api/v1/jobs", gin.H{"correlation_id": "lookup-1"})
	require.Equal(t, http.StatusAccepted, submitted.Code)
	var resp jobs.SubmitResult
	require.NoError(t, json.Unmarshal(submitted.Body.Bytes(), &resp))

	t.Run("existing job", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/jobs/"+resp.JobID, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var job domain.Job
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
		assert.Equal(t, domain.JobStatusPending, job.Status)
	})

	t.Run("by correlation id", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/jobs/by-correlation/lookup-1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown job returns 404", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/jobs/no-such-job", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("history includes submission", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/jobs/"+resp.JobID+"/history", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), domain.ActionSubmitted)
	})
}

func TestListJobsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodPost, "/api/v1/jobs", gin.H{"correlation_id": fmt.Sprintf("list-%d", i)})
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	t.Run("all jobs", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/jobs", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 3, body.Count)
	})

	t.Run("status filter", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/jobs?status=completed", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 0, body.Count)
	})

	t.Run("unknown status returns 400", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/jobs?status=bogus", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestApprovalEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("approve", func(t *testing.T) {
		post := env.createPost(t)
		w := env.do(t, http.MethodPost, "/api/v1/posts/"+post.ID+"/approve", gin.H{"actor": "editor"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"approval_status":"approved"`)
	})

	t.Run("decision on decided post returns 409", func(t *testing.T) {
		post := env.createPost(t)
		first := env.do(t, http.MethodPost, "/api/v1/posts/"+post.ID+"/approve", nil)
		require.Equal(t, http.StatusOK, first.Code)

		second := env.do(t, http.MethodPost, "/api/v1/posts/"+post.ID+"/reject",
			gin.H{"feedback": "too late", "actor": "editor"})
		assert.Equal(t, http.StatusConflict, second.Code)
	})

	t.Run("reject without feedback returns 400", func(t *testing.T) {
		post := env.createPost(t)
		w := env.do(t, http.MethodPost, "/api/v1/posts/"+post.ID+"/reject", gin.H{"actor": "editor"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("publish requires approval", func(t *testing.T) {
		post := env.createPost(t)
		w := env.do(t, http.MethodPost, "/api/v1/posts/"+post.ID+"/publish", nil)
		assert.Equal(t, http.StatusConflict, w.Code)

		approve := env.do(t, http.MethodPost, "/api/v1/posts/"+post.ID+"/approve", nil)
		require.Equal(t, http.StatusOK, approve.Code)

		w = env.do(t, http.MethodPost, "/api/v1/posts/"+post.ID+"/publish", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "published_at")
	})

	t.Run("unknown post returns 404", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/posts/no-such-post/approve", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestPostEndpoints(t *testing.T) {
	env := newTestEnv(t)
	post := env.createPost(t)

	t.Run("get post", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/posts/"+post.ID, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("preview returns raw markdown", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/posts/"+post.ID+"/preview", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")
		assert.Equal(t, "Channels are typed conduits.", w.Body.String())
	})

	t.Run("patch updates content", func(t *testing.T) {
		w := env.do(t, http.MethodPatch, "/api/v1/posts/"+post.ID, gin.H{"content": "one two three"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"word_count":3`)
	})

	t.Run("list posts", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/posts", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("delete post", func(t *testing.T) {
		w := env.do(t, http.MethodDelete, "/api/v1/posts/"+post.ID, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = env.do(t, http.MethodGet, "/api/v1/posts/"+post.ID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createPost(t)

	w := env.do(t, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var stats domain.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalPosts)
	assert.Equal(t, 1, stats.PendingApproval)
}
