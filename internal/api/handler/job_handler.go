package handler

import (
	"log/slog"
	"net/http"

	"github.com/blogsmith/blogsmith/internal/api/dto"
	"github.com/blogsmith/blogsmith/internal/domain"
	"github.com/blogsmith/blogsmith/internal/jobs"
	"github.com/gin-gonic/gin"
)

// JobHandler handles job-related HTTP requests.
type JobHandler struct {
	logger *slog.Logger
	jobs   *jobs.Service
}

// NewJobHandler creates a new JobHandler instance.
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// SubmitJob handles POST /api/v1/jobs.
// Submissions are idempotent per correlation_id: a repeat returns the
// existing job with 200 instead of creating a second one.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := h.jobs.Submit(c.Request.Context(), domain.JobSubmission{
		CorrelationID: req.CorrelationID,
		Topics:        req.Topics,
		Sources:       req.Sources,
		NumCandidates: req.NumCandidates,
		MaxResults:    req.MaxResults,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	status := http.StatusAccepted
	if result.IsDuplicate {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// GetJob handles GET /api/v1/jobs/:job_id.
// A storage outage degrades to 503 with status "unknown" rather than
// pretending the job is gone.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if domain.IsBackendUnavailable(err) {
			c.JSON(http.StatusServiceUnavailable, dto.JobStatusResponse{
				JobID:  jobID,
				Status: "unknown",
				Error:  "storage temporarily unavailable",
			})
			return
		}
		writeError(c, h.logger, err)
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetJobByCorrelationID handles GET /api/v1/jobs/by-correlation/:correlation_id.
func (h *JobHandler) GetJobByCorrelationID(c *gin.Context) {
	correlationID := c.Param("correlation_id")

	job, err := h.jobs.GetJobByCorrelationID(c.Request.Context(), correlationID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no job for correlation id"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	if req.Limit <= 0 {
		req.Limit = 20
	}

	var status *domain.JobStatus
	if req.Status != "" {
		parsed, err := domain.ParseJobStatus(req.Status)
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		status = &parsed
	}

	list, err := h.jobs.ListJobs(c.Request.Context(), status, req.Limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list, "count": len(list)})
}

// GetJobHistory handles GET /api/v1/jobs/:job_id/history.
func (h *JobHandler) GetJobHistory(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	history, err := h.jobs.GetHistory(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "history": history})
}
