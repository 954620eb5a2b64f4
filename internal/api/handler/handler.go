// Package handler contains the gin HTTP handlers for the job and
// editorial APIs.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/blogsmith/blogsmith/internal/domain"
	"github.com/blogsmith/blogsmith/internal/feedback"
	"github.com/blogsmith/blogsmith/internal/jobs"
	"github.com/blogsmith/blogsmith/internal/queue"
	"github.com/blogsmith/blogsmith/internal/storage"
	"github.com/gin-gonic/gin"
)

// Dependencies holds all dependencies needed by handlers.
type Dependencies struct {
	Logger   *slog.Logger
	Jobs     *jobs.Service
	Feedback *feedback.Service
	Storage  storage.Backend
	Queue    queue.Backend
}

// writeError maps domain errors onto HTTP status codes with a uniform
// error body.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case domain.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrPostNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case domain.IsInvalidTransition(err), domain.IsTerminalState(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case domain.IsBackendUnavailable(err):
		logger.Error("Backend unavailable", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend temporarily unavailable"})
	default:
		logger.Error("Request failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
