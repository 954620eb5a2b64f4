package handler

import (
	"log/slog"
	"net/http"

	"github.com/blogsmith/blogsmith/internal/api/dto"
	"github.com/blogsmith/blogsmith/internal/domain"
	"github.com/blogsmith/blogsmith/internal/feedback"
	"github.com/blogsmith/blogsmith/internal/storage"
	"github.com/gin-gonic/gin"
)

// PostHandler handles editorial HTTP requests: post review, approval
// decisions, publishing, and statistics.
type PostHandler struct {
	logger   *slog.Logger
	feedback *feedback.Service
}

// NewPostHandler creates a new PostHandler instance.
func NewPostHandler(deps *Dependencies) *PostHandler {
	return &PostHandler{
		logger:   deps.Logger,
		feedback: deps.Feedback,
	}
}

// ListPosts handles GET /api/v1/posts.
func (h *PostHandler) ListPosts(c *gin.Context) {
	var req dto.ListPostsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	if req.Limit == 0 {
		req.Limit = 20
	}

	filter := storage.ListPostsFilter{
		Topic:  req.Topic,
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	if req.Status != "" {
		parsed, err := domain.ParseApprovalStatus(req.Status)
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		filter.ApprovalStatus = &parsed
	}

	posts, err := h.feedback.ListPosts(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts, "count": len(posts)})
}

// GetPost handles GET /api/v1/posts/:post_id.
func (h *PostHandler) GetPost(c *gin.Context) {
	post, err := h.feedback.GetPost(c.Request.Context(), c.Param("post_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if post == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	c.JSON(http.StatusOK, post)
}

// UpdatePost handles PATCH /api/v1/posts/:post_id.
func (h *PostHandler) UpdatePost(c *gin.Context) {
	var req dto.UpdatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	post, err := h.feedback.UpdatePost(c.Request.Context(), c.Param("post_id"), domain.PostUpdate{
		Title:   req.Title,
		Content: req.Content,
		Topic:   req.Topic,
		Sources: req.Sources,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if post == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	c.JSON(http.StatusOK, post)
}

// PreviewPost handles GET /api/v1/posts/:post_id/preview. It returns the
// raw markdown for review tooling.
func (h *PostHandler) PreviewPost(c *gin.Context) {
	post, err := h.feedback.GetPost(c.Request.Context(), c.Param("post_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if post == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(post.Content))
}

// DeletePost handles DELETE /api/v1/posts/:post_id.
func (h *PostHandler) DeletePost(c *gin.Context) {
	deleted, err := h.feedback.DeletePost(c.Request.Context(), c.Param("post_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// decision runs one approval action with the shared request parsing.
func (h *PostHandler) decision(c *gin.Context, apply func(postID, fb, actor string) (*domain.BlogPost, error)) {
	var req dto.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	post, err := apply(c.Param("post_id"), req.Feedback, req.Actor)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// ApprovePost handles POST /api/v1/posts/:post_id/approve.
func (h *PostHandler) ApprovePost(c *gin.Context) {
	h.decision(c, func(postID, fb, actor string) (*domain.BlogPost, error) {
		return h.feedback.Approve(c.Request.Context(), postID, fb, actor)
	})
}

// RejectPost handles POST /api/v1/posts/:post_id/reject. Feedback is
// mandatory.
func (h *PostHandler) RejectPost(c *gin.Context) {
	h.decision(c, func(postID, fb, actor string) (*domain.BlogPost, error) {
		return h.feedback.Reject(c.Request.Context(), postID, fb, actor)
	})
}

// RequestRevision handles POST /api/v1/posts/:post_id/request-revision.
// Feedback is mandatory.
func (h *PostHandler) RequestRevision(c *gin.Context) {
	h.decision(c, func(postID, fb, actor string) (*domain.BlogPost, error) {
		return h.feedback.RequestRevision(c.Request.Context(), postID, fb, actor)
	})
}

// PublishPost handles POST /api/v1/posts/:post_id/publish.
func (h *PostHandler) PublishPost(c *gin.Context) {
	post, err := h.feedback.Publish(c.Request.Context(), c.Param("post_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// GetPostHistory handles GET /api/v1/posts/:post_id/history.
func (h *PostHandler) GetPostHistory(c *gin.Context) {
	postID := c.Param("post_id")

	post, err := h.feedback.GetPost(c.Request.Context(), postID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if post == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}

	history, err := h.feedback.GetHistory(c.Request.Context(), postID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post_id": postID, "history": history})
}

// GetStats handles GET /api/v1/stats.
func (h *PostHandler) GetStats(c *gin.Context) {
	stats, err := h.feedback.GetStats(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
