// Package feedback implements the editorial approval workflow over
// generated posts: approve, reject, request revision, publish, and the
// aggregate statistics used by the review dashboard.
package feedback

import (
	"context"
	"log/slog"
	"strings"

	"github.com/blogsmith/blogsmith/internal/domain"
	"github.com/blogsmith/blogsmith/internal/storage"
)

// Service wraps the storage backend's approval transitions with input
// validation and logging. The atomicity of each decision (status change
// plus history entry) is the backend's responsibility.
type Service struct {
	storage storage.Backend
	logger  *slog.Logger
}

// NewService creates a feedback service.
func NewService(store storage.Backend, logger *slog.Logger) *Service {
	return &Service{storage: store, logger: logger}
}

// GetPost returns a post or (nil, nil) when unknown.
func (s *Service) GetPost(ctx context.Context, postID string) (*domain.BlogPost, error) {
	return s.storage.GetPost(ctx, postID)
}

// ListPosts returns posts newest first, filtered by approval status and
// topic.
func (s *Service) ListPosts(ctx context.Context, filter storage.ListPostsFilter) ([]domain.BlogPost, error) {
	return s.storage.ListPosts(ctx, filter)
}

// UpdatePost applies a partial edit. A content edit on a post in
// revision_requested returns it to the review queue.
func (s *Service) UpdatePost(ctx context.Context, postID string, update domain.PostUpdate) (*domain.BlogPost, error) {
	return s.storage.UpdatePost(ctx, postID, update)
}

// DeletePost removes a post, reporting whether it existed.
func (s *Service) DeletePost(ctx context.Context, postID string) (bool, error) {
	return s.storage.DeletePost(ctx, postID)
}

// Approve records an approval decision. Feedback is optional here.
func (s *Service) Approve(ctx context.Context, postID, feedback, actor string) (*domain.BlogPost, error) {
	post, err := s.storage.ApprovePost(ctx, postID, feedback, actor)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Post approved",
		slog.String("post_id", postID),
		slog.String("actor", actor),
	)
	return post, nil
}

// Reject records a rejection. Feedback is mandatory: a rejected draft
// without a reason is useless to whoever revisits it.
func (s *Service) Reject(ctx context.Context, postID, feedback, actor string) (*domain.BlogPost, error) {
	if strings.TrimSpace(feedback) == "" {
		return nil, domain.NewValidationError("feedback", "feedback is required to reject a post")
	}
	post, err := s.storage.RejectPost(ctx, postID, feedback, actor)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Post rejected",
		slog.String("post_id", postID),
		slog.String("actor", actor),
	)
	return post, nil
}

// RequestRevision sends a post back for rework. Feedback is mandatory.
func (s *Service) RequestRevision(ctx context.Context, postID, feedback, actor string) (*domain.BlogPost, error) {
	if strings.TrimSpace(feedback) == "" {
		return nil, domain.NewValidationError("feedback", "feedback is required to request a revision")
	}
	post, err := s.storage.RequestRevision(ctx, postID, feedback, actor)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Revision requested",
		slog.String("post_id", postID),
		slog.String("actor", actor),
	)
	return post, nil
}

// Publish marks an approved post as published.
func (s *Service) Publish(ctx context.Context, postID string) (*domain.BlogPost, error) {
	post, err := s.storage.PublishPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Post published",
		slog.String("post_id", postID),
		slog.String("title", post.Title),
	)
	return post, nil
}

// GetHistory returns a post's audit trail oldest first.
func (s *Service) GetHistory(ctx context.Context, postID string) ([]domain.HistoryEntry, error) {
	return s.storage.GetPostHistory(ctx, postID)
}

// GetStats returns aggregate job and approval statistics.
func (s *Service) GetStats(ctx context.Context) (*domain.Stats, error) {
	return s.storage.GetStats(ctx)
}
