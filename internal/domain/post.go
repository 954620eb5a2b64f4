package domain

import "time"

// ApprovalStatus is the editorial approval state of a blog post.
//
// Approval graph:
//
//	pending ──► approved ──► (published_at set)
//	    │   ──► rejected
//	    └── ──► revision_requested ──► pending (after content is revised)
type ApprovalStatus string

const (
	ApprovalPending           ApprovalStatus = "pending"
	ApprovalApproved          ApprovalStatus = "approved"
	ApprovalRejected          ApprovalStatus = "rejected"
	ApprovalRevisionRequested ApprovalStatus = "revision_requested"
)

// ParseApprovalStatus converts a raw string to an ApprovalStatus.
func ParseApprovalStatus(s string) (ApprovalStatus, error) {
	st := ApprovalStatus(s)
	switch st {
	case ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalRevisionRequested:
		return st, nil
	}
	return "", NewValidationError("approval_status", "unknown approval status: "+s)
}

// CanApprove reports whether a post in status s may be approved or have a
// decision recorded against it. Decisions are only taken on posts that
// are awaiting review.
func (s ApprovalStatus) CanApprove() bool {
	return s == ApprovalPending || s == ApprovalRevisionRequested
}

// CanPublish reports whether a post in status s may be published.
func (s ApprovalStatus) CanPublish() bool {
	return s == ApprovalApproved
}

// PostCreate holds the fields required to create a blog post.
type PostCreate struct {
	Title    string
	Content  string
	Topic    string
	Sources  []string
	JobID    string
	Scoring  *Scoring
	Metadata map[string]string
}

// Validate checks that the required fields are present.
func (p *PostCreate) Validate() error {
	if p.Title == "" {
		return NewValidationError("title", "title is required")
	}
	if p.Content == "" {
		return NewValidationError("content", "content is required")
	}
	if p.Topic == "" {
		return NewValidationError("topic", "topic is required")
	}
	return nil
}

// PostUpdate holds optional fields for a partial post update. Nil fields
// are left unchanged.
type PostUpdate struct {
	Title    *string
	Content  *string
	Topic    *string
	Sources  []string
	Metadata map[string]string
}

// BlogPost is the durable artifact produced by a completed job.
// PublishedAt is only ever set while ApprovalStatus is approved.
type BlogPost struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Content          string            `json:"content"`
	WordCount        int               `json:"word_count"`
	Topic            string            `json:"topic"`
	Sources          []string          `json:"sources,omitempty"`
	JobID            string            `json:"job_id,omitempty"`
	ApprovalStatus   ApprovalStatus    `json:"approval_status"`
	ApprovalFeedback string            `json:"approval_feedback,omitempty"`
	Scoring          *Scoring          `json:"scoring,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	ApprovedAt       *time.Time        `json:"approved_at,omitempty"`
	PublishedAt      *time.Time        `json:"published_at,omitempty"`
}
