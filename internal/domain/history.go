package domain

import "time"

// History actions. Entries are append-only and never mutated; together
// they are the audit trail for everything that happened to a job and its
// post.
const (
	ActionSubmitted         = "submitted"
	ActionStarted           = "started"
	ActionCompleted         = "completed"
	ActionFailed            = "failed"
	ActionApproved          = "approved"
	ActionRejected          = "rejected"
	ActionRevisionRequested = "revision_requested"
	ActionPublished         = "published"
)

// HistoryEntry is an immutable audit record of one state transition or
// editorial action.
type HistoryEntry struct {
	ID             string            `json:"id"`
	JobID          string            `json:"job_id"`
	PostID         string            `json:"post_id,omitempty"`
	Action         string            `json:"action"`
	PreviousStatus string            `json:"previous_status,omitempty"`
	NewStatus      string            `json:"new_status,omitempty"`
	Actor          string            `json:"actor,omitempty"`
	Feedback       string            `json:"feedback,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Stats aggregates job and post counts. Rate and timing fields are nil
// when the denominator is zero rather than reporting a misleading 0.
type Stats struct {
	TotalJobs            int      `json:"total_jobs"`
	PendingJobs          int      `json:"pending_jobs"`
	CompletedJobs        int      `json:"completed_jobs"`
	FailedJobs           int      `json:"failed_jobs"`
	TotalPosts           int      `json:"total_posts"`
	PendingApproval      int      `json:"pending_approval"`
	ApprovedPosts        int      `json:"approved_posts"`
	RejectedPosts        int      `json:"rejected_posts"`
	RevisionRequested    int      `json:"revision_requested"`
	PublishedPosts       int      `json:"published_posts"`
	ApprovalRate         *float64 `json:"approval_rate,omitempty"`
	AvgApprovalTimeHours *float64 `json:"avg_approval_time_hours,omitempty"`
}
