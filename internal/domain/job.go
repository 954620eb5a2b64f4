// Package domain defines the core entities of the blog pipeline: jobs,
// blog posts, history entries, and the state machines that govern them.
//
// Job status graph:
//
//	pending ──► fetching ──► generating ──► scoring ──► refining ──► completed
//	    │           │             │            │            │
//	    └───────────┴─────────────┴────────────┴────────────┴──► failed
//
// completed and failed are terminal states.
package domain

import "time"

// JobStatus is the lifecycle status of a pipeline job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusFetching   JobStatus = "fetching"
	JobStatusGenerating JobStatus = "generating"
	JobStatusScoring    JobStatus = "scoring"
	JobStatusRefining   JobStatus = "refining"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// jobTransitions lists every allowed (from → to) pair. Terminal states
// have no outgoing transitions.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusFetching, JobStatusFailed},
	JobStatusFetching:   {JobStatusGenerating, JobStatusFailed},
	JobStatusGenerating: {JobStatusScoring, JobStatusFailed},
	JobStatusScoring:    {JobStatusRefining, JobStatusFailed},
	JobStatusRefining:   {JobStatusCompleted, JobStatusFailed},
}

// ParseJobStatus converts a raw string to a JobStatus, returning an error
// for unknown values.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	switch st {
	case JobStatusPending, JobStatusFetching, JobStatusGenerating,
		JobStatusScoring, JobStatusRefining, JobStatusCompleted, JobStatusFailed:
		return st, nil
	}
	return "", NewValidationError("status", "unknown job status: "+s)
}

// IsTerminal reports whether the status permits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next is permitted by the
// job state machine.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CheckJobTransition validates a status transition, distinguishing
// attempts to leave a terminal state from other violations.
func CheckJobTransition(from, to JobStatus) error {
	if from.IsTerminal() {
		return NewTerminalStateError(string(from))
	}
	if !from.CanTransition(to) {
		return NewInvalidTransitionError(string(from), string(to))
	}
	return nil
}

// JobSubmission holds the caller-supplied parameters for a new job.
type JobSubmission struct {
	CorrelationID string   `json:"correlation_id,omitempty"`
	Topics        []string `json:"topics,omitempty"`
	Sources       []string `json:"sources,omitempty"`
	NumCandidates int      `json:"num_candidates"`
	MaxResults    int      `json:"max_results"`
}

// Validate checks the submission parameters. Topics and sources are
// optional (the pipeline falls back to configured defaults) but listed
// entries must be non-empty.
func (s *JobSubmission) Validate() error {
	for _, topic := range s.Topics {
		if topic == "" {
			return NewValidationError("topics", "topic must not be empty")
		}
	}
	for _, src := range s.Sources {
		if src == "" {
			return NewValidationError("sources", "source must not be empty")
		}
	}
	if s.NumCandidates <= 0 {
		return NewValidationError("num_candidates", "must be positive")
	}
	if s.MaxResults <= 0 {
		return NewValidationError("max_results", "must be positive")
	}
	return nil
}

// Scoring is the score breakdown of the winning candidate.
type Scoring struct {
	Relevance   float64 `json:"relevance"`
	Originality float64 `json:"originality"`
	Depth       float64 `json:"depth"`
	Clarity     float64 `json:"clarity"`
	Engagement  float64 `json:"engagement"`
	Total       float64 `json:"total"`
	Reasoning   string  `json:"reasoning,omitempty"`
}

// JobResult is attached to a job when it reaches completed status.
type JobResult struct {
	PostID              string  `json:"post_id"`
	Title               string  `json:"title"`
	WordCount           int     `json:"word_count"`
	Topic               string  `json:"topic"`
	Scoring             Scoring `json:"scoring"`
	ArticlesFetched     int     `json:"articles_fetched"`
	CandidatesGenerated int     `json:"candidates_generated"`
}

// JobError is attached to a job when it reaches failed status.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Job is a unit of pipeline work. Submission parameters are immutable
// after creation; exactly one of Result/Error is set once the job reaches
// a terminal status.
type Job struct {
	ID            string     `json:"id"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Status        JobStatus  `json:"status"`
	Topics        []string   `json:"topics,omitempty"`
	Sources       []string   `json:"sources,omitempty"`
	NumCandidates int        `json:"num_candidates"`
	MaxResults    int        `json:"max_results"`
	Result        *JobResult `json:"result,omitempty"`
	Error         *JobError  `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
