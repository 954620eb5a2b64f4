package dto

type SubmitJobRequest struct {
	CorrelationID string   `json:"correlation_id"`
	Topics        []string `json:"topics"`
	Sources       []string `json:"sources"`
	NumCandidates int      `json:"num_candidates"`
	MaxResults    int      `json:"max_results"`
}

type ListJobsRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}

// JobStatusResponse is the polling payload. Status is "unknown" when the
// storage backend cannot be reached; the job itself may be fine.
type JobStatusResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
