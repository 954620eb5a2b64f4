package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job lookup requires a job that
	// does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrPostNotFound is returned when a post lookup requires a post that
	// does not exist.
	ErrPostNotFound = errors.New("post not found")
)

// ValidationError reports bad caller input: empty mandatory feedback,
// non-positive limits, missing post fields.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InvalidTransitionError reports a state machine violation on a job or a
// post approval status.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %q to %q", e.From, e.To)
}

// NewInvalidTransitionError creates an InvalidTransitionError.
func NewInvalidTransitionError(from, to string) error {
	return &InvalidTransitionError{From: from, To: to}
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}

// DuplicateCorrelationError reports an insert that would create a second
// live job for a correlation key. JobID identifies the job already
// holding the key.
type DuplicateCorrelationError struct {
	CorrelationID string
	JobID         string
}

func (e *DuplicateCorrelationError) Error() string {
	return fmt.Sprintf("job %q already exists for correlation id %q", e.JobID, e.CorrelationID)
}

// NewDuplicateCorrelationError creates a DuplicateCorrelationError.
func NewDuplicateCorrelationError(correlationID, jobID string) error {
	return &DuplicateCorrelationError{CorrelationID: correlationID, JobID: jobID}
}

// IsDuplicateCorrelation reports whether err is a DuplicateCorrelationError.
func IsDuplicateCorrelation(err error) bool {
	var de *DuplicateCorrelationError
	return errors.As(err, &de)
}

// TerminalStateError reports a mutation attempted on a job that already
// reached completed or failed.
type TerminalStateError struct {
	Status string
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("job is in terminal state %q", e.Status)
}

// NewTerminalStateError creates a TerminalStateError.
func NewTerminalStateError(status string) error {
	return &TerminalStateError{Status: status}
}

// IsTerminalState reports whether err is a TerminalStateError.
func IsTerminalState(err error) bool {
	var te *TerminalStateError
	return errors.As(err, &te)
}

// BackendUnavailableError reports a queue or storage connectivity failure.
// Callers may retry the operation.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s backend unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// NewBackendUnavailableError wraps a connectivity failure for a backend.
func NewBackendUnavailableError(backend string, err error) error {
	return &BackendUnavailableError{Backend: backend, Err: err}
}

// IsBackendUnavailable reports whether err is a BackendUnavailableError.
func IsBackendUnavailable(err error) bool {
	var be *BackendUnavailableError
	return errors.As(err, &be)
}

// Pipeline stage error codes, recorded on Job.Error when a stage fails.
const (
	ErrCodeFetch      = "FETCH_ERROR"
	ErrCodeGeneration = "GENERATION_ERROR"
	ErrCodeScoring    = "SCORING_ERROR"
	ErrCodeRefinement = "REFINEMENT_ERROR"
)

// PipelineError wraps a pipeline collaborator failure with the stage it
// occurred in. It is captured into the job's terminal error field rather
// than propagated past the job service boundary.
type PipelineError struct {
	Code string
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a PipelineError with a stage code.
func NewPipelineError(code string, err error) error {
	return &PipelineError{Code: code, Err: err}
}

// ClassifyJobError converts an execution failure into the JobError stored
// on a failed job. Pipeline errors keep their stage code; anything else
// gets a generic execution code.
func ClassifyJobError(err error) *JobError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return &JobError{
			Code:    pe.Code,
			Message: pe.Err.Error(),
			Details: pe.Error(),
		}
	}
	return &JobError{
		Code:    "JOB_EXECUTION_ERROR",
		Message: err.Error(),
	}
}
