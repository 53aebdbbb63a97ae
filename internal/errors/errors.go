package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Cozy Triage error code.
type ErrorCode string

const (
	ErrInvalidInput     ErrorCode = "INVALID_INPUT"     // 400
	ErrNotFound         ErrorCode = "NOT_FOUND"         // 404
	ErrAlreadyDecided   ErrorCode = "ALREADY_DECIDED"   // 409
	ErrSchemaViolation  ErrorCode = "SCHEMA_VIOLATION"  // 422
	ErrPipelineFailed   ErrorCode = "PIPELINE_FAILED"   // 500
	ErrInternal         ErrorCode = "INTERNAL"          // 500
	ErrLLMFailure       ErrorCode = "LLM_FAILURE"       // 502
	ErrEmbeddingFailure ErrorCode = "EMBEDDING_FAILURE" // 502
)

// TriageError represents a structured error with code, status, and details.
type TriageError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *TriageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *TriageError) Unwrap() error {
	return e.cause
}

// NewInvalidInput creates a 400 error for malformed caller input.
func NewInvalidInput(msg string) *TriageError {
	return &TriageError{
		Code:    ErrInvalidInput,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for an entity that does not exist or is
// not owned by the acting user.
func NewNotFound(kind, identifier string) *TriageError {
	return &TriageError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewAlreadyDecided creates a 409 error for suggestions whose decision flag
// is already set.
func NewAlreadyDecided(suggestionIDs []string) *TriageError {
	return &TriageError{
		Code:    ErrAlreadyDecided,
		Status:  409,
		Message: fmt.Sprintf("suggestions already decided: %v", suggestionIDs),
		Details: map[string]any{"suggestion_ids": suggestionIDs},
	}
}

// NewSchemaViolation creates a 422 error for model output that does not
// satisfy the candidate contract.
func NewSchemaViolation(msg string) *TriageError {
	return &TriageError{
		Code:    ErrSchemaViolation,
		Status:  422,
		Message: msg,
	}
}

// NewPipelineFailed creates a 500 error for a triage run that ended in the
// FAILED state. The cause is preserved for logging, the message stays
// generic and retryable.
func NewPipelineFailed(sessionID string, cause error) *TriageError {
	details := map[string]any{"session_id": sessionID}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	return &TriageError{
		Code:    ErrPipelineFailed,
		Status:  500,
		Message: "triage pipeline failed; the session was recorded and the submission can be retried",
		Details: details,
		cause:   cause,
	}
}

// NewLLMFailure creates a 502 error for a completion-provider failure.
func NewLLMFailure(provider string, cause error) *TriageError {
	details := map[string]any{"provider": provider}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	return &TriageError{
		Code:    ErrLLMFailure,
		Status:  502,
		Message: fmt.Sprintf("llm request failed (%s)", provider),
		Details: details,
		cause:   cause,
	}
}

// NewEmbeddingFailure creates a 502 error for an embedding-provider failure.
func NewEmbeddingFailure(provider string, cause error) *TriageError {
	details := map[string]any{"provider": provider}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	return &TriageError{
		Code:    ErrEmbeddingFailure,
		Status:  502,
		Message: fmt.Sprintf("embedding request failed (%s)", provider),
		Details: details,
		cause:   cause,
	}
}

// NewInternal creates a 500 error for unexpected internal errors. The
// message stays generic; the original error goes into Details for logging.
func NewInternal(err error) *TriageError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &TriageError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		cause:   err,
	}
}

// Is checks if an error (or anything it wraps) is a TriageError with the
// given code.
func Is(err error, code ErrorCode) bool {
	var tErr *TriageError
	if stderrors.As(err, &tErr) {
		return tErr.Code == code
	}
	return false
}

// AsTriage extracts the TriageError from an error chain, wrapping unknown
// errors as INTERNAL so surfaces always have a code and status to report.
func AsTriage(err error) *TriageError {
	var tErr *TriageError
	if stderrors.As(err, &tErr) {
		return tErr
	}
	return NewInternal(err)
}
