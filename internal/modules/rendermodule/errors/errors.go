// Package errors provides structured error handling for the render module.
// Failures carry a classification, the operation that failed, the job they
// belong to and, for tool failures, the tail of the ffmpeg log.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for classification
type ErrorType string

const (
	// ErrorTypeStaging indicates the source could not be prepared for processing
	ErrorTypeStaging ErrorType = "staging"
	// ErrorTypeTool indicates ffmpeg exited unsuccessfully
	ErrorTypeTool ErrorType = "tool"
	// ErrorTypeTimeout indicates the job exceeded its time budget
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeStorage indicates the produced output could not be persisted
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeProbe indicates media inspection failed
	ErrorTypeProbe ErrorType = "probe"
	// ErrorTypeValidation indicates invalid request parameters
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeInternal indicates internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// Sentinel errors for common scenarios
var (
	// ErrStagingFailed indicates the caller-provided source could not be copied
	ErrStagingFailed = errors.New("failed to stage input")

	// ErrToolFailed indicates a non-zero ffmpeg exit
	ErrToolFailed = errors.New("ffmpeg failed")

	// ErrTimeout carries the hint shown to users for stuck jobs
	ErrTimeout = errors.New("render timed out, likely invalid or unreadable input")

	// ErrStorageFailed indicates the completion hook rejected the output
	ErrStorageFailed = errors.New("failed to persist output")

	// ErrProbeFailed indicates ffprobe could not read an input
	ErrProbeFailed = errors.New("failed to probe media")

	// ErrInvalidInput indicates invalid request parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrCancelled is used internally only; cancelled jobs never surface as errors
	ErrCancelled = errors.New("render cancelled")

	// ErrNoActiveJob indicates a cancel for an idle slot
	ErrNoActiveJob = errors.New("no active job for slot")
)

// RenderError provides structured error information with context
type RenderError struct {
	Type    ErrorType              // Error classification
	Op      string                 // Operation that failed (e.g., "stage_input", "run_ffmpeg")
	JobID   string                 // Related job ID if applicable
	Err     error                  // Underlying error
	Logs    []string               // Last ffmpeg log lines, oldest first
	Details map[string]interface{} // Additional context
}

// Error implements the error interface
func (e *RenderError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s error in %s for job %s: %v", e.Type, e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Type, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *RenderError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for sentinel errors
func (e *RenderError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates a new RenderError
func New(errType ErrorType, op string, err error) *RenderError {
	return &RenderError{
		Type:    errType,
		Op:      op,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithJob adds job context to the error
func (e *RenderError) WithJob(jobID string) *RenderError {
	e.JobID = jobID
	return e
}

// WithLogs attaches captured log lines
func (e *RenderError) WithLogs(lines []string) *RenderError {
	e.Logs = append([]string(nil), lines...)
	return e
}

// WithDetail adds a key-value detail to the error
func (e *RenderError) WithDetail(key string, value interface{}) *RenderError {
	e.Details[key] = value
	return e
}

// Diagnostic renders the error followed by its log tail.
func (e *RenderError) Diagnostic() string {
	if len(e.Logs) == 0 {
		return e.Error()
	}
	return e.Error() + "\n" + strings.Join(e.Logs, "\n")
}

// IsRecoverable returns true if resubmitting the same request might succeed
func (e *RenderError) IsRecoverable() bool {
	switch e.Type {
	case ErrorTypeStorage, ErrorTypeInternal:
		return true
	}
	return false
}

// Error creation helpers

// StagingError creates an input preparation error
func StagingError(op string, err error) *RenderError {
	return New(ErrorTypeStaging, op, fmt.Errorf("%w: %v", ErrStagingFailed, err))
}

// ToolError creates an ffmpeg failure error
func ToolError(op string, err error) *RenderError {
	if err == nil {
		err = ErrToolFailed
	} else if !errors.Is(err, ErrToolFailed) {
		err = fmt.Errorf("%w: %v", ErrToolFailed, err)
	}
	return New(ErrorTypeTool, op, err)
}

// TimeoutError creates a timeout error carrying the unreadable-input hint
func TimeoutError(op string) *RenderError {
	return New(ErrorTypeTimeout, op, ErrTimeout)
}

// StorageError creates a persistence error
func StorageError(op string, err error) *RenderError {
	return New(ErrorTypeStorage, op, fmt.Errorf("%w: %v", ErrStorageFailed, err))
}

// ProbeError creates a media inspection error
func ProbeError(op string, err error) *RenderError {
	return New(ErrorTypeProbe, op, fmt.Errorf("%w: %v", ErrProbeFailed, err))
}

// ValidationError creates a validation error
func ValidationError(op string, err error) *RenderError {
	return New(ErrorTypeValidation, op, err)
}

// InternalError creates an internal system error
func InternalError(op string, err error) *RenderError {
	return New(ErrorTypeInternal, op, err)
}

// GetType extracts the error type from an error
func GetType(err error) ErrorType {
	var rErr *RenderError
	if errors.As(err, &rErr) {
		return rErr.Type
	}
	return ErrorTypeInternal
}

// GetLogs extracts captured log lines from an error
func GetLogs(err error) []string {
	var rErr *RenderError
	if errors.As(err, &rErr) {
		return rErr.Logs
	}
	return nil
}

// GetJobID extracts the job ID from an error
func GetJobID(err error) string {
	var rErr *RenderError
	if errors.As(err, &rErr) {
		return rErr.JobID
	}
	return ""
}
