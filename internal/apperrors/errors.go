// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrInternal   = errors.New("internal error")

	// Pipeline taxonomy.
	ErrEngineUnreachable      = errors.New("inference engine unreachable")
	ErrSourceMissing          = errors.New("source artifact missing")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrSlicerRejectedGeometry = errors.New("slicer rejected geometry")
	ErrSlicerProcessFailed    = errors.New("slicer process failed")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "visual_prompt")
	Resource string // For not found errors (e.g., "artifact")
	Op       string // Operation that failed (e.g., "engine.submit")
	Output   string // Captured process output, slicer errors only
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// EngineUnreachable reports a transport or protocol failure talking to the inference engine.
func EngineUnreachable(op string, cause error) error {
	return &Error{
		Sentinel: ErrEngineUnreachable,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// SourceMissing reports an artifact that vanished before a stage could consume it.
func SourceMissing(op, name string) error {
	return &Error{
		Sentinel: ErrSourceMissing,
		Message:  fmt.Sprintf("%s: %s no longer exists", op, name),
		Resource: name,
		Op:       op,
	}
}

// StorageUnavailable reports a failed publish to durable storage.
func StorageUnavailable(op string, cause error) error {
	return &Error{
		Sentinel: ErrStorageUnavailable,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// SlicerRejectedGeometry reports a slice run that produced no output file.
func SlicerRejectedGeometry(output string) error {
	return &Error{
		Sentinel: ErrSlicerRejectedGeometry,
		Message:  "the model could not be sliced; it may have disconnected parts or non-manifold geometry",
		Op:       "slicer.estimate",
		Output:   output,
	}
}

// SlicerProcessFailed reports a slicer run that failed without a diagnosable cause.
func SlicerProcessFailed(output string, cause error) error {
	msg := fmt.Sprintf("slicer process failed: %v", cause)
	if output != "" {
		msg += ": " + output
	}
	return &Error{
		Sentinel: ErrSlicerProcessFailed,
		Message:  msg,
		Op:       "slicer.run",
		Output:   output,
		Cause:    cause,
	}
}
