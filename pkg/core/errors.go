// Package core provides the main CraveCore client and insight orchestration.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPersonaNotFound indicates that a requested persona adapter is not
	// registered.
	ErrPersonaNotFound = errors.New("persona not found")

	// ErrEmbeddingFailed indicates that embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrRetrievalFailed indicates that context retrieval failed.
	ErrRetrievalFailed = errors.New("retrieval failed")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrInferenceUnreachable indicates that the inference backend stayed
	// unreachable through the bounded retry window.
	ErrInferenceUnreachable = errors.New("inference backend unreachable")

	// ErrClosed indicates that the client has been closed.
	ErrClosed = errors.New("client closed")
)

// InsightError wraps errors with operation context.
//
// It provides additional context about which operation failed,
// making error messages more informative for debugging.
//
// Example:
//
//	err := &InsightError{
//	    Op:  "GenerateInsight",
//	    Err: ErrInferenceUnreachable,
//	}
//	// Error() returns: "cravecore: GenerateInsight: inference backend unreachable"
type InsightError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "cravecore: <Op>: <Err>"
func (e *InsightError) Error() string {
	return fmt.Sprintf("cravecore: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with InsightError.
func (e *InsightError) Unwrap() error {
	return e.Err
}

// NewInsightError creates a new InsightError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewInsightError("LogCraving", err)
//	}
func NewInsightError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &InsightError{
		Op:  op,
		Err: err,
	}
}
