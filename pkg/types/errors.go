// Package types defines error types
package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Predefined errors
var (
	// ErrConnection is the canonical simulated dependency outage
	ErrConnection = errors.New("connection error")

	// ErrNoExecuteFunc indicates a pool was built without an execution function
	ErrNoExecuteFunc = errors.New("execute function is nil")
)

// TransientError marks a retryable failure
type TransientError struct {
	// Err is the underlying error
	Err error

	// RetryAfter overrides the policy delay when positive
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *TransientError) Error() string {
	if e.Err == nil {
		return "transient failure"
	}
	return "transient: " + e.Err.Error()
}

// Unwrap returns the underlying error
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure
func Transient(err error) error {
	return &TransientError{Err: err}
}

// TransientAfter wraps err as a retryable failure with a suggested delay
func TransientAfter(err error, after time.Duration) error {
	return &TransientError{Err: err, RetryAfter: after}
}

// IsTransient checks if an error is retryable
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RetryAfter returns the suggested retry delay carried by a transient error
func RetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// Class is the classification of one execution result
type Class int

const (
	// ClassSuccess is a nil error
	ClassSuccess Class = iota
	// ClassTransient is retryable
	ClassTransient
	// ClassPermanent is everything else
	ClassPermanent
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify maps an execution error to its class. Context errors that reach
// here were produced by the function itself, not by a crash, so they are
// permanent like any other unclassified error.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassSuccess
	case IsTransient(err):
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// IsContextError reports whether err is a cancellation or deadline error
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// TaskError carries context about a failed execution attempt
type TaskError struct {
	// Worker is the name of the worker that ran the attempt
	Worker string

	// TaskID is the failing task
	TaskID int64

	// Attempt is the attempt number that failed
	Attempt int

	// Cause is the underlying error
	Cause error

	// Stack is set when the failure was a recovered panic
	Stack string

	// Context contains extra diagnostic information
	Context map[string]interface{}
}

// NewTaskError creates a new task error
func NewTaskError(worker string, task Task, cause error) *TaskError {
	return &TaskError{
		Worker:  worker,
		TaskID:  task.ID,
		Attempt: task.Attempt,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: task %d attempt %d: %v", e.Worker, e.TaskID, e.Attempt, e.Cause)
}

// Unwrap returns the underlying error
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// WithContext adds error context
func (e *TaskError) WithContext(key string, value interface{}) *TaskError {
	e.Context[key] = value
	return e
}
