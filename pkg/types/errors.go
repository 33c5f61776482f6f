// Package types defines error types
package types

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrPoolDraining indicates the pool has begun shutting down and accepts no more work
	ErrPoolDraining = errors.New("worker pool is draining")

	// ErrNilTask indicates a nil task or callable was submitted
	ErrNilTask = errors.New("task cannot be nil")

	// ErrQueueNotDrained indicates the task queue still held work after all workers exited
	ErrQueueNotDrained = errors.New("task queue not drained after shutdown")

	// ErrInvalidConfig indicates an invalid pool configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTaskGoexit indicates a task body called runtime.Goexit instead of returning
	ErrTaskGoexit = errors.New("task called runtime.Goexit")
)

// TaskError represents a failure raised by a task body
type TaskError struct {
	// TaskID is the identifier of the failed task
	TaskID string

	// Description is the optional human-readable task description
	Description string

	// Cause is the underlying error
	Cause error

	// Panicked reports whether the failure was a recovered panic
	Panicked bool

	// Context contains error context information
	Context map[string]interface{}
}

// Error implements the error interface
func (e *TaskError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("task %s (%s) failed: %v", e.TaskID, e.Description, e.Cause)
	}
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Cause)
}

// Unwrap returns the underlying error
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is a specific error
func (e *TaskError) Is(target error) bool {
	return errors.Is(e.Cause, target)
}

// NewTaskError creates a new task error
func NewTaskError(taskID, description string, cause error) *TaskError {
	return &TaskError{
		TaskID:      taskID,
		Description: description,
		Cause:       cause,
		Context:     make(map[string]interface{}),
	}
}

// WithContext adds error context
func (e *TaskError) WithContext(key string, value interface{}) *TaskError {
	e.Context[key] = value
	return e
}

// IsPanic reports whether err wraps a recovered task panic
func IsPanic(err error) bool {
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr.Panicked
	}
	return false
}
