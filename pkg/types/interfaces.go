// Package types defines core interfaces and types shared by the worker pool
package types

import (
	"time"
)

// Task is a type-erased deferred unit of work
type Task interface {
	// Execute runs the task body
	Execute() error

	// ID returns the task ID
	ID() string

	// Description returns an optional human-readable description for diagnostics
	Description() string
}

// Result carries the outcome of a submitted task
type Result[R any] struct {
	// Value is the execution result
	Value R

	// Error is the execution error
	Error error

	// Duration is the execution time
	Duration time.Duration
}

// OK reports whether the task succeeded
func (r Result[R]) OK() bool {
	return r.Error == nil
}

// PoolStats defines basic statistics for a worker pool
type PoolStats struct {
	// PoolSize is the number of workers
	PoolSize int

	// ActiveTasks is the number of tasks currently inside a worker's execute step
	ActiveTasks int64

	// Outstanding is the number of accepted tasks that have not completed yet
	Outstanding int64

	// QueueSize is the current number of tasks waiting in the queue
	QueueSize int

	// TotalSubmitted is the number of tasks accepted by the queue
	TotalSubmitted int64

	// TotalCompleted is the number of tasks that finished, successfully or not
	TotalCompleted int64

	// TotalFailed is the number of tasks that returned an error or panicked
	TotalFailed int64

	// TotalRejected is the number of submissions refused because the pool was draining
	TotalRejected int64

	// Draining reports whether shutdown has begun
	Draining bool
}

// Idle reports whether no work is queued or executing
func (s PoolStats) Idle() bool {
	return s.Outstanding == 0
}

// FailureRate gets the ratio of failed to completed tasks
func (s PoolStats) FailureRate() float64 {
	if s.TotalCompleted == 0 {
		return 0
	}
	return float64(s.TotalFailed) / float64(s.TotalCompleted)
}
