// Package errors provides the failure reporting chain used by pool workers
package errors

import (
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jzx17/gothreadpool/pkg/types"
)

// FailureContext defines context information when a task fails
type FailureContext struct {
	// Err is the failure returned or recovered from the task
	Err error

	// TaskID identifies the failed task
	TaskID string

	// Description is the optional task description
	Description string

	// WorkerID is the worker that executed the task
	WorkerID int

	// Timestamp when the failure was observed
	Timestamp time.Time

	// Duration of the failed execution
	Duration time.Duration

	// Metadata contains additional metadata information
	Metadata map[string]interface{}
}

// NewFailureContext creates a failure context for the given task
func NewFailureContext(err error, task types.Task, workerID int) *FailureContext {
	fc := &FailureContext{
		Err:       err,
		WorkerID:  workerID,
		Timestamp: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
	if task != nil {
		fc.TaskID = task.ID()
		fc.Description = task.Description()
	}
	return fc
}

// WithMetadata adds metadata
func (fc *FailureContext) WithMetadata(key string, value interface{}) *FailureContext {
	fc.Metadata[key] = value
	return fc
}

// Panicked reports whether the failure was a recovered panic
func (fc *FailureContext) Panicked() bool {
	return types.IsPanic(fc.Err)
}

// Handler receives task failures. Implementations must be safe for concurrent use.
type Handler interface {
	// HandleFailure handles a single task failure
	HandleFailure(fc *FailureContext)

	// Name returns the name of the handler
	Name() string
}

// LoggingHandler writes failures to a zap logger
type LoggingHandler struct {
	logger *zap.Logger
	level  zapcore.Level
}

// NewLoggingHandler creates a handler logging at the given level
func NewLoggingHandler(logger *zap.Logger, level zapcore.Level) *LoggingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingHandler{logger: logger, level: level}
}

// HandleFailure logs the failure with task and worker fields
func (h *LoggingHandler) HandleFailure(fc *FailureContext) {
	ce := h.logger.Check(h.level, "task failed")
	if ce == nil {
		return
	}

	fields := []zap.Field{
		zap.String("task_id", fc.TaskID),
		zap.Int("worker_id", fc.WorkerID),
		zap.Duration("duration", fc.Duration),
		zap.Error(fc.Err),
	}
	if fc.Description != "" {
		fields = append(fields, zap.String("description", fc.Description))
	}
	if len(fc.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", fc.Metadata))
	}
	switch {
	case fc.Panicked():
		fields = append(fields, zap.Bool("panic", true), zap.String("stack", stackOf(fc.Err)))
	case stderrors.Is(fc.Err, types.ErrTaskGoexit):
		fields = append(fields, zap.Bool("goexit", true), zap.String("stack", stackOf(fc.Err)))
	}
	ce.Write(fields...)
}

// Name returns the handler name
func (h *LoggingHandler) Name() string {
	return "logging"
}

// stackOf returns the goroutine trace captured when the panic was recovered,
// falling back to the %+v form of the error
func stackOf(err error) string {
	var taskErr *types.TaskError
	if stderrors.As(err, &taskErr) {
		if stack, ok := taskErr.Context["stack_trace"].(string); ok {
			return stack
		}
		return fmt.Sprintf("%+v", taskErr.Cause)
	}
	return fmt.Sprintf("%+v", err)
}

// CountingHandler counts failures, separating recovered panics
type CountingHandler struct {
	failures atomic.Int64
	panics   atomic.Int64
}

// NewCountingHandler creates a counting handler
func NewCountingHandler() *CountingHandler {
	return &CountingHandler{}
}

// HandleFailure increments the counters
func (h *CountingHandler) HandleFailure(fc *FailureContext) {
	h.failures.Add(1)
	if fc.Panicked() {
		h.panics.Add(1)
	}
}

// Name returns the handler name
func (h *CountingHandler) Name() string {
	return "counting"
}

// Failures returns the number of failures seen
func (h *CountingHandler) Failures() int64 {
	return h.failures.Load()
}

// Panics returns the number of recovered panics seen
func (h *CountingHandler) Panics() int64 {
	return h.panics.Load()
}

// Chain fans a failure out to every registered handler. A handler that
// panics is skipped; the remaining handlers still run.
type Chain struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewChain creates a chain of handlers
func NewChain(handlers ...Handler) *Chain {
	c := &Chain{}
	for _, h := range handlers {
		if h != nil {
			c.handlers = append(c.handlers, h)
		}
	}
	return c
}

// Add appends a handler to the chain
func (c *Chain) Add(h Handler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Names lists the registered handlers in call order
func (c *Chain) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, len(c.handlers))
	for i, h := range c.handlers {
		names[i] = h.Name()
	}
	return names
}

// HandleFailure calls every handler in registration order
func (c *Chain) HandleFailure(fc *FailureContext) {
	c.mu.RLock()
	handlers := c.handlers
	c.mu.RUnlock()

	for _, h := range handlers {
		callHandler(h, fc)
	}
}

// Name returns the handler name
func (c *Chain) Name() string {
	return "chain"
}

func callHandler(h Handler, fc *FailureContext) {
	defer func() {
		_ = recover()
	}()
	h.HandleFailure(fc)
}
