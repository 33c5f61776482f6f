package worker

import (
	"context"
	"sync"

	"github.com/jzx17/gothreadpool/pkg/types"
)

// TaskHandle is a one-shot channel for the outcome of a submitted task. It is
// fulfilled exactly once by the worker that executes the task.
type TaskHandle[R any] struct {
	id          string
	description string

	done   chan struct{}
	once   sync.Once
	result types.Result[R]
}

func newTaskHandle[R any](id, description string) *TaskHandle[R] {
	return &TaskHandle[R]{
		id:          id,
		description: description,
		done:        make(chan struct{}),
	}
}

// ID returns the ID of the task behind the handle
func (h *TaskHandle[R]) ID() string {
	return h.id
}

// Description returns the description given at submission
func (h *TaskHandle[R]) Description() string {
	return h.description
}

// Done is closed once the result is available
func (h *TaskHandle[R]) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task finished and returns its value and error
func (h *TaskHandle[R]) Wait() (R, error) {
	<-h.done
	return h.result.Value, h.result.Error
}

// WaitContext is like Wait but gives up when ctx is done. Abandoning the wait
// does not cancel the task.
func (h *TaskHandle[R]) WaitContext(ctx context.Context) (R, error) {
	select {
	case <-h.done:
		return h.result.Value, h.result.Error
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Result blocks until the task finished and returns the full result
func (h *TaskHandle[R]) Result() types.Result[R] {
	<-h.done
	return h.result
}

// TryResult returns the result without blocking; ok is false while the task is pending
func (h *TaskHandle[R]) TryResult() (result types.Result[R], ok bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return result, false
	}
}

// fulfill stores the result and releases waiters. Later calls are ignored.
func (h *TaskHandle[R]) fulfill(result types.Result[R]) bool {
	fulfilled := false
	h.once.Do(func() {
		h.result = result
		close(h.done)
		fulfilled = true
	})
	return fulfilled
}

// handleTask adapts a value-producing callable to types.Task and delivers
// its outcome, including a recovered panic, through a TaskHandle
type handleTask[R any] struct {
	id          string
	description string
	fn          func() (R, error)
	handle      *TaskHandle[R]
	clock       types.Clock
}

func (t *handleTask[R]) ID() string {
	return t.id
}

func (t *handleTask[R]) Description() string {
	return t.description
}

func (t *handleTask[R]) Execute() (err error) {
	var value R
	returned := false
	start := t.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			var zero R
			value = zero
			err = panicError(t, r)
		} else if !returned {
			// neither returned nor panicked: fn called runtime.Goexit
			err = goexitError(t)
		}
		t.handle.fulfill(types.Result[R]{
			Value:    value,
			Error:    err,
			Duration: t.clock.Since(start),
		})
	}()

	value, err = t.fn()
	returned = true
	return err
}
