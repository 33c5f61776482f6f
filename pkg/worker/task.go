package worker

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/jzx17/gothreadpool/pkg/types"
)

// taskIDCounter is the global task ID counter
var taskIDCounter int64

func nextTaskID() string {
	return fmt.Sprintf("task-%d", atomic.AddInt64(&taskIDCounter, 1))
}

// BasicTask is the basic implementation of Task interface
type BasicTask struct {
	id          string
	description string
	fn          func() error
}

// NewBasicTask creates a new basic task
func NewBasicTask(fn func() error) *BasicTask {
	return &BasicTask{
		id: nextTaskID(),
		fn: fn,
	}
}

// NewBasicTaskWithDescription creates a basic task tagged for diagnostics
func NewBasicTaskWithDescription(description string, fn func() error) *BasicTask {
	return &BasicTask{
		id:          nextTaskID(),
		description: description,
		fn:          fn,
	}
}

// NewBasicTaskWithID creates a basic task with custom ID
func NewBasicTaskWithID(id string, fn func() error) *BasicTask {
	return &BasicTask{
		id: id,
		fn: fn,
	}
}

// Execute executes the task
func (t *BasicTask) Execute() error {
	if t.fn == nil {
		return fmt.Errorf("task %s has no execution function", t.id)
	}
	return t.fn()
}

// ID returns the task ID
func (t *BasicTask) ID() string {
	return t.id
}

// Description returns the task description
func (t *BasicTask) Description() string {
	return t.description
}

// safeExecute runs the task, converting a panic into a *types.TaskError
// carrying the recovered value and the stack of the panicking goroutine
func safeExecute(task types.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(task, r)
		}
	}()

	return task.Execute()
}

// stack returns the full trace of the calling goroutine
func stack() string {
	buf := make([]byte, 4096)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, 2*len(buf))
	}
}

func panicError(task types.Task, r interface{}) error {

	var cause error
	switch v := r.(type) {
	case error:
		cause = errors.Wrap(v, "panic")
	default:
		cause = errors.Errorf("panic: %v", v)
	}

	taskErr := types.NewTaskError(task.ID(), task.Description(), cause)
	taskErr.Panicked = true
	taskErr.WithContext("stack_trace", stack())
	return taskErr
}

// goexitError reports a task whose goroutine was stopped by runtime.Goexit,
// e.g. t.FailNow called from inside the task
func goexitError(task types.Task) error {
	taskErr := types.NewTaskError(task.ID(), task.Description(), errors.WithStack(types.ErrTaskGoexit))
	taskErr.WithContext("stack_trace", stack())
	return taskErr
}
