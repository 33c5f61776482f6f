package worker

import (
	"github.com/jzx17/gothreadpool/pkg/types"
)

// Submit schedules fn on the pool and returns a handle for its result.
// Arguments are bound by capturing them in fn. Submitting after Close has
// begun returns types.ErrPoolDraining (or panics with Config.PanicOnMisuse).
func Submit[R any](p *Pool, fn func() (R, error)) (*TaskHandle[R], error) {
	return SubmitNamed(p, "", fn)
}

// SubmitNamed is like Submit but tags the task with a description used in
// failure logs
func SubmitNamed[R any](p *Pool, description string, fn func() (R, error)) (*TaskHandle[R], error) {
	if fn == nil {
		return nil, types.ErrNilTask
	}

	id := nextTaskID()
	handle := newTaskHandle[R](id, description)
	task := &handleTask[R]{
		id:          id,
		description: description,
		fn:          fn,
		handle:      handle,
		clock:       p.clock,
	}

	if err := p.enqueue(task); err != nil {
		return nil, err
	}
	return handle, nil
}

// SubmitFunc submits a callable that produces no value
func SubmitFunc(p *Pool, fn func() error) (*TaskHandle[struct{}], error) {
	if fn == nil {
		return nil, types.ErrNilTask
	}
	return Submit(p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
}
