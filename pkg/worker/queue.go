package worker

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/jzx17/gothreadpool/pkg/types"
)

// TaskQueue is a thread-safe FIFO of tasks with a cooperative draining flag.
// Once draining is set no further task is accepted, but queued tasks are
// still handed out until the queue is empty.
type TaskQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    *queue.Queue
	draining atomic.Bool

	// onAccept runs under mu for every accepted task
	onAccept func(types.Task)
}

// NewTaskQueue creates an empty task queue
func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{tasks: queue.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// newTaskQueueWithHook creates a queue that calls onAccept inside the critical
// section of every successful Enqueue
func newTaskQueueWithHook(onAccept func(types.Task)) *TaskQueue {
	q := NewTaskQueue()
	q.onAccept = onAccept
	return q
}

// Enqueue appends task and wakes one waiting consumer. It returns false and
// discards the task if the queue is draining.
func (q *TaskQueue) Enqueue(task types.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	// checked under the lock so a concurrent Drain cannot let a task slip in
	if q.draining.Load() {
		return false
	}
	q.tasks.Add(task)
	if q.onAccept != nil {
		q.onAccept(task)
	}
	q.cond.Signal()
	return true
}

// Dequeue blocks until a task is available or the queue is draining. It
// returns false only when the queue is draining and empty.
func (q *TaskQueue) Dequeue() (types.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.tasks.Length() == 0 && !q.draining.Load() {
		q.cond.Wait()
	}
	if q.tasks.Length() == 0 {
		return nil, false
	}
	return q.tasks.Remove().(types.Task), true
}

// Drain stops accepting tasks and wakes every blocked consumer
func (q *TaskQueue) Drain() {
	q.mu.Lock()
	q.draining.Store(true)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// IsDraining reports whether Drain has been called
func (q *TaskQueue) IsDraining() bool {
	return q.draining.Load()
}

// IsDrained reports whether the queue is draining and empty
func (q *TaskQueue) IsDrained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining.Load() && q.tasks.Length() == 0
}

// Len returns the number of queued tasks
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Length()
}
