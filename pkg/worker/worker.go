package worker

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	errs "github.com/jzx17/gothreadpool/internal/errors"
	"github.com/jzx17/gothreadpool/pkg/types"
)

// WorkerState defines the state of a Worker
type WorkerState int32

const (
	// WorkerStateIdle represents a running worker waiting for a task
	WorkerStateIdle WorkerState = iota
	// WorkerStateWorking represents a running worker executing a task
	WorkerStateWorking
	// WorkerStateStopped represents a worker that observed a drained queue and exited
	WorkerStateStopped
)

// String returns the string representation of WorkerState
func (ws WorkerState) String() string {
	switch ws {
	case WorkerStateIdle:
		return "idle"
	case WorkerStateWorking:
		return "working"
	case WorkerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker pulls tasks from a shared TaskQueue and executes them one at a time
type Worker struct {
	id     int
	state  int32 // atomic state
	queue  *TaskQueue
	active *atomic.Int64
	done   chan struct{}

	// statistics
	totalProcessed int64
	totalFailed    int64
	restarts       int64
	lastTaskTime   int64 // Unix nanosecond timestamp

	// thread placement; cpu < 0 disables pinning
	lockOSThread bool
	cpu          int

	failureHandler     errs.Handler
	startCallback      func(types.Task)
	completionCallback func(types.Task, time.Duration, error)

	clock  types.Clock
	logger *zap.Logger

	mu sync.RWMutex
}

// NewWorker creates a new Worker with default real clock
func NewWorker(id int, queue *TaskQueue, active *atomic.Int64) *Worker {
	return NewWorkerWithClock(id, queue, active, types.NewRealClock())
}

// NewWorkerWithClock creates a new Worker with specified clock
func NewWorkerWithClock(id int, queue *TaskQueue, active *atomic.Int64, clock types.Clock) *Worker {
	if clock == nil {
		clock = types.NewRealClock()
	}
	if active == nil {
		active = &atomic.Int64{}
	}

	return &Worker{
		id:     id,
		state:  int32(WorkerStateIdle),
		queue:  queue,
		active: active,
		done:   make(chan struct{}),
		cpu:    -1,
		clock:  clock,
		logger: zap.NewNop(),
	}
}

// ID returns the Worker ID
func (w *Worker) ID() int {
	return w.id
}

// State returns the current Worker state
func (w *Worker) State() WorkerState {
	return WorkerState(atomic.LoadInt32(&w.state))
}

// SetLogger sets the logger
func (w *Worker) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logger = logger.With(zap.Int("worker_id", w.id))
}

// SetFailureHandler sets the handler receiving task failures
func (w *Worker) SetFailureHandler(handler errs.Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failureHandler = handler
}

// SetStartCallback sets the callback run before each task executes
func (w *Worker) SetStartCallback(callback func(types.Task)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.startCallback = callback
}

// SetCompletionCallback sets the callback run after each task, with the task's
// execution time and failure, if any
func (w *Worker) SetCompletionCallback(callback func(types.Task, time.Duration, error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.completionCallback = callback
}

// SetThreadPlacement locks the worker to its own OS thread and, when cpu >= 0,
// pins that thread to the given CPU. Must be called before Start.
func (w *Worker) SetThreadPlacement(lockOSThread bool, cpu int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lockOSThread = lockOSThread || cpu >= 0
	w.cpu = cpu
}

// Start runs the worker loop and returns after the queue has been drained. A
// task that calls runtime.Goexit ends the goroutine running the loop; the
// failure is reported like any other and the loop resumes on a new goroutine.
func (w *Worker) Start() {
	defer close(w.done)
	defer atomic.StoreInt32(&w.state, int32(WorkerStateStopped))

	w.mu.RLock()
	logger := w.logger
	w.mu.RUnlock()

	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	for !w.runLoop() {
		atomic.AddInt64(&w.restarts, 1)
		logger.Warn("worker loop restarted after runtime.Goexit")
	}
}

// runLoop runs loop on its own goroutine and reports whether it returned
// normally
func (w *Worker) runLoop() bool {
	exited := make(chan bool, 1)
	go func() {
		drained := false
		defer func() { exited <- drained }()
		w.loop()
		drained = true
	}()
	return <-exited
}

func (w *Worker) loop() {
	w.mu.RLock()
	lock, cpu, logger := w.lockOSThread, w.cpu, w.logger
	w.mu.RUnlock()

	if lock {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	if cpu >= 0 {
		if err := setAffinity(cpu); err != nil {
			logger.Warn("cpu pinning failed", zap.Int("cpu", cpu), zap.Error(err))
		}
	}

	for {
		task, ok := w.queue.Dequeue()
		if ok {
			w.processTask(task)
			continue
		}
		if w.queue.IsDraining() {
			return
		}
	}
}

// processTask processes a single task. Accounting runs in a deferred call so
// it also happens when the task ends its goroutine with runtime.Goexit.
func (w *Worker) processTask(task types.Task) {
	w.mu.RLock()
	onStart, onComplete, handler, cpu := w.startCallback, w.completionCallback, w.failureHandler, w.cpu
	w.mu.RUnlock()

	atomic.StoreInt32(&w.state, int32(WorkerStateWorking))

	w.active.Add(1)
	if onStart != nil {
		onStart(task)
	}

	startTime := w.clock.Now()
	atomic.StoreInt64(&w.lastTaskTime, startTime.UnixNano())

	var err error
	returned := false
	defer func() {
		if !returned {
			err = goexitError(task)
		}
		executionTime := w.clock.Since(startTime)

		w.active.Add(-1)

		if err != nil {
			atomic.AddInt64(&w.totalFailed, 1)
			if handler != nil {
				fc := errs.NewFailureContext(err, task, w.id)
				fc.Duration = executionTime
				if cpu >= 0 {
					fc.WithMetadata("cpu", cpu)
				}
				handler.HandleFailure(fc)
			}
		} else {
			atomic.AddInt64(&w.totalProcessed, 1)
		}

		if onComplete != nil {
			onComplete(task, executionTime, err)
		}
		atomic.StoreInt32(&w.state, int32(WorkerStateIdle))
	}()

	err = safeExecute(task)
	returned = true
}

// Done is closed when the worker loop has exited
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Stats gets Worker statistics
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		ID:             w.id,
		State:          w.State(),
		TotalProcessed: atomic.LoadInt64(&w.totalProcessed),
		TotalFailed:    atomic.LoadInt64(&w.totalFailed),
		Restarts:       atomic.LoadInt64(&w.restarts),
		LastTaskTime:   time.Unix(0, atomic.LoadInt64(&w.lastTaskTime)),
	}
}

// WorkerStats defines Worker statistics
type WorkerStats struct {
	ID             int
	State          WorkerState
	TotalProcessed int64
	TotalFailed    int64
	Restarts       int64
	LastTaskTime   time.Time
}

// IsActive checks if Worker is active
func (ws WorkerStats) IsActive() bool {
	return ws.State == WorkerStateWorking
}

// IsIdle checks if Worker is idle
func (ws WorkerStats) IsIdle() bool {
	return ws.State == WorkerStateIdle
}

// GetSuccessRate gets the success rate
func (ws WorkerStats) GetSuccessRate() float64 {
	total := ws.TotalProcessed + ws.TotalFailed
	if total == 0 {
		return 0
	}
	return float64(ws.TotalProcessed) / float64(total)
}

// GetErrorRate gets the error rate
func (ws WorkerStats) GetErrorRate() float64 {
	total := ws.TotalProcessed + ws.TotalFailed
	if total == 0 {
		return 0
	}
	return float64(ws.TotalFailed) / float64(total)
}
