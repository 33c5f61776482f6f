package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/cpu"

	errs "github.com/jzx17/gothreadpool/internal/errors"
	"github.com/jzx17/gothreadpool/pkg/types"
)

// DefaultPollInterval is the sleep between checks in WaitAll
const DefaultPollInterval = 100 * time.Nanosecond

// Config defines configuration for the worker pool
type Config struct {
	// Workers is the number of workers; zero means runtime.NumCPU()
	Workers int

	// LockOSThread dedicates one OS thread to each worker
	LockOSThread bool

	// PinCPUs pins worker i to CPU i % runtime.NumCPU() (linux only); implies LockOSThread
	PinCPUs bool

	// PanicOnMisuse panics instead of returning ErrPoolDraining when work is
	// submitted after shutdown began
	PanicOnMisuse bool

	// Logger receives lifecycle and task failure logs (optional, defaults to no-op)
	Logger *zap.Logger

	// Metrics receives pool counters (optional)
	Metrics *Metrics

	// FailureHandlers receive every task failure after the built-in logging
	// handler (optional)
	FailureHandlers []errs.Handler

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Workers: runtime.NumCPU(),
		Logger:  zap.NewNop(),
		Clock:   types.NewRealClock(),
	}
}

// Pool is a fixed-size worker pool. Tasks are handed to workers in
// submission order; completion order across workers is unspecified.
type Pool struct {
	config   *Config
	workers  []*Worker
	queue    *TaskQueue
	failures *errs.Chain
	logger   *zap.Logger
	clock    types.Clock

	_ cpu.CacheLinePad
	// active counts tasks inside a worker's execute step
	active atomic.Int64
	_      cpu.CacheLinePad
	// outstanding counts tasks accepted by the queue and not yet completed
	outstanding atomic.Int64
	_           cpu.CacheLinePad

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	// waitSem serializes barrier callers; a channel so waiting for it honours ctx
	waitSem   chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewPool creates a pool and starts its workers
func NewPool(config *Config) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}

	// parameter validation
	if config.Workers < 0 {
		return nil, fmt.Errorf("%w: worker count must not be negative, got %d", types.ErrInvalidConfig, config.Workers)
	}

	cfg := *config
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = types.NewRealClock()
	}

	p := &Pool{
		config:  &cfg,
		workers: make([]*Worker, cfg.Workers),
		logger:  cfg.Logger,
		clock:   cfg.Clock,
		waitSem: make(chan struct{}, 1),
		failures: errs.NewChain(
			errs.NewLoggingHandler(cfg.Logger, zapcore.WarnLevel),
		),
	}
	for _, h := range cfg.FailureHandlers {
		p.failures.Add(h)
	}
	p.queue = newTaskQueueWithHook(p.accept)

	numCPU := runtime.NumCPU()
	for i := range p.workers {
		w := NewWorkerWithClock(i, p.queue, &p.active, cfg.Clock)
		w.SetLogger(cfg.Logger)
		w.SetFailureHandler(p.failures)
		w.SetStartCallback(p.taskStarted)
		w.SetCompletionCallback(p.taskFinished)

		pinned := -1
		if cfg.PinCPUs {
			pinned = i % numCPU
		}
		w.SetThreadPlacement(cfg.LockOSThread, pinned)

		p.workers[i] = w
	}

	p.wg.Add(len(p.workers))
	for _, w := range p.workers {
		go func(w *Worker) {
			defer p.wg.Done()
			w.Start()
		}(w)
	}

	p.logger.Debug("worker pool started",
		zap.Int("workers", cfg.Workers),
		zap.Strings("failure_handlers", p.failures.Names()),
	)
	return p, nil
}

// accept runs inside the queue's critical section, so a task is counted as
// outstanding before any worker can dequeue it
func (p *Pool) accept(types.Task) {
	p.outstanding.Add(1)
	p.submitted.Add(1)
	p.config.Metrics.accepted()
}

func (p *Pool) taskStarted(types.Task) {
	p.config.Metrics.started()
}

// taskFinished runs after the task's handle, if any, has been fulfilled
func (p *Pool) taskFinished(_ types.Task, d time.Duration, err error) {
	p.completed.Add(1)
	if err != nil {
		p.failed.Add(1)
	}
	p.config.Metrics.finished(d, err != nil)
	p.outstanding.Add(-1)
}

// enqueue hands task to the queue, treating a refusal as a contract violation
func (p *Pool) enqueue(task types.Task) error {
	if p.queue.Enqueue(task) {
		return nil
	}

	p.rejected.Add(1)
	p.config.Metrics.rejected()
	p.logger.Warn("task submitted after shutdown began",
		zap.String("task_id", task.ID()),
		zap.String("description", task.Description()),
	)
	if p.config.PanicOnMisuse {
		panic(fmt.Errorf("%w: task %s", types.ErrPoolDraining, task.ID()))
	}
	return types.ErrPoolDraining
}

// SubmitTask submits a task without a handle; its failure is only logged
func (p *Pool) SubmitTask(task types.Task) error {
	if task == nil {
		return types.ErrNilTask
	}
	return p.enqueue(task)
}

// Go submits fn without a handle
func (p *Pool) Go(fn func() error) error {
	return p.GoNamed("", fn)
}

// GoNamed submits fn without a handle, tagged with description for diagnostics
func (p *Pool) GoNamed(description string, fn func() error) error {
	if fn == nil {
		return types.ErrNilTask
	}
	return p.enqueue(NewBasicTaskWithDescription(description, fn))
}

// WaitAll blocks until every accepted task has completed, sleeping
// pollInterval between checks, or yielding the processor when it is zero.
// Tasks submitted concurrently with WaitAll may or may not be waited for.
func (p *Pool) WaitAll(pollInterval time.Duration) {
	_ = p.WaitAllContext(context.Background(), pollInterval)
}

// WaitAllContext is like WaitAll but returns ctx.Err() if ctx ends first
func (p *Pool) WaitAllContext(ctx context.Context, pollInterval time.Duration) error {
	select {
	case p.waitSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.waitSem }()

	for p.outstanding.Load() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.pause(ctx, pollInterval); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		runtime.Gosched()
		return nil
	}
	if ctx.Done() == nil {
		p.clock.Sleep(d)
		return nil
	}

	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, waits for every queued task to run and joins
// all workers. It must not be called from inside a task. Close is idempotent.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.queue.Drain()
		p.wg.Wait()

		if !p.queue.IsDrained() {
			p.closeErr = types.ErrQueueNotDrained
			p.logger.Error("worker pool closed with queued tasks", zap.Int("queued", p.queue.Len()))
			return
		}
		p.logger.Debug("worker pool closed",
			zap.Int64("completed", p.completed.Load()),
			zap.Int64("failed", p.failed.Load()),
		)
	})

	return p.closeErr
}

// Size returns the worker pool size
func (p *Pool) Size() int {
	return len(p.workers)
}

// IsDraining reports whether Close has been called
func (p *Pool) IsDraining() bool {
	return p.queue.IsDraining()
}

// ActiveTasks returns the number of tasks currently executing
func (p *Pool) ActiveTasks() int64 {
	return p.active.Load()
}

// Outstanding returns the number of accepted tasks that have not completed
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Load()
}

// Stats gets worker pool statistics
func (p *Pool) Stats() types.PoolStats {
	return types.PoolStats{
		PoolSize:       len(p.workers),
		ActiveTasks:    p.active.Load(),
		Outstanding:    p.outstanding.Load(),
		QueueSize:      p.queue.Len(),
		TotalSubmitted: p.submitted.Load(),
		TotalCompleted: p.completed.Load(),
		TotalFailed:    p.failed.Load(),
		TotalRejected:  p.rejected.Load(),
		Draining:       p.queue.IsDraining(),
	}
}

// GetWorkerStats gets statistics of all Workers
func (p *Pool) GetWorkerStats() []WorkerStats {
	stats := make([]WorkerStats, len(p.workers))
	for i, worker := range p.workers {
		stats[i] = worker.Stats()
	}
	return stats
}
