/*
Package worker provides a fixed-size worker pool with futures, a
range-partitioned parallel-for and a drain-on-close shutdown protocol.

# Overview

A Pool owns N long-lived workers and one TaskQueue. Submitted work is
appended to the queue in order and handed to whichever worker asks next:
submission order is dispatch order, completion order across workers is
unspecified.

# Core Components

## TaskQueue

FIFO of types.Task guarded by a mutex and condition variable, backed by a
ring buffer. A draining flag, set once by Drain, makes further Enqueue calls
fail while already queued tasks are still handed out. IsDrained reports
draining and empty.

## Worker

Loop bound to one goroutine, optionally locked to one OS thread and pinned
to a CPU. It dequeues, executes with panic recovery, reports failures to the
pool's failure handlers and updates statistics. A task calling runtime.Goexit
ends the loop's goroutine; the worker starts a new one and carries on. A
worker exits only after it observes a draining, empty queue.

## TaskHandle

One-shot result of Submit. The worker fulfils it exactly once with the
value, the returned error, the recovered panic or types.ErrTaskGoexit when the
task called runtime.Goexit.

# Barrier

WaitAll polls an outstanding counter that is incremented inside the queue's
critical section when a task is accepted and decremented after the task has
completed, so a WaitAll issued right after Submit cannot return before the
task ran. ActiveTasks reports only tasks inside an execute step.

# Shutdown

Close drains the queue, joins every worker and checks that nothing was left
behind. Submitting after Close began returns types.ErrPoolDraining, or panics
when Config.PanicOnMisuse is set. Close blocks until queued tasks ran and must
not be called from inside a task.

# Usage Examples

Basic usage:

	pool, err := worker.NewPool(&worker.Config{Workers: 4})
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	handle, err := worker.Submit(pool, func() (int, error) {
		return 6 * 7, nil
	})
	if err != nil {
		log.Fatal(err)
	}
	answer, err := handle.Wait()

Data-parallel loop:

	sums := make([]float64, len(items))
	if err := worker.ParallelFor(pool, 0, len(items), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			sums[i] = score(items[i])
		}
	}); err != nil {
		log.Fatal(err)
	}
	pool.WaitAll(worker.DefaultPollInterval)

# Configuration Options

Config supports the following configurations:
  - Workers: number of workers, runtime.NumCPU() when zero
  - LockOSThread: one OS thread per worker
  - PinCPUs: pin worker i to CPU i % NumCPU (linux)
  - PanicOnMisuse: panic on submission after shutdown
  - Logger: zap logger for lifecycle and failure logs
  - Metrics: Prometheus collectors created by NewMetrics
  - Clock: time source, replaceable in tests
  - FailureHandlers: extra receivers of task failures
*/
package worker
