package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	errs "github.com/jzx17/gothreadpool/internal/errors"
	"github.com/jzx17/gothreadpool/internal/testutils"
	"github.com/jzx17/gothreadpool/pkg/types"
)

func newTestPool(t *testing.T, workers int) *Pool {
	t.Helper()
	pool, err := NewPool(&Config{
		Workers: workers,
		Logger:  zaptest.NewLogger(t, zaptest.Level(zapcore.InfoLevel)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestNewPool(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectSize  int
		expectError bool
	}{
		{
			name:       "nil config should use default",
			config:     nil,
			expectSize: runtime.NumCPU(),
		},
		{
			name:       "zero workers uses hardware concurrency",
			config:     &Config{},
			expectSize: runtime.NumCPU(),
		},
		{
			name:       "valid config",
			config:     &Config{Workers: 5},
			expectSize: 5,
		},
		{
			name:        "negative workers should error",
			config:      &Config{Workers: -1},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := NewPool(tt.config)

			if tt.expectError {
				assert.ErrorIs(t, err, types.ErrInvalidConfig)
				assert.Nil(t, pool)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectSize, pool.Size())
			assert.Len(t, pool.GetWorkerStats(), tt.expectSize)
			assert.NoError(t, pool.Close())
		})
	}
}

func TestPool_SubmitReturnsValue(t *testing.T) {
	pool := newTestPool(t, 2)

	a, b := 6, 7
	handle, err := Submit(pool, func() (int, error) {
		return a * b, nil
	})
	require.NoError(t, err)
	require.NotNil(t, handle)

	value, err := handle.Wait()
	assert.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestPool_SubmitNamedDeliversError(t *testing.T) {
	pool := newTestPool(t, 2)
	sentinel := errors.New("no convergence")

	handle, err := SubmitNamed(pool, "solve", func() (string, error) {
		return "", sentinel
	})
	require.NoError(t, err)
	assert.Equal(t, "solve", handle.Description())
	assert.NotEmpty(t, handle.ID())

	_, err = handle.Wait()
	assert.ErrorIs(t, err, sentinel)
}

func TestPool_SubmitNilCallable(t *testing.T) {
	pool := newTestPool(t, 1)

	handle, err := Submit[int](pool, nil)
	assert.ErrorIs(t, err, types.ErrNilTask)
	assert.Nil(t, handle)

	assert.ErrorIs(t, pool.Go(nil), types.ErrNilTask)
	assert.ErrorIs(t, pool.SubmitTask(nil), types.ErrNilTask)
	assert.ErrorIs(t, ParallelFor[int](pool, 0, 10, nil), types.ErrNilTask)

	_, err = SubmitFunc(pool, nil)
	assert.ErrorIs(t, err, types.ErrNilTask)
}

func TestPool_ThousandIncrements(t *testing.T) {
	pool, err := NewPool(&Config{Workers: 8})
	require.NoError(t, err)

	const numTasks = 1000
	var counter int64
	runs := make([]int32, numTasks)

	for i := 0; i < numTasks; i++ {
		i := i
		require.NoError(t, pool.Go(func() error {
			atomic.AddInt32(&runs[i], 1)
			atomic.AddInt64(&counter, 1)
			return nil
		}))
	}

	pool.WaitAll(DefaultPollInterval)
	assert.Equal(t, int64(numTasks), atomic.LoadInt64(&counter))

	require.NoError(t, pool.Close())
	assert.Equal(t, int64(numTasks), atomic.LoadInt64(&counter))
	for i, n := range runs {
		assert.Equal(t, int32(1), n, "task %d ran %d times", i, n)
	}

	stats := pool.Stats()
	assert.Equal(t, int64(numTasks), stats.TotalSubmitted)
	assert.Equal(t, int64(numTasks), stats.TotalCompleted)
	assert.True(t, stats.Idle())
	assert.True(t, stats.Draining)
}

func TestPool_FailingTaskDoesNotStopOthers(t *testing.T) {
	logger, logs := testutils.ObservedLogger(zapcore.WarnLevel)
	pool, err := NewPool(&Config{Workers: 1, Logger: logger})
	require.NoError(t, err)
	defer pool.Close()

	var executed int64
	require.NoError(t, pool.GoNamed("explodes", func() error { panic("boom") }))
	require.NoError(t, pool.Go(func() error { return errors.New("plain failure") }))
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Go(func() error {
			atomic.AddInt64(&executed, 1)
			return nil
		}))
	}

	pool.WaitAll(DefaultPollInterval)

	assert.Equal(t, int64(10), atomic.LoadInt64(&executed))
	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.TotalFailed)
	assert.Equal(t, int64(12), stats.TotalCompleted)

	failures := logs.FilterMessage("task failed").All()
	require.Len(t, failures, 2)
	assert.Equal(t, "explodes", failures[0].ContextMap()["description"])
	assert.Equal(t, true, failures[0].ContextMap()["panic"])
}

func TestPool_PanicDeliveredThroughHandle(t *testing.T) {
	pool := newTestPool(t, 2)

	handle, err := Submit(pool, func() (int, error) {
		panic("kernel fault")
	})
	require.NoError(t, err)

	result := handle.Result()
	assert.False(t, result.OK())
	assert.Equal(t, 0, result.Value)
	assert.True(t, types.IsPanic(result.Error))
	assert.Contains(t, result.Error.Error(), "kernel fault")

	// the pool keeps working
	next, err := Submit(pool, func() (string, error) { return "alive", nil })
	require.NoError(t, err)
	value, err := next.Wait()
	require.NoError(t, err)
	assert.Equal(t, "alive", value)
}

func TestPool_SubmitAfterCloseIsRejected(t *testing.T) {
	logger, logs := testutils.ObservedLogger(zapcore.WarnLevel)
	pool, err := NewPool(&Config{Workers: 2, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, pool.Close())
	assert.True(t, pool.IsDraining())

	var executed int64
	handle, err := Submit(pool, func() (int, error) {
		atomic.AddInt64(&executed, 1)
		return 1, nil
	})
	assert.ErrorIs(t, err, types.ErrPoolDraining)
	assert.Nil(t, handle)
	assert.ErrorIs(t, pool.Go(func() error { return nil }), types.ErrPoolDraining)
	assert.ErrorIs(t, ParallelFor(pool, 0, 10, func(lo, hi int) {}), types.ErrPoolDraining)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(&executed))
	assert.Equal(t, int64(3), pool.Stats().TotalRejected)
	assert.Equal(t, 3, logs.FilterMessage("task submitted after shutdown began").Len())

	// Close stays idempotent
	assert.NoError(t, pool.Close())
}

func TestPool_PanicOnMisuse(t *testing.T) {
	pool, err := NewPool(&Config{Workers: 1, PanicOnMisuse: true})
	require.NoError(t, err)
	require.NoError(t, pool.Close())

	assert.Panics(t, func() {
		_ = pool.Go(func() error { return nil })
	})
}

func TestPool_CloseRunsQueuedTasks(t *testing.T) {
	pool, err := NewPool(&Config{Workers: 2})
	require.NoError(t, err)

	gate := testutils.NewGate()
	var executed int64
	for i := 0; i < 100; i++ {
		require.NoError(t, pool.Go(func() error {
			gate.Wait()
			atomic.AddInt64(&executed, 1)
			return nil
		}))
	}

	closed := make(chan error, 1)
	go func() {
		closed <- pool.Close()
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while tasks were still queued")
	case <-time.After(50 * time.Millisecond):
	}

	gate.Open()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(testutils.DefaultTimeout):
		t.Fatal("Close deadlocked")
	}

	assert.Equal(t, int64(100), atomic.LoadInt64(&executed))
	for _, ws := range pool.GetWorkerStats() {
		assert.Equal(t, WorkerStateStopped, ws.State)
	}
}

func TestPool_WaitAllRightAfterSubmit(t *testing.T) {
	pool := newTestPool(t, 4)

	// a barrier issued right after a push must still see the task
	for round := 0; round < 200; round++ {
		var done atomic.Bool
		require.NoError(t, pool.Go(func() error {
			time.Sleep(50 * time.Microsecond)
			done.Store(true)
			return nil
		}))

		pool.WaitAll(0)
		require.True(t, done.Load(), "WaitAll returned before the task completed in round %d", round)
	}
}

func TestPool_WaitAllFulfilsHandles(t *testing.T) {
	pool := newTestPool(t, 3)

	handles := make([]*TaskHandle[int], 50)
	for i := range handles {
		i := i
		h, err := Submit(pool, func() (int, error) { return i * i, nil })
		require.NoError(t, err)
		handles[i] = h
	}

	pool.WaitAll(time.Microsecond)

	for i, h := range handles {
		result, ok := h.TryResult()
		require.True(t, ok, "handle %d not fulfilled after WaitAll", i)
		assert.Equal(t, i*i, result.Value)
	}
}

func TestPool_WaitAllContext(t *testing.T) {
	pool := newTestPool(t, 1)

	gate := testutils.NewGate()
	defer gate.Open()
	require.NoError(t, pool.Go(func() error {
		gate.Wait()
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.WaitAllContext(ctx, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), pool.Outstanding())

	gate.Open()
	assert.NoError(t, pool.WaitAllContext(context.Background(), time.Millisecond))
	assert.Equal(t, int64(0), pool.Outstanding())
	assert.Equal(t, int64(0), pool.ActiveTasks())
}

func TestPool_WaitAllIdleDoesNotTouchClock(t *testing.T) {
	mock := testutils.NewMockClock(t)
	pool, err := NewPool(&Config{Workers: 2, Clock: testutils.NewClockWrapper(mock)})
	require.NoError(t, err)
	defer pool.Close()

	// the mock clock never advances: WaitAll must return without sleeping
	testutils.CallTimeout(t, time.Second, func() {
		pool.WaitAll(time.Hour)
	})
}

func TestPool_MockClockDurations(t *testing.T) {
	mock := testutils.NewMockClock(t)
	pool, err := NewPool(&Config{Workers: 1, Clock: testutils.NewClockWrapper(mock)})
	require.NoError(t, err)
	defer pool.Close()

	handle, err := Submit(pool, func() (int, error) {
		time.Sleep(time.Millisecond)
		return 1, nil
	})
	require.NoError(t, err)

	// durations come from the injected clock, which does not move
	assert.Equal(t, time.Duration(0), handle.Result().Duration)
}

func TestPool_ConcurrentProducers(t *testing.T) {
	pool := newTestPool(t, 4)

	const producers = 10
	const perProducer = 200

	var seen sync.Map
	var duplicates int64
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				key := p*perProducer + i
				assert.NoError(t, pool.Go(func() error {
					if _, loaded := seen.LoadOrStore(key, true); loaded {
						atomic.AddInt64(&duplicates, 1)
					}
					return nil
				}))
			}
		}(p)
	}
	wg.Wait()
	pool.WaitAll(DefaultPollInterval)

	count := 0
	seen.Range(func(_, _ any) bool {
		count++
		return true
	})
	assert.Equal(t, producers*perProducer, count)
	assert.Equal(t, int64(0), atomic.LoadInt64(&duplicates))
}

func TestPool_SingleWorkerPreservesOrder(t *testing.T) {
	pool := newTestPool(t, 1)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, pool.Go(func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	pool.WaitAll(DefaultPollInterval)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestPool_LockedAndPinnedWorkers(t *testing.T) {
	pool, err := NewPool(&Config{
		Workers:      2,
		LockOSThread: true,
		PinCPUs:      true,
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	var counter int64
	require.NoError(t, ParallelFor(pool, 0, 1000, func(lo, hi int) {
		atomic.AddInt64(&counter, int64(hi-lo))
	}))
	require.NoError(t, pool.Close())
	assert.Equal(t, int64(1000), atomic.LoadInt64(&counter))
}

func TestPool_SubmitTask(t *testing.T) {
	pool := newTestPool(t, 2)

	var ran atomic.Bool
	require.NoError(t, pool.SubmitTask(NewBasicTaskWithID("custom", func() error {
		ran.Store(true)
		return nil
	})))
	pool.WaitAll(DefaultPollInterval)
	assert.True(t, ran.Load())
}

func TestPool_SubmitFunc(t *testing.T) {
	pool := newTestPool(t, 2)

	handle, err := SubmitFunc(pool, func() error { return errors.New("nope") })
	require.NoError(t, err)
	_, err = handle.Wait()
	assert.EqualError(t, err, "nope")
}

func BenchmarkPool_Submit(b *testing.B) {
	pool, err := NewPool(&Config{Workers: runtime.NumCPU()})
	require.NoError(b, err)
	defer pool.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pool.Go(func() error { return nil })
	}
	pool.WaitAll(DefaultPollInterval)
}

func TestPool_TaskCallingGoexit(t *testing.T) {
	counting := errs.NewCountingHandler()
	logger, logs := testutils.ObservedLogger(zapcore.WarnLevel)
	pool, err := NewPool(&Config{
		Workers:         1,
		Logger:          logger,
		FailureHandlers: []errs.Handler{counting},
	})
	require.NoError(t, err)

	handle, err := Submit(pool, func() (int, error) {
		runtime.Goexit()
		return 1, nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.GoNamed("exits too", func() error {
		runtime.Goexit()
		return nil
	}))

	var ran atomic.Bool
	require.NoError(t, pool.Go(func() error {
		ran.Store(true)
		return nil
	}))

	value, err := handle.Wait()
	assert.Zero(t, value)
	assert.ErrorIs(t, err, types.ErrTaskGoexit)
	assert.False(t, types.IsPanic(err))

	ctx, cancel := context.WithTimeout(context.Background(), testutils.DefaultTimeout)
	defer cancel()
	require.NoError(t, pool.WaitAllContext(ctx, time.Millisecond))

	// the single worker survived both exits
	assert.True(t, ran.Load())
	assert.Equal(t, int64(0), pool.ActiveTasks())
	assert.Equal(t, int64(0), pool.Outstanding())
	assert.Equal(t, int64(2), pool.Stats().TotalFailed)
	assert.Equal(t, int64(2), counting.Failures())
	assert.Equal(t, int64(0), counting.Panics())
	assert.Equal(t, 2, logs.FilterMessage("worker loop restarted after runtime.Goexit").Len())

	ws := pool.GetWorkerStats()
	require.Len(t, ws, 1)
	assert.Equal(t, int64(2), ws[0].Restarts)
	assert.Equal(t, int64(2), ws[0].TotalFailed)
	assert.Equal(t, int64(1), ws[0].TotalProcessed)

	require.NoError(t, pool.Close())
}

func TestPool_WaitAllContextWhileAnotherWaiterHoldsTheBarrier(t *testing.T) {
	pool := newTestPool(t, 1)

	gate := testutils.NewGate()
	defer gate.Open()
	require.NoError(t, pool.Go(func() error {
		gate.Wait()
		return nil
	}))

	holding := make(chan struct{})
	released := make(chan struct{})
	go func() {
		close(holding)
		pool.WaitAll(time.Millisecond)
		close(released)
	}()
	<-holding
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var waitErr error
	testutils.CallTimeout(t, time.Second, func() {
		waitErr = pool.WaitAllContext(ctx, time.Millisecond)
	})
	assert.ErrorIs(t, waitErr, context.DeadlineExceeded)

	gate.Open()
	select {
	case <-released:
	case <-time.After(testutils.DefaultTimeout):
		t.Fatal("first WaitAll did not return after the task finished")
	}
}

func TestPool_FailureHandlers(t *testing.T) {
	counting := errs.NewCountingHandler()
	pool, err := NewPool(&Config{
		Workers:         2,
		PinCPUs:         true,
		FailureHandlers: []errs.Handler{counting, nil},
	})
	require.NoError(t, err)
	defer pool.Close()

	assert.Equal(t, []string{"logging", "counting"}, pool.failures.Names())

	require.NoError(t, pool.Go(func() error { return errors.New("bad input") }))
	require.NoError(t, pool.Go(func() error { panic("bad state") }))
	require.NoError(t, pool.Go(func() error { return nil }))
	pool.WaitAll(DefaultPollInterval)

	assert.Equal(t, int64(2), counting.Failures())
	assert.Equal(t, int64(1), counting.Panics())
}
