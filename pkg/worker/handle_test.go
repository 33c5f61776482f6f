package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/gothreadpool/pkg/types"
)

func TestTaskHandle_FulfilOnce(t *testing.T) {
	h := newTaskHandle[int]("task-1", "answer")

	_, ok := h.TryResult()
	assert.False(t, ok)

	assert.True(t, h.fulfill(types.Result[int]{Value: 42}))
	assert.False(t, h.fulfill(types.Result[int]{Value: 7, Error: errors.New("late")}))

	value, err := h.Wait()
	assert.NoError(t, err)
	assert.Equal(t, 42, value)

	result, ok := h.TryResult()
	require.True(t, ok)
	assert.Equal(t, 42, result.Value)

	select {
	case <-h.Done():
	default:
		t.Fatal("Done should be closed after fulfilment")
	}
}

func TestTaskHandle_ConcurrentWaiters(t *testing.T) {
	h := newTaskHandle[string]("task-2", "")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := h.Wait()
			assert.NoError(t, err)
			assert.Equal(t, "ready", value)
		}()
	}

	h.fulfill(types.Result[string]{Value: "ready"})
	wg.Wait()
}

func TestTaskHandle_WaitContext(t *testing.T) {
	h := newTaskHandle[int]("task-3", "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	value, err := h.WaitContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, value)

	h.fulfill(types.Result[int]{Value: 3})
	value, err = h.WaitContext(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 3, value)
}

func TestHandleTask_Execute(t *testing.T) {
	t.Run("value", func(t *testing.T) {
		h := newTaskHandle[int]("t", "")
		task := &handleTask[int]{id: "t", fn: func() (int, error) { return 5, nil }, handle: h, clock: types.NewRealClock()}

		assert.NoError(t, task.Execute())
		result := h.Result()
		assert.Equal(t, 5, result.Value)
		assert.True(t, result.OK())
	})

	t.Run("error", func(t *testing.T) {
		h := newTaskHandle[int]("t", "")
		sentinel := errors.New("bad input")
		task := &handleTask[int]{id: "t", fn: func() (int, error) { return 0, sentinel }, handle: h, clock: types.NewRealClock()}

		assert.ErrorIs(t, task.Execute(), sentinel)
		assert.ErrorIs(t, h.Result().Error, sentinel)
	})

	t.Run("panic", func(t *testing.T) {
		h := newTaskHandle[int]("t", "described")
		task := &handleTask[int]{id: "t", description: "described", fn: func() (int, error) { panic("oops") }, handle: h, clock: types.NewRealClock()}

		err := task.Execute()
		require.Error(t, err)
		assert.True(t, types.IsPanic(err))
		assert.Same(t, err, h.Result().Error)
		assert.Equal(t, "described", task.Description())
		assert.Equal(t, "t", task.ID())
	})

	t.Run("goexit", func(t *testing.T) {
		h := newTaskHandle[int]("t", "")
		task := &handleTask[int]{id: "t", fn: func() (int, error) {
			runtime.Goexit()
			return 7, nil
		}, handle: h, clock: types.NewRealClock()}

		go func() { _ = task.Execute() }()

		select {
		case <-h.Done():
		case <-time.After(time.Second):
			t.Fatal("handle not fulfilled after runtime.Goexit")
		}
		result := h.Result()
		assert.Zero(t, result.Value)
		assert.ErrorIs(t, result.Error, types.ErrTaskGoexit)
		assert.False(t, types.IsPanic(result.Error))
	})
}
