package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsTasks(t *testing.T) {
	q := NewQueue(16, 2)
	stop := q.Run(context.Background())

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue("count", func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	stop()
	assert.Equal(t, int32(10), ran.Load())

	assert.ErrorIs(t, q.Enqueue("late", func(context.Context) error { return nil }), ErrQueueClosed)
}

func TestQueueRetriesFailures(t *testing.T) {
	q := NewQueue(4, 1).WithAttempts(3).WithRetryDelay(time.Millisecond)
	stop := q.Run(context.Background())

	var calls atomic.Int32
	require.NoError(t, q.Enqueue("flaky", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}))
	require.NoError(t, q.Enqueue("panics", func(context.Context) error {
		panic("boom")
	}))
	stop()
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(1, 1)
	require.NoError(t, q.Enqueue("a", func(context.Context) error { return nil }))
	assert.ErrorIs(t, q.Enqueue("b", func(context.Context) error { return nil }), ErrQueueFull)
}

func TestQueueTasksSurviveCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue(4, 1)
	q.Start(ctx)
	cancel()

	done := make(chan error, 1)
	require.NoError(t, q.Enqueue("detached", func(taskCtx context.Context) error {
		done <- taskCtx.Err()
		return nil
	}))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	q.Stop()
}
