package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/observability"
	"go.uber.org/zap"
)

var (
	ErrQueueFull   = errors.New("task queue is full")
	ErrQueueClosed = errors.New("task queue is closed")
)

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Queue runs background tasks on a fixed pool of goroutines. Tasks get their
// own context, detached from the request that enqueued them.
type Queue struct {
	tasks       chan task
	workers     int
	maxAttempts int
	timeout     time.Duration
	retryDelay  time.Duration

	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	stopOnce sync.Once
	cancel   context.CancelFunc
}

func NewQueue(size, workers int) *Queue {
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 4
	}
	return &Queue{
		tasks:       make(chan task, size),
		workers:     workers,
		maxAttempts: 3,
		timeout:     30 * time.Second,
		retryDelay:  500 * time.Millisecond,
	}
}

// WithAttempts sets how many times a failing task runs before it is dropped.
func (q *Queue) WithAttempts(n int) *Queue {
	if n > 0 {
		q.maxAttempts = n
	}
	return q
}

// WithTaskTimeout bounds each attempt.
func (q *Queue) WithTaskTimeout(d time.Duration) *Queue {
	if d > 0 {
		q.timeout = d
	}
	return q
}

// WithRetryDelay sets the pause between attempts.
func (q *Queue) WithRetryDelay(d time.Duration) *Queue {
	q.retryDelay = d
	return q
}

// Enqueue schedules fn without blocking.
func (q *Queue) Enqueue(name string, fn func(ctx context.Context) error) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task{name: name, fn: fn}:
		observability.SetQueueDepth(len(q.tasks))
		return nil
	default:
		observability.IncrementTask(name, "dropped")
		return fmt.Errorf("%s: %w", name, ErrQueueFull)
	}
}

// Start launches the worker pool. Tasks keep running until Stop drains the queue.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(context.WithoutCancel(ctx))
	zap.L().Info("task queue starting", zap.Int("workers", q.workers), zap.Int("capacity", cap(q.tasks)))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for t := range q.tasks {
				observability.SetQueueDepth(len(q.tasks))
				q.execute(ctx, t)
			}
		}()
	}
}

// Stop refuses new tasks, waits for queued ones, then returns.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.tasks)
		q.mu.Unlock()
		q.wg.Wait()
		if q.cancel != nil {
			q.cancel()
		}
		zap.L().Info("task queue stopped")
	})
}

// Run starts the pool and returns its stop function.
func (q *Queue) Run(ctx context.Context) func() {
	q.Start(ctx)
	return q.Stop
}

func (q *Queue) execute(ctx context.Context, t task) {
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		err := q.attempt(ctx, t)
		if err == nil {
			observability.IncrementTask(t.name, "success")
			return
		}
		if attempt == q.maxAttempts {
			observability.IncrementTask(t.name, "failed")
			zap.L().Error("background task failed", zap.String("task", t.name), zap.Int("attempts", attempt), zap.Error(err))
			return
		}
		observability.IncrementTask(t.name, "retry")
		zap.L().Warn("background task retrying", zap.String("task", t.name), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
}

func (q *Queue) attempt(ctx context.Context, t task) (err error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return t.fn(ctx)
}
