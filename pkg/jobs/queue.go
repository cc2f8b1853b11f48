package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of background work, typically a queued notification.
type Task struct {
	ID         string
	Kind       string
	Payload    interface{}
	Attempt    int
	EnqueuedAt time.Time
}

// HandlerFunc processes a task. A non-nil error schedules a retry until the
// attempt budget is spent.
type HandlerFunc func(context.Context, Task) error

// Options tunes the worker pool.
type Options struct {
	Workers     int
	Buffer      int
	MaxAttempts int
	Backoff     time.Duration
	Logger      *zap.Logger
}

// Queue is an in-memory task dispatcher. Delivery is at-most-once across
// restarts; callers that need durability must persist their own state.
type Queue struct {
	name    string
	handler HandlerFunc
	opts    Options

	tasks   chan Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewQueue builds a queue for the given handler.
func NewQueue(name string, handler HandlerFunc, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer <= 0 {
		opts.Buffer = opts.Workers * 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Queue{
		name:    name,
		handler: handler,
		opts:    opts,
		tasks:   make(chan Task, opts.Buffer),
	}
}

// Start launches the workers. Subsequent calls are no-ops.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
	q.started = true
	q.opts.Logger.Info("task queue started",
		zap.String("queue", q.name), zap.Int("workers", q.opts.Workers))
}

// Stop cancels the workers and waits for them to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.opts.Logger.Info("task queue stopped", zap.String("queue", q.name))
}

// Enqueue schedules a task. Blocks while the buffer is full; fails once the
// queue is stopped or was never started.
func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	ctx := q.ctx
	started := q.started
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	if task.Attempt == 0 {
		task.Attempt = 1
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("queue %s stopped: %w", q.name, ctx.Err())
	case q.tasks <- task:
		return nil
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.tasks:
			if err := q.handler(q.ctx, task); err != nil {
				q.retry(task, err)
			}
		}
	}
}

func (q *Queue) retry(task Task, cause error) {
	if task.Attempt >= q.opts.MaxAttempts {
		q.opts.Logger.Error("task dropped after final attempt",
			zap.String("queue", q.name), zap.String("task_id", task.ID),
			zap.String("kind", task.Kind), zap.Int("attempts", task.Attempt), zap.Error(cause))
		return
	}
	task.Attempt++
	q.opts.Logger.Warn("task failed, scheduling retry",
		zap.String("queue", q.name), zap.String("task_id", task.ID),
		zap.String("kind", task.Kind), zap.Int("attempt", task.Attempt), zap.Error(cause))

	go func(t Task) {
		timer := time.NewTimer(q.opts.Backoff)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
		case <-timer.C:
			if err := q.Enqueue(t); err != nil {
				q.opts.Logger.Error("failed to requeue task",
					zap.String("queue", q.name), zap.String("task_id", t.ID), zap.Error(err))
			}
		}
	}(task)
}
