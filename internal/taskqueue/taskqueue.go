// Package taskqueue runs delayed tasks on a single goroutine, ordered by
// their ETA. One runner means crawl tasks never interleave, which is what
// makes the crawl's chained execution safe without row locking.
package taskqueue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reportit-bot/crawler/internal/crawl"
)

// Handler executes one task. Errors are logged, not retried; a task that
// wants a retry enqueues its own successor.
type Handler func(ctx context.Context, task crawl.Task) error

// Queue is an in-process delayed task queue implementing crawl.TaskQueue.
type Queue struct {
	mu       sync.Mutex
	pending  taskHeap
	handlers map[crawl.TaskKind]Handler
	wake     chan struct{}
	closed   bool
	logger   *zap.Logger
}

// New constructs a Queue. Register handlers before calling Run.
func New(logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		handlers: make(map[crawl.TaskKind]Handler),
		wake:     make(chan struct{}, 1),
		logger:   logger,
	}
}

// Register binds a handler to a task kind.
func (q *Queue) Register(kind crawl.TaskKind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Enqueue schedules the task for execution at its ETA and returns its ID.
// A zero ETA means immediately.
func (q *Queue) Enqueue(_ context.Context, task crawl.Task) (string, error) {
	if task.ID == "" {
		return "", fmt.Errorf("task id is required")
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", fmt.Errorf("queue is closed")
	}
	if _, ok := q.handlers[task.Kind]; !ok {
		q.mu.Unlock()
		return "", fmt.Errorf("no handler registered for task kind %q", task.Kind)
	}
	heap.Push(&q.pending, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.logger.Debug("task enqueued",
		zap.String("task_id", task.ID),
		zap.String("kind", string(task.Kind)),
		zap.Time("eta", task.ETA))
	return task.ID, nil
}

// Run executes due tasks one at a time until the context is canceled.
func (q *Queue) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		task, wait, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
				continue
			}
		}
		if wait > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
				continue
			case <-timer.C:
				continue
			}
		}

		if !q.pop(task.ID) {
			continue
		}
		q.run(ctx, task)
	}
}

// Close stops accepting new tasks. Pending tasks are dropped when the
// runner's context is canceled.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// next peeks at the earliest pending task without removing it.
func (q *Queue) next() (crawl.Task, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending.Len() == 0 {
		return crawl.Task{}, 0, false
	}
	task := q.pending[0]
	return task, time.Until(task.ETA), true
}

// pop removes the task by ID if it is still at the head of the heap. A miss
// means an earlier task arrived since the peek; the caller re-peeks.
func (q *Queue) pop(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending.Len() > 0 && q.pending[0].ID == taskID {
		heap.Pop(&q.pending)
		return true
	}
	return false
}

func (q *Queue) run(ctx context.Context, task crawl.Task) {
	q.mu.Lock()
	h := q.handlers[task.Kind]
	q.mu.Unlock()
	if h == nil {
		q.logger.Error("no handler for task", zap.String("kind", string(task.Kind)))
		return
	}
	if err := h(ctx, task); err != nil {
		q.logger.Error("task failed",
			zap.String("task_id", task.ID),
			zap.String("kind", string(task.Kind)),
			zap.Error(err))
	}
}

// taskHeap orders tasks by ETA, ties broken by ID for determinism.
type taskHeap []crawl.Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].ETA.Equal(h[j].ETA) {
		return h[i].ID < h[j].ID
	}
	return h[i].ETA.Before(h[j].ETA)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(crawl.Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	*h = old[:n-1]
	return task
}
