package taskqueue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reportit-bot/crawler/internal/crawl"
	"github.com/reportit-bot/crawler/internal/taskqueue"
)

func runQueue(t *testing.T, q *taskqueue.Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestQueueRunsTasksInETAOrder(t *testing.T) {
	q := taskqueue.New(zap.NewNop())

	var mu sync.Mutex
	var order []string
	q.Register(crawl.TaskChainedCrawl, func(_ context.Context, task crawl.Task) error {
		mu.Lock()
		order = append(order, task.ID)
		mu.Unlock()
		return nil
	})
	runQueue(t, q)

	now := time.Now()
	_, err := q.Enqueue(context.Background(), crawl.Task{
		ID: "later", Kind: crawl.TaskChainedCrawl, ETA: now.Add(60 * time.Millisecond),
	})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), crawl.Task{
		ID: "sooner", Kind: crawl.TaskChainedCrawl, ETA: now.Add(20 * time.Millisecond),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"sooner", "later"}, order)
}

func TestQueueRunsImmediateTask(t *testing.T) {
	q := taskqueue.New(zap.NewNop())

	done := make(chan crawl.Task, 1)
	q.Register(crawl.TaskPlanCrawl, func(_ context.Context, task crawl.Task) error {
		done <- task
		return nil
	})
	runQueue(t, q)

	handle, err := q.Enqueue(context.Background(), crawl.Task{
		ID:      "plan-1",
		Kind:    crawl.TaskPlanCrawl,
		CrawlID: 42,
	})
	require.NoError(t, err)
	require.Equal(t, "plan-1", handle)

	select {
	case task := <-done:
		require.Equal(t, int64(42), task.CrawlID)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestQueueEnqueueValidation(t *testing.T) {
	q := taskqueue.New(zap.NewNop())
	q.Register(crawl.TaskChainedCrawl, func(context.Context, crawl.Task) error { return nil })

	_, err := q.Enqueue(context.Background(), crawl.Task{Kind: crawl.TaskChainedCrawl})
	require.ErrorContains(t, err, "task id is required")

	_, err = q.Enqueue(context.Background(), crawl.Task{ID: "x", Kind: crawl.TaskPlanCrawl})
	require.ErrorContains(t, err, "no handler registered")

	q.Close()
	_, err = q.Enqueue(context.Background(), crawl.Task{ID: "y", Kind: crawl.TaskChainedCrawl})
	require.ErrorContains(t, err, "queue is closed")
}

func TestQueueTaskErrorDoesNotStopRunner(t *testing.T) {
	q := taskqueue.New(zap.NewNop())

	var mu sync.Mutex
	var runs int
	q.Register(crawl.TaskChainedCrawl, func(_ context.Context, task crawl.Task) error {
		mu.Lock()
		runs++
		mu.Unlock()
		if task.ID == "boom" {
			return context.DeadlineExceeded
		}
		return nil
	})
	runQueue(t, q)

	_, err := q.Enqueue(context.Background(), crawl.Task{ID: "boom", Kind: crawl.TaskChainedCrawl})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), crawl.Task{
		ID: "after", Kind: crawl.TaskChainedCrawl, ETA: time.Now().Add(20 * time.Millisecond),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueueLen(t *testing.T) {
	q := taskqueue.New(zap.NewNop())
	q.Register(crawl.TaskChainedCrawl, func(context.Context, crawl.Task) error { return nil })

	_, err := q.Enqueue(context.Background(), crawl.Task{
		ID: "far", Kind: crawl.TaskChainedCrawl, ETA: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, 1, q.Len())
}
