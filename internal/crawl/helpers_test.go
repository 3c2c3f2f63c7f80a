package crawl_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reportit-bot/crawler/internal/crawl"
	"github.com/reportit-bot/crawler/internal/report"
)

// fakeFetcher serves canned reports and listing entries.
type fakeFetcher struct {
	mu         sync.Mutex
	reports    map[int64]*report.Report
	errs       map[int64]error
	listing    []report.RawEntry
	listingErr error
	expected   map[int64]*crawl.Position
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		reports:  make(map[int64]*report.Report),
		errs:     make(map[int64]error),
		expected: make(map[int64]*crawl.Position),
	}
}

func (f *fakeFetcher) FetchReport(_ context.Context, id int64, expected *crawl.Position) (*report.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expected[id] = expected
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	r, ok := f.reports[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", crawl.ErrReportNotFound, id)
	}
	out := *r
	return &out, nil
}

func (f *fakeFetcher) FetchRawListing(context.Context) ([]report.RawEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listingErr != nil {
		return nil, f.listingErr
	}
	return f.listing, nil
}

// recordQueue collects enqueued tasks without executing them.
type recordQueue struct {
	mu    sync.Mutex
	tasks []crawl.Task
}

func (q *recordQueue) Enqueue(_ context.Context, task crawl.Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return task.ID, nil
}

func (q *recordQueue) all() []crawl.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]crawl.Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}

// fixedClock always reports the same instant.
type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// seqIDs hands out task-1, task-2, ...
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("task-%d", g.n), nil
}

// stubStop fires on the report IDs it is told to.
type stubStop struct{ stopOn map[int64]bool }

func (stubStop) Name() string { return "stub" }

func (s stubStop) ShouldStop(_ *crawl.Crawl, r *report.Report) bool {
	return r != nil && s.stopOn[r.ID]
}

func floatPtr(v float64) *float64 { return &v }

func mustParse(t string) time.Time {
	ts, err := time.Parse(time.RFC3339, t)
	if err != nil {
		panic(err)
	}
	return ts
}
