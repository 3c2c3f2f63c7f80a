package api_test

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reportit-bot/crawler/internal/api"
	"github.com/reportit-bot/crawler/internal/crawl"
	"github.com/reportit-bot/crawler/internal/report"
	storememory "github.com/reportit-bot/crawler/internal/storage/memory"
)

type stubFetcher struct{}

func (stubFetcher) FetchReport(context.Context, int64, *crawl.Position) (*report.Report, error) {
	return nil, crawl.ErrReportNotFound
}

func (stubFetcher) FetchRawListing(context.Context) ([]report.RawEntry, error) {
	return nil, nil
}

type stubQueue struct{ tasks []crawl.Task }

func (q *stubQueue) Enqueue(_ context.Context, task crawl.Task) (string, error) {
	q.tasks = append(q.tasks, task)
	return task.ID, nil
}

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

type stubIDs struct{ n int }

func (g *stubIDs) NewID() (string, error) {
	g.n++
	return "task", nil
}

func newTestServer(t *testing.T) (*api.Server, *storememory.CrawlStore) {
	t.Helper()
	crawls := storememory.NewCrawlStore()
	reports := storememory.NewReportStore()
	queue := &stubQueue{}
	ids := &stubIDs{}
	clk := stubClock{now: time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)}
	rng := rand.New(rand.NewSource(1))
	logger := zap.NewNop()
	cursor := crawl.NewCursor(crawls, logger)

	planner := crawl.NewPlanner(crawl.PlannerConfig{
		RecentWindowDays:   14,
		FallbackAmount:     40,
		FallbackStartID:    1,
		LookaheadAmount:    2,
		OffsetMinutesMax:   10,
		DurationMinutesMin: 10,
		DurationMinutesMax: 20,
	}, reports, crawls, cursor, stubFetcher{}, nil, queue, ids, clk, rng, logger)

	scheduler := crawl.NewScheduler(crawl.SchedulerConfig{
		OffsetMinutesMin: 5,
		OffsetMinutesMax: 60,
	}, queue, ids, clk, rng, logger)

	return api.New(":0", planner, scheduler, crawls, logger), crawls
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := newTestServer(t)
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartCrawl(t *testing.T) {
	server, crawls := newTestServer(t)
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/crawls", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	created, ok := crawls.Crawl(1)
	require.True(t, ok)
	require.NotEmpty(t, created.CurrentTaskID)

	// a second start while the first crawl is active must be refused
	resp, err = http.Post(srv.URL+"/v1/crawls", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestScheduleCrawl(t *testing.T) {
	server, _ := newTestServer(t)
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/crawls/schedule", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body struct {
		Status string `json:"status"`
		ETA    string `json:"eta"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "crawl scheduled", body.Status)
	_, err = time.Parse(time.RFC3339, body.ETA)
	require.NoError(t, err)
}

func TestActiveCrawls(t *testing.T) {
	server, crawls := newTestServer(t)
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/crawls/active")
	require.NoError(t, err)
	var empty struct {
		Crawls []json.RawMessage `json:"crawls"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	resp.Body.Close()
	require.Empty(t, empty.Crawls)

	now := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	c := &crawl.Crawl{
		ScheduledAt: now,
		Items: []crawl.Item{
			{ReportID: 100, ScheduledFor: now, State: crawl.StateSuccess},
			{ReportID: 101, ScheduledFor: now.Add(time.Minute), State: crawl.StateWaiting},
		},
	}
	require.NoError(t, crawls.CreateCrawl(context.Background(), c))

	resp, err = http.Get(srv.URL + "/v1/crawls/active")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Crawls []struct {
			ID         int64   `json:"id"`
			TotalItems int64   `json:"total_items"`
			DoneItems  int64   `json:"done_items"`
			Progress   float64 `json:"progress_percent"`
		} `json:"crawls"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Crawls, 1)
	require.Equal(t, c.ID, body.Crawls[0].ID)
	require.Equal(t, int64(2), body.Crawls[0].TotalItems)
	require.Equal(t, int64(1), body.Crawls[0].DoneItems)
	require.InDelta(t, 50, body.Crawls[0].Progress, 0.01)
}
