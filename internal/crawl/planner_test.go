package crawl_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	archivememory "github.com/reportit-bot/crawler/internal/archive/memory"
	"github.com/reportit-bot/crawler/internal/crawl"
	"github.com/reportit-bot/crawler/internal/report"
	storememory "github.com/reportit-bot/crawler/internal/storage/memory"
)

func TestBuildCandidateIDs(t *testing.T) {
	recent := []int64{1, 2, 3, 4, 5, 6}
	closed := []int64{2, 6}
	lookahead := 3

	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		candidates := crawl.BuildCandidateIDs(rng, recent, closed, lookahead)

		// open recent IDs, pinned most-recent, lookahead range
		require.Len(t, candidates, 4+1+lookahead, "seed %d", seed)

		// the most recent ID is pinned right before the lookahead segment,
		// even though it is closed
		require.Equal(t, int64(6), candidates[len(candidates)-lookahead-1], "seed %d", seed)
		require.Equal(t, []int64{7, 8, 9}, candidates[len(candidates)-lookahead:], "seed %d", seed)

		seen := make(map[int64]bool)
		for _, id := range candidates[:4] {
			seen[id] = true
		}
		require.Equal(t, map[int64]bool{1: true, 3: true, 4: true, 5: true}, seen, "seed %d", seed)
	}
}

func TestBuildCandidateIDsEmpty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	require.Nil(t, crawl.BuildCandidateIDs(rng, nil, nil, 5))
}

type plannerFixture struct {
	planner *crawl.Planner
	crawls  *storememory.CrawlStore
	reports *storememory.ReportStore
	fetcher *fakeFetcher
	archive *archivememory.Archive
	queue   *recordQueue
	now     time.Time
}

func newPlannerFixture(t *testing.T) *plannerFixture {
	t.Helper()
	f := &plannerFixture{
		crawls:  storememory.NewCrawlStore(),
		reports: storememory.NewReportStore(),
		fetcher: newFakeFetcher(),
		archive: archivememory.New(),
		queue:   &recordQueue{},
		now:     mustParse("2026-03-12T10:00:00Z"),
	}
	cfg := crawl.PlannerConfig{
		RecentWindowDays:   14,
		FallbackAmount:     40,
		FallbackStartID:    1,
		LookaheadAmount:    3,
		OffsetMinutesMin:   2,
		OffsetMinutesMax:   10,
		DurationMinutesMin: 20,
		DurationMinutesMax: 60,
	}
	cursor := crawl.NewCursor(f.crawls, zap.NewNop())
	f.planner = crawl.NewPlanner(cfg, f.reports, f.crawls, cursor, f.fetcher, f.archive,
		f.queue, &seqIDs{}, fixedClock{f.now}, rand.New(rand.NewSource(7)), zap.NewNop())
	return f
}

func (f *plannerFixture) seedReports(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, f.reports.UpsertReport(context.Background(), report.Report{
			ID:        id,
			Title:     "report",
			CreatedAt: f.now.Add(-24 * time.Hour),
			UpdatedAt: f.now.Add(-24 * time.Hour),
			Status:    report.StatusAccepted,
			Latitude:  floatPtr(49.61),
			Longitude: floatPtr(6.13),
		}))
	}
}

func TestPlannerPlan(t *testing.T) {
	f := newPlannerFixture(t)
	f.seedReports(t, 100, 101, 102)
	f.fetcher.listing = []report.RawEntry{
		{ID: 102, Title: "newest", Description: "entry"},
	}

	require.NoError(t, f.planner.Plan(context.Background(), true))

	created, ok := f.crawls.Crawl(1)
	require.True(t, ok)
	require.True(t, created.ScheduledAt.Equal(f.now))
	require.Len(t, created.ReportsData, 1)
	require.NotNil(t, created.StopAtLat)
	require.NotNil(t, created.StopAtLon)

	items := f.crawls.Items(created.ID)
	// two shuffled open IDs, the pinned newest, three lookahead probes
	require.Len(t, items, 6)

	// immediate runs start right away: every item inside [now, now+60m]
	for _, item := range items {
		require.Equal(t, crawl.StateWaiting, item.State)
		require.False(t, item.ScheduledFor.Before(f.now))
		require.False(t, item.ScheduledFor.After(f.now.Add(60*time.Minute)))
	}

	tasks := f.queue.all()
	require.Len(t, tasks, 1)
	require.Equal(t, crawl.TaskChainedCrawl, tasks[0].Kind)
	require.Equal(t, created.ID, tasks[0].CrawlID)
	require.Equal(t, tasks[0].ID, created.CurrentTaskID)

	earliest := items[0].ScheduledFor
	for _, item := range items[1:] {
		if item.ScheduledFor.Before(earliest) {
			earliest = item.ScheduledFor
		}
	}
	require.True(t, tasks[0].ETA.Equal(earliest))

	require.Len(t, f.archive.Snapshots(), 1)
}

func TestPlannerPlanRefusesSecondCrawl(t *testing.T) {
	f := newPlannerFixture(t)
	f.seedReports(t, 100)

	require.NoError(t, f.planner.Plan(context.Background(), true))
	err := f.planner.Plan(context.Background(), true)
	require.ErrorIs(t, err, crawl.ErrCrawlActive)
}

func TestPlannerPlanRefusesAmbiguousActiveState(t *testing.T) {
	f := newPlannerFixture(t)
	f.seedReports(t, 100)

	// two unfinished crawls is a corrupt state that must never be extended
	// with a third
	for _, id := range []int64{200, 201} {
		c := &crawl.Crawl{
			ScheduledAt: f.now,
			Items: []crawl.Item{
				{ReportID: id, ScheduledFor: f.now, State: crawl.StateWaiting},
			},
		}
		require.NoError(t, f.crawls.CreateCrawl(context.Background(), c))
	}

	err := f.planner.Plan(context.Background(), true)
	require.ErrorIs(t, err, crawl.ErrCrawlActive)

	active, err := f.crawls.ActiveCrawls(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Empty(t, f.queue.all())
}

func TestPlannerPlanBootstrap(t *testing.T) {
	f := newPlannerFixture(t)

	require.NoError(t, f.planner.Plan(context.Background(), true))

	items := f.crawls.Items(1)
	require.Len(t, items, 4)
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ReportID
	}
	require.ElementsMatch(t, []int64{1, 2, 3, 4}, ids)
}

func TestPlannerPlanSurvivesListingFailure(t *testing.T) {
	f := newPlannerFixture(t)
	f.seedReports(t, 100)
	f.fetcher.listingErr = errors.New("listing down")

	require.NoError(t, f.planner.Plan(context.Background(), true))

	created, ok := f.crawls.Crawl(1)
	require.True(t, ok)
	require.Nil(t, created.ReportsData)
	require.Empty(t, f.archive.Snapshots())
}

func TestPlannerPlanDelayedOffset(t *testing.T) {
	f := newPlannerFixture(t)
	f.seedReports(t, 100)

	require.NoError(t, f.planner.Plan(context.Background(), false))

	// non-immediate runs start at least offset_minutes_min out
	for _, item := range f.crawls.Items(1) {
		require.False(t, item.ScheduledFor.Before(f.now.Add(2*time.Minute)))
		require.False(t, item.ScheduledFor.After(f.now.Add(70*time.Minute)))
	}
}
