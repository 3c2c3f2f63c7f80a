package crawl

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/reportit-bot/crawler/internal/report"
)

// PlannerConfig carries the planning knobs.
type PlannerConfig struct {
	// RecentWindowDays is the trailing window for "recent" reports.
	RecentWindowDays int
	// FallbackAmount bounds the most-recently-seen fallback query.
	FallbackAmount int
	// FallbackStartID seeds a crawl when the database is empty.
	FallbackStartID int64
	// LookaheadAmount is how many consecutive IDs past the highest known
	// one get probed.
	LookaheadAmount int
	// Offset and duration bounds, in minutes, of the randomized window the
	// run's fetches are spread over.
	OffsetMinutesMin   int
	OffsetMinutesMax   int
	DurationMinutesMin int
	DurationMinutesMax int
}

// Planner decides the complete list of (report ID, scheduled time) pairs for
// one crawl run, persists it and arms the first chained execution.
type Planner struct {
	cfg     PlannerConfig
	reports ReportStore
	crawls  CrawlStore
	cursor  *Cursor
	fetcher Fetcher
	archive SnapshotArchive
	queue   TaskQueue
	ids     IDGenerator
	clock   Clock
	rng     *rand.Rand
	logger  *zap.Logger
}

// NewPlanner constructs a Planner. The archive may be nil.
func NewPlanner(
	cfg PlannerConfig,
	reports ReportStore,
	crawls CrawlStore,
	cursor *Cursor,
	fetcher Fetcher,
	archive SnapshotArchive,
	queue TaskQueue,
	ids IDGenerator,
	clock Clock,
	rng *rand.Rand,
	logger *zap.Logger,
) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		cfg:     cfg,
		reports: reports,
		crawls:  crawls,
		cursor:  cursor,
		fetcher: fetcher,
		archive: archive,
		queue:   queue,
		ids:     ids,
		clock:   clock,
		rng:     rng,
		logger:  logger,
	}
}

// BuildCandidateIDs assembles the candidate list for one crawl run:
// the open recent IDs shuffled, the single most recent known ID pinned to the
// end of the known-ID segment, then the lookahead range. The pinned ID stays
// in the list even when closed, so the stop condition still gets a chance to
// fire against it; every other closed ID is dropped.
func BuildCandidateIDs(rng *rand.Rand, recentIDs, closedIDs []int64, lookahead int) []int64 {
	if len(recentIDs) == 0 {
		return nil
	}
	pinned := recentIDs[len(recentIDs)-1]

	withoutLast := make([]int64, len(recentIDs)-1)
	copy(withoutLast, recentIDs[:len(recentIDs)-1])
	rng.Shuffle(len(withoutLast), func(i, j int) {
		withoutLast[i], withoutLast[j] = withoutLast[j], withoutLast[i]
	})

	closed := make(map[int64]bool, len(closedIDs))
	for _, id := range closedIDs {
		closed[id] = true
	}
	delete(closed, pinned)

	candidates := make([]int64, 0, len(recentIDs)+lookahead)
	for _, id := range withoutLast {
		if !closed[id] {
			candidates = append(candidates, id)
		}
	}
	candidates = append(candidates, pinned)
	for i := int64(1); i <= int64(lookahead); i++ {
		candidates = append(candidates, pinned+i)
	}
	return candidates
}

// Plan builds and persists one crawl run and schedules its first chained
// execution. With immediate set, the run starts right away instead of after
// a randomized offset.
func (p *Planner) Plan(ctx context.Context, immediate bool) error {
	// Checked against the store directly, not through the cursor: the cursor
	// resolves the ambiguous multi-active state to nil, and planning must
	// refuse as long as any active crawl exists, ambiguous or not.
	active, err := p.crawls.ActiveCrawls(ctx)
	if err != nil {
		return fmt.Errorf("list active crawls: %w", err)
	}
	if len(active) > 0 {
		return fmt.Errorf("crawl %d: %w", active[0].ID, ErrCrawlActive)
	}

	now := p.clock.Now()

	p.logger.Info("fetching existing recent reports from database")
	recent, err := p.recentReports(ctx, now)
	if err != nil {
		return err
	}

	var candidates []int64
	var stopLat, stopLon *float64
	if len(recent) > 0 {
		recentIDs := report.IDs(recent)
		closedIDs := report.ClosedIDs(recent)
		p.logger.Info("recent reports fetched",
			zap.Int("total", len(recentIDs)),
			zap.Int("closed", len(closedIDs)),
			zap.Int("remaining", len(recentIDs)-len(closedIDs)))

		candidates = BuildCandidateIDs(p.rng, recentIDs, closedIDs, p.cfg.LookaheadAmount)

		newest := recent[len(recent)-1]
		stopLat, stopLon = newest.Latitude, newest.Longitude
	} else {
		p.logger.Info("no recent reports found, beginning crawl from fallback id",
			zap.Int64("fallback_id", p.cfg.FallbackStartID))
		candidates = append(candidates, p.cfg.FallbackStartID)
		for i := int64(1); i <= int64(p.cfg.LookaheadAmount); i++ {
			candidates = append(candidates, p.cfg.FallbackStartID+i)
		}
	}

	times := p.generateCrawlTimes(now, len(candidates), immediate)
	items := make([]Item, len(candidates))
	for i, id := range candidates {
		items[i] = Item{
			ReportID:     id,
			ScheduledFor: times[i],
			State:        StateWaiting,
		}
		p.logger.Debug("planned crawl item",
			zap.Int64("report_id", id),
			zap.Time("scheduled_for", times[i]))
	}

	snapshot := p.fetchListingSnapshot(ctx, now)

	crawl := &Crawl{
		ScheduledAt: now,
		StopAtLat:   stopLat,
		StopAtLon:   stopLon,
		ReportsData: snapshot,
		Items:       items,
	}
	p.logger.Info("persisting crawl planning to database",
		zap.Int("items", len(items)))
	if err := p.crawls.CreateCrawl(ctx, crawl); err != nil {
		return fmt.Errorf("persist crawl: %w", err)
	}

	next, err := p.cursor.NextWaitingItem(ctx, crawl.ID)
	if err != nil {
		return err
	}
	if next == nil {
		p.logger.Error("next crawl item not found, nothing to execute",
			zap.Int64("crawl_id", crawl.ID))
		return nil
	}

	if graph := TimeGraph(times, 5); graph != "" {
		p.logger.Info("crawl schedule\n" + graph)
	}

	taskID, err := p.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate task id: %w", err)
	}
	handle, err := p.queue.Enqueue(ctx, Task{
		ID:      taskID,
		Kind:    TaskChainedCrawl,
		CrawlID: crawl.ID,
		ETA:     next.ScheduledFor,
	})
	if err != nil {
		return fmt.Errorf("enqueue first crawl task: %w", err)
	}
	if err := p.crawls.SetCurrentTask(ctx, crawl.ID, handle); err != nil {
		return fmt.Errorf("store task handle: %w", err)
	}
	p.logger.Info("queued first crawl task",
		zap.Int64("crawl_id", crawl.ID),
		zap.String("task_id", handle),
		zap.Time("eta", next.ScheduledFor))
	return nil
}

func (p *Planner) recentReports(ctx context.Context, now time.Time) ([]report.Report, error) {
	since := now.AddDate(0, 0, -p.cfg.RecentWindowDays)
	recent, err := p.reports.RecentReports(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("fetch recent reports: %w", err)
	}
	if len(recent) == 0 {
		recent, err = p.reports.LatestReports(ctx, p.cfg.FallbackAmount)
		if err != nil {
			return nil, fmt.Errorf("fetch latest reports: %w", err)
		}
	}
	return recent, nil
}

func (p *Planner) generateCrawlTimes(now time.Time, amount int, immediate bool) []time.Time {
	offsetMinutes := 0
	if !immediate {
		offsetMinutes = p.cfg.OffsetMinutesMin +
			p.rng.Intn(p.cfg.OffsetMinutesMax-p.cfg.OffsetMinutesMin+1)
	}
	durationMinutes := p.cfg.DurationMinutesMin +
		p.rng.Intn(p.cfg.DurationMinutesMax-p.cfg.DurationMinutesMin+1)

	start := now.Add(time.Duration(offsetMinutes) * time.Minute)
	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	p.logger.Info("generating crawl times",
		zap.Int("amount", amount),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("offset_minutes", offsetMinutes),
		zap.Int("duration_minutes", durationMinutes))
	return GenerateRandomTimesBetween(p.rng, start, end, amount)
}

// fetchListingSnapshot is best-effort: a failed listing fetch only disables
// the listing stop-policy fallback, it never aborts planning.
func (p *Planner) fetchListingSnapshot(ctx context.Context, now time.Time) []report.RawEntry {
	snapshot, err := p.fetcher.FetchRawListing(ctx)
	if err != nil {
		p.logger.Warn("failed to fetch raw listing, continuing without snapshot",
			zap.Error(err))
		return nil
	}
	if p.archive != nil {
		uri, err := p.archive.PutSnapshot(ctx, now, snapshot)
		if err != nil {
			p.logger.Warn("failed to archive listing snapshot", zap.Error(err))
		} else {
			p.logger.Debug("archived listing snapshot", zap.String("uri", uri))
		}
	}
	return snapshot
}
