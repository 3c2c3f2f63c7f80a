package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reportit-bot/crawler/internal/metrics"
	"github.com/reportit-bot/crawler/internal/report"
)

// DriverConfig carries the chained-execution knobs.
type DriverConfig struct {
	// PostProcessTopic receives the fire-and-forget trigger after every
	// successfully persisted report. Empty disables publishing.
	PostProcessTopic string
}

// Driver is the self-rescheduling unit of work: each invocation processes
// one crawl item, then either halts (stop condition), finishes (no items
// left) or schedules exactly one successor at the next item's planned time.
type Driver struct {
	cfg     DriverConfig
	cursor  *Cursor
	crawls  CrawlStore
	reports ReportStore
	fetcher Fetcher
	stop    StopPolicy
	queue   TaskQueue
	pub     Publisher
	ids     IDGenerator
	logger  *zap.Logger
}

// NewDriver constructs a Driver. The publisher may be nil.
func NewDriver(
	cfg DriverConfig,
	cursor *Cursor,
	crawls CrawlStore,
	reports ReportStore,
	fetcher Fetcher,
	stop StopPolicy,
	queue TaskQueue,
	pub Publisher,
	ids IDGenerator,
	logger *zap.Logger,
) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		cfg:     cfg,
		cursor:  cursor,
		crawls:  crawls,
		reports: reports,
		fetcher: fetcher,
		stop:    stop,
		queue:   queue,
		pub:     pub,
		ids:     ids,
		logger:  logger,
	}
}

// NextActionKind tags the decision the scheduling tail arrived at.
type NextActionKind int

const (
	// ActionHalt terminates the chain because the stop condition fired.
	ActionHalt NextActionKind = iota
	// ActionAdvance schedules the successor for the next waiting item.
	ActionAdvance
	// ActionExhausted terminates the chain because no items remain.
	ActionExhausted
)

// NextAction is the outcome of one invocation's scheduling tail.
type NextAction struct {
	Kind NextActionKind
	Next *Item
}

// Execute runs one invocation of the chain. Fetch-level failures are
// recorded on the item and never propagated; only missing-state conditions
// (no active crawl, no waiting item) and storage errors end the chain
// without a successor.
func (d *Driver) Execute(ctx context.Context) error {
	crawl, err := d.cursor.ActiveCrawl(ctx)
	if err != nil {
		return err
	}
	if crawl == nil {
		d.logger.Error("no active crawl found, stopping chain")
		return nil
	}
	item, err := d.cursor.NextWaitingItem(ctx, crawl.ID)
	if err != nil {
		return err
	}
	if item == nil {
		d.logger.Error("next crawl item not found, stopping chain",
			zap.Int64("crawl_id", crawl.ID))
		return nil
	}

	// Committed before the fetch so a crash mid-fetch is observable as a
	// stuck PROCESSING item rather than silently lost.
	item.State = StateProcessing
	if err := d.crawls.UpdateItem(ctx, *item); err != nil {
		return fmt.Errorf("mark item processing: %w", err)
	}

	stopHit := d.processItem(ctx, crawl, item)

	action, err := d.settle(ctx, crawl, item, stopHit)
	if err != nil {
		return err
	}
	switch action.Kind {
	case ActionHalt:
		d.logger.Info("stop condition hit, not queueing next crawl",
			zap.Int64("crawl_id", crawl.ID),
			zap.Int64("report_id", item.ReportID))
	case ActionExhausted:
		d.logger.Info("no more items in queue, crawl finished without hitting stop condition",
			zap.Int64("crawl_id", crawl.ID))
	case ActionAdvance:
		d.logger.Info("scheduled next crawl item",
			zap.Int64("crawl_id", crawl.ID),
			zap.Int64("report_id", action.Next.ReportID),
			zap.Time("eta", action.Next.ScheduledFor))
	}
	return nil
}

// processItem fetches and persists one report, records the item's terminal
// state, and reports whether the stop condition fired. All fetch outcomes
// funnel back here so the chain always reaches the scheduling tail.
func (d *Driver) processItem(ctx context.Context, crawl *Crawl, item *Item) bool {
	d.logger.Info("processing report",
		zap.Int64("crawl_id", crawl.ID),
		zap.Int64("report_id", item.ReportID))

	fetchStart := time.Now()
	fetched, err := d.fetcher.FetchReport(ctx, item.ReportID, d.expectedPosition(ctx, crawl, item.ReportID))
	elapsed := time.Since(fetchStart).Seconds()
	switch {
	case err == nil:
		if persistErr := d.persistReport(ctx, fetched); persistErr != nil {
			d.logger.Error("failed to persist report",
				zap.Int64("report_id", item.ReportID),
				zap.Error(persistErr))
			item.State = StateFailure
			metrics.ItemProcessed("persist_error")
			return false
		}
		item.State = StateSuccess
		item.ReportFound = boolPtr(true)
		metrics.ItemProcessed("success")
		metrics.ObserveFetchDuration(elapsed, "success")
		d.logger.Info("successfully processed report",
			zap.Int64("report_id", fetched.ID),
			zap.String("title", fetched.Title))
		d.triggerPostProcessing(ctx, fetched)
		if d.stop.ShouldStop(crawl, fetched) {
			metrics.StopConditionHit()
			return true
		}
		return false

	case errors.Is(err, ErrReportNotFound):
		// The ID legitimately doesn't exist yet or was skipped
		// upstream; not an error.
		item.State = StateSuccess
		item.ReportFound = boolPtr(false)
		metrics.ItemProcessed("not_found")
		metrics.ObserveFetchDuration(elapsed, "not_found")
		d.logger.Info("no report found with id, skipping",
			zap.Int64("report_id", item.ReportID))
		return false

	case errors.Is(err, ErrFetchTimeout):
		item.State = StateFailure
		metrics.ItemProcessed("timeout")
		metrics.ObserveFetchDuration(elapsed, "timeout")
		d.logger.Warn("retrieval of report timed out, skipping",
			zap.Int64("report_id", item.ReportID),
			zap.Error(err))
		return false

	case errors.Is(err, ErrRequestFailed):
		item.State = StateFailure
		metrics.ItemProcessed("request_error")
		metrics.ObserveFetchDuration(elapsed, "error")
		d.logger.Warn("retrieval of report failed, skipping",
			zap.Int64("report_id", item.ReportID),
			zap.Error(err))
		return false

	default:
		item.State = StateFailure
		metrics.ItemProcessed("error")
		d.logger.Error("unexpected error while fetching report, skipping",
			zap.Int64("report_id", item.ReportID),
			zap.Error(err))
		return false
	}
}

// settle is the single scheduling tail: it writes the item's terminal
// columns and then either skips the remainder (halt), clears the execution
// handle (exhausted) or schedules exactly one successor.
func (d *Driver) settle(ctx context.Context, crawl *Crawl, item *Item, stopHit bool) (NextAction, error) {
	item.StopHit = boolPtr(stopHit)
	if err := d.crawls.UpdateItem(ctx, *item); err != nil {
		return NextAction{}, fmt.Errorf("mark item terminal: %w", err)
	}

	if stopHit {
		if _, err := d.cursor.SkipRemaining(ctx, crawl.ID); err != nil {
			return NextAction{}, err
		}
		return NextAction{Kind: ActionHalt}, nil
	}

	next, err := d.cursor.NextWaitingItem(ctx, crawl.ID)
	if err != nil {
		return NextAction{}, err
	}
	if next == nil {
		if err := d.crawls.ClearCurrentTask(ctx, crawl.ID); err != nil {
			return NextAction{}, fmt.Errorf("clear task handle: %w", err)
		}
		return NextAction{Kind: ActionExhausted}, nil
	}

	d.logProgress(ctx, crawl)

	taskID, err := d.ids.NewID()
	if err != nil {
		return NextAction{}, fmt.Errorf("generate task id: %w", err)
	}
	handle, err := d.queue.Enqueue(ctx, Task{
		ID:      taskID,
		Kind:    TaskChainedCrawl,
		CrawlID: crawl.ID,
		ETA:     next.ScheduledFor,
	})
	if err != nil {
		return NextAction{}, fmt.Errorf("enqueue next crawl task: %w", err)
	}
	if err := d.crawls.SetCurrentTask(ctx, crawl.ID, handle); err != nil {
		return NextAction{}, fmt.Errorf("store task handle: %w", err)
	}
	return NextAction{Kind: ActionAdvance, Next: next}, nil
}

func (d *Driver) persistReport(ctx context.Context, r *report.Report) error {
	if err := d.reports.UpsertReport(ctx, *r); err != nil {
		return fmt.Errorf("upsert report: %w", err)
	}
	if len(r.Answers) > 0 {
		if err := d.reports.UpsertAnswers(ctx, r.Answers); err != nil {
			return fmt.Errorf("upsert answers: %w", err)
		}
	}
	return nil
}

// expectedPosition pre-seeds coordinates from the prior known report row or
// the listing snapshot, improving robustness against a transient failure to
// extract them from the page.
func (d *Driver) expectedPosition(ctx context.Context, crawl *Crawl, reportID int64) *Position {
	known, err := d.reports.GetReport(ctx, reportID)
	if err != nil {
		d.logger.Debug("failed to load known report for position seed",
			zap.Int64("report_id", reportID), zap.Error(err))
	} else if known != nil && known.Latitude != nil && known.Longitude != nil {
		return &Position{Lat: *known.Latitude, Lon: *known.Longitude}
	}
	for _, entry := range crawl.ReportsData {
		if entry.ID == reportID {
			return &Position{Lat: entry.Latitude, Lon: entry.Longitude}
		}
	}
	return nil
}

func (d *Driver) triggerPostProcessing(ctx context.Context, r *report.Report) {
	if d.pub == nil || d.cfg.PostProcessTopic == "" {
		return
	}
	payload := map[string]any{
		"report_id": r.ID,
		"status":    r.Status,
	}
	if _, err := d.pub.Publish(ctx, d.cfg.PostProcessTopic, payload); err != nil {
		d.logger.Warn("failed to trigger post-processing",
			zap.Int64("report_id", r.ID),
			zap.Error(err))
	}
}

func (d *Driver) logProgress(ctx context.Context, crawl *Crawl) {
	total, terminal, err := d.crawls.CountItems(ctx, crawl.ID)
	if err != nil || total == 0 {
		return
	}
	pct := float64(terminal) / float64(total) * 100
	metrics.SetCrawlProgress(pct)
	d.logger.Info("crawl progress",
		zap.Int64("crawl_id", crawl.ID),
		zap.Int64("processed", terminal),
		zap.Int64("total", total),
		zap.Float64("percent", pct))
}

func boolPtr(b bool) *bool { return &b }
