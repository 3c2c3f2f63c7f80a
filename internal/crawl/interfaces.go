package crawl

import (
	"context"
	"errors"
	"time"

	"github.com/reportit-bot/crawler/internal/report"
)

// Sentinel errors returned by the fetch collaborator. Implementations wrap
// these so callers can classify outcomes with errors.Is.
var (
	// ErrReportNotFound means the upstream site explicitly reported that
	// the ID does not exist. This is an expected, non-fatal outcome.
	ErrReportNotFound = errors.New("report not found")
	// ErrFetchTimeout means the outbound request exceeded its time budget
	// or exhausted its retries.
	ErrFetchTimeout = errors.New("fetch timed out")
	// ErrRequestFailed covers all other request-level failures.
	ErrRequestFailed = errors.New("request failed")
)

// ErrCrawlActive is returned by the planner when a crawl is already running.
var ErrCrawlActive = errors.New("a crawl is already active")

// CrawlStore persists crawls and their items.
type CrawlStore interface {
	// CreateCrawl persists the crawl and all its items in one transaction
	// and fills in the generated IDs.
	CreateCrawl(ctx context.Context, c *Crawl) error
	// ActiveCrawls returns all crawls that still have a WAITING item.
	// Items are not loaded; use CountItems for progress.
	ActiveCrawls(ctx context.Context) ([]Crawl, error)
	// NextWaitingItem returns the WAITING item with the smallest
	// scheduled_for (ID as tiebreak), or nil when none remain.
	NextWaitingItem(ctx context.Context, crawlID int64) (*Item, error)
	// UpdateItem writes the item's state, report_found and
	// stop_condition_hit columns.
	UpdateItem(ctx context.Context, item Item) error
	// SkipWaitingItems bulk-transitions all WAITING items of the crawl to
	// SKIPPED and returns the number of rows affected.
	SkipWaitingItems(ctx context.Context, crawlID int64) (int64, error)
	// CountItems returns the total number of items and how many of them
	// are in a terminal state.
	CountItems(ctx context.Context, crawlID int64) (total, terminal int64, err error)
	SetCurrentTask(ctx context.Context, crawlID int64, taskID string) error
	ClearCurrentTask(ctx context.Context, crawlID int64) error
}

// ReportStore persists reports and answers. Upserts update matching rows
// and insert otherwise.
type ReportStore interface {
	// RecentReports returns reports created after the given instant,
	// ordered by ID ascending.
	RecentReports(ctx context.Context, since time.Time) ([]report.Report, error)
	// LatestReports returns the most recently seen reports, ordered by ID
	// ascending.
	LatestReports(ctx context.Context, limit int) ([]report.Report, error)
	// GetReport returns the stored report or nil when unknown.
	GetReport(ctx context.Context, id int64) (*report.Report, error)
	UpsertReport(ctx context.Context, r report.Report) error
	UpsertAnswers(ctx context.Context, answers []report.Answer) error
}

// Fetcher is the scraping collaborator.
type Fetcher interface {
	// FetchReport fetches one report page by ID. The expected position,
	// when known, pre-seeds coordinates lost to transient extraction
	// failures. Errors wrap ErrReportNotFound, ErrFetchTimeout or
	// ErrRequestFailed.
	FetchReport(ctx context.Context, id int64, expected *Position) (*report.Report, error)
	// FetchRawListing fetches the site's public listing.
	FetchRawListing(ctx context.Context) ([]report.RawEntry, error)
}

// TaskQueue enqueues a task for execution at its ETA and returns the
// execution handle (the task ID).
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) (string, error)
}

// Publisher triggers downstream post-processing, fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// SnapshotArchive stores raw listing snapshots out-of-band (best effort).
type SnapshotArchive interface {
	PutSnapshot(ctx context.Context, takenAt time.Time, entries []report.RawEntry) (string, error)
}

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces execution-handle IDs.
type IDGenerator interface {
	NewID() (string, error)
}
