// Package crawl implements the incremental crawl scheduler: planning which
// report IDs to fetch, walking the resulting items in schedule order, and
// deciding when the crawl has reached already-known territory.
package crawl

import (
	"time"

	"github.com/reportit-bot/crawler/internal/report"
)

// ItemState is the lifecycle state of a single CrawlItem.
type ItemState string

// WAITING is initial; SUCCESS, FAILURE and SKIPPED are terminal.
const (
	StateWaiting    ItemState = "WAITING"
	StateProcessing ItemState = "PROCESSING"
	StateSuccess    ItemState = "SUCCESS"
	StateFailure    ItemState = "FAILURE"
	StateSkipped    ItemState = "SKIPPED"
)

// Terminal reports whether the state allows no further transitions.
func (s ItemState) Terminal() bool {
	switch s {
	case StateSuccess, StateFailure, StateSkipped:
		return true
	}
	return false
}

// Crawl is one crawl campaign: an ordered batch of planned fetch attempts
// plus the planning-time context the stop condition needs.
type Crawl struct {
	ID          int64
	ScheduledAt time.Time

	// StopAtLat/StopAtLon hold the coordinates of the most recent known
	// report at planning time (legacy position stop policy).
	StopAtLat *float64
	StopAtLon *float64

	// ReportsData is the raw public listing captured at planning time.
	// Nil when the listing fetch failed; the listing stop policy then
	// never fires.
	ReportsData []report.RawEntry

	// CurrentTaskID is the handle of the in-flight chained execution,
	// overwritten on every re-arm.
	CurrentTaskID string

	Items []Item
}

// Finished reports whether no item of the crawl is still WAITING. It is only
// meaningful on a crawl with its Items loaded; stores that return crawls
// without items derive activity with a query instead.
func (c *Crawl) Finished() bool {
	for _, item := range c.Items {
		if item.State == StateWaiting {
			return false
		}
	}
	return true
}

// Item is one planned fetch attempt of a single report ID within a Crawl.
// Items are totally ordered by ScheduledFor, ties broken by ID.
type Item struct {
	ID           int64
	CrawlID      int64
	ReportID     int64
	ScheduledFor time.Time
	State        ItemState
	ReportFound  *bool
	StopHit      *bool
}

// Position is a latitude/longitude pair.
type Position struct {
	Lat float64
	Lon float64
}

// TaskKind names the queue tasks the scheduler layer enqueues.
type TaskKind string

const (
	// TaskChainedCrawl processes one crawl item and re-arms itself.
	TaskChainedCrawl TaskKind = "chained_crawl"
	// TaskPlanCrawl runs the planner once.
	TaskPlanCrawl TaskKind = "plan_crawl"
)

// Task is one delayed unit of work handed to the task queue.
type Task struct {
	ID        string
	Kind      TaskKind
	CrawlID   int64
	Immediate bool
	ETA       time.Time
}
