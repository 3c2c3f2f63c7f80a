// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reportit-bot/crawler/internal/crawl"
	"github.com/reportit-bot/crawler/internal/report"
)

// pool is the subset of pgxpool.Pool the stores use; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPool builds a pgx pool from the config.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return p, nil
}

// CrawlStore persists crawls and crawl items.
//
// Expected schema:
//
//	CREATE TABLE crawl (
//	    id BIGSERIAL PRIMARY KEY,
//	    scheduled_at TIMESTAMPTZ NOT NULL,
//	    stop_at_lat NUMERIC(8,6),
//	    stop_at_lon NUMERIC(9,6),
//	    reports_data JSONB,
//	    current_task_id VARCHAR(50)
//	);
//	CREATE TABLE crawl_item (
//	    id BIGSERIAL PRIMARY KEY,
//	    crawl_id BIGINT NOT NULL REFERENCES crawl(id) ON DELETE CASCADE,
//	    report_id BIGINT NOT NULL,
//	    scheduled_for TIMESTAMPTZ NOT NULL,
//	    state TEXT NOT NULL,
//	    report_found BOOLEAN,
//	    stop_condition_hit BOOLEAN
//	);
type CrawlStore struct {
	pool pool
}

// NewCrawlStore constructs a CrawlStore over an existing pool.
func NewCrawlStore(p pool) (*CrawlStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CrawlStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *CrawlStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateCrawl inserts the crawl and all its items in one transaction and
// fills in the generated IDs.
func (s *CrawlStore) CreateCrawl(ctx context.Context, c *crawl.Crawl) error {
	var reportsData []byte
	if c.ReportsData != nil {
		var err error
		reportsData, err = json.Marshal(c.ReportsData)
		if err != nil {
			return fmt.Errorf("marshal reports data: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
INSERT INTO crawl (scheduled_at, stop_at_lat, stop_at_lon, reports_data)
VALUES ($1, $2, $3, $4)
RETURNING id`,
		c.ScheduledAt, c.StopAtLat, c.StopAtLon, reportsData,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert crawl: %w", err)
	}

	for i := range c.Items {
		c.Items[i].CrawlID = c.ID
		err = tx.QueryRow(ctx, `
INSERT INTO crawl_item (crawl_id, report_id, scheduled_for, state)
VALUES ($1, $2, $3, $4)
RETURNING id`,
			c.ID, c.Items[i].ReportID, c.Items[i].ScheduledFor, c.Items[i].State,
		).Scan(&c.Items[i].ID)
		if err != nil {
			return fmt.Errorf("insert crawl item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit crawl: %w", err)
	}
	return nil
}

// ActiveCrawls returns all crawls that still have a WAITING item.
func (s *CrawlStore) ActiveCrawls(ctx context.Context) ([]crawl.Crawl, error) {
	rows, err := s.pool.Query(ctx, `
SELECT c.id, c.scheduled_at, c.stop_at_lat, c.stop_at_lon, c.reports_data, c.current_task_id
FROM crawl c
WHERE EXISTS (
    SELECT 1 FROM crawl_item i
    WHERE i.crawl_id = c.id AND i.state = 'WAITING'
)
ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("query active crawls: %w", err)
	}
	defer rows.Close()

	var crawls []crawl.Crawl
	for rows.Next() {
		var (
			c           crawl.Crawl
			reportsData []byte
			taskID      *string
		)
		if err := rows.Scan(&c.ID, &c.ScheduledAt, &c.StopAtLat, &c.StopAtLon, &reportsData, &taskID); err != nil {
			return nil, fmt.Errorf("scan crawl row: %w", err)
		}
		if taskID != nil {
			c.CurrentTaskID = *taskID
		}
		if len(reportsData) > 0 {
			var entries []report.RawEntry
			if err := json.Unmarshal(reportsData, &entries); err != nil {
				return nil, fmt.Errorf("unmarshal reports data: %w", err)
			}
			c.ReportsData = entries
		}
		crawls = append(crawls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl rows: %w", err)
	}
	return crawls, nil
}

// NextWaitingItem returns the WAITING item with the smallest scheduled_for,
// ties broken by id, or nil when none remain.
func (s *CrawlStore) NextWaitingItem(ctx context.Context, crawlID int64) (*crawl.Item, error) {
	var item crawl.Item
	err := s.pool.QueryRow(ctx, `
SELECT id, crawl_id, report_id, scheduled_for, state, report_found, stop_condition_hit
FROM crawl_item
WHERE crawl_id = $1 AND state = 'WAITING'
ORDER BY scheduled_for ASC, id ASC
LIMIT 1`,
		crawlID,
	).Scan(&item.ID, &item.CrawlID, &item.ReportID, &item.ScheduledFor, &item.State, &item.ReportFound, &item.StopHit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query next waiting item: %w", err)
	}
	return &item, nil
}

// UpdateItem writes the item's mutable columns.
func (s *CrawlStore) UpdateItem(ctx context.Context, item crawl.Item) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_item
SET state = $1, report_found = $2, stop_condition_hit = $3
WHERE id = $4`,
		item.State, item.ReportFound, item.StopHit, item.ID)
	if err != nil {
		return fmt.Errorf("update crawl item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("crawl item %d not found", item.ID)
	}
	return nil
}

// SkipWaitingItems bulk-transitions all WAITING items of the crawl to
// SKIPPED in one statement.
func (s *CrawlStore) SkipWaitingItems(ctx context.Context, crawlID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_item
SET state = $1
WHERE crawl_id = $2 AND state = $3`,
		crawl.StateSkipped, crawlID, crawl.StateWaiting)
	if err != nil {
		return 0, fmt.Errorf("skip waiting items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountItems returns the total and terminal item counts for the crawl.
func (s *CrawlStore) CountItems(ctx context.Context, crawlID int64) (int64, int64, error) {
	var total, terminal int64
	err := s.pool.QueryRow(ctx, `
SELECT count(*),
       count(*) FILTER (WHERE state IN ('SUCCESS', 'FAILURE', 'SKIPPED'))
FROM crawl_item
WHERE crawl_id = $1`,
		crawlID,
	).Scan(&total, &terminal)
	if err != nil {
		return 0, 0, fmt.Errorf("count crawl items: %w", err)
	}
	return total, terminal, nil
}

// SetCurrentTask stores the execution handle on the crawl.
func (s *CrawlStore) SetCurrentTask(ctx context.Context, crawlID int64, taskID string) error {
	if _, err := s.pool.Exec(ctx, `
UPDATE crawl SET current_task_id = $1 WHERE id = $2`,
		taskID, crawlID); err != nil {
		return fmt.Errorf("set current task: %w", err)
	}
	return nil
}

// ClearCurrentTask clears the execution handle on the crawl.
func (s *CrawlStore) ClearCurrentTask(ctx context.Context, crawlID int64) error {
	if _, err := s.pool.Exec(ctx, `
UPDATE crawl SET current_task_id = NULL WHERE id = $1`,
		crawlID); err != nil {
		return fmt.Errorf("clear current task: %w", err)
	}
	return nil
}
