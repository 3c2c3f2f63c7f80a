package crawl

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Cursor finds the next unprocessed item of a crawl in schedule order and
// can bulk-transition the remaining items.
type Cursor struct {
	store  CrawlStore
	logger *zap.Logger
}

// NewCursor constructs a Cursor.
func NewCursor(store CrawlStore, logger *zap.Logger) *Cursor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cursor{store: store, logger: logger}
}

// ActiveCrawl returns the single unfinished crawl, or nil when none exists.
// More than one active crawl is a corruption condition: it is logged as an
// error and nil is returned, never auto-resolved.
func (c *Cursor) ActiveCrawl(ctx context.Context) (*Crawl, error) {
	crawls, err := c.store.ActiveCrawls(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active crawls: %w", err)
	}
	if len(crawls) > 1 {
		c.logger.Error("more than one active crawl found, refusing to pick one",
			zap.Int("count", len(crawls)))
		return nil, nil
	}
	if len(crawls) == 0 {
		return nil, nil
	}
	return &crawls[0], nil
}

// NextWaitingItem returns the crawl's WAITING item with the smallest
// scheduled_for, or nil when none remain.
func (c *Cursor) NextWaitingItem(ctx context.Context, crawlID int64) (*Item, error) {
	item, err := c.store.NextWaitingItem(ctx, crawlID)
	if err != nil {
		return nil, fmt.Errorf("next waiting item: %w", err)
	}
	return item, nil
}

// SkipRemaining bulk-sets all WAITING items of the crawl to SKIPPED, so a
// large lookahead batch is not processed needlessly once a stop condition
// fired.
func (c *Cursor) SkipRemaining(ctx context.Context, crawlID int64) (int64, error) {
	skipped, err := c.store.SkipWaitingItems(ctx, crawlID)
	if err != nil {
		return 0, fmt.Errorf("skip waiting items: %w", err)
	}
	c.logger.Info("skipped remaining crawl items",
		zap.Int64("crawl_id", crawlID),
		zap.Int64("skipped", skipped))
	return skipped, nil
}
