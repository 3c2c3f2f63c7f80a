// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/reportit-bot/crawler/internal/crawl"
)

// CrawlStore is a mutex-guarded in-memory crawl.CrawlStore.
type CrawlStore struct {
	mu     sync.RWMutex
	nextID int64
	crawls map[int64]*crawl.Crawl
	items  map[int64][]*crawl.Item
}

// NewCrawlStore constructs a CrawlStore.
func NewCrawlStore() *CrawlStore {
	return &CrawlStore{
		nextID: 1,
		crawls: make(map[int64]*crawl.Crawl),
		items:  make(map[int64][]*crawl.Item),
	}
}

// CreateCrawl stores the crawl and its items, assigning IDs.
func (s *CrawlStore) CreateCrawl(_ context.Context, c *crawl.Crawl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextID
	s.nextID++
	stored := *c
	stored.Items = nil
	s.crawls[c.ID] = &stored
	for i := range c.Items {
		c.Items[i].ID = s.nextID
		s.nextID++
		c.Items[i].CrawlID = c.ID
		item := c.Items[i]
		s.items[c.ID] = append(s.items[c.ID], &item)
	}
	return nil
}

// ActiveCrawls returns crawls that still have a WAITING item. Items are not
// included in the returned crawls.
func (s *CrawlStore) ActiveCrawls(_ context.Context) ([]crawl.Crawl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []crawl.Crawl
	for id, c := range s.crawls {
		view := *c
		view.Items = make([]crawl.Item, 0, len(s.items[id]))
		for _, item := range s.items[id] {
			view.Items = append(view.Items, *item)
		}
		if view.Finished() {
			continue
		}
		view.Items = nil
		active = append(active, view)
	}
	return active, nil
}

// NextWaitingItem returns the WAITING item with the smallest scheduled_for.
func (s *CrawlStore) NextWaitingItem(_ context.Context, crawlID int64) (*crawl.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var next *crawl.Item
	for _, item := range s.items[crawlID] {
		if item.State != crawl.StateWaiting {
			continue
		}
		if next == nil ||
			item.ScheduledFor.Before(next.ScheduledFor) ||
			(item.ScheduledFor.Equal(next.ScheduledFor) && item.ID < next.ID) {
			next = item
		}
	}
	if next == nil {
		return nil, nil
	}
	out := *next
	return &out, nil
}

// UpdateItem writes the item's mutable columns.
func (s *CrawlStore) UpdateItem(_ context.Context, item crawl.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stored := range s.items[item.CrawlID] {
		if stored.ID == item.ID {
			stored.State = item.State
			stored.ReportFound = item.ReportFound
			stored.StopHit = item.StopHit
			return nil
		}
	}
	return fmt.Errorf("crawl item %d not found", item.ID)
}

// SkipWaitingItems bulk-transitions all WAITING items to SKIPPED.
func (s *CrawlStore) SkipWaitingItems(_ context.Context, crawlID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var skipped int64
	for _, item := range s.items[crawlID] {
		if item.State == crawl.StateWaiting {
			item.State = crawl.StateSkipped
			skipped++
		}
	}
	return skipped, nil
}

// CountItems returns total and terminal item counts.
func (s *CrawlStore) CountItems(_ context.Context, crawlID int64) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total, terminal int64
	for _, item := range s.items[crawlID] {
		total++
		if item.State.Terminal() {
			terminal++
		}
	}
	return total, terminal, nil
}

// SetCurrentTask stores the execution handle.
func (s *CrawlStore) SetCurrentTask(_ context.Context, crawlID int64, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.crawls[crawlID]
	if !ok {
		return fmt.Errorf("crawl %d not found", crawlID)
	}
	c.CurrentTaskID = taskID
	return nil
}

// ClearCurrentTask clears the execution handle.
func (s *CrawlStore) ClearCurrentTask(_ context.Context, crawlID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.crawls[crawlID]
	if !ok {
		return fmt.Errorf("crawl %d not found", crawlID)
	}
	c.CurrentTaskID = ""
	return nil
}

// Crawl returns a copy of the stored crawl, for inspection in tests.
func (s *CrawlStore) Crawl(crawlID int64) (crawl.Crawl, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.crawls[crawlID]
	if !ok {
		return crawl.Crawl{}, false
	}
	return *c, true
}

// Items returns copies of the crawl's items, for inspection in tests.
func (s *CrawlStore) Items(crawlID int64) []crawl.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawl.Item, 0, len(s.items[crawlID]))
	for _, item := range s.items[crawlID] {
		out = append(out, *item)
	}
	return out
}
