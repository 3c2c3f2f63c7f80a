package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reportit-bot/crawler/internal/report"
)

// ReportStore is a mutex-guarded in-memory crawl.ReportStore.
type ReportStore struct {
	mu      sync.RWMutex
	reports map[int64]report.Report
	answers map[int64][]report.Answer
}

// NewReportStore constructs a ReportStore.
func NewReportStore() *ReportStore {
	return &ReportStore{
		reports: make(map[int64]report.Report),
		answers: make(map[int64][]report.Answer),
	}
}

// RecentReports returns reports created after since, ordered by ID.
func (s *ReportStore) RecentReports(_ context.Context, since time.Time) ([]report.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []report.Report
	for _, r := range s.reports {
		if r.CreatedAt.After(since) {
			out = append(out, r)
		}
	}
	sortByID(out)
	return out, nil
}

// LatestReports returns the limit highest-ID reports, ordered by ID.
func (s *ReportStore) LatestReports(_ context.Context, limit int) ([]report.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]report.Report, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r)
	}
	sortByID(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// GetReport returns the stored report or nil.
func (s *ReportStore) GetReport(_ context.Context, id int64) (*report.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// UpsertReport inserts or replaces the report row.
func (s *ReportStore) UpsertReport(_ context.Context, r report.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := r
	stored.Answers = nil
	s.reports[r.ID] = stored
	return nil
}

// UpsertAnswers inserts or replaces answers keyed by (report_id, order).
func (s *ReportStore) UpsertAnswers(_ context.Context, answers []report.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range answers {
		existing := s.answers[a.ReportID]
		replaced := false
		for i, prev := range existing {
			if prev.Order == a.Order {
				existing[i] = a
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, a)
		}
		s.answers[a.ReportID] = existing
	}
	return nil
}

// Answers returns the stored answers of a report, for inspection in tests.
func (s *ReportStore) Answers(reportID int64) []report.Answer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]report.Answer, len(s.answers[reportID]))
	copy(out, s.answers[reportID])
	return out
}

func sortByID(reports []report.Report) {
	sort.Slice(reports, func(i, j int) bool { return reports[i].ID < reports[j].ID })
}
