// Package report defines the domain types for municipal incident reports
// and their public answers.
package report

import "time"

// Status values used by the upstream site.
const (
	StatusAccepted = "accepted"
	StatusFinished = "finished"
)

// Report is one normalized incident report scraped from the site.
type Report struct {
	ID          int64
	Title       string
	Description string
	Latitude    *float64
	Longitude   *float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Status      string
	PhotoURL    string
	Answers     []Answer
}

// Closed reports no longer change on the upstream site.
func (r Report) Closed() bool {
	return r.Status == StatusFinished
}

// Answer is one public reply attached to a report, ordered by Order.
type Answer struct {
	ID        int64
	ReportID  int64
	Order     int16
	CreatedAt time.Time
	Author    string
	Text      string
	Closing   bool
}

// RawEntry is one entry of the site's public listing endpoint, stored
// verbatim as the crawl's planning-time snapshot.
type RawEntry struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	Status      string  `json:"status"`
}

// IDs extracts the report IDs in input order.
func IDs(reports []Report) []int64 {
	ids := make([]int64, len(reports))
	for i, r := range reports {
		ids[i] = r.ID
	}
	return ids
}

// ClosedIDs extracts the IDs of the closed reports, in input order.
func ClosedIDs(reports []Report) []int64 {
	var ids []int64
	for _, r := range reports {
		if r.Closed() {
			ids = append(ids, r.ID)
		}
	}
	return ids
}
