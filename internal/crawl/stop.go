package crawl

import (
	"math"
	"strings"

	"github.com/reportit-bot/crawler/internal/report"
)

// A StopPolicy decides, after a report has been fetched and persisted,
// whether the crawl has walked back far enough to reach the report that was
// most recent at planning time. Two historical variants exist; one is
// selected by configuration.
type StopPolicy interface {
	Name() string
	ShouldStop(c *Crawl, r *report.Report) bool
}

// PositionPolicy stops when the fetched report's coordinates, truncated to
// Decimals places, equal the reference position captured at planning time.
// Truncation (not rounding) tolerates floating-point drift between fetches.
type PositionPolicy struct {
	Decimals int
}

// Name implements StopPolicy.
func (PositionPolicy) Name() string { return "position" }

// ShouldStop implements StopPolicy.
func (p PositionPolicy) ShouldStop(c *Crawl, r *report.Report) bool {
	if c == nil || r == nil || c.StopAtLat == nil || c.StopAtLon == nil {
		return false
	}
	if r.Latitude == nil || r.Longitude == nil {
		return false
	}
	return TruncateCoordinate(*r.Latitude, p.Decimals) == TruncateCoordinate(*c.StopAtLat, p.Decimals) &&
		TruncateCoordinate(*r.Longitude, p.Decimals) == TruncateCoordinate(*c.StopAtLon, p.Decimals)
}

// ListingPolicy stops when the fetched report is the last entry of the
// crawl's stored raw listing snapshot, compared on whitespace-normalized
// title and description.
type ListingPolicy struct{}

// Name implements StopPolicy.
func (ListingPolicy) Name() string { return "listing" }

// ShouldStop implements StopPolicy.
func (ListingPolicy) ShouldStop(c *Crawl, r *report.Report) bool {
	if c == nil || r == nil || len(c.ReportsData) == 0 {
		return false
	}
	last := c.ReportsData[len(c.ReportsData)-1]
	return NormalizeWhitespace(r.Title) == NormalizeWhitespace(last.Title) &&
		NormalizeWhitespace(r.Description) == NormalizeWhitespace(last.Description)
}

// TruncateCoordinate cuts the value to the given number of decimal places
// without rounding.
func TruncateCoordinate(v float64, decimals int) float64 {
	shift := math.Pow(10, float64(decimals))
	return math.Trunc(v*shift) / shift
}

// NormalizeWhitespace collapses every run of whitespace, including newlines
// and tabs, into a single space and trims the ends.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
