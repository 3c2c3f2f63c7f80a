// Package scraper fetches report pages and the public listing from the
// municipal report site.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/reportit-bot/crawler/internal/crawl"
	"github.com/reportit-bot/crawler/internal/report"
)

const (
	dateLayout = "02.01.2006 15:04"

	sentOnMarker    = "Sent on :"
	updatedOnMarker = "Updated on :"
)

// Config controls the scraper's endpoints and request behavior.
type Config struct {
	// BaseURL is the site root, without a trailing slash.
	BaseURL string
	// ReportPath is the page queried by POSTing a searchId form value.
	ReportPath string
	// ListingPath serves the public listing as JSON.
	ListingPath string
	Timeout     time.Duration
	UserAgent   string
}

// Scraper implements crawl.Fetcher using a colly collector per request.
type Scraper struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

// New constructs a Scraper.
func New(cfg Config, logger *zap.Logger) (*Scraper, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.ReportPath == "" {
		cfg.ReportPath = "/report"
	}
	if cfg.ListingPath == "" {
		cfg.ListingPath = "/json/reports"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	base := colly.NewCollector(opts...)
	base.SetRequestTimeout(cfg.Timeout)

	return &Scraper{cfg: cfg, base: base, logger: logger}, nil
}

// reportPage accumulates what the HTML callbacks extract from one page.
type reportPage struct {
	title       string
	description string
	status      string
	createdRaw  string
	updatedRaw  string
	positionURL string
	photoURL    string
	answers     []report.Answer
	hasMeta     bool
}

// FetchReport fetches one report by POSTing its ID to the search form and
// parsing the rendered page. The expected position, when given, fills in
// coordinates the page failed to yield.
func (s *Scraper) FetchReport(ctx context.Context, id int64, expected *crawl.Position) (*report.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", crawl.ErrFetchTimeout, err)
	}

	var (
		page     reportPage
		fetchErr error
	)
	col := s.base.Clone()

	col.OnHTML("h1.report-title", func(e *colly.HTMLElement) {
		page.title = strings.TrimSpace(e.Text)
	})
	col.OnHTML("div.report-description", func(e *colly.HTMLElement) {
		page.description = strings.TrimSpace(e.Text)
	})
	col.OnHTML("span.report-status", func(e *colly.HTMLElement) {
		page.status = strings.ToLower(strings.TrimSpace(e.Text))
	})
	col.OnHTML("div.report-meta", func(e *colly.HTMLElement) {
		text := e.Text
		if !strings.Contains(text, sentOnMarker) {
			return
		}
		page.hasMeta = true
		page.createdRaw = markerValue(text, sentOnMarker)
		page.updatedRaw = markerValue(text, updatedOnMarker)
	})
	col.OnHTML("a.report-position", func(e *colly.HTMLElement) {
		page.positionURL = e.Attr("href")
	})
	col.OnHTML("img.report-photo", func(e *colly.HTMLElement) {
		page.photoURL = e.Request.AbsoluteURL(e.Attr("src"))
	})
	col.OnHTML("div.report-answer", func(e *colly.HTMLElement) {
		answer := report.Answer{
			ReportID: id,
			Order:    int16(len(page.answers)),
			Author:   strings.TrimSpace(e.ChildText("span.answer-author")),
			Text:     strings.TrimSpace(e.ChildText("div.answer-text")),
			Closing:  e.Attr("data-closing") == "true",
		}
		if ts, err := time.Parse(dateLayout, strings.TrimSpace(e.ChildText("span.answer-date"))); err == nil {
			answer.CreatedAt = ts
		}
		page.answers = append(page.answers, answer)
	})
	col.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	err := col.Post(s.cfg.BaseURL+s.cfg.ReportPath, map[string]string{
		"searchId": strconv.FormatInt(id, 10),
	})
	col.Wait()
	if err == nil {
		err = fetchErr
	}
	if err != nil {
		return nil, classify(err)
	}
	if !page.hasMeta {
		return nil, fmt.Errorf("%w: id %d", crawl.ErrReportNotFound, id)
	}
	return s.buildReport(id, &page, expected)
}

// FetchRawListing fetches the site's public JSON listing.
func (s *Scraper) FetchRawListing(ctx context.Context) ([]report.RawEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", crawl.ErrFetchTimeout, err)
	}

	var (
		body     []byte
		fetchErr error
	)
	col := s.base.Clone()
	col.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	col.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	err := col.Visit(s.cfg.BaseURL + s.cfg.ListingPath)
	col.Wait()
	if err == nil {
		err = fetchErr
	}
	if err != nil {
		return nil, classify(err)
	}

	var listing struct {
		Reports []report.RawEntry `json:"reports"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("%w: decode listing: %s", crawl.ErrRequestFailed, err)
	}
	s.logger.Debug("listing fetched", zap.Int("entries", len(listing.Reports)))
	return listing.Reports, nil
}

func (s *Scraper) buildReport(id int64, page *reportPage, expected *crawl.Position) (*report.Report, error) {
	r := &report.Report{
		ID:          id,
		Title:       page.title,
		Description: page.description,
		Status:      page.status,
		PhotoURL:    page.photoURL,
		Answers:     page.answers,
	}
	if r.Status == "" {
		r.Status = report.StatusAccepted
	}

	created, err := time.Parse(dateLayout, page.createdRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse created date %q: %s", crawl.ErrRequestFailed, page.createdRaw, err)
	}
	r.CreatedAt = created
	r.UpdatedAt = created
	if page.updatedRaw != "" {
		if updated, err := time.Parse(dateLayout, page.updatedRaw); err == nil {
			r.UpdatedAt = updated
		}
	}

	if lat, lon, ok := parsePosition(page.positionURL); ok {
		r.Latitude = &lat
		r.Longitude = &lon
	} else if expected != nil {
		lat, lon := expected.Lat, expected.Lon
		r.Latitude = &lat
		r.Longitude = &lon
		s.logger.Warn("position missing from page, using expected coordinates",
			zap.Int64("report_id", id))
	}
	return r, nil
}

// markerValue extracts the date following a "Label :" marker, up to the end
// of its line.
func markerValue(text, marker string) string {
	i := strings.Index(text, marker)
	if i < 0 {
		return ""
	}
	rest := text[i+len(marker):]
	if j := strings.IndexByte(rest, '\n'); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

// parsePosition extracts coordinates from a maps link's q=lat,lon parameter.
func parsePosition(href string) (float64, float64, bool) {
	if href == "" {
		return 0, 0, false
	}
	u, err := url.Parse(href)
	if err != nil {
		return 0, 0, false
	}
	parts := strings.Split(u.Query().Get("q"), ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// classify maps transport errors onto the crawl sentinel errors.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s", crawl.ErrFetchTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", crawl.ErrFetchTimeout, err)
	}
	return fmt.Errorf("%w: %s", crawl.ErrRequestFailed, err)
}
