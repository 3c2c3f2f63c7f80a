package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/reportit-bot/crawler/internal/report"
)

// ReportStore persists scraped reports and their answers.
//
// Expected schema:
//
//	CREATE TABLE report (
//	    id BIGINT PRIMARY KEY,
//	    title TEXT,
//	    description TEXT,
//	    latitude NUMERIC(8,6),
//	    longitude NUMERIC(9,6),
//	    created_at TIMESTAMPTZ NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL,
//	    status TEXT NOT NULL,
//	    photo_url TEXT
//	);
//	CREATE TABLE report_answer (
//	    id BIGSERIAL PRIMARY KEY,
//	    report_id BIGINT NOT NULL REFERENCES report(id) ON DELETE CASCADE,
//	    ord SMALLINT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    author TEXT,
//	    text TEXT,
//	    closing BOOLEAN NOT NULL DEFAULT FALSE,
//	    UNIQUE (report_id, ord)
//	);
type ReportStore struct {
	pool pool
}

// NewReportStore constructs a ReportStore over an existing pool.
func NewReportStore(p pool) (*ReportStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ReportStore{pool: p}, nil
}

const reportColumns = `id, title, description, latitude, longitude, created_at, updated_at, status, photo_url`

// RecentReports returns reports created after the given instant, ordered by ID.
func (s *ReportStore) RecentReports(ctx context.Context, since time.Time) ([]report.Report, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+reportColumns+`
FROM report
WHERE created_at > $1
ORDER BY id`,
		since)
	if err != nil {
		return nil, fmt.Errorf("query recent reports: %w", err)
	}
	defer rows.Close()
	return scanReports(rows)
}

// LatestReports returns the limit highest-ID reports, ordered by ID ascending.
func (s *ReportStore) LatestReports(ctx context.Context, limit int) ([]report.Report, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+reportColumns+`
FROM (
    SELECT `+reportColumns+`
    FROM report
    ORDER BY id DESC
    LIMIT $1
) latest
ORDER BY id`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("query latest reports: %w", err)
	}
	defer rows.Close()
	return scanReports(rows)
}

// GetReport returns the stored report, or nil when the ID is unknown.
func (s *ReportStore) GetReport(ctx context.Context, id int64) (*report.Report, error) {
	var r report.Report
	err := s.pool.QueryRow(ctx, `
SELECT `+reportColumns+`
FROM report
WHERE id = $1`,
		id,
	).Scan(&r.ID, &r.Title, &r.Description, &r.Latitude, &r.Longitude, &r.CreatedAt, &r.UpdatedAt, &r.Status, &r.PhotoURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query report %d: %w", id, err)
	}
	return &r, nil
}

// UpsertReport inserts the report or updates the existing row in place.
func (s *ReportStore) UpsertReport(ctx context.Context, r report.Report) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO report (id, title, description, latitude, longitude, created_at, updated_at, status, photo_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    title = EXCLUDED.title,
    description = EXCLUDED.description,
    latitude = EXCLUDED.latitude,
    longitude = EXCLUDED.longitude,
    updated_at = EXCLUDED.updated_at,
    status = EXCLUDED.status,
    photo_url = EXCLUDED.photo_url`,
		r.ID, r.Title, r.Description, r.Latitude, r.Longitude, r.CreatedAt, r.UpdatedAt, r.Status, r.PhotoURL,
	); err != nil {
		return fmt.Errorf("upsert report %d: %w", r.ID, err)
	}
	return nil
}

// UpsertAnswers inserts or updates answers keyed by (report_id, ord).
func (s *ReportStore) UpsertAnswers(ctx context.Context, answers []report.Answer) error {
	for _, a := range answers {
		if _, err := s.pool.Exec(ctx, `
INSERT INTO report_answer (report_id, ord, created_at, author, text, closing)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (report_id, ord) DO UPDATE SET
    created_at = EXCLUDED.created_at,
    author = EXCLUDED.author,
    text = EXCLUDED.text,
    closing = EXCLUDED.closing`,
			a.ReportID, a.Order, a.CreatedAt, a.Author, a.Text, a.Closing,
		); err != nil {
			return fmt.Errorf("upsert answer %d/%d: %w", a.ReportID, a.Order, err)
		}
	}
	return nil
}

func scanReports(rows pgx.Rows) ([]report.Report, error) {
	var reports []report.Report
	for rows.Next() {
		var r report.Report
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Latitude, &r.Longitude, &r.CreatedAt, &r.UpdatedAt, &r.Status, &r.PhotoURL); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}
	return reports, nil
}
