package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reportit-bot/crawler/internal/report"
	"github.com/reportit-bot/crawler/internal/storage/memory"
)

func seedReport(t *testing.T, store *memory.ReportStore, id int64, createdAt time.Time) {
	t.Helper()
	require.NoError(t, store.UpsertReport(context.Background(), report.Report{
		ID:        id,
		Title:     "report",
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		Status:    report.StatusAccepted,
	}))
}

func TestReportStoreRecentReports(t *testing.T) {
	store := memory.NewReportStore()
	now := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

	seedReport(t, store, 100, now.AddDate(0, 0, -30))
	seedReport(t, store, 102, now.AddDate(0, 0, -1))
	seedReport(t, store, 101, now.AddDate(0, 0, -2))

	recent, err := store.RecentReports(context.Background(), now.AddDate(0, 0, -14))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, int64(101), recent[0].ID)
	require.Equal(t, int64(102), recent[1].ID)
}

func TestReportStoreLatestReports(t *testing.T) {
	store := memory.NewReportStore()
	now := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

	for id := int64(100); id < 110; id++ {
		seedReport(t, store, id, now)
	}

	latest, err := store.LatestReports(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	require.Equal(t, int64(107), latest[0].ID)
	require.Equal(t, int64(109), latest[2].ID)
}

func TestReportStoreGetReport(t *testing.T) {
	store := memory.NewReportStore()
	now := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

	r, err := store.GetReport(context.Background(), 100)
	require.NoError(t, err)
	require.Nil(t, r)

	seedReport(t, store, 100, now)
	r, err = store.GetReport(context.Background(), 100)
	require.NoError(t, err)
	require.NotNil(t, r)
	require.Equal(t, int64(100), r.ID)
}

func TestReportStoreUpsertAnswers(t *testing.T) {
	store := memory.NewReportStore()
	now := time.Date(2026, 3, 13, 9, 30, 0, 0, time.UTC)

	require.NoError(t, store.UpsertAnswers(context.Background(), []report.Answer{
		{ReportID: 100, Order: 0, CreatedAt: now, Text: "We will fix it."},
		{ReportID: 100, Order: 1, CreatedAt: now, Text: "Fixed.", Closing: true},
	}))
	require.Len(t, store.Answers(100), 2)

	// same (report, order) key updates in place
	require.NoError(t, store.UpsertAnswers(context.Background(), []report.Answer{
		{ReportID: 100, Order: 1, CreatedAt: now, Text: "Fixed for good.", Closing: true},
	}))
	answers := store.Answers(100)
	require.Len(t, answers, 2)
	require.Equal(t, "Fixed for good.", answers[1].Text)
}
