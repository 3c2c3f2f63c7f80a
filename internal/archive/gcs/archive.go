// Package gcs archives raw listing snapshots to Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/reportit-bot/crawler/internal/report"
)

// Archive implements crawl.SnapshotArchive over a GCS bucket. Snapshots are
// written as JSON objects under prefix/, named by capture time.
type Archive struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// New constructs an Archive for the bucket.
func New(ctx context.Context, bucket, prefix string, logger *zap.Logger) (*Archive, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Archive{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

// PutSnapshot writes the listing entries and returns the object's gs:// URI.
func (a *Archive) PutSnapshot(ctx context.Context, takenAt time.Time, entries []report.RawEntry) (string, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	name := path.Join(a.prefix, takenAt.UTC().Format("2006/01/02/150405")+".json")
	w := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write snapshot object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize snapshot object: %w", err)
	}

	uri := fmt.Sprintf("gs://%s/%s", a.bucket, name)
	a.logger.Debug("snapshot archived", zap.String("uri", uri), zap.Int("entries", len(entries)))
	return uri, nil
}

// Close releases the storage client.
func (a *Archive) Close() error {
	if err := a.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
