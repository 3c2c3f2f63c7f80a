// Package memory provides an in-memory snapshot archive for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reportit-bot/crawler/internal/report"
)

// Snapshot is one archived listing capture.
type Snapshot struct {
	URI     string
	TakenAt time.Time
	Entries []report.RawEntry
}

// Archive records snapshots instead of uploading them.
type Archive struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

// New constructs an Archive.
func New() *Archive {
	return &Archive{}
}

// PutSnapshot records the entries and returns a synthetic URI.
func (a *Archive) PutSnapshot(_ context.Context, takenAt time.Time, entries []report.RawEntry) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	uri := fmt.Sprintf("mem://snapshots/%d", len(a.snapshots))
	a.snapshots = append(a.snapshots, Snapshot{URI: uri, TakenAt: takenAt, Entries: entries})
	return uri, nil
}

// Snapshots returns copies of all recorded snapshots.
func (a *Archive) Snapshots() []Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Snapshot, len(a.snapshots))
	copy(out, a.snapshots)
	return out
}
