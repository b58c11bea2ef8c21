package forest

import (
	"context"
	"time"

	"github.com/bwl/forest/pkg/store"
)

// Snapshot records a point-in-time count snapshot for the temporal surface.
func (e *Engine) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	return e.store.WriteSnapshot(ctx)
}

// SnapshotDiff is the delta between two snapshots.
type SnapshotDiff struct {
	From          *store.Snapshot
	To            *store.Snapshot
	NodeDelta     int64
	EdgeDelta     int64
	DocumentDelta int64
	TagDelta      int64
}

// Diff compares two snapshots by id.
func (e *Engine) Diff(ctx context.Context, fromID, toID string) (*SnapshotDiff, error) {
	from, err := e.store.GetSnapshot(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := e.store.GetSnapshot(ctx, toID)
	if err != nil {
		return nil, err
	}
	return &SnapshotDiff{
		From:          from,
		To:            to,
		NodeDelta:     to.NodeCount - from.NodeCount,
		EdgeDelta:     to.EdgeCount - from.EdgeCount,
		DocumentDelta: to.DocumentCount - from.DocumentCount,
		TagDelta:      to.TagCount - from.TagCount,
	}, nil
}

// GrowthPoint is one sample of the growth series.
type GrowthPoint struct {
	At    time.Time
	Nodes int64
	Edges int64
}

// Growth returns the snapshot series inside the window, oldest first.
func (e *Engine) Growth(ctx context.Context, window time.Duration) ([]GrowthPoint, error) {
	var since time.Time
	if window > 0 {
		since = time.Now().UTC().Add(-window)
	}
	snaps, err := e.store.ListSnapshots(ctx, since)
	if err != nil {
		return nil, err
	}

	points := make([]GrowthPoint, len(snaps))
	for i, snap := range snaps {
		points[i] = GrowthPoint{At: snap.CreatedAt, Nodes: snap.NodeCount, Edges: snap.EdgeCount}
	}
	return points, nil
}
