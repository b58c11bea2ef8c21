package forest

import (
	"context"
	"fmt"

	"github.com/bwl/forest/pkg/scorer"
	"github.com/bwl/forest/pkg/store"
)

// Link creates (or re-types) a manual edge between two nodes. Manual edges
// bypass the acceptance thresholds and survive rescores.
func (e *Engine) Link(ctx context.Context, refA, refB string, score float64) (*store.Edge, error) {
	a, err := e.Resolve(ctx, refA)
	if err != nil {
		return nil, err
	}
	b, err := e.Resolve(ctx, refB)
	if err != nil {
		return nil, err
	}
	if a.ID == b.ID {
		return nil, fmt.Errorf("cannot link a node to itself: %w", store.ErrSelfLoop)
	}
	if score <= 0 || score > 1 {
		score = 1.0
	}

	// The dual-score fields stay current even on manual edges.
	ps, err := e.scorePair(ctx, a, b)
	if err != nil {
		return nil, err
	}

	edge := &store.Edge{
		ID:            scorer.EdgeID(a.ID, b.ID),
		SourceID:      a.ID,
		TargetID:      b.ID,
		Score:         score,
		SemanticScore: ps.SemanticScore,
		TagScore:      ps.TagScore,
		SharedTags:    ps.SharedTags,
		EdgeType:      store.EdgeTypeManual,
	}
	if err := e.store.UpsertEdge(ctx, edge); err != nil {
		return nil, err
	}
	if err := e.store.LogEdgeEvent(ctx, &store.EdgeEvent{
		EdgeID:     edge.ID,
		SourceID:   edge.SourceID,
		TargetID:   edge.TargetID,
		PrevStatus: "",
		NextStatus: store.StatusAccepted,
		Payload:    map[string]any{"edgeType": store.EdgeTypeManual, "score": score},
	}); err != nil {
		return nil, err
	}
	return e.store.GetEdgeBetween(ctx, a.ID, b.ID)
}

// Unlink deletes the edge between two nodes.
func (e *Engine) Unlink(ctx context.Context, refA, refB string) error {
	a, err := e.Resolve(ctx, refA)
	if err != nil {
		return err
	}
	b, err := e.Resolve(ctx, refB)
	if err != nil {
		return err
	}

	existing, err := e.store.GetEdgeBetween(ctx, a.ID, b.ID)
	if err != nil {
		return err
	}
	if _, err := e.store.DeleteEdgeBetween(ctx, a.ID, b.ID); err != nil {
		return err
	}
	return e.store.LogEdgeEvent(ctx, &store.EdgeEvent{
		EdgeID:     existing.ID,
		SourceID:   existing.SourceID,
		TargetID:   existing.TargetID,
		PrevStatus: existing.Status,
		NextStatus: "",
		Payload: map[string]any{
			"score":      existing.Score,
			"edgeType":   existing.EdgeType,
			"sharedTags": existing.SharedTags,
		},
	})
}

// Explanation is the per-pair score breakdown for the explain surface.
type Explanation struct {
	Edge          *store.Edge // nil when no edge is materialized
	SemanticScore *float64
	TagScore      *float64
	SharedTags    []string
	Score         float64
	Jaccard       float64
	AvgIDF        float64
	MaxIDF        float64
	TokenCosine   float64 // Weighted token-overlap similarity
	Thresholds    scorer.Thresholds
	Accepted      bool
}

// Explain computes the full dual-score breakdown for a pair, whether or not
// an edge currently exists.
func (e *Engine) Explain(ctx context.Context, refA, refB string) (*Explanation, error) {
	a, err := e.Resolve(ctx, refA)
	if err != nil {
		return nil, err
	}
	b, err := e.Resolve(ctx, refB)
	if err != nil {
		return nil, err
	}
	if a.ID == b.ID {
		return nil, fmt.Errorf("cannot explain a self pair: %w", store.ErrSelfLoop)
	}

	ps, err := e.scorePair(ctx, a, b)
	if err != nil {
		return nil, err
	}

	explanation := &Explanation{
		SemanticScore: ps.SemanticScore,
		TagScore:      ps.TagScore,
		SharedTags:    ps.SharedTags,
		Score:         ps.Score,
		Jaccard:       ps.Jaccard,
		AvgIDF:        ps.AvgIDF,
		MaxIDF:        ps.MaxIDF,
		TokenCosine:   scorer.TokenCosine(a.TokenCounts, b.TokenCounts),
		Thresholds:    e.linker.Thresholds(),
		Accepted:      e.linker.Thresholds().Accepted(ps),
	}

	edge, err := e.store.GetEdgeBetween(ctx, a.ID, b.ID)
	if err == nil {
		explanation.Edge = edge
		if edge.EdgeType != store.EdgeTypeSemantic {
			explanation.Accepted = true
		}
	}
	return explanation, nil
}

// scorePair builds a fresh tag-IDF snapshot and scores one pair.
func (e *Engine) scorePair(ctx context.Context, a, b *store.Node) (scorer.PairScore, error) {
	if err := e.store.RebuildTagIDF(ctx); err != nil {
		return scorer.PairScore{}, err
	}
	rows, err := e.store.AllTagIDF(ctx)
	if err != nil {
		return scorer.PairScore{}, err
	}
	total, err := e.store.NodeCount(ctx)
	if err != nil {
		return scorer.PairScore{}, err
	}
	return scorer.NewTagContext(rows, total).Score(a, b), nil
}

// UndoEdge reverses the most recent edge transition for a pair, strict
// LIFO. A creation is undone by deleting the edge; a deletion is undone by
// restoring the edge from the event payload.
func (e *Engine) UndoEdge(ctx context.Context, refA, refB string) error {
	a, err := e.Resolve(ctx, refA)
	if err != nil {
		return err
	}
	b, err := e.Resolve(ctx, refB)
	if err != nil {
		return err
	}

	event, err := e.store.GetLastEdgeEventForPair(ctx, a.ID, b.ID)
	if err != nil {
		return err
	}

	if err := e.store.BeginBatch(); err != nil {
		return err
	}
	var failed error
	switch {
	case event.NextStatus == store.StatusAccepted:
		// Undo a creation or re-acceptance.
		if _, err := e.store.DeleteEdgeBetween(ctx, event.SourceID, event.TargetID); err != nil {
			failed = err
		}
	case event.NextStatus == "":
		// Undo a deletion: restore from the payload.
		edge := &store.Edge{
			ID:       event.EdgeID,
			SourceID: event.SourceID,
			TargetID: event.TargetID,
			EdgeType: store.EdgeTypeSemantic,
		}
		if v, ok := event.Payload["score"].(float64); ok {
			edge.Score = v
		}
		if v, ok := event.Payload["edgeType"].(string); ok && v != "" {
			edge.EdgeType = v
		}
		failed = e.store.UpsertEdge(ctx, edge)
	default:
		failed = fmt.Errorf("event %s has unexpected transition %q -> %q: %w",
			event.ID, event.PrevStatus, event.NextStatus, store.ErrConflict)
	}

	if failed == nil {
		failed = e.store.MarkEdgeEventUndone(ctx, event.ID)
	}
	if failed != nil {
		e.store.FailBatch(failed)
	}
	if err := e.store.EndBatch(); err != nil {
		return err
	}
	return failed
}

// ListEdges lists edges through the store filter.
func (e *Engine) ListEdges(ctx context.Context, filter store.EdgeFilter) ([]*store.Edge, error) {
	return e.store.ListEdges(ctx, filter)
}

// Thresholds returns the active acceptance thresholds.
func (e *Engine) Thresholds() scorer.Thresholds {
	return e.linker.Thresholds()
}
