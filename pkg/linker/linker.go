// Package linker keeps the edge set consistent with the current scorer
// whenever nodes change.
package linker

import (
	"context"
	"errors"
	"sort"

	"github.com/bwl/forest/pkg/scorer"
	"github.com/bwl/forest/pkg/store"
)

// Linker recomputes a changed node's edges against the rest of the node set
// and applies the acceptance thresholds within a single batch.
type Linker struct {
	store      *store.Store
	thresholds scorer.Thresholds

	// maxAcceptedDegree caps a node's accepted edges. 0 = unlimited.
	// When exceeded, the lowest-scoring edges are dropped first, ties
	// broken by peer id.
	maxAcceptedDegree int
}

// New creates a Linker.
func New(st *store.Store, thresholds scorer.Thresholds, maxAcceptedDegree int) *Linker {
	return &Linker{
		store:             st,
		thresholds:        thresholds,
		maxAcceptedDegree: maxAcceptedDegree,
	}
}

// RescoreResult reports the outcome of a rescore.
type RescoreResult struct {
	NodesProcessed int
	PairsEvaluated int
	EdgesCreated   int
	EdgesUpdated   int
	EdgesRemoved   int
}

// acceptedPair is a peer that passed classification, pending upsert.
type acceptedPair struct {
	peer       *store.Node
	score      scorer.PairScore
	structural bool // Pair carries a non-semantic edge; never capped away
}

// RescoreNode makes the set of edges touching the node consistent with the
// current scorer. The tag-IDF table is rebuilt first so the snapshot
// reflects the node's persisted tags.
func (l *Linker) RescoreNode(ctx context.Context, nodeID string) (*RescoreResult, error) {
	if err := l.store.RebuildTagIDF(ctx); err != nil {
		return nil, err
	}
	tagCtx, all, err := l.loadContext(ctx)
	if err != nil {
		return nil, err
	}

	node, err := l.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	result := &RescoreResult{}
	if err := l.store.BeginBatch(); err != nil {
		return nil, err
	}
	if err := l.rescoreOne(ctx, node, all, tagCtx, result); err != nil {
		l.store.FailBatch(err)
		_ = l.store.EndBatch()
		return nil, err
	}
	if err := l.store.EndBatch(); err != nil {
		return nil, err
	}
	result.NodesProcessed = 1
	return result, nil
}

// RescoreAll runs the single-node procedure for every node in one outer
// batch, in sorted id order so results depend only on the node set.
// Cancellation is honored between nodes; the whole batch rolls back.
func (l *Linker) RescoreAll(ctx context.Context) (*RescoreResult, error) {
	if _, err := l.store.DeleteSelfLoopEdges(ctx); err != nil {
		return nil, err
	}
	if err := l.store.RebuildTagIDF(ctx); err != nil {
		return nil, err
	}
	tagCtx, all, err := l.loadContext(ctx)
	if err != nil {
		return nil, err
	}

	sorted := make([]*store.Node, len(all))
	copy(sorted, all)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	result := &RescoreResult{}
	if err := l.store.BeginBatch(); err != nil {
		return nil, err
	}
	for _, node := range sorted {
		if err := ctx.Err(); err != nil {
			l.store.FailBatch(err)
			_ = l.store.EndBatch()
			return nil, err
		}
		if err := l.rescoreOne(ctx, node, all, tagCtx, result); err != nil {
			l.store.FailBatch(err)
			_ = l.store.EndBatch()
			return nil, err
		}
		result.NodesProcessed++
	}
	if err := l.store.EndBatch(); err != nil {
		return nil, err
	}
	return result, nil
}

// loadContext builds the read-only tag-IDF snapshot and the full node set.
// The snapshot must not outlive node-set mutations.
func (l *Linker) loadContext(ctx context.Context) (*scorer.TagContext, []*store.Node, error) {
	rows, err := l.store.AllTagIDF(ctx)
	if err != nil {
		return nil, nil, err
	}
	total, err := l.store.NodeCount(ctx)
	if err != nil {
		return nil, nil, err
	}
	all, err := l.store.ListNodes(ctx, store.NodeFilter{IncludeChunks: true})
	if err != nil {
		return nil, nil, err
	}
	return scorer.NewTagContext(rows, total), all, nil
}

// rescoreOne runs inside the caller's batch.
func (l *Linker) rescoreOne(ctx context.Context, node *store.Node, all []*store.Node, tagCtx *scorer.TagContext, result *RescoreResult) error {
	// A node with nothing to score against loses its semantic edges.
	if len(node.Tags) == 0 && len(node.Embedding) == 0 {
		return l.dropSemanticEdges(ctx, node.ID, result)
	}

	var kept []acceptedPair
	for _, peer := range all {
		if peer.ID == node.ID {
			continue
		}
		result.PairsEvaluated++

		ps := tagCtx.Score(node, peer)
		existing, err := l.existingEdge(ctx, node.ID, peer.ID)
		if err != nil {
			return err
		}

		structural := existing != nil && existing.EdgeType != store.EdgeTypeSemantic

		if l.thresholds.Accepted(ps) || structural {
			kept = append(kept, acceptedPair{peer: peer, score: ps, structural: structural})
			continue
		}

		if existing != nil {
			if err := l.removeEdge(ctx, existing, result); err != nil {
				return err
			}
		}
	}

	kept, cut := l.applyCap(kept)

	// Pairs displaced by the cap may carry an edge from an earlier rescore;
	// it goes away like any other rejected pair, degree counters included.
	for _, a := range cut {
		existing, err := l.existingEdge(ctx, node.ID, a.peer.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := l.removeEdge(ctx, existing, result); err != nil {
				return err
			}
		}
	}

	for _, a := range kept {
		if err := l.upsertPair(ctx, node, a.peer, a.score, result); err != nil {
			return err
		}
	}
	return nil
}

// applyCap splits the accepted pairs into the ones that stay and the
// lowest-scoring ones beyond the per-node cap, ties broken by peer id.
// Structural pairs count toward the cap but are never cut.
func (l *Linker) applyCap(kept []acceptedPair) (keep, cut []acceptedPair) {
	if l.maxAcceptedDegree <= 0 || len(kept) <= l.maxAcceptedDegree {
		return kept, nil
	}

	var structural, semantic []acceptedPair
	for _, a := range kept {
		if a.structural {
			structural = append(structural, a)
		} else {
			semantic = append(semantic, a)
		}
	}

	budget := l.maxAcceptedDegree - len(structural)
	if budget < 0 {
		budget = 0
	}
	if len(semantic) <= budget {
		return kept, nil
	}

	sort.Slice(semantic, func(i, j int) bool {
		if semantic[i].score.Score != semantic[j].score.Score {
			return semantic[i].score.Score > semantic[j].score.Score
		}
		return semantic[i].peer.ID < semantic[j].peer.ID
	})
	return append(structural, semantic[:budget]...), semantic[budget:]
}

func (l *Linker) existingEdge(ctx context.Context, a, b string) (*store.Edge, error) {
	edge, err := l.store.GetEdgeBetween(ctx, a, b)
	if errors.Is(err, store.ErrEdgeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return edge, nil
}

func (l *Linker) upsertPair(ctx context.Context, node, peer *store.Node, ps scorer.PairScore, result *RescoreResult) error {
	existing, err := l.existingEdge(ctx, node.ID, peer.ID)
	if err != nil {
		return err
	}

	edge := &store.Edge{
		ID:            scorer.EdgeID(node.ID, peer.ID),
		SourceID:      node.ID,
		TargetID:      peer.ID,
		Score:         ps.Score,
		SemanticScore: ps.SemanticScore,
		TagScore:      ps.TagScore,
		SharedTags:    ps.SharedTags,
		EdgeType:      store.EdgeTypeSemantic,
	}

	if existing != nil {
		// Structural edges keep their type and their caller-assigned
		// aggregate score; only the dual-score fields refresh.
		if existing.EdgeType != store.EdgeTypeSemantic {
			edge.EdgeType = existing.EdgeType
			edge.Score = existing.Score
		}
		edge.Metadata = existing.Metadata
	}

	if err := l.store.UpsertEdge(ctx, edge); err != nil {
		return err
	}

	if existing == nil {
		result.EdgesCreated++
		return l.store.LogEdgeEvent(ctx, &store.EdgeEvent{
			EdgeID:     edge.ID,
			SourceID:   edge.SourceID,
			TargetID:   edge.TargetID,
			PrevStatus: "",
			NextStatus: store.StatusAccepted,
			Payload: map[string]any{
				"score": edge.Score,
			},
		})
	}
	result.EdgesUpdated++
	return nil
}

func (l *Linker) removeEdge(ctx context.Context, existing *store.Edge, result *RescoreResult) error {
	deleted, err := l.store.DeleteEdgeBetween(ctx, existing.SourceID, existing.TargetID)
	if err != nil {
		return err
	}
	if !deleted {
		return nil
	}
	result.EdgesRemoved++
	return l.store.LogEdgeEvent(ctx, &store.EdgeEvent{
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

// dropSemanticEdges deletes every semantic edge touching the node.
func (l *Linker) dropSemanticEdges(ctx context.Context, nodeID string, result *RescoreResult) error {
	edges, err := l.store.ListEdges(ctx, store.EdgeFilter{NodeID: nodeID, EdgeType: store.EdgeTypeSemantic})
	if err != nil {
		return err
	}
	for _, e := range edges {
		if err := l.removeEdge(ctx, e, result); err != nil {
			return err
		}
	}
	return nil
}

// Thresholds returns the linker's acceptance thresholds.
func (l *Linker) Thresholds() scorer.Thresholds {
	return l.thresholds
}
