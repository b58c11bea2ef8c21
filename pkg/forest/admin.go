package forest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bwl/forest/pkg/linker"
	"github.com/bwl/forest/pkg/store"
	"github.com/bwl/forest/pkg/textproc"
)

// embedConcurrency bounds parallel provider calls during recompute. Store
// writes stay on the single writer.
const embedConcurrency = 4

// Rescore recomputes the whole edge table. Deterministic for a given node
// set, thresholds, and embedding state; honors cancellation between nodes.
func (e *Engine) Rescore(ctx context.Context) (*linker.RescoreResult, error) {
	startTime := time.Now()
	operationID := uuid.New().String()

	result, err := e.linker.RescoreAll(ctx)
	e.recordOp(ctx, operationID, "rescore", startTime, nil, err, nil)
	return result, err
}

// RebuildDegrees repairs the acceptedDegree counters and reports the
// before/after consistency.
func (e *Engine) RebuildDegrees(ctx context.Context) (*store.DegreeRepairReport, error) {
	return e.store.RebuildAcceptedDegreeCounters(ctx)
}

// RegenerateTagsResult reports an admin retag.
type RegenerateTagsResult struct {
	NodesProcessed int
	NodesChanged   int
}

// RegenerateTags re-extracts every node's tags with the configured method,
// rebuilds the IDF table, and rescores the graph. Cancellation is honored
// between nodes.
func (e *Engine) RegenerateTags(ctx context.Context) (*RegenerateTagsResult, error) {
	nodes, err := e.store.ListNodes(ctx, store.NodeFilter{IncludeChunks: true})
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	result := &RegenerateTagsResult{}
	if err := e.store.BeginBatch(); err != nil {
		return nil, err
	}
	var failed error
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			failed = err
			break
		}
		result.NodesProcessed++

		// Token counts are recomputed first: tags must reflect the body as
		// stored, not a stale analysis.
		counts := textproc.Tokenize(node.Title + "\n" + node.Body)
		tags := e.extractTags(ctx, node.Body, counts)
		if equalStrings(tags, node.Tags) {
			continue
		}
		if err := e.store.UpdateNode(ctx, node.ID, store.NodePatch{Tags: &tags, TokenCounts: &counts}); err != nil {
			failed = err
			break
		}
		result.NodesChanged++
	}
	if failed != nil {
		e.store.FailBatch(failed)
	}
	if err := e.store.EndBatch(); err != nil {
		return nil, err
	}
	if failed != nil {
		return nil, failed
	}

	if result.NodesChanged > 0 {
		if _, err := e.linker.RescoreAll(ctx); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// RecomputeEmbeddingsResult reports an admin re-embed.
type RecomputeEmbeddingsResult struct {
	NodesProcessed int
	NodesEmbedded  int
	NodesSkipped   int // Provider produced no vector
}

// RecomputeEmbeddings recomputes every node's vector with the active
// provider and rescores the graph. This is the explicit step required when
// the provider dimension changes. Provider calls run with bounded
// concurrency; writes land in one batch.
func (e *Engine) RecomputeEmbeddings(ctx context.Context) (*RecomputeEmbeddingsResult, error) {
	nodes, err := e.store.ListNodes(ctx, store.NodeFilter{IncludeChunks: true})
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	vectors := make([][]float32, len(nodes))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, node := range nodes {
		i, node := i, node
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec := e.embed.EmbedNode(gctx, node.Title, node.Body)
			mu.Lock()
			vectors[i] = vec
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &RecomputeEmbeddingsResult{}
	if err := e.store.BeginBatch(); err != nil {
		return nil, err
	}
	var failed error
	for i, node := range nodes {
		if err := ctx.Err(); err != nil {
			failed = err
			break
		}
		result.NodesProcessed++

		vec := vectors[i]
		if vec == nil {
			result.NodesSkipped++
		} else {
			result.NodesEmbedded++
		}
		if err := e.store.UpdateNode(ctx, node.ID, store.NodePatch{Embedding: &vec}); err != nil {
			failed = err
			break
		}
	}
	if failed != nil {
		e.store.FailBatch(failed)
	}
	if err := e.store.EndBatch(); err != nil {
		return nil, err
	}
	if failed != nil {
		return nil, failed
	}

	if _, err := e.linker.RescoreAll(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// Backfill reconstructs canonical documents for pre-canonical chunk nodes.
func (e *Engine) Backfill(ctx context.Context) (int, error) {
	return e.docs.Backfill(ctx)
}

// BackfillChunkTitles recomposes chunk titles from their documents.
func (e *Engine) BackfillChunkTitles(ctx context.Context) (int, error) {
	return e.docs.BackfillChunkTitles(ctx)
}

// MigrateResult reports a store migration.
type MigrateResult struct {
	SchemaVersion  int
	EdgesRewritten int
	SelfLoops      int64
}

// Migrate brings a legacy store up to the dual-score model: edges scored by
// the old weighted-sum formula get their aggregate recomputed as
// max(semantic, tag) with the old components map left in metadata, legacy
// statuses collapse to accepted, and the graph is rescored.
func (e *Engine) Migrate(ctx context.Context) (*MigrateResult, error) {
	selfLoops, err := e.store.DeleteSelfLoopEdges(ctx)
	if err != nil {
		return nil, err
	}

	edges, err := e.store.ListEdges(ctx, store.EdgeFilter{})
	if err != nil {
		return nil, err
	}

	result := &MigrateResult{SelfLoops: selfLoops}
	if err := e.store.BeginBatch(); err != nil {
		return nil, err
	}
	var failed error
	for _, edge := range edges {
		if err := ctx.Err(); err != nil {
			failed = err
			break
		}

		_, legacy := edge.Metadata["components"]
		if !legacy && edge.Status == store.StatusAccepted {
			continue
		}

		semantic := 0.0
		if edge.SemanticScore != nil {
			semantic = *edge.SemanticScore
		}
		tag := 0.0
		if edge.TagScore != nil {
			tag = *edge.TagScore
		}
		edge.Score = semantic
		if tag > semantic {
			edge.Score = tag
		}
		edge.Status = store.StatusAccepted

		if err := e.store.UpsertEdge(ctx, edge); err != nil {
			failed = err
			break
		}
		result.EdgesRewritten++
	}
	if failed != nil {
		e.store.FailBatch(failed)
	}
	if err := e.store.EndBatch(); err != nil {
		return nil, err
	}
	if failed != nil {
		return nil, failed
	}

	// A full rescore drops pairs that no longer cross either threshold.
	if _, err := e.linker.RescoreAll(ctx); err != nil {
		return nil, err
	}

	version, err := e.store.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	result.SchemaVersion = version
	return result, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
