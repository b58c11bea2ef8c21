package forest

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bwl/forest/pkg/graph"
	"github.com/bwl/forest/pkg/metrics"
	"github.com/bwl/forest/pkg/search"
	"github.com/bwl/forest/pkg/store"
)

// SemanticSearch ranks embedded nodes against the query.
func (e *Engine) SemanticSearch(ctx context.Context, query string, opts search.SemanticOptions) ([]search.Result, error) {
	startTime := time.Now()
	operationID := uuid.New().String()

	results, err := e.search.Semantic(ctx, query, opts)
	e.recordOp(ctx, operationID, "search", startTime, nil, err, map[string]interface{}{
		"resultsReturned": len(results),
	})
	return results, err
}

// MetadataSearch filters nodes by id, title, body, tags, and windows.
func (e *Engine) MetadataSearch(ctx context.Context, criteria search.Criteria) ([]*store.Node, error) {
	return e.search.Metadata(ctx, criteria)
}

// Neighborhood expands the accepted-edge graph around a node.
func (e *Engine) Neighborhood(ctx context.Context, ref string, depth, limit int) (*graph.NeighborhoodResult, error) {
	node, err := e.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return e.graph.Neighborhood(ctx, node.ID, depth, limit)
}

// Path finds the score-weighted shortest path between two nodes.
func (e *Engine) Path(ctx context.Context, fromRef, toRef string) (*graph.PathResult, error) {
	from, err := e.Resolve(ctx, fromRef)
	if err != nil {
		return nil, err
	}
	to, err := e.Resolve(ctx, toRef)
	if err != nil {
		return nil, err
	}
	return e.graph.ShortestPath(ctx, from.ID, to.ID)
}

// Stats is the engine-level count summary.
type Stats struct {
	Nodes         int64
	Edges         int64
	Documents     int64
	Tags          int64
	EmbeddedNodes int64
	Provider      string
	SchemaVersion int
}

// Stats returns engine-level telemetry and refreshes the graph-size gauges.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	nodes, err := e.store.NodeCount(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := e.store.EdgeCount(ctx)
	if err != nil {
		return nil, err
	}
	documents, err := e.store.DocumentCount(ctx)
	if err != nil {
		return nil, err
	}
	tags, err := e.store.TagCount(ctx)
	if err != nil {
		return nil, err
	}
	embedded, err := e.store.ListNodes(ctx, store.NodeFilter{IncludeChunks: true, HasEmbedding: true})
	if err != nil {
		return nil, err
	}
	version, err := e.store.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}

	e.metrics.GraphSize(metrics.GraphSizes{
		Nodes:     nodes,
		Edges:     edges,
		Documents: documents,
		Tags:      tags,
	})

	return &Stats{
		Nodes:         nodes,
		Edges:         edges,
		Documents:     documents,
		Tags:          tags,
		EmbeddedNodes: int64(len(embedded)),
		Provider:      e.embed.ProviderID(),
		SchemaVersion: version,
	}, nil
}

// Health is the quick consistency report for the health surface.
type Health struct {
	OK              bool
	SchemaVersion   int
	Provider        string
	DegreeMismatch  int
	SelfLoops       int64
	ProviderWarning []string
}

// Health runs the cheap consistency checks.
func (e *Engine) Health(ctx context.Context) (*Health, error) {
	version, err := e.store.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	degrees, err := e.store.DegreeReport(ctx)
	if err != nil {
		return nil, err
	}

	var selfLoops int64
	edges, err := e.store.ListEdges(ctx, store.EdgeFilter{})
	if err != nil {
		return nil, err
	}
	for _, edge := range edges {
		if edge.SourceID == edge.TargetID {
			selfLoops++
		}
	}

	warnings := e.embed.Warnings()
	return &Health{
		OK:              degrees.MismatchedNodes == 0 && selfLoops == 0,
		SchemaVersion:   version,
		Provider:        e.embed.ProviderID(),
		DegreeMismatch:  degrees.MismatchedNodes,
		SelfLoops:       selfLoops,
		ProviderWarning: warnings,
	}, nil
}

// HotNodes returns the k highest-degree nodes.
func (e *Engine) HotNodes(ctx context.Context, k int) ([]*store.Node, error) {
	return e.graph.HotNodes(ctx, k)
}

// RecentNodes returns the k most recently updated nodes.
func (e *Engine) RecentNodes(ctx context.Context, k int) ([]*store.Node, error) {
	return e.graph.RecentNodes(ctx, k)
}

// GraphDump is the structured export shape consumed by renderers.
type GraphDump struct {
	Nodes []*store.Node `json:"nodes"`
	Edges []*store.Edge `json:"edges"`
}

// DumpGraph returns nodes and accepted edges in a stable order for export
// renderers; formatting is theirs.
func (e *Engine) DumpGraph(ctx context.Context) (*GraphDump, error) {
	nodes, err := e.store.ListNodes(ctx, store.NodeFilter{IncludeChunks: true})
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges, err := e.store.ListEdges(ctx, store.EdgeFilter{})
	if err != nil {
		return nil, err
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].SourceID != edges[j].SourceID {
			return edges[i].SourceID < edges[j].SourceID
		}
		return edges[i].TargetID < edges[j].TargetID
	})

	return &GraphDump{Nodes: nodes, Edges: edges}, nil
}
