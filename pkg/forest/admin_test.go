package forest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bwl/forest/pkg/config"
	"github.com/bwl/forest/pkg/store"
)

func TestRescore_FullGraphDeterministic(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, func(cfg *config.Config) { cfg.TagThreshold = 0.03 })

	capture(t, e, "Rust Programming", "memory safety focus")
	capture(t, e, "Knowledge Graphs", "semantic graphs link concepts")
	capture(t, e, "Auto-linking", "rust algorithm to link notes automatically")

	if _, err := e.Rescore(ctx); err != nil {
		t.Fatalf("first rescore failed: %v", err)
	}
	first, _ := e.ListEdges(ctx, store.EdgeFilter{})

	if _, err := e.Rescore(ctx); err != nil {
		t.Fatalf("second rescore failed: %v", err)
	}
	second, _ := e.ListEdges(ctx, store.EdgeFilter{})

	if len(first) != len(second) {
		t.Fatalf("edge counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Score != second[i].Score {
			t.Errorf("edge %d drifted between rescores", i)
		}
	}
}

func TestRescore_Cancellation(t *testing.T) {
	e := newTestEngine(t, nil)
	capture(t, e, "a", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Rescore(ctx); Classify(err) != KindCancelled {
		t.Errorf("kind = %s, want cancelled", Classify(err))
	}
}

func TestRecomputeEmbeddings_FillsMissingVectors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	// Nodes written without vectors, as if captured during an outage.
	for i := 0; i < 3; i++ {
		err := e.Store().InsertNode(ctx, &store.Node{
			Title: fmt.Sprintf("bare %d", i), Body: "body text",
			Tags: []string{fmt.Sprintf("t%d", i)},
		})
		if err != nil {
			t.Fatalf("InsertNode failed: %v", err)
		}
	}

	result, err := e.RecomputeEmbeddings(ctx)
	if err != nil {
		t.Fatalf("RecomputeEmbeddings failed: %v", err)
	}
	if result.NodesProcessed != 3 || result.NodesEmbedded != 3 {
		t.Errorf("result = %+v", result)
	}

	nodes, _ := e.ListNodes(ctx, store.NodeFilter{IncludeChunks: true})
	for _, node := range nodes {
		if len(node.Embedding) == 0 {
			t.Errorf("node %s still un-embedded", node.ID)
		}
	}
}

func TestRegenerateTags(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	r := capture(t, e, "note", "original topic words here")
	// Change the body behind the engine's back; tags are now stale.
	newBody := "completely new subject matter entirely"
	if err := e.Store().UpdateNode(ctx, r.NodeID, store.NodePatch{Body: &newBody}); err != nil {
		t.Fatalf("UpdateNode failed: %v", err)
	}

	result, err := e.RegenerateTags(ctx)
	if err != nil {
		t.Fatalf("RegenerateTags failed: %v", err)
	}
	if result.NodesProcessed != 1 || result.NodesChanged != 1 {
		t.Errorf("result = %+v", result)
	}

	node, _ := e.Store().GetNode(ctx, r.NodeID)
	for _, tag := range node.Tags {
		if tag == "original" || tag == "topic" {
			t.Errorf("stale tag survived: %v", node.Tags)
		}
	}
}

func TestMigrate_LegacyEdges(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, func(cfg *config.Config) { cfg.TagThreshold = 0.03 })

	a := capture(t, e, "a", "#shared alpha words")
	b := capture(t, e, "b", "#shared beta words")

	// Rewrite the live edge into its legacy weighted-sum shape.
	edge, err := e.Store().GetEdgeBetween(ctx, a.NodeID, b.NodeID)
	if err != nil {
		t.Fatalf("setup edge missing: %v", err)
	}
	edge.Score = 0.123 // weighted-sum relic
	edge.Metadata = map[string]any{
		"components": map[string]any{"token": 0.25, "embedding": 0.55, "tag": 0.15, "title": 0.05},
	}
	if err := e.Store().UpsertEdge(ctx, edge); err != nil {
		t.Fatalf("UpsertEdge failed: %v", err)
	}

	result, err := e.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if result.EdgesRewritten != 1 {
		t.Errorf("edgesRewritten = %d, want 1", result.EdgesRewritten)
	}

	migrated, err := e.Store().GetEdgeBetween(ctx, a.NodeID, b.NodeID)
	if err != nil {
		t.Fatalf("edge gone after migrate: %v", err)
	}
	semantic := 0.0
	if migrated.SemanticScore != nil {
		semantic = *migrated.SemanticScore
	}
	tag := 0.0
	if migrated.TagScore != nil {
		tag = *migrated.TagScore
	}
	want := semantic
	if tag > want {
		want = tag
	}
	if migrated.Score != want {
		t.Errorf("score = %f, want max(%f, %f)", migrated.Score, semantic, tag)
	}
	// Components survive for traceability.
	if _, kept := migrated.Metadata["components"]; !kept {
		t.Error("legacy components dropped from metadata")
	}
}

func TestRebuildDegrees_EmptyStore(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, err := e.RebuildDegrees(context.Background()); err != nil {
		t.Fatalf("RebuildDegrees on empty store failed: %v", err)
	}
}

func TestOpen_InvalidConfigRejected(t *testing.T) {
	cfg := testConfig()
	cfg.SemanticThreshold = 3
	if _, err := New(cfg); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("invalid config accepted: %v", err)
	}
}
