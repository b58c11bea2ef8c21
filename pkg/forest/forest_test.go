package forest

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwl/forest/pkg/config"
	"github.com/bwl/forest/pkg/docs"
	"github.com/bwl/forest/pkg/search"
	"github.com/bwl/forest/pkg/store"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.DBPath = ":memory:"
	cfg.EmbedProvider = "mock"
	return cfg
}

func newTestEngine(t *testing.T, mutate func(*config.Config)) *Engine {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to open engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func capture(t *testing.T, e *Engine, title, body string) *CaptureResult {
	t.Helper()
	result, err := e.Capture(context.Background(), CaptureInput{Title: title, Body: body})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	return result
}

// Capture-and-link: three notes, mock embeddings, default semantic
// threshold. Every materialized edge is normalized and the degree counters
// stay consistent.
func TestCaptureAndLink_Invariants(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	a := capture(t, e, "Rust Programming", "memory safety focus")
	b := capture(t, e, "Knowledge Graphs", "semantic graphs link concepts")
	c := capture(t, e, "Auto-linking", "rust algorithm to link notes automatically")

	for _, r := range []*CaptureResult{a, b, c} {
		if !r.Embedded {
			t.Errorf("node %s not embedded", r.NodeID)
		}
	}

	edges, err := e.ListEdges(ctx, store.EdgeFilter{})
	if err != nil {
		t.Fatalf("ListEdges failed: %v", err)
	}
	for _, edge := range edges {
		if edge.SourceID >= edge.TargetID {
			t.Errorf("edge %s not normalized", edge.ID)
		}
		if edge.Status != store.StatusAccepted {
			t.Errorf("edge %s status = %q", edge.ID, edge.Status)
		}
	}

	report, err := e.RebuildDegrees(ctx)
	if err != nil {
		t.Fatalf("RebuildDegrees failed: %v", err)
	}
	if report.MismatchedNodes != 0 {
		t.Errorf("degree mismatches = %d, want 0", report.MismatchedNodes)
	}
}

// With a tag threshold low enough for a single shared tag, the rust overlap
// links A and C.
func TestCaptureAndLink_TagOverlapEdge(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, func(cfg *config.Config) { cfg.TagThreshold = 0.03 })

	a := capture(t, e, "Rust Programming", "memory safety focus")
	capture(t, e, "Knowledge Graphs", "semantic graphs link concepts")
	c := capture(t, e, "Auto-linking", "rust algorithm to link notes automatically")

	edge, err := e.Store().GetEdgeBetween(ctx, a.NodeID, c.NodeID)
	if err != nil {
		t.Fatalf("A-C edge missing: %v", err)
	}
	foundRust := false
	for _, tag := range edge.SharedTags {
		if tag == "rust" {
			foundRust = true
		}
	}
	if !foundRust {
		t.Errorf("sharedTags = %v, want rust included", edge.SharedTags)
	}
}

// Edge explain returns the dual scores and the tag-component breakdown.
func TestExplain(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, func(cfg *config.Config) { cfg.TagThreshold = 0.03 })

	a := capture(t, e, "Rust Programming", "memory safety focus")
	capture(t, e, "Knowledge Graphs", "semantic graphs link concepts")
	c := capture(t, e, "Auto-linking", "rust algorithm to link notes automatically")

	explanation, err := e.Explain(ctx, a.NodeID, c.NodeID)
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}

	if explanation.SemanticScore == nil {
		t.Error("semanticScore missing with embedded nodes")
	}
	if explanation.TagScore == nil {
		t.Fatal("tagScore missing with shared tags")
	}
	foundRust := false
	for _, tag := range explanation.SharedTags {
		if tag == "rust" {
			foundRust = true
		}
	}
	if !foundRust {
		t.Errorf("sharedTags = %v", explanation.SharedTags)
	}
	if explanation.Jaccard <= 0 || explanation.AvgIDF < 0 || explanation.MaxIDF <= 0 {
		t.Errorf("tag components = jaccard %f avgIDF %f maxIDF %f",
			explanation.Jaccard, explanation.AvgIDF, explanation.MaxIDF)
	}
	if explanation.Edge == nil {
		t.Error("materialized edge missing from explanation")
	}
}

// Tag rename: ten nodes tagged rust, three tagged rust-lang. Renaming rust
// to rust-lang updates ten nodes and merges the IDF rows.
func TestRenameTag(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	for i := 0; i < 10; i++ {
		if _, err := e.Capture(ctx, CaptureInput{
			Title: fmt.Sprintf("rust note %d", i), Body: "body", Tags: []string{"rust"},
		}); err != nil {
			t.Fatalf("Capture failed: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if _, err := e.Capture(ctx, CaptureInput{
			Title: fmt.Sprintf("lang note %d", i), Body: "body", Tags: []string{"rust-lang"},
		}); err != nil {
			t.Fatalf("Capture failed: %v", err)
		}
	}

	result, err := e.RenameTag(ctx, "rust", "rust-lang")
	if err != nil {
		t.Fatalf("RenameTag failed: %v", err)
	}
	if result.NodesUpdated != 10 {
		t.Errorf("nodesUpdated = %d, want 10", result.NodesUpdated)
	}
	if result.NewDocFrequency != 13 {
		t.Errorf("rust-lang docFrequency = %d, want 13", result.NewDocFrequency)
	}

	_, found, err := e.Store().GetTagIDF(ctx, "rust")
	if err != nil {
		t.Fatalf("GetTagIDF failed: %v", err)
	}
	if found {
		t.Error("idf row for rust should be gone")
	}
}

// Semantic search over a chunked document: the document appears once, as
// its root node, scored at least as high as its best chunk.
func TestSemanticSearchWithChunks(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	doc := "# One\nintroductory chapter text here\n\n" +
		"# Two\nThis chapter covers ownership. Memory safety discussion with borrowing rules follows here.\n\n" +
		"# Three\nmore chapter text\n\n" +
		"# Four\nclosing chapter text"
	imported, err := e.ImportDocument(ctx, "Systems Guide", doc,
		docs.ImportOptions{Chunking: docs.ChunkOptions{Strategy: docs.StrategyHeaders}})
	if err != nil {
		t.Fatalf("ImportDocument failed: %v", err)
	}
	if imported.ChunkCount != 4 {
		t.Fatalf("chunk count = %d, want 4", imported.ChunkCount)
	}

	capture(t, e, "Note one", "memory safety matters a lot")
	capture(t, e, "Note two", "gardening in spring")
	capture(t, e, "Note three", "sourdough baking")

	results, err := e.SemanticSearch(ctx, "memory safety", search.SemanticOptions{Limit: 10, MinScore: 0})
	if err != nil {
		t.Fatalf("SemanticSearch failed: %v", err)
	}

	rootHits := 0
	for _, r := range results {
		if r.Node.IsChunk {
			t.Errorf("chunk leaked into results: %s", r.Node.Title)
		}
		if r.Node.ID == imported.RootNodeID {
			rootHits++
			if r.ChunkNodeID == "" {
				t.Error("root hit does not name its best chunk")
			}
		}
	}
	if rootHits != 1 {
		t.Errorf("document root appears %d times, want 1", rootHits)
	}
}

// Path: a manual chain of six nodes traversed end to end, then broken.
func TestPathThroughManualChain(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, func(cfg *config.Config) { cfg.EmbedProvider = "none" })

	var ids []string
	for i := 0; i < 6; i++ {
		r, err := e.Capture(ctx, CaptureInput{Title: fmt.Sprintf("chain %c", 'A'+i), Body: "x",
			Tags: []string{fmt.Sprintf("t%d", i)}})
		if err != nil {
			t.Fatalf("Capture failed: %v", err)
		}
		ids = append(ids, r.NodeID)
	}
	for i := 0; i+1 < len(ids); i++ {
		if _, err := e.Link(ctx, ids[i], ids[i+1], 0.8); err != nil {
			t.Fatalf("Link failed: %v", err)
		}
	}

	path, err := e.Path(ctx, ids[0], ids[5])
	if err != nil {
		t.Fatalf("Path failed: %v", err)
	}
	if !path.Found || path.Hops != 5 {
		t.Errorf("path = found %v hops %d, want found 5 hops", path.Found, path.Hops)
	}
	if path.TotalScore < 3.99 || path.TotalScore > 4.01 {
		t.Errorf("totalScore = %f, want 4.0", path.TotalScore)
	}

	if err := e.DeleteNode(ctx, ids[3]); err != nil {
		t.Fatalf("DeleteNode failed: %v", err)
	}
	path, err = e.Path(ctx, ids[0], ids[5])
	if err != nil {
		t.Fatalf("Path after delete failed: %v", err)
	}
	if path.Found {
		t.Error("path found through deleted node")
	}
}

func TestUndoEdge(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, func(cfg *config.Config) { cfg.EmbedProvider = "none" })

	a := capture(t, e, "a", "x")
	b := capture(t, e, "b", "y")

	if _, err := e.Link(ctx, a.NodeID, b.NodeID, 0.8); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	// Undo the creation: the edge disappears.
	if err := e.UndoEdge(ctx, a.NodeID, b.NodeID); err != nil {
		t.Fatalf("UndoEdge failed: %v", err)
	}
	if _, err := e.Store().GetEdgeBetween(ctx, a.NodeID, b.NodeID); err == nil {
		t.Fatal("edge survived undo of its creation")
	}

	// Re-link and unlink, then undo the deletion: the edge returns.
	if _, err := e.Link(ctx, a.NodeID, b.NodeID, 0.8); err != nil {
		t.Fatalf("re-Link failed: %v", err)
	}
	if err := e.Unlink(ctx, a.NodeID, b.NodeID); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	if err := e.UndoEdge(ctx, a.NodeID, b.NodeID); err != nil {
		t.Fatalf("UndoEdge of deletion failed: %v", err)
	}
	edge, err := e.Store().GetEdgeBetween(ctx, a.NodeID, b.NodeID)
	if err != nil {
		t.Fatalf("edge not restored: %v", err)
	}
	if edge.Score != 0.8 || edge.EdgeType != store.EdgeTypeManual {
		t.Errorf("restored edge = score %f type %s", edge.Score, edge.EdgeType)
	}
}

func TestCapture_Validation(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Capture(context.Background(), CaptureInput{})
	if err == nil {
		t.Fatal("empty capture accepted")
	}
	if Classify(err) != KindValidation {
		t.Errorf("kind = %s, want validation-failure", Classify(err))
	}
}

func TestClassify_Taxonomy(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	capture(t, e, "solo", "only node")

	_, err := e.GetNode(ctx, "deadbeef")
	if Classify(err) != KindNotFound {
		t.Errorf("unknown ref kind = %s, want not-found", Classify(err))
	}

	if Classify(context.Canceled) != KindCancelled {
		t.Error("context.Canceled not classified as cancelled")
	}
	if Classify(store.ErrSelfLoop) != KindConflict {
		t.Error("self-loop not classified as conflict")
	}
	if Classify(config.ErrInvalid) != KindValidation {
		t.Error("config error not classified as validation")
	}
	if Classify(store.ErrBusy) != KindBusy {
		t.Error("busy not classified")
	}
}

func TestAsProblem_AmbiguousCarriesCandidates(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	capture(t, e, "Shared prefix one", "x")
	capture(t, e, "Shared prefix two", "y")

	_, err := e.GetNode(ctx, `"Shared prefix"`)
	if err == nil {
		t.Fatal("ambiguous title resolved")
	}
	problem := AsProblem(err)
	if problem.Kind != KindAmbiguous {
		t.Errorf("kind = %s", problem.Kind)
	}
	if len(problem.Candidates) < 2 || len(problem.Candidates) > 5 {
		t.Errorf("candidates = %d", len(problem.Candidates))
	}
}

func TestSnapshotDiffGrowth(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	first, err := e.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	capture(t, e, "new node", "body")
	second, err := e.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	diff, err := e.Diff(ctx, first.ID, second.ID)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if diff.NodeDelta != 1 {
		t.Errorf("node delta = %d, want 1", diff.NodeDelta)
	}

	points, err := e.Growth(ctx, 0)
	if err != nil || len(points) != 2 {
		t.Errorf("growth = %v, %v", points, err)
	}
}

func TestStatsAndHealth(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	capture(t, e, "a note", "with a body")

	stats, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Nodes != 1 || stats.EmbeddedNodes != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Provider != "mock" {
		t.Errorf("provider = %q", stats.Provider)
	}

	health, err := e.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if !health.OK {
		t.Errorf("health not OK: %+v", health)
	}
}

func TestUpdateNote_Relinks(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, func(cfg *config.Config) { cfg.TagThreshold = 0.03 })

	a := capture(t, e, "quiet corner", "#solitary entirely different words about painting")
	b := capture(t, e, "busy junction", "#linked unrelated vocabulary concerning trains")

	if _, err := e.Store().GetEdgeBetween(ctx, a.NodeID, b.NodeID); err == nil {
		t.Fatal("unexpected initial edge")
	}

	body := "#linked now they share a tag"
	if _, err := e.UpdateNote(ctx, a.NodeID, UpdateInput{Body: &body}); err != nil {
		t.Fatalf("UpdateNote failed: %v", err)
	}

	edge, err := e.Store().GetEdgeBetween(ctx, a.NodeID, b.NodeID)
	if err != nil {
		t.Fatalf("edge missing after update: %v", err)
	}
	if len(edge.SharedTags) == 0 || edge.SharedTags[0] != "linked" {
		t.Errorf("sharedTags = %v", edge.SharedTags)
	}
}

func TestDumpGraph_StableOrder(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	capture(t, e, "one", "x")
	capture(t, e, "two", "y")

	first, err := e.DumpGraph(ctx)
	if err != nil {
		t.Fatalf("DumpGraph failed: %v", err)
	}
	second, _ := e.DumpGraph(ctx)
	if len(first.Nodes) != len(second.Nodes) {
		t.Fatal("dump sizes differ")
	}
	for i := range first.Nodes {
		if first.Nodes[i].ID != second.Nodes[i].ID {
			t.Error("dump order unstable")
		}
	}
}
