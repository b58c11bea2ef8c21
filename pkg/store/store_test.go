package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustInsert(t *testing.T, s *Store, node *Node) *Node {
	t.Helper()
	if err := s.InsertNode(context.Background(), node); err != nil {
		t.Fatalf("InsertNode failed: %v", err)
	}
	return node
}

func TestNode_CRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	node := mustInsert(t, s, &Node{
		Title:       "Rust Programming",
		Body:        "memory safety focus",
		Tags:        []string{"Rust", "memory", "rust"},
		TokenCounts: map[string]int{"rust": 1, "memory": 1},
		Embedding:   []float32{0.6, 0.8},
		Metadata:    map[string]any{"origin": "test"},
	})

	if node.ID == "" {
		t.Fatal("node ID not generated")
	}

	got, err := s.GetNode(ctx, node.ID)
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if got.Title != "Rust Programming" {
		t.Errorf("title = %q", got.Title)
	}
	// Tags normalized: lowercased, deduplicated, sorted.
	if len(got.Tags) != 2 || got.Tags[0] != "memory" || got.Tags[1] != "rust" {
		t.Errorf("tags = %v", got.Tags)
	}
	if len(got.Embedding) != 2 || got.Embedding[0] != 0.6 {
		t.Errorf("embedding = %v", got.Embedding)
	}
	if got.TokenCounts["rust"] != 1 {
		t.Errorf("tokenCounts = %v", got.TokenCounts)
	}
	if got.Metadata["origin"] != "test" {
		t.Errorf("metadata = %v", got.Metadata)
	}

	newBody := "updated body"
	if err := s.UpdateNode(ctx, node.ID, NodePatch{Body: &newBody}); err != nil {
		t.Fatalf("UpdateNode failed: %v", err)
	}
	got, _ = s.GetNode(ctx, node.ID)
	if got.Body != "updated body" {
		t.Errorf("body not updated: %q", got.Body)
	}

	if err := s.DeleteNode(ctx, node.ID); err != nil {
		t.Fatalf("DeleteNode failed: %v", err)
	}
	if _, err := s.GetNode(ctx, node.ID); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestNode_EmptyTitleRejected(t *testing.T) {
	s := newTestStore(t)
	err := s.InsertNode(context.Background(), &Node{Title: "   "})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for empty title, got %v", err)
	}
}

func TestNode_ChunkRequiresParent(t *testing.T) {
	s := newTestStore(t)
	err := s.InsertNode(context.Background(), &Node{Title: "c", IsChunk: true})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for chunk without parent, got %v", err)
	}
}

func TestNodeTags_Mirrored(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	node := mustInsert(t, s, &Node{Title: "n", Tags: []string{"alpha", "beta"}})

	ids, err := s.NodeIDsWithTag(ctx, "alpha")
	if err != nil {
		t.Fatalf("NodeIDsWithTag failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != node.ID {
		t.Errorf("tag index = %v", ids)
	}

	newTags := []string{"gamma"}
	if err := s.UpdateNode(ctx, node.ID, NodePatch{Tags: &newTags}); err != nil {
		t.Fatalf("UpdateNode failed: %v", err)
	}
	ids, _ = s.NodeIDsWithTag(ctx, "alpha")
	if len(ids) != 0 {
		t.Errorf("stale tag rows remain: %v", ids)
	}
	ids, _ = s.NodeIDsWithTag(ctx, "gamma")
	if len(ids) != 1 {
		t.Errorf("new tag not indexed: %v", ids)
	}
}

func TestEdge_NormalizationAndDegrees(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := mustInsert(t, s, &Node{ID: "bbbbbbbb-0000-0000-0000-000000000000", Title: "a"})
	b := mustInsert(t, s, &Node{ID: "aaaaaaaa-0000-0000-0000-000000000000", Title: "b"})

	// Deliberately reversed endpoints.
	err := s.UpsertEdge(ctx, &Edge{ID: "edge-1", SourceID: a.ID, TargetID: b.ID, Score: 0.7})
	if err != nil {
		t.Fatalf("UpsertEdge failed: %v", err)
	}

	edge, err := s.GetEdgeBetween(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("GetEdgeBetween failed: %v", err)
	}
	if edge.SourceID >= edge.TargetID {
		t.Errorf("edge not normalized: %s >= %s", edge.SourceID, edge.TargetID)
	}
	if edge.Status != StatusAccepted {
		t.Errorf("status = %q", edge.Status)
	}

	for _, id := range []string{a.ID, b.ID} {
		node, _ := s.GetNode(ctx, id)
		if node.AcceptedDegree != 1 {
			t.Errorf("degree of %s = %d, want 1", id, node.AcceptedDegree)
		}
	}

	// Upsert of an existing pair must not bump counters.
	if err := s.UpsertEdge(ctx, &Edge{ID: "edge-1", SourceID: b.ID, TargetID: a.ID, Score: 0.9}); err != nil {
		t.Fatalf("second UpsertEdge failed: %v", err)
	}
	node, _ := s.GetNode(ctx, a.ID)
	if node.AcceptedDegree != 1 {
		t.Errorf("degree after re-upsert = %d, want 1", node.AcceptedDegree)
	}
	edge, _ = s.GetEdgeBetween(ctx, a.ID, b.ID)
	if edge.Score != 0.9 {
		t.Errorf("score not updated: %f", edge.Score)
	}

	deleted, err := s.DeleteEdgeBetween(ctx, a.ID, b.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteEdgeBetween = %v, %v", deleted, err)
	}
	node, _ = s.GetNode(ctx, a.ID)
	if node.AcceptedDegree != 0 {
		t.Errorf("degree after delete = %d, want 0", node.AcceptedDegree)
	}
}

func TestEdge_SelfLoopRefused(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	n := mustInsert(t, s, &Node{Title: "n"})

	err := s.UpsertEdge(ctx, &Edge{ID: "x", SourceID: n.ID, TargetID: n.ID})
	if !errors.Is(err, ErrSelfLoop) {
		t.Errorf("expected ErrSelfLoop, got %v", err)
	}
}

func TestDeleteNode_CascadesAndDecrementsPeers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := mustInsert(t, s, &Node{Title: "a"})
	b := mustInsert(t, s, &Node{Title: "b"})
	c := mustInsert(t, s, &Node{Title: "c"})
	for _, peer := range []*Node{b, c} {
		if err := s.UpsertEdge(ctx, &Edge{ID: "e" + peer.ID, SourceID: a.ID, TargetID: peer.ID, Score: 0.5}); err != nil {
			t.Fatalf("UpsertEdge failed: %v", err)
		}
	}

	if err := s.DeleteNode(ctx, a.ID); err != nil {
		t.Fatalf("DeleteNode failed: %v", err)
	}

	count, _ := s.EdgeCount(ctx)
	if count != 0 {
		t.Errorf("edges remain after cascade: %d", count)
	}
	for _, peer := range []*Node{b, c} {
		node, _ := s.GetNode(ctx, peer.ID)
		if node.AcceptedDegree != 0 {
			t.Errorf("peer %s degree = %d, want 0", peer.ID, node.AcceptedDegree)
		}
	}
}

func TestBatch_RollbackOnFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.BeginBatch(); err != nil {
		t.Fatalf("BeginBatch failed: %v", err)
	}
	mustInsert(t, s, &Node{Title: "inside batch"})
	s.FailBatch(errors.New("boom"))
	if err := s.EndBatch(); err == nil {
		t.Fatal("EndBatch should surface the batch failure")
	}

	count, _ := s.NodeCount(ctx)
	if count != 0 {
		t.Errorf("batch rollback left %d nodes", count)
	}
}

func TestBatch_NestedNoOp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.BeginBatch(); err != nil {
		t.Fatalf("outer BeginBatch failed: %v", err)
	}
	if err := s.BeginBatch(); err != nil {
		t.Fatalf("nested BeginBatch failed: %v", err)
	}
	mustInsert(t, s, &Node{Title: "nested"})
	if err := s.EndBatch(); err != nil {
		t.Fatalf("inner EndBatch failed: %v", err)
	}
	// Still inside the outer batch.
	if !s.InBatch() {
		t.Fatal("outer batch closed early")
	}
	if err := s.EndBatch(); err != nil {
		t.Fatalf("outer EndBatch failed: %v", err)
	}

	count, _ := s.NodeCount(ctx)
	if count != 1 {
		t.Errorf("node count = %d, want 1", count)
	}
}

func TestRebuildAcceptedDegreeCounters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := mustInsert(t, s, &Node{Title: "a"})
	b := mustInsert(t, s, &Node{Title: "b"})
	if err := s.UpsertEdge(ctx, &Edge{ID: "e", SourceID: a.ID, TargetID: b.ID, Score: 0.5}); err != nil {
		t.Fatalf("UpsertEdge failed: %v", err)
	}

	// Counters are maintained, so the report starts clean.
	report, err := s.RebuildAcceptedDegreeCounters(ctx)
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if report.MismatchedNodes != 0 {
		t.Errorf("mismatched = %d, want 0", report.MismatchedNodes)
	}

	// Corrupt a counter directly, then repair.
	if _, err := s.DB().Exec(`UPDATE nodes SET accepted_degree = 7 WHERE id = ?`, a.ID); err != nil {
		t.Fatalf("corrupt failed: %v", err)
	}
	report, err = s.RebuildAcceptedDegreeCounters(ctx)
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if report.MismatchedNodes != 1 || report.MaxDelta != 6 || !report.Repaired {
		t.Errorf("report = %+v", report)
	}

	after, err := s.DegreeReport(ctx)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if after.MismatchedNodes != 0 {
		t.Errorf("mismatches remain after repair: %d", after.MismatchedNodes)
	}
}

func TestDeleteSelfLoopEdges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	n := mustInsert(t, s, &Node{Title: "n"})

	// Forced in through the raw connection; the API refuses self-loops.
	_, err := s.DB().Exec(`
		INSERT INTO edges (id, source_id, target_id, score, edge_type, status, created_at, updated_at)
		VALUES ('loop', ?, ?, 0.5, 'semantic', 'accepted', ?, ?)`,
		n.ID, n.ID, time.Now(), time.Now())
	if err != nil {
		t.Fatalf("raw insert failed: %v", err)
	}

	removed, err := s.DeleteSelfLoopEdges(ctx)
	if err != nil {
		t.Fatalf("DeleteSelfLoopEdges failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestTagIDF_Rebuild(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 10; i++ {
		mustInsert(t, s, &Node{Title: "r", Tags: []string{"rust"}})
	}
	for i := 0; i < 3; i++ {
		mustInsert(t, s, &Node{Title: "l", Tags: []string{"rust-lang"}})
	}

	if err := s.RebuildTagIDF(ctx); err != nil {
		t.Fatalf("RebuildTagIDF failed: %v", err)
	}

	rust, found, err := s.GetTagIDF(ctx, "rust")
	if err != nil || !found {
		t.Fatalf("rust idf missing: %v", err)
	}
	if rust.DocFrequency != 10 {
		t.Errorf("rust docFrequency = %d, want 10", rust.DocFrequency)
	}

	lang, found, _ := s.GetTagIDF(ctx, "rust-lang")
	if !found || lang.DocFrequency != 3 {
		t.Errorf("rust-lang row = %+v found=%v", lang, found)
	}
	// Rarer tag gets higher idf.
	if lang.IDF <= rust.IDF {
		t.Errorf("idf ordering wrong: rare %f <= common %f", lang.IDF, rust.IDF)
	}
}

func TestEdgeEvents_LIFO(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := mustInsert(t, s, &Node{Title: "a"})
	b := mustInsert(t, s, &Node{Title: "b"})

	first := &EdgeEvent{EdgeID: "e", SourceID: a.ID, TargetID: b.ID, PrevStatus: "", NextStatus: StatusAccepted, CreatedAt: time.Now().Add(-time.Minute)}
	second := &EdgeEvent{EdgeID: "e", SourceID: b.ID, TargetID: a.ID, PrevStatus: StatusAccepted, NextStatus: "", CreatedAt: time.Now()}
	if err := s.LogEdgeEvent(ctx, first); err != nil {
		t.Fatalf("LogEdgeEvent failed: %v", err)
	}
	if err := s.LogEdgeEvent(ctx, second); err != nil {
		t.Fatalf("LogEdgeEvent failed: %v", err)
	}

	last, err := s.GetLastEdgeEventForPair(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("GetLastEdgeEventForPair failed: %v", err)
	}
	if last.ID != second.ID {
		t.Errorf("last event = %s, want %s", last.ID, second.ID)
	}

	if err := s.MarkEdgeEventUndone(ctx, last.ID); err != nil {
		t.Fatalf("MarkEdgeEventUndone failed: %v", err)
	}
	last, err = s.GetLastEdgeEventForPair(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}
	if last.ID != first.ID {
		t.Errorf("undone event still returned: %s", last.ID)
	}
}

func TestFindNodesByIDPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mustInsert(t, s, &Node{ID: "aaaa1111-0000-0000-0000-000000000000", Title: "one"})
	mustInsert(t, s, &Node{ID: "aaaa2222-0000-0000-0000-000000000000", Title: "two"})

	both, err := s.FindNodesByIDPrefix(ctx, "aaaa")
	if err != nil {
		t.Fatalf("prefix search failed: %v", err)
	}
	if len(both) != 2 {
		t.Errorf("prefix aaaa matched %d, want 2", len(both))
	}

	one, _ := s.FindNodesByIDPrefix(ctx, "aaaa1111")
	if len(one) != 1 || one[0].Title != "one" {
		t.Errorf("prefix aaaa1111 matched %v", one)
	}

	// Dashes in the prefix are ignored.
	dashed, _ := s.FindNodesByIDPrefix(ctx, "aaaa1111-0000")
	if len(dashed) != 1 {
		t.Errorf("dashed prefix matched %d, want 1", len(dashed))
	}
}

func TestDocuments_CRUDAndChunks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	doc := &Document{Title: "Doc", Body: "one\n\ntwo", Metadata: map[string]any{"chunkCount": 2}}
	if err := s.InsertDocument(ctx, doc); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}
	if doc.Version != 1 {
		t.Errorf("initial version = %d, want 1", doc.Version)
	}

	n1 := mustInsert(t, s, &Node{Title: "c1", IsChunk: true, ParentDocumentID: doc.ID})
	n2 := mustInsert(t, s, &Node{Title: "c2", IsChunk: true, ParentDocumentID: doc.ID, ChunkOrder: 1})

	chunks := []DocumentChunk{
		{DocumentID: doc.ID, SegmentID: "s1", NodeID: n1.ID, Offset: 0, Length: 3, ChunkOrder: 0, Checksum: "x"},
		{DocumentID: doc.ID, SegmentID: "s2", NodeID: n2.ID, Offset: 5, Length: 3, ChunkOrder: 1, Checksum: "y"},
	}
	if err := s.ReplaceDocumentChunks(ctx, doc.ID, chunks); err != nil {
		t.Fatalf("ReplaceDocumentChunks failed: %v", err)
	}

	got, err := s.GetDocumentChunks(ctx, doc.ID)
	if err != nil || len(got) != 2 {
		t.Fatalf("GetDocumentChunks = %v, %v", got, err)
	}
	if got[0].SegmentID != "s1" || got[1].SegmentID != "s2" {
		t.Errorf("chunk order wrong: %v", got)
	}

	byNode, err := s.GetChunkByNodeID(ctx, n2.ID)
	if err != nil || byNode == nil || byNode.SegmentID != "s2" {
		t.Errorf("GetChunkByNodeID = %v, %v", byNode, err)
	}

	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}
	remaining, _ := s.GetDocumentChunks(ctx, doc.ID)
	if len(remaining) != 0 {
		t.Errorf("chunks survived document delete: %v", remaining)
	}
}

func TestOrphanChunkParentIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mustInsert(t, s, &Node{Title: "orphan", IsChunk: true, ParentDocumentID: "missing-doc"})

	orphans, err := s.OrphanChunkParentIDs(ctx)
	if err != nil {
		t.Fatalf("OrphanChunkParentIDs failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != "missing-doc" {
		t.Errorf("orphans = %v", orphans)
	}
}

func TestKVMetadataAndSnapshots(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SetMeta(ctx, "k", "v1"); err != nil {
		t.Fatalf("SetMeta failed: %v", err)
	}
	if err := s.SetMeta(ctx, "k", "v2"); err != nil {
		t.Fatalf("SetMeta upsert failed: %v", err)
	}
	v, found, err := s.GetMeta(ctx, "k")
	if err != nil || !found || v != "v2" {
		t.Errorf("GetMeta = %q found=%v err=%v", v, found, err)
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil || version != schemaVersion {
		t.Errorf("schema version = %d, want %d (err %v)", version, schemaVersion, err)
	}

	mustInsert(t, s, &Node{Title: "n"})
	snap, err := s.WriteSnapshot(ctx)
	if err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}
	if snap.NodeCount != 1 {
		t.Errorf("snapshot nodes = %d", snap.NodeCount)
	}

	snaps, err := s.ListSnapshots(ctx, time.Time{})
	if err != nil || len(snaps) != 1 {
		t.Errorf("ListSnapshots = %v, %v", snaps, err)
	}
}

func TestOpen_BusyOnSecondLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forest.db")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	defer first.Close()

	if _, err := Open(path); !errors.Is(err, ErrBusy) {
		t.Errorf("second open should be busy, got %v", err)
	}
}

func TestListNodes_FiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := mustInsert(t, s, &Node{Title: "old", Tags: []string{"keep"},
		CreatedAt: time.Now().Add(-2 * time.Hour), UpdatedAt: time.Now().Add(-2 * time.Hour)})
	recent := mustInsert(t, s, &Node{Title: "recent", Tags: []string{"keep"}})
	mustInsert(t, s, &Node{Title: "chunk", IsChunk: true, ParentDocumentID: "doc"})

	nodes, err := s.ListNodes(ctx, NodeFilter{})
	if err != nil {
		t.Fatalf("ListNodes failed: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("chunks leaked into default listing: %d", len(nodes))
	}
	if nodes[0].ID != recent.ID {
		t.Errorf("not ordered by updatedAt desc")
	}

	nodes, _ = s.ListNodes(ctx, NodeFilter{IncludeChunks: true})
	if len(nodes) != 3 {
		t.Errorf("IncludeChunks listing = %d, want 3", len(nodes))
	}

	nodes, _ = s.ListNodes(ctx, NodeFilter{Since: time.Now().Add(-time.Hour)})
	if len(nodes) != 1 || nodes[0].ID != recent.ID {
		t.Errorf("since filter = %v", nodes)
	}

	nodes, _ = s.ListNodes(ctx, NodeFilter{Until: time.Now().Add(-time.Hour)})
	if len(nodes) != 1 || nodes[0].ID != old.ID {
		t.Errorf("until filter = %v", nodes)
	}
}
