package docs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bwl/forest/pkg/store"
	"github.com/bwl/forest/pkg/textproc"
)

// RenderEditBuffer renders the whole document as the segment-marked plain
// text buffer handed to the editor host.
func (e *Engine) RenderEditBuffer(ctx context.Context, documentID string) (string, error) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	chunks, err := e.store.GetDocumentChunks(ctx, doc.ID)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("document %s has no chunks", doc.ID)
	}

	segments := make([]RenderSegment, len(chunks))
	for i, c := range chunks {
		node, err := e.store.GetNode(ctx, c.NodeID)
		if err != nil {
			return "", err
		}
		segments[i] = RenderSegment{
			SegmentID: c.SegmentID,
			NodeID:    c.NodeID,
			Order:     c.ChunkOrder,
			Title:     node.Title,
			Body:      node.Body,
		}
	}
	return RenderBuffer(segments), nil
}

// EditResult reports the outcome of applying an edit buffer.
type EditResult struct {
	DocumentID      string
	Version         int
	TouchedSegments []string // Segment ids whose checksums changed
	Reordered       bool
	ReembeddedNodes []string
}

// ApplyBuffer parses an edited buffer back into the document. Unchanged
// segments (by checksum) keep their nodes, vectors, and edges; touched
// segments are re-tokenized, re-tagged, re-embedded, and individually
// rescored. Parse failures preserve the buffer in a scratch file and mutate
// nothing.
func (e *Engine) ApplyBuffer(ctx context.Context, documentID string, buffer string) (*EditResult, error) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	chunks, err := e.store.GetDocumentChunks(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	expected := make([]string, len(chunks))
	byID := make(map[string]store.DocumentChunk, len(chunks))
	for i, c := range chunks {
		expected[i] = c.SegmentID
		byID[c.SegmentID] = c
	}

	parsed, perr := ParseBuffer(buffer, expected)
	if perr != nil {
		perr.ScratchPath = writeScratch(buffer)
		return nil, perr
	}

	// Checksum comparison decides which segments were touched and whether
	// the buffer reordered them.
	var touched []ParsedSegment
	reordered := false
	for i, seg := range parsed {
		prev := byID[seg.SegmentID]
		if prev.ChunkOrder != i {
			reordered = true
		}
		if SegmentChecksum(seg.Body) != prev.Checksum {
			touched = append(touched, seg)
		}
	}

	result := &EditResult{
		DocumentID: doc.ID,
		Version:    doc.Version,
	}
	if len(touched) == 0 && !reordered {
		return result, nil
	}

	// Text analysis and embedding happen before the batch opens.
	updates := make(map[string]update, len(touched))
	for _, seg := range touched {
		counts := textproc.Tokenize(seg.Body)
		tagOpts := e.tags
		tagOpts.Body = seg.Body
		updates[seg.SegmentID] = update{
			seg:    seg,
			counts: counts,
			tags:   textproc.ExtractTags(seg.Body, counts, tagOpts),
			vector: e.embed.EmbedNode(ctx, seg.Title, seg.Body),
		}
		result.TouchedSegments = append(result.TouchedSegments, seg.SegmentID)
	}
	result.Reordered = reordered

	lastEdited := ""
	if len(touched) > 0 {
		lastEdited = byID[touched[len(touched)-1].SegmentID].NodeID
	}

	if err := e.store.BeginBatch(); err != nil {
		return nil, err
	}
	applyErr := e.applyLocked(ctx, doc, parsed, byID, updates, reordered, lastEdited, result)
	if applyErr != nil {
		e.store.FailBatch(applyErr)
	}
	if endErr := e.store.EndBatch(); endErr != nil {
		return nil, endErr
	}
	if applyErr != nil {
		return nil, applyErr
	}

	// Touched chunks are rescored individually; untouched chunks keep
	// their edges.
	sort.Strings(result.TouchedSegments)
	for _, segID := range result.TouchedSegments {
		nodeID := byID[segID].NodeID
		if _, err := e.linker.RescoreNode(ctx, nodeID); err != nil {
			return nil, err
		}
		result.ReembeddedNodes = append(result.ReembeddedNodes, nodeID)
	}
	return result, nil
}

func (e *Engine) applyLocked(ctx context.Context, doc *store.Document, parsed []ParsedSegment, byID map[string]store.DocumentChunk, updates map[string]update, reordered bool, lastEdited string, result *EditResult) error {
	totalChunks := len(parsed)

	// Node bodies first: the canonical body is rebuilt from what the nodes
	// will actually hold.
	bodies := make([]string, totalChunks)
	newChunks := make([]store.DocumentChunk, totalChunks)
	for i, seg := range parsed {
		prev := byID[seg.SegmentID]
		node, err := e.store.GetNode(ctx, prev.NodeID)
		if err != nil {
			return err
		}

		if u, isTouched := updates[seg.SegmentID]; isTouched {
			node.Body = u.seg.Body
			patch := store.NodePatch{
				Body:        &node.Body,
				Tags:        &u.tags,
				TokenCounts: &u.counts,
				Embedding:   &u.vector,
				ChunkOrder:  &i,
			}
			title := textproc.ComposeChunkTitle(doc.Title, i, totalChunks, sectionTitleOf(u.seg.Body))
			patch.Title = &title
			if err := e.store.UpdateNode(ctx, prev.NodeID, patch); err != nil {
				return err
			}
		} else if prev.ChunkOrder != i {
			title := textproc.ComposeChunkTitle(doc.Title, i, totalChunks, sectionTitleOf(node.Body))
			patch := store.NodePatch{ChunkOrder: &i, Title: &title}
			if err := e.store.UpdateNode(ctx, prev.NodeID, patch); err != nil {
				return err
			}
		}

		bodies[i] = node.Body
		newChunks[i] = store.DocumentChunk{
			DocumentID: doc.ID,
			SegmentID:  seg.SegmentID,
			NodeID:     prev.NodeID,
			ChunkOrder: i,
			Checksum:   SegmentChecksum(node.Body),
		}
	}

	extents := SegmentExtents(bodies)
	for i := range newChunks {
		newChunks[i].Offset = extents[i].Offset
		newChunks[i].Length = extents[i].Length
	}
	if err := e.store.ReplaceDocumentChunks(ctx, doc.ID, newChunks); err != nil {
		return err
	}

	if reordered {
		if err := e.rebuildSequentialEdges(ctx, newChunks); err != nil {
			return err
		}
	}

	doc.Body = CanonicalBody(bodies)
	doc.Version++
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]any)
	}
	doc.Metadata[metaLastEditedAt] = time.Now().UTC().Format(time.RFC3339)
	if lastEdited != "" {
		doc.Metadata[metaLastEditedNodeID] = lastEdited
	}
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		return err
	}

	result.Version = doc.Version
	return nil
}

// update is the precomputed state for one touched segment.
type update struct {
	seg    ParsedSegment
	counts map[string]int
	tags   []string
	vector []float32
}

// rebuildSequentialEdges drops the document's old sequential chain and
// rebuilds it over the new order.
func (e *Engine) rebuildSequentialEdges(ctx context.Context, chunks []store.DocumentChunk) error {
	for _, c := range chunks {
		edges, err := e.store.ListEdges(ctx, store.EdgeFilter{NodeID: c.NodeID, EdgeType: store.EdgeTypeSequential})
		if err != nil {
			return err
		}
		for _, edge := range edges {
			if _, err := e.store.DeleteEdgeBetween(ctx, edge.SourceID, edge.TargetID); err != nil {
				return err
			}
		}
	}
	for i := 0; i+1 < len(chunks); i++ {
		if err := e.upsertStructural(ctx, chunks[i].NodeID, chunks[i+1].NodeID, store.EdgeTypeSequential, sequentialScore); err != nil {
			return err
		}
	}
	return nil
}

// sectionTitleOf extracts a leading Markdown header from a segment body.
func sectionTitleOf(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if title, ok := headerTitle(trimmed); ok {
			return title
		}
		return ""
	}
	return ""
}

// Delete removes a document, its chunk mappings, its chunk nodes, and the
// root node. Edges cascade through node deletion.
func (e *Engine) Delete(ctx context.Context, documentID string) error {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	chunks, err := e.store.GetDocumentChunks(ctx, doc.ID)
	if err != nil {
		return err
	}

	if err := e.store.BeginBatch(); err != nil {
		return err
	}
	var failed error
	for _, c := range chunks {
		if err := e.store.DeleteNode(ctx, c.NodeID); err != nil && !isNotFound(err) {
			failed = err
			break
		}
	}
	if failed == nil && doc.RootNodeID != "" {
		if err := e.store.DeleteNode(ctx, doc.RootNodeID); err != nil && !isNotFound(err) {
			failed = err
		}
	}
	if failed == nil {
		failed = e.store.DeleteDocument(ctx, doc.ID)
	}
	if failed != nil {
		e.store.FailBatch(failed)
	}
	if err := e.store.EndBatch(); err != nil {
		return err
	}
	return failed
}

// Backfill reconstructs canonical Document rows for chunk nodes written
// before canonical storage existed. Idempotent: only parents with no
// Document row are touched.
func (e *Engine) Backfill(ctx context.Context) (int, error) {
	orphans, err := e.store.OrphanChunkParentIDs(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, parentID := range orphans {
		if err := e.backfillOne(ctx, parentID); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (e *Engine) backfillOne(ctx context.Context, parentID string) error {
	nodes, err := e.store.ChunkNodesForDocument(ctx, parentID)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}

	bodies := make([]string, len(nodes))
	for i, n := range nodes {
		bodies[i] = n.Body
	}

	if err := e.store.BeginBatch(); err != nil {
		return err
	}

	doc := &store.Document{
		ID:    parentID,
		Title: documentTitleFromChunk(nodes[0].Title),
		Body:  CanonicalBody(bodies),
		Metadata: map[string]any{
			metaSource:     "backfill",
			metaChunkCount: len(nodes),
		},
	}
	failed := e.store.InsertDocument(ctx, doc)

	if failed == nil {
		extents := SegmentExtents(bodies)
		chunks := make([]store.DocumentChunk, len(nodes))
		for i, n := range nodes {
			chunks[i] = store.DocumentChunk{
				DocumentID: parentID,
				SegmentID:  uuid.New().String(),
				NodeID:     n.ID,
				Offset:     extents[i].Offset,
				Length:     extents[i].Length,
				ChunkOrder: i,
				Checksum:   SegmentChecksum(n.Body),
			}
		}
		failed = e.store.ReplaceDocumentChunks(ctx, parentID, chunks)
	}

	if failed != nil {
		e.store.FailBatch(failed)
	}
	if err := e.store.EndBatch(); err != nil {
		return err
	}
	return failed
}

// BackfillChunkTitles recomposes every chunk node's title from its
// document's current title and position. Admin repair for documents renamed
// outside the edit cycle.
func (e *Engine) BackfillChunkTitles(ctx context.Context) (int, error) {
	documents, err := e.store.ListDocuments(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, doc := range documents {
		chunks, err := e.store.GetDocumentChunks(ctx, doc.ID)
		if err != nil {
			return updated, err
		}
		for _, c := range chunks {
			node, err := e.store.GetNode(ctx, c.NodeID)
			if err != nil {
				return updated, err
			}
			title := textproc.ComposeChunkTitle(doc.Title, c.ChunkOrder, len(chunks), sectionTitleOf(node.Body))
			if title == node.Title {
				continue
			}
			if err := e.store.UpdateNode(ctx, c.NodeID, store.NodePatch{Title: &title}); err != nil {
				return updated, err
			}
			updated++
		}
	}
	return updated, nil
}

func documentTitleFromChunk(chunkTitle string) string {
	if idx := strings.Index(chunkTitle, " ["); idx > 0 {
		return chunkTitle[:idx]
	}
	if chunkTitle == "" {
		return "Recovered Document"
	}
	return chunkTitle
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNodeNotFound)
}
