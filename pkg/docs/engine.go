package docs

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/bwl/forest/pkg/embeddings"
	"github.com/bwl/forest/pkg/linker"
	"github.com/bwl/forest/pkg/scorer"
	"github.com/bwl/forest/pkg/store"
	"github.com/bwl/forest/pkg/textproc"
)

// Structural edge scores. Traversal distance is 1 - score, so parent links
// are slightly shorter than sequential hops.
const (
	parentChildScore = 0.9
	sequentialScore  = 0.8
)

// Document metadata keys.
const (
	metaChunkStrategy    = "chunkStrategy"
	metaMaxTokens        = "maxTokens"
	metaOverlap          = "overlap"
	metaChunkCount       = "chunkCount"
	metaSource           = "source"
	metaLastEditedAt     = "lastEditedAt"
	metaLastEditedNodeID = "lastEditedNodeId"
)

// Engine owns canonical documents: chunking at import, the segment-aware
// edit cycle, and backfill for pre-canonical chunk nodes.
type Engine struct {
	store  *store.Store
	embed  *embeddings.Service
	linker *linker.Linker
	tags   textproc.TagOptions
}

// NewEngine creates a document engine.
func NewEngine(st *store.Store, embed *embeddings.Service, lk *linker.Linker, tags textproc.TagOptions) *Engine {
	return &Engine{store: st, embed: embed, linker: lk, tags: tags}
}

// chunkData carries one segment's node through import.
type chunkData struct {
	node  *store.Node
	segID string
}

// ImportOptions configures a document import.
type ImportOptions struct {
	Chunking ChunkOptions
	// WithRoot creates a summary root node linked parent-child to every
	// chunk. Default true; disable for flat imports.
	WithRoot *bool
	// Source records where the document came from.
	Source string
}

// ImportResult reports the outcome of an import.
type ImportResult struct {
	DocumentID   string
	RootNodeID   string
	ChunkNodeIDs []string
	ChunkCount   int
}

// Import chunks a document, creates its nodes, structural edges, and the
// canonical document row, then rescores every created node.
func (e *Engine) Import(ctx context.Context, title, body string, opts ImportOptions) (*ImportResult, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("document body cannot be empty")
	}
	title = textproc.PickTitle(body, title)

	segments := Chunk(body, opts.Chunking)
	if len(segments) == 0 {
		return nil, fmt.Errorf("chunking produced no segments")
	}

	withRoot := true
	if opts.WithRoot != nil {
		withRoot = *opts.WithRoot
	}

	docID := uuid.New().String()

	// Embedding and text analysis happen before the batch opens so the
	// writer lock never waits on network I/O.
	data := make([]chunkData, len(segments))
	bodies := make([]string, len(segments))
	for i, seg := range segments {
		counts := textproc.Tokenize(seg.Body)
		tagOpts := e.tags
		tagOpts.Body = seg.Body
		node := &store.Node{
			ID:               uuid.New().String(),
			Title:            textproc.ComposeChunkTitle(title, i, len(segments), seg.SectionTitle),
			Body:             seg.Body,
			Tags:             textproc.ExtractTags(seg.Body, counts, tagOpts),
			TokenCounts:      counts,
			Embedding:        e.embed.EmbedNode(ctx, seg.SectionTitle, seg.Body),
			ParentDocumentID: docID,
			IsChunk:          true,
			ChunkOrder:       i,
		}
		data[i] = chunkData{node: node, segID: uuid.New().String()}
		bodies[i] = seg.Body
	}

	canonical := CanonicalBody(bodies)

	var rootNode *store.Node
	if withRoot {
		summary := summarize(segments)
		rootNode = &store.Node{
			ID:               uuid.New().String(),
			Title:            title,
			Body:             summary,
			Tags:             mergeChunkTags(data, e.tags.MaxTags),
			TokenCounts:      textproc.Tokenize(title + "\n" + summary),
			Embedding:        e.embed.EmbedNode(ctx, title, summary),
			ParentDocumentID: docID,
		}
	}

	if err := e.store.BeginBatch(); err != nil {
		return nil, err
	}
	err := e.importLocked(ctx, docID, title, canonical, rootNode, data, opts)
	if err != nil {
		e.store.FailBatch(err)
	}
	if endErr := e.store.EndBatch(); endErr != nil {
		return nil, endErr
	}
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		DocumentID: docID,
		ChunkCount: len(data),
	}
	if rootNode != nil {
		result.RootNodeID = rootNode.ID
	}
	for _, d := range data {
		result.ChunkNodeIDs = append(result.ChunkNodeIDs, d.node.ID)
	}

	// Semantic edges are discovered per node, outside the structural batch.
	for _, id := range result.ChunkNodeIDs {
		if _, err := e.linker.RescoreNode(ctx, id); err != nil {
			return nil, err
		}
	}
	if rootNode != nil {
		if _, err := e.linker.RescoreNode(ctx, rootNode.ID); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (e *Engine) importLocked(ctx context.Context, docID, title, canonical string, rootNode *store.Node, data []chunkData, opts ImportOptions) error {
	chunking := opts.Chunking
	chunking.applyDefaults()

	doc := &store.Document{
		ID:    docID,
		Title: title,
		Body:  canonical,
		Metadata: map[string]any{
			metaChunkStrategy: chunking.Strategy,
			metaMaxTokens:     chunking.MaxTokens,
			metaOverlap:       chunking.Overlap,
			metaChunkCount:    len(data),
			metaSource:        opts.Source,
		},
	}
	if rootNode != nil {
		doc.RootNodeID = rootNode.ID
	}
	if err := e.store.InsertDocument(ctx, doc); err != nil {
		return err
	}

	if rootNode != nil {
		if err := e.store.InsertNode(ctx, rootNode); err != nil {
			return err
		}
	}

	bodies := make([]string, len(data))
	for i, d := range data {
		if err := e.store.InsertNode(ctx, d.node); err != nil {
			return err
		}
		bodies[i] = d.node.Body
	}

	extents := SegmentExtents(bodies)
	chunks := make([]store.DocumentChunk, len(data))
	for i, d := range data {
		chunks[i] = store.DocumentChunk{
			DocumentID: docID,
			SegmentID:  d.segID,
			NodeID:     d.node.ID,
			Offset:     extents[i].Offset,
			Length:     extents[i].Length,
			ChunkOrder: i,
			Checksum:   SegmentChecksum(d.node.Body),
		}
	}
	if err := e.store.ReplaceDocumentChunks(ctx, docID, chunks); err != nil {
		return err
	}

	return e.writeStructuralEdges(ctx, rootNode, data)
}

func (e *Engine) writeStructuralEdges(ctx context.Context, rootNode *store.Node, data []chunkData) error {
	if rootNode != nil {
		for _, d := range data {
			if err := e.upsertStructural(ctx, rootNode.ID, d.node.ID, store.EdgeTypeParentChild, parentChildScore); err != nil {
				return err
			}
		}
	}
	for i := 0; i+1 < len(data); i++ {
		if err := e.upsertStructural(ctx, data[i].node.ID, data[i+1].node.ID, store.EdgeTypeSequential, sequentialScore); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) upsertStructural(ctx context.Context, a, b, edgeType string, score float64) error {
	edge := &store.Edge{
		ID:       scorer.EdgeID(a, b),
		SourceID: a,
		TargetID: b,
		Score:    score,
		EdgeType: edgeType,
	}
	if err := e.store.UpsertEdge(ctx, edge); err != nil {
		return err
	}
	return e.store.LogEdgeEvent(ctx, &store.EdgeEvent{
		EdgeID:     edge.ID,
		SourceID:   edge.SourceID,
		TargetID:   edge.TargetID,
		PrevStatus: "",
		NextStatus: store.StatusAccepted,
		Payload:    map[string]any{"edgeType": edgeType, "score": score},
	})
}

// summarize produces the root node body: the first sentence of each section,
// capped at five sections.
func summarize(segments []Segment) string {
	var parts []string
	for _, seg := range segments {
		s := splitSentences(seg.Body)
		if len(s) > 0 {
			parts = append(parts, s[0])
		}
		if len(parts) >= 5 {
			break
		}
	}
	return strings.Join(parts, " ")
}

// mergeChunkTags unions the chunk tag sets into a root tag set, keeping the
// most widely shared tags.
func mergeChunkTags(data []chunkData, maxTags int) []string {
	if maxTags <= 0 {
		maxTags = textproc.DefaultMaxTags
	}
	freq := make(map[string]int)
	for _, d := range data {
		for _, tag := range d.node.Tags {
			freq[tag]++
		}
	}
	type scored struct {
		tag   string
		count int
	}
	ranked := make([]scored, 0, len(freq))
	for tag, count := range freq {
		ranked = append(ranked, scored{tag, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].tag < ranked[j].tag
	})
	if len(ranked) > maxTags {
		ranked = ranked[:maxTags]
	}
	tags := make([]string, len(ranked))
	for i, sc := range ranked {
		tags[i] = sc.tag
	}
	sort.Strings(tags)
	return tags
}

// writeScratch preserves the user's buffer bytes on parse failure.
// Returns the scratch path, or "" when even that failed.
func writeScratch(buffer string) string {
	f, err := os.CreateTemp(os.TempDir(), "forest-edit-*.txt")
	if err != nil {
		return ""
	}
	defer f.Close()
	if _, err := f.WriteString(buffer); err != nil {
		return ""
	}
	return f.Name()
}
