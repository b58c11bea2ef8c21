package forest

import (
	"context"
	"os"

	"github.com/bwl/forest/pkg/docs"
	"github.com/bwl/forest/pkg/store"
)

// ImportDocument chunks a long text into per-segment nodes with a canonical
// document record.
func (e *Engine) ImportDocument(ctx context.Context, title, body string, opts docs.ImportOptions) (*docs.ImportResult, error) {
	return e.docs.Import(ctx, title, body, opts)
}

// ListDocuments returns every canonical document.
func (e *Engine) ListDocuments(ctx context.Context) ([]*store.Document, error) {
	return e.store.ListDocuments(ctx)
}

// DocumentView is a document with its chunk mappings.
type DocumentView struct {
	Document *store.Document
	Chunks   []store.DocumentChunk
}

// ShowDocument returns a document and its segment map.
func (e *Engine) ShowDocument(ctx context.Context, documentID string) (*DocumentView, error) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	chunks, err := e.store.GetDocumentChunks(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	return &DocumentView{Document: doc, Chunks: chunks}, nil
}

// DeleteDocument removes a document, its chunks, and its nodes.
func (e *Engine) DeleteDocument(ctx context.Context, documentID string) error {
	return e.docs.Delete(ctx, documentID)
}

// DocumentStats summarizes the document table.
type DocumentStats struct {
	Documents   int64
	ChunkNodes  int64
	MaxVersion  int
	TotalBytes  int
}

// DocumentStatsReport aggregates size and version numbers over every
// document.
func (e *Engine) DocumentStatsReport(ctx context.Context) (*DocumentStats, error) {
	documents, err := e.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	chunkNodes, err := e.store.ListNodes(ctx, store.NodeFilter{OnlyChunks: true, IncludeChunks: true})
	if err != nil {
		return nil, err
	}

	stats := &DocumentStats{
		Documents:  int64(len(documents)),
		ChunkNodes: int64(len(chunkNodes)),
	}
	for _, doc := range documents {
		if doc.Version > stats.MaxVersion {
			stats.MaxVersion = doc.Version
		}
		stats.TotalBytes += len(doc.Body)
	}
	return stats, nil
}

// RenderEditBuffer returns the segment-marked buffer for a document.
func (e *Engine) RenderEditBuffer(ctx context.Context, documentID string) (string, error) {
	return e.docs.RenderEditBuffer(ctx, documentID)
}

// ApplyEditBuffer parses an edited buffer back into a document.
func (e *Engine) ApplyEditBuffer(ctx context.Context, documentID, buffer string) (*docs.EditResult, error) {
	return e.docs.ApplyBuffer(ctx, documentID, buffer)
}

// ApplyEditFile reads an edited buffer from a file and applies it.
func (e *Engine) ApplyEditFile(ctx context.Context, documentID, path string) (*docs.EditResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return e.docs.ApplyBuffer(ctx, documentID, string(data))
}

// EditDocument drives the external editor collaborator: render, block until
// the user closes the editor, apply.
func (e *Engine) EditDocument(ctx context.Context, documentID string, host EditorHost) (*docs.EditResult, error) {
	buffer, err := e.docs.RenderEditBuffer(ctx, documentID)
	if err != nil {
		return nil, err
	}
	edited, err := host.Edit(ctx, []byte(buffer))
	if err != nil {
		return nil, err
	}
	return e.docs.ApplyBuffer(ctx, documentID, string(edited))
}

// DocumentForChunk returns the document a chunk node belongs to, or nil
// when the node is not a chunk.
func (e *Engine) DocumentForChunk(ctx context.Context, ref string) (*store.Document, error) {
	node, err := e.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !node.IsChunk || node.ParentDocumentID == "" {
		return nil, nil
	}
	return e.store.GetDocument(ctx, node.ParentDocumentID)
}
