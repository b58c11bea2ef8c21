package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertDocument persists a canonical document row.
func (s *Store) InsertDocument(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}

	metaJSON, err := marshalJSON(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal document metadata: %w", err)
	}

	_, err = s.exec(ctx, `
		INSERT INTO documents (id, title, body, metadata, version, root_node_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Body, metaJSON, doc.Version,
		nullable(doc.RootNodeID), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", classifyExecError(err))
	}
	return nil
}

// UpdateDocument rewrites a document's canonical body, metadata, and version.
func (s *Store) UpdateDocument(ctx context.Context, doc *Document) error {
	metaJSON, err := marshalJSON(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal document metadata: %w", err)
	}
	doc.UpdatedAt = time.Now().UTC()

	res, err := s.exec(ctx, `
		UPDATE documents SET title = ?, body = ?, metadata = ?, version = ?, root_node_id = ?, updated_at = ?
		WHERE id = ?`,
		doc.Title, doc.Body, metaJSON, doc.Version, nullable(doc.RootNodeID), doc.UpdatedAt, doc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", classifyExecError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", doc.ID, ErrDocumentNotFound)
	}
	return nil
}

// GetDocument retrieves a document by exact id.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.queryRow(ctx, `
		SELECT id, title, body, metadata, version, root_node_id, created_at, updated_at
		FROM documents WHERE id = ?`, id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns all documents, most recently updated first.
func (s *Store) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.query(ctx, `
		SELECT id, title, body, metadata, version, root_node_id, created_at, updated_at
		FROM documents ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes a document and its chunk mappings. Chunk nodes are
// deleted by the caller (the engine), which owns the cascade ordering.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrDocumentNotFound)
	}
	return nil
}

// DocumentCount returns the total number of documents.
func (s *Store) DocumentCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// ReplaceDocumentChunks rewrites the chunk mapping rows for one document.
func (s *Store) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []DocumentChunk) error {
	if err := s.BeginBatch(); err != nil {
		return err
	}

	var failed error
	if _, err := s.exec(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID); err != nil {
		failed = fmt.Errorf("failed to clear document chunks: %w", err)
	}
	if failed == nil {
		for _, c := range chunks {
			if _, err := s.exec(ctx, `
				INSERT INTO document_chunks
					(document_id, segment_id, node_id, byte_offset, byte_length, chunk_order, checksum)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				documentID, c.SegmentID, c.NodeID, c.Offset, c.Length, c.ChunkOrder, c.Checksum,
			); err != nil {
				failed = fmt.Errorf("failed to insert chunk %s: %w", c.SegmentID, classifyExecError(err))
				break
			}
		}
	}
	if failed != nil {
		s.FailBatch(failed)
	}
	if err := s.EndBatch(); err != nil {
		return err
	}
	return failed
}

// GetDocumentChunks returns a document's chunk mappings in chunk order.
func (s *Store) GetDocumentChunks(ctx context.Context, documentID string) ([]DocumentChunk, error) {
	rows, err := s.query(ctx, `
		SELECT document_id, segment_id, node_id, byte_offset, byte_length, chunk_order, checksum
		FROM document_chunks WHERE document_id = ? ORDER BY chunk_order`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document chunks: %w", err)
	}
	defer rows.Close()

	var chunks []DocumentChunk
	for rows.Next() {
		var c DocumentChunk
		if err := rows.Scan(&c.DocumentID, &c.SegmentID, &c.NodeID,
			&c.Offset, &c.Length, &c.ChunkOrder, &c.Checksum); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}
	return chunks, nil
}

// GetChunkByNodeID returns the chunk mapping that points at a node, or nil.
func (s *Store) GetChunkByNodeID(ctx context.Context, nodeID string) (*DocumentChunk, error) {
	var c DocumentChunk
	err := s.queryRow(ctx, `
		SELECT document_id, segment_id, node_id, byte_offset, byte_length, chunk_order, checksum
		FROM document_chunks WHERE node_id = ?`, nodeID).Scan(
		&c.DocumentID, &c.SegmentID, &c.NodeID, &c.Offset, &c.Length, &c.ChunkOrder, &c.Checksum)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk for node %s: %w", nodeID, err)
	}
	return &c, nil
}

// OrphanChunkParentIDs lists parent document ids referenced by chunk nodes
// that have no corresponding Document row. Input to canonical backfill.
func (s *Store) OrphanChunkParentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `
		SELECT DISTINCT parent_document_id FROM nodes
		WHERE is_chunk = 1 AND parent_document_id IS NOT NULL
		  AND parent_document_id NOT IN (SELECT id FROM documents)
		ORDER BY parent_document_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to find orphan chunks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan parent id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating parent ids: %w", err)
	}
	return ids, nil
}

// ChunkNodesForDocument returns a document's chunk nodes ordered by
// chunkOrder, straight from the node table. Used by backfill, which cannot
// rely on the chunk mapping rows existing yet.
func (s *Store) ChunkNodesForDocument(ctx context.Context, documentID string) ([]*Node, error) {
	rows, err := s.query(ctx, `
		SELECT `+nodeColumns+` FROM nodes
		WHERE parent_document_id = ? AND is_chunk = 1
		ORDER BY chunk_order, id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

func scanDocument(sc scanner) (*Document, error) {
	var doc Document
	var metaJSON []byte
	var root sql.NullString

	err := sc.Scan(&doc.ID, &doc.Title, &doc.Body, &metaJSON, &doc.Version,
		&root, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Metadata = unmarshalMeta(metaJSON)
	if root.Valid {
		doc.RootNodeID = root.String
	}
	return &doc, nil
}
