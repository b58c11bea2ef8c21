package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const nodeColumns = `id, title, body, tags, token_counts, embedding, parent_document_id,
	is_chunk, chunk_order, accepted_degree, approx_scored, created_at, updated_at, metadata`

// InsertNode persists a new node and mirrors its tags into the node-tag
// index. A missing ID is generated; timestamps default to now.
func (s *Store) InsertNode(ctx context.Context, node *Node) error {
	if node.ID == "" {
		node.ID = uuid.New().String()
	}
	if strings.TrimSpace(node.Title) == "" {
		return fmt.Errorf("node title cannot be empty: %w", ErrConflict)
	}
	if node.IsChunk && node.ParentDocumentID == "" {
		return fmt.Errorf("chunk node %s has no parent document: %w", node.ID, ErrConflict)
	}
	now := time.Now().UTC()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	if node.UpdatedAt.IsZero() {
		node.UpdatedAt = node.CreatedAt
	}
	node.Tags = normalizeTags(node.Tags)

	tagsJSON, err := marshalStrings(node.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	countsJSON, err := marshalJSON(node.TokenCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal token counts: %w", err)
	}
	metaJSON, err := marshalJSON(node.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := s.BeginBatch(); err != nil {
		return err
	}

	_, err = s.exec(ctx, `
		INSERT INTO nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID, node.Title, node.Body, tagsJSON, countsJSON,
		serializeEmbedding(node.Embedding), nullable(node.ParentDocumentID),
		boolInt(node.IsChunk), node.ChunkOrder, node.AcceptedDegree,
		boolInt(node.ApproxScored), node.CreatedAt, node.UpdatedAt, metaJSON,
	)
	if err != nil {
		s.FailBatch(classifyExecError(err))
		_ = s.EndBatch()
		return fmt.Errorf("failed to insert node: %w", classifyExecError(err))
	}

	if err := s.syncNodeTags(ctx, node.ID, node.Tags); err != nil {
		s.FailBatch(err)
		_ = s.EndBatch()
		return err
	}

	return s.EndBatch()
}

// UpdateNode applies a partial update. Nil patch fields are left untouched;
// tags are re-mirrored into the node-tag index when they change.
func (s *Store) UpdateNode(ctx context.Context, id string, patch NodePatch) error {
	node, err := s.GetNode(ctx, id)
	if err != nil {
		return err
	}

	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return fmt.Errorf("node title cannot be empty: %w", ErrConflict)
		}
		node.Title = *patch.Title
	}
	if patch.Body != nil {
		node.Body = *patch.Body
	}
	tagsChanged := false
	if patch.Tags != nil {
		node.Tags = normalizeTags(*patch.Tags)
		tagsChanged = true
	}
	if patch.TokenCounts != nil {
		node.TokenCounts = *patch.TokenCounts
	}
	if patch.Embedding != nil {
		node.Embedding = *patch.Embedding
	}
	if patch.ChunkOrder != nil {
		node.ChunkOrder = *patch.ChunkOrder
	}
	if patch.ApproxScored != nil {
		node.ApproxScored = *patch.ApproxScored
	}
	if patch.Metadata != nil {
		node.Metadata = *patch.Metadata
	}
	node.UpdatedAt = time.Now().UTC()

	tagsJSON, err := marshalStrings(node.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	countsJSON, err := marshalJSON(node.TokenCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal token counts: %w", err)
	}
	metaJSON, err := marshalJSON(node.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := s.BeginBatch(); err != nil {
		return err
	}

	res, err := s.exec(ctx, `
		UPDATE nodes SET title = ?, body = ?, tags = ?, token_counts = ?, embedding = ?,
			chunk_order = ?, approx_scored = ?, updated_at = ?, metadata = ?
		WHERE id = ?`,
		node.Title, node.Body, tagsJSON, countsJSON, serializeEmbedding(node.Embedding),
		node.ChunkOrder, boolInt(node.ApproxScored), node.UpdatedAt, metaJSON, id,
	)
	if err != nil {
		s.FailBatch(err)
		_ = s.EndBatch()
		return fmt.Errorf("failed to update node: %w", classifyExecError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err := fmt.Errorf("node %s: %w", id, ErrNodeNotFound)
		s.FailBatch(err)
		_ = s.EndBatch()
		return err
	}

	if tagsChanged {
		if err := s.syncNodeTags(ctx, id, node.Tags); err != nil {
			s.FailBatch(err)
			_ = s.EndBatch()
			return err
		}
	}

	return s.EndBatch()
}

// DeleteNode removes a node, every edge touching it, and decrements the
// acceptedDegree counters of its peers, all within one batch.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	if err := s.BeginBatch(); err != nil {
		return err
	}

	err := s.deleteNodeLocked(ctx, id)
	if err != nil {
		s.FailBatch(err)
	}
	if endErr := s.EndBatch(); endErr != nil {
		return endErr
	}
	return err
}

func (s *Store) deleteNodeLocked(ctx context.Context, id string) error {
	edges, err := s.ListEdges(ctx, EdgeFilter{NodeID: id})
	if err != nil {
		return err
	}

	for _, e := range edges {
		peer := e.SourceID
		if peer == id {
			peer = e.TargetID
		}
		if _, err := s.exec(ctx,
			`UPDATE nodes SET accepted_degree = MAX(accepted_degree - 1, 0) WHERE id = ?`, peer); err != nil {
			return fmt.Errorf("failed to decrement degree for %s: %w", peer, err)
		}
	}

	if _, err := s.exec(ctx, `DELETE FROM edges WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
		return fmt.Errorf("failed to delete edges for node %s: %w", id, err)
	}

	res, err := s.exec(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("node %s: %w", id, ErrNodeNotFound)
	}
	return nil
}

// GetNode retrieves a node by its exact ID.
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	row := s.queryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("node %s: %w", id, ErrNodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return node, nil
}

// GetNodesByIDs bulk-fetches nodes. Missing ids are silently omitted.
func (s *Store) GetNodesByIDs(ctx context.Context, ids []string) ([]*Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.query(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// FindNodesByIDPrefix returns every node whose id begins with the given hex
// prefix. Dashes in the prefix are ignored.
func (s *Store) FindNodesByIDPrefix(ctx context.Context, prefix string) ([]*Node, error) {
	bare := strings.ReplaceAll(strings.ToLower(prefix), "-", "")
	if bare == "" {
		return nil, nil
	}
	// Compare against the dash-stripped id so any hex prefix matches the
	// canonical dashed rendering.
	rows, err := s.query(ctx, `
		SELECT `+nodeColumns+` FROM nodes
		WHERE REPLACE(id, '-', '') LIKE ? ESCAPE '\'
		ORDER BY id`, escapeLike(bare)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to search by id prefix: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// ListNodes returns nodes matching the filter, ordered by updatedAt
// descending unless the filter says otherwise.
func (s *Store) ListNodes(ctx context.Context, filter NodeFilter) ([]*Node, error) {
	var where []string
	var args []any

	if len(filter.Tags) > 0 {
		placeholders := make([]string, len(filter.Tags))
		for i, t := range filter.Tags {
			placeholders[i] = "?"
			args = append(args, strings.ToLower(t))
		}
		where = append(where,
			`id IN (SELECT node_id FROM node_tags WHERE tag IN (`+strings.Join(placeholders, ",")+`))`)
	}
	if !filter.Since.IsZero() {
		where = append(where, `updated_at >= ?`)
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		where = append(where, `updated_at <= ?`)
		args = append(args, filter.Until.UTC())
	}
	if filter.OnlyChunks {
		where = append(where, `is_chunk = 1`)
	} else if !filter.IncludeChunks {
		where = append(where, `is_chunk = 0`)
	}
	if filter.HasEmbedding {
		where = append(where, `embedding IS NOT NULL`)
	}

	query := `SELECT ` + nodeColumns + ` FROM nodes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	switch filter.OrderBy {
	case OrderCreatedDesc:
		query += ` ORDER BY created_at DESC, id`
	case OrderDegreeDesc:
		query += ` ORDER BY accepted_degree DESC, updated_at DESC, id`
	default:
		query += ` ORDER BY updated_at DESC, id`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// NodeCount returns the total number of nodes.
func (s *Store) NodeCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return count, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanNode(sc scanner) (*Node, error) {
	var node Node
	var tagsJSON, countsJSON, metaJSON, embedding []byte
	var parent sql.NullString
	var isChunk, approx int

	err := sc.Scan(
		&node.ID, &node.Title, &node.Body, &tagsJSON, &countsJSON, &embedding,
		&parent, &isChunk, &node.ChunkOrder, &node.AcceptedDegree, &approx,
		&node.CreatedAt, &node.UpdatedAt, &metaJSON,
	)
	if err != nil {
		return nil, err
	}

	node.Tags = unmarshalStrings(tagsJSON)
	if node.Tags == nil {
		node.Tags = []string{}
	}
	node.TokenCounts = unmarshalCounts(countsJSON)
	node.Embedding = deserializeEmbedding(embedding)
	node.Metadata = unmarshalMeta(metaJSON)
	if parent.Valid {
		node.ParentDocumentID = parent.String
	}
	node.IsChunk = isChunk != 0
	node.ApproxScored = approx != 0
	return &node, nil
}

func scanNodes(rows *sql.Rows) ([]*Node, error) {
	var nodes []*Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}
	return nodes, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

// classifyExecError maps driver constraint failures onto ErrConflict so the
// facade can classify them without string matching.
func classifyExecError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "constraint") || strings.Contains(msg, "unique") {
		return fmt.Errorf("%v: %w", err, ErrConflict)
	}
	return err
}
