package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const edgeColumns = `id, source_id, target_id, score, semantic_score, tag_score,
	shared_tags, edge_type, status, metadata, created_at, updated_at`

// NormalizeEdgePair orders a pair of node ids lexicographically. Every stored
// edge satisfies sourceId < targetId.
func NormalizeEdgePair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// UpsertEdge inserts or updates the edge between the pair, normalizing
// endpoint order, refusing self-loops, and keeping the endpoints'
// acceptedDegree counters in step with the edge row.
func (s *Store) UpsertEdge(ctx context.Context, edge *Edge) error {
	if edge.SourceID == edge.TargetID {
		return fmt.Errorf("edge %s-%s: %w", edge.SourceID, edge.TargetID, ErrSelfLoop)
	}
	edge.SourceID, edge.TargetID = NormalizeEdgePair(edge.SourceID, edge.TargetID)
	if edge.EdgeType == "" {
		edge.EdgeType = EdgeTypeSemantic
	}
	edge.Status = StatusAccepted
	edge.SharedTags = normalizeTags(edge.SharedTags)

	now := time.Now().UTC()
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = now
	}
	edge.UpdatedAt = now

	sharedJSON, err := marshalStrings(edge.SharedTags)
	if err != nil {
		return fmt.Errorf("failed to marshal shared tags: %w", err)
	}
	metaJSON, err := marshalJSON(edge.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := s.BeginBatch(); err != nil {
		return err
	}

	existing, err := s.getEdgeBetweenTx(ctx, edge.SourceID, edge.TargetID)
	if err != nil && err != sql.ErrNoRows {
		s.FailBatch(err)
		_ = s.EndBatch()
		return fmt.Errorf("failed to check existing edge: %w", err)
	}

	if existing == nil {
		_, err = s.exec(ctx, `
			INSERT INTO edges (`+edgeColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			edge.ID, edge.SourceID, edge.TargetID, edge.Score,
			nullFloat(edge.SemanticScore), nullFloat(edge.TagScore), sharedJSON,
			edge.EdgeType, edge.Status, metaJSON, edge.CreatedAt, edge.UpdatedAt,
		)
		if err != nil {
			s.FailBatch(err)
			_ = s.EndBatch()
			return fmt.Errorf("failed to insert edge: %w", classifyExecError(err))
		}
		for _, id := range []string{edge.SourceID, edge.TargetID} {
			if _, err := s.exec(ctx,
				`UPDATE nodes SET accepted_degree = accepted_degree + 1 WHERE id = ?`, id); err != nil {
				s.FailBatch(err)
				_ = s.EndBatch()
				return fmt.Errorf("failed to increment degree for %s: %w", id, err)
			}
		}
	} else {
		edge.ID = existing.ID
		edge.CreatedAt = existing.CreatedAt
		_, err = s.exec(ctx, `
			UPDATE edges SET score = ?, semantic_score = ?, tag_score = ?, shared_tags = ?,
				edge_type = ?, status = ?, metadata = ?, updated_at = ?
			WHERE id = ?`,
			edge.Score, nullFloat(edge.SemanticScore), nullFloat(edge.TagScore), sharedJSON,
			edge.EdgeType, edge.Status, metaJSON, edge.UpdatedAt, edge.ID,
		)
		if err != nil {
			s.FailBatch(err)
			_ = s.EndBatch()
			return fmt.Errorf("failed to update edge: %w", classifyExecError(err))
		}
	}

	return s.EndBatch()
}

// GetEdgeBetween retrieves the edge for an unordered pair.
func (s *Store) GetEdgeBetween(ctx context.Context, a, b string) (*Edge, error) {
	src, dst := NormalizeEdgePair(a, b)
	edge, err := s.getEdgeBetweenTx(ctx, src, dst)
	if err == sql.ErrNoRows || edge == nil {
		return nil, fmt.Errorf("edge %s-%s: %w", src, dst, ErrEdgeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get edge: %w", err)
	}
	return edge, nil
}

func (s *Store) getEdgeBetweenTx(ctx context.Context, src, dst string) (*Edge, error) {
	row := s.queryRow(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE source_id = ? AND target_id = ?`, src, dst)
	edge, err := scanEdge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return edge, err
}

// DeleteEdgeBetween removes the edge for an unordered pair and decrements
// both endpoints' degree counters. Deleting a missing edge is a no-op.
func (s *Store) DeleteEdgeBetween(ctx context.Context, a, b string) (bool, error) {
	src, dst := NormalizeEdgePair(a, b)

	if err := s.BeginBatch(); err != nil {
		return false, err
	}

	res, err := s.exec(ctx, `DELETE FROM edges WHERE source_id = ? AND target_id = ?`, src, dst)
	if err != nil {
		s.FailBatch(err)
		_ = s.EndBatch()
		return false, fmt.Errorf("failed to delete edge: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		for _, id := range []string{src, dst} {
			if _, err := s.exec(ctx,
				`UPDATE nodes SET accepted_degree = MAX(accepted_degree - 1, 0) WHERE id = ?`, id); err != nil {
				s.FailBatch(err)
				_ = s.EndBatch()
				return false, fmt.Errorf("failed to decrement degree for %s: %w", id, err)
			}
		}
	}

	if err := s.EndBatch(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListEdges returns edges matching the filter, highest score first.
func (s *Store) ListEdges(ctx context.Context, filter EdgeFilter) ([]*Edge, error) {
	var where []string
	var args []any

	if filter.NodeID != "" {
		where = append(where, `(source_id = ? OR target_id = ?)`)
		args = append(args, filter.NodeID, filter.NodeID)
	}
	if filter.EdgeType != "" {
		where = append(where, `edge_type = ?`)
		args = append(args, filter.EdgeType)
	}
	if filter.MinScore > 0 {
		where = append(where, `score >= ?`)
		args = append(args, filter.MinScore)
	}

	query := `SELECT ` + edgeColumns + ` FROM edges`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY score DESC, source_id, target_id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	var edges []*Edge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}
	return edges, nil
}

// EdgeCount returns the total number of edges.
func (s *Store) EdgeCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM edges`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count edges: %w", err)
	}
	return count, nil
}

func scanEdge(sc scanner) (*Edge, error) {
	var edge Edge
	var semantic, tag sql.NullFloat64
	var sharedJSON, metaJSON []byte

	err := sc.Scan(
		&edge.ID, &edge.SourceID, &edge.TargetID, &edge.Score, &semantic, &tag,
		&sharedJSON, &edge.EdgeType, &edge.Status, &metaJSON,
		&edge.CreatedAt, &edge.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if semantic.Valid {
		v := semantic.Float64
		edge.SemanticScore = &v
	}
	if tag.Valid {
		v := tag.Float64
		edge.TagScore = &v
	}
	edge.SharedTags = unmarshalStrings(sharedJSON)
	if edge.SharedTags == nil {
		edge.SharedTags = []string{}
	}
	edge.Metadata = unmarshalMeta(metaJSON)
	return &edge, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
