package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
)

// syncNodeTags rebuilds the node-tag index rows for one node. Runs inside
// the caller's batch.
func (s *Store) syncNodeTags(ctx context.Context, nodeID string, tags []string) error {
	if _, err := s.exec(ctx, `DELETE FROM node_tags WHERE node_id = ?`, nodeID); err != nil {
		return fmt.Errorf("failed to clear node tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := s.exec(ctx,
			`INSERT OR IGNORE INTO node_tags (node_id, tag) VALUES (?, ?)`, nodeID, tag); err != nil {
			return fmt.Errorf("failed to index tag %q: %w", tag, err)
		}
	}
	return nil
}

// NodeTagPair is one row of the node-tag index.
type NodeTagPair struct {
	NodeID string
	Tag    string
}

// BulkSyncNodeTags replaces the node-tag index rows for every node named in
// the pair set.
func (s *Store) BulkSyncNodeTags(ctx context.Context, pairs []NodeTagPair) error {
	if err := s.BeginBatch(); err != nil {
		return err
	}

	byNode := make(map[string][]string)
	for _, p := range pairs {
		byNode[p.NodeID] = append(byNode[p.NodeID], strings.ToLower(p.Tag))
	}

	var failed error
	for nodeID, tags := range byNode {
		if err := s.syncNodeTags(ctx, nodeID, normalizeTags(tags)); err != nil {
			failed = err
			break
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

// RebuildTagIDF recomputes the tag-IDF table from the node-tag index.
// idf = ln(totalNodes / docFrequency), with docFrequency floored at 1.
func (s *Store) RebuildTagIDF(ctx context.Context) error {
	total, err := s.NodeCount(ctx)
	if err != nil {
		return err
	}

	rows, err := s.query(ctx, `SELECT tag, COUNT(DISTINCT node_id) FROM node_tags GROUP BY tag`)
	if err != nil {
		return fmt.Errorf("failed to read tag frequencies: %w", err)
	}
	type freq struct {
		tag string
		df  int
	}
	var freqs []freq
	for rows.Next() {
		var f freq
		if err := rows.Scan(&f.tag, &f.df); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan tag frequency: %w", err)
		}
		freqs = append(freqs, f)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating tag frequencies: %w", err)
	}
	rows.Close()

	if err := s.BeginBatch(); err != nil {
		return err
	}
	var failed error
	if _, err := s.exec(ctx, `DELETE FROM tag_idf`); err != nil {
		failed = fmt.Errorf("failed to clear tag idf: %w", err)
	}
	if failed == nil {
		for _, f := range freqs {
			df := f.df
			if df < 1 {
				df = 1
			}
			idf := 0.0
			if total > 0 {
				idf = math.Log(float64(total) / float64(df))
			}
			if idf < 0 {
				idf = 0
			}
			if _, err := s.exec(ctx,
				`INSERT INTO tag_idf (tag, doc_frequency, idf) VALUES (?, ?, ?)`,
				f.tag, f.df, idf); err != nil {
				failed = fmt.Errorf("failed to write idf for %q: %w", f.tag, err)
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

// AllTagIDF returns the full tag-IDF table, sorted by tag.
func (s *Store) AllTagIDF(ctx context.Context) ([]TagIDF, error) {
	rows, err := s.query(ctx, `SELECT tag, doc_frequency, idf FROM tag_idf ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("failed to read tag idf: %w", err)
	}
	defer rows.Close()

	var out []TagIDF
	for rows.Next() {
		var row TagIDF
		if err := rows.Scan(&row.Tag, &row.DocFrequency, &row.IDF); err != nil {
			return nil, fmt.Errorf("failed to scan tag idf: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tag idf: %w", err)
	}
	return out, nil
}

// GetTagIDF returns one tag's IDF row, or (zero, false) when absent.
func (s *Store) GetTagIDF(ctx context.Context, tag string) (TagIDF, bool, error) {
	var row TagIDF
	err := s.queryRow(ctx,
		`SELECT tag, doc_frequency, idf FROM tag_idf WHERE tag = ?`,
		strings.ToLower(tag)).Scan(&row.Tag, &row.DocFrequency, &row.IDF)
	if err == sql.ErrNoRows {
		return TagIDF{}, false, nil
	}
	if err != nil {
		return TagIDF{}, false, fmt.Errorf("failed to get tag idf: %w", err)
	}
	return row, true, nil
}

// NodeIDsWithTag returns the ids of every node carrying the tag.
func (s *Store) NodeIDsWithTag(ctx context.Context, tag string) ([]string, error) {
	rows, err := s.query(ctx,
		`SELECT node_id FROM node_tags WHERE tag = ? ORDER BY node_id`, strings.ToLower(tag))
	if err != nil {
		return nil, fmt.Errorf("failed to query tag %q: %w", tag, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan node id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node ids: %w", err)
	}
	return ids, nil
}

// TagCount returns the number of distinct tags in the index.
func (s *Store) TagCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.queryRow(ctx, `SELECT COUNT(DISTINCT tag) FROM node_tags`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tags: %w", err)
	}
	return count, nil
}
