package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SetMeta writes an engine-managed key/value pair.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, `
		INSERT INTO kv_metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata %q: %w", key, err)
	}
	return nil
}

// GetMeta reads an engine-managed key. Returns ("", false) when absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.queryRow(ctx, `SELECT value FROM kv_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get metadata %q: %w", key, err)
	}
	return value, true, nil
}

// SchemaVersion returns the stored schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return s.storedSchemaVersion()
}

// WriteSnapshot records point-in-time counts for the temporal surface.
func (s *Store) WriteSnapshot(ctx context.Context) (*Snapshot, error) {
	nodes, err := s.NodeCount(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := s.EdgeCount(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := s.DocumentCount(ctx)
	if err != nil {
		return nil, err
	}
	tags, err := s.TagCount(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:            uuid.New().String(),
		NodeCount:     nodes,
		EdgeCount:     edges,
		DocumentCount: docs,
		TagCount:      tags,
		CreatedAt:     time.Now().UTC(),
	}
	_, err = s.exec(ctx, `
		INSERT INTO snapshots (id, node_count, edge_count, document_count, tag_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.NodeCount, snap.EdgeCount, snap.DocumentCount, snap.TagCount, snap.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns snapshots taken since the cutoff, oldest first.
// A zero cutoff returns everything.
func (s *Store) ListSnapshots(ctx context.Context, since time.Time) ([]*Snapshot, error) {
	query := `SELECT id, node_count, edge_count, document_count, tag_count, created_at FROM snapshots`
	var args []any
	if !since.IsZero() {
		query += ` WHERE created_at >= ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.NodeCount, &snap.EdgeCount,
			&snap.DocumentCount, &snap.TagCount, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snaps, nil
}

// GetSnapshot retrieves one snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	var snap Snapshot
	err := s.queryRow(ctx, `
		SELECT id, node_count, edge_count, document_count, tag_count, created_at
		FROM snapshots WHERE id = ?`, id).Scan(
		&snap.ID, &snap.NodeCount, &snap.EdgeCount, &snap.DocumentCount, &snap.TagCount, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &snap, nil
}
