package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LogEdgeEvent appends one edge status transition to the history.
func (s *Store) LogEdgeEvent(ctx context.Context, event *EdgeEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.SourceID, event.TargetID = NormalizeEdgePair(event.SourceID, event.TargetID)

	payloadJSON, err := marshalJSON(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	_, err = s.exec(ctx, `
		INSERT INTO edge_events (id, edge_id, source_id, target_id, prev_status, next_status, payload, created_at, undone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.EdgeID, event.SourceID, event.TargetID,
		event.PrevStatus, event.NextStatus, payloadJSON, event.CreatedAt, boolInt(event.Undone),
	)
	if err != nil {
		return fmt.Errorf("failed to log edge event: %w", err)
	}
	return nil
}

// GetLastEdgeEventForPair returns the most recent non-undone event for an
// unordered pair. Undo is strict LIFO per pair.
func (s *Store) GetLastEdgeEventForPair(ctx context.Context, a, b string) (*EdgeEvent, error) {
	src, dst := NormalizeEdgePair(a, b)

	row := s.queryRow(ctx, `
		SELECT id, edge_id, source_id, target_id, prev_status, next_status, payload, created_at, undone
		FROM edge_events
		WHERE source_id = ? AND target_id = ? AND undone = 0
		ORDER BY created_at DESC, id DESC LIMIT 1`, src, dst)

	event, err := scanEdgeEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pair %s-%s: %w", src, dst, ErrEventNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get edge event: %w", err)
	}
	return event, nil
}

// MarkEdgeEventUndone flags an event as undone.
func (s *Store) MarkEdgeEventUndone(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `UPDATE edge_events SET undone = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark event undone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s: %w", id, ErrEventNotFound)
	}
	return nil
}

// ListEdgeEvents returns a pair's event history, oldest first.
func (s *Store) ListEdgeEvents(ctx context.Context, a, b string) ([]*EdgeEvent, error) {
	src, dst := NormalizeEdgePair(a, b)

	rows, err := s.query(ctx, `
		SELECT id, edge_id, source_id, target_id, prev_status, next_status, payload, created_at, undone
		FROM edge_events
		WHERE source_id = ? AND target_id = ?
		ORDER BY created_at, id`, src, dst)
	if err != nil {
		return nil, fmt.Errorf("failed to list edge events: %w", err)
	}
	defer rows.Close()

	var events []*EdgeEvent
	for rows.Next() {
		event, err := scanEdgeEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edge event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edge events: %w", err)
	}
	return events, nil
}

func scanEdgeEvent(sc scanner) (*EdgeEvent, error) {
	var event EdgeEvent
	var payloadJSON []byte
	var undone int

	err := sc.Scan(&event.ID, &event.EdgeID, &event.SourceID, &event.TargetID,
		&event.PrevStatus, &event.NextStatus, &payloadJSON, &event.CreatedAt, &undone)
	if err != nil {
		return nil, err
	}
	event.Payload = unmarshalMeta(payloadJSON)
	event.Undone = undone != 0
	return &event, nil
}
