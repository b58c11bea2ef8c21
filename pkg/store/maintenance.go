package store

import (
	"context"
	"fmt"
)

// maxOffenderSample caps the offender list in a degree repair report.
const maxOffenderSample = 10

// RebuildAcceptedDegreeCounters scans the edge table, recomputes every
// node's acceptedDegree, and returns a before/after consistency report.
func (s *Store) RebuildAcceptedDegreeCounters(ctx context.Context) (*DegreeRepairReport, error) {
	report, err := s.degreeReport(ctx)
	if err != nil {
		return nil, err
	}
	if report.MismatchedNodes == 0 {
		return report, nil
	}

	if err := s.BeginBatch(); err != nil {
		return nil, err
	}
	_, err = s.exec(ctx, `
		UPDATE nodes SET accepted_degree = (
			SELECT COUNT(*) FROM edges
			WHERE edges.source_id = nodes.id OR edges.target_id = nodes.id
		)`)
	if err != nil {
		s.FailBatch(err)
		_ = s.EndBatch()
		return nil, fmt.Errorf("failed to rebuild degree counters: %w", err)
	}
	if err := s.EndBatch(); err != nil {
		return nil, err
	}

	report.Repaired = true
	return report, nil
}

// DegreeReport compares stored counters with the true degrees without
// repairing anything.
func (s *Store) DegreeReport(ctx context.Context) (*DegreeRepairReport, error) {
	return s.degreeReport(ctx)
}

func (s *Store) degreeReport(ctx context.Context) (*DegreeRepairReport, error) {
	rows, err := s.query(ctx, `
		SELECT n.id, n.accepted_degree,
			(SELECT COUNT(*) FROM edges e WHERE e.source_id = n.id OR e.target_id = n.id) AS actual
		FROM nodes n`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan degrees: %w", err)
	}
	defer rows.Close()

	report := &DegreeRepairReport{}
	for rows.Next() {
		var id string
		var stored, actual int
		if err := rows.Scan(&id, &stored, &actual); err != nil {
			return nil, fmt.Errorf("failed to scan degree row: %w", err)
		}
		report.NodesScanned++
		if stored == actual {
			continue
		}
		report.MismatchedNodes++
		delta := stored - actual
		if delta < 0 {
			delta = -delta
		}
		if delta > report.MaxDelta {
			report.MaxDelta = delta
		}
		if len(report.Offenders) < maxOffenderSample {
			report.Offenders = append(report.Offenders, DegreeOffender{
				NodeID: id,
				Stored: stored,
				Actual: actual,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating degree rows: %w", err)
	}
	return report, nil
}

// DeleteSelfLoopEdges removes any edge whose endpoints coincide. One-shot
// repair; healthy stores contain none.
func (s *Store) DeleteSelfLoopEdges(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM edges WHERE source_id = target_id`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete self-loop edges: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
