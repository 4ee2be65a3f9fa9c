// Package store persists position estimates to SQLite for offline
// analysis. Every process run is tagged with a fresh run identifier so
// estimate batches from different service restarts stay separable.
package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/indoor-data/personnelloc/internal/rakf"
)

// Store wraps the estimates database.
type Store struct {
	db    *sql.DB
	runID string
}

// Open opens (creating if needed) the estimates database at path. Use
// ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS estimates (
			run_id TEXT NOT NULL,
			personnel_id TEXT NOT NULL,
			ts_ms INTEGER NOT NULL,
			dimension INTEGER NOT NULL,
			x DOUBLE NOT NULL,
			y DOUBLE NOT NULL,
			z DOUBLE NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_estimates_personnel_ts
			ON estimates (personnel_id, ts_ms);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create estimates schema: %w", err)
	}

	return &Store{db: db, runID: uuid.New().String()}, nil
}

// RunID returns the identifier tagged onto every estimate of this run.
func (s *Store) RunID() string { return s.runID }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// RecordEstimate inserts one estimate.
func (s *Store) RecordEstimate(est rakf.Estimate) error {
	var x, y, z float64
	if est.Dimension > 0 {
		x = est.Position[0]
	}
	if est.Dimension > 1 {
		y = est.Position[1]
	}
	if est.Dimension > 2 {
		z = est.Position[2]
	}
	_, err := s.db.Exec(
		"INSERT INTO estimates (run_id, personnel_id, ts_ms, dimension, x, y, z) VALUES (?, ?, ?, ?, ?, ?, ?)",
		s.runID, est.PersonnelID, est.TimestampMS, est.Dimension, x, y, z,
	)
	if err != nil {
		return fmt.Errorf("insert estimate: %w", err)
	}
	return nil
}

// Estimates returns up to limit estimates for one person in this run,
// oldest first.
func (s *Store) Estimates(personnelID string, limit int) ([]rakf.Estimate, error) {
	rows, err := s.db.Query(
		"SELECT personnel_id, ts_ms, dimension, x, y, z FROM estimates WHERE run_id = ? AND personnel_id = ? ORDER BY ts_ms ASC LIMIT ?",
		s.runID, personnelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query estimates: %w", err)
	}
	defer rows.Close()

	var out []rakf.Estimate
	for rows.Next() {
		var est rakf.Estimate
		var x, y, z float64
		if err := rows.Scan(&est.PersonnelID, &est.TimestampMS, &est.Dimension, &x, &y, &z); err != nil {
			return nil, fmt.Errorf("scan estimate: %w", err)
		}
		est.Position = append(est.Position, x)
		if est.Dimension > 1 {
			est.Position = append(est.Position, y)
		}
		if est.Dimension > 2 {
			est.Position = append(est.Position, z)
		}
		out = append(out, est)
	}
	return out, rows.Err()
}
