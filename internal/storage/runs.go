package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const runColumns = `id, kind, created_at, source, lines_scanned, rows_accepted, parse_errors,
	validation_errors, artifact_key, report_json, status, error`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// SaveRun inserts or replaces a run record.
func (s *Store) SaveRun(r Run) error {
	return saveRun(s.db, r)
}

func saveRun(ex execer, r Run) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = RunCompleted
	}
	if r.ReportJSON == "" {
		r.ReportJSON = "{}"
	}
	_, err := ex.Exec(`INSERT OR REPLACE INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, timestamp(r.CreatedAt), r.Source, r.LinesScanned, r.RowsAccepted,
		r.ParseErrors, r.ValidationErrors, r.ArtifactKey, r.ReportJSON, r.Status, r.Error,
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun returns the run with the given id or ErrNotFound.
func (s *Store) GetRun(id string) (Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

// ListRuns returns the most recent runs first. An empty kind matches all runs.
func (s *Store) ListRuns(kind string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs
		WHERE (? = '' OR kind = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestRun returns the newest completed run of the given kind or ErrNotFound.
func (s *Store) LatestRun(kind string) (Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs
		WHERE kind = ? AND status = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, kind, RunCompleted))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var createdAt string
	err := row.Scan(&r.ID, &r.Kind, &createdAt, &r.Source, &r.LinesScanned, &r.RowsAccepted,
		&r.ParseErrors, &r.ValidationErrors, &r.ArtifactKey, &r.ReportJSON, &r.Status, &r.Error)
	if err != nil {
		return Run{}, err
	}
	if r.CreatedAt, err = parseTimestamp("created_at", r.ID, createdAt); err != nil {
		return Run{}, err
	}
	return r, nil
}
