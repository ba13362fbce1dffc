// Package runstore keeps the run journal: one row per finished run plus
// its per-cell failures. The journal is history for the CLI and the web
// API; restart safety comes from the sheet's own status cells, never
// from here.
package runstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the journal at the given path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts a finished run and its failures in one transaction
func (s *Store) SaveRun(ctx context.Context, result *domain.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, sheet_ref, processed, succeeded, skipped, success, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.ID,
		result.SheetRef,
		result.Processed,
		result.Succeeded,
		result.Skipped,
		result.Success,
		result.StartedAt,
		result.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", result.ID, err)
	}

	for _, f := range result.Failures {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cell_failures (run_id, cell, kind, message)
			VALUES (?, ?, ?, ?)
		`, result.ID, f.Ref.String(), f.Kind, f.Message)
		if err != nil {
			return fmt.Errorf("insert failure %s/%s: %w", result.ID, f.Ref, err)
		}
	}

	return tx.Commit()
}

// Run is a journal entry. Failures carry the cell in A1 form because the
// original coordinates are not needed for history listings.
type Run struct {
	ID         string          `json:"id"`
	SheetRef   string          `json:"sheet_ref"`
	Processed  int             `json:"processed"`
	Succeeded  int             `json:"succeeded"`
	Skipped    int             `json:"skipped"`
	Success    bool            `json:"success"`
	StartedAt  sql.NullTime    `json:"started_at"`
	FinishedAt sql.NullTime    `json:"finished_at"`
	Failures   []FailureRecord `json:"failures,omitempty"`
}

// FailureRecord is one journaled cell failure
type FailureRecord struct {
	Cell    string `json:"cell"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// GetRun retrieves one run with its failures
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sheet_ref, processed, succeeded, skipped, success, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)

	var run Run
	err := row.Scan(&run.ID, &run.SheetRef, &run.Processed, &run.Succeeded,
		&run.Skipped, &run.Success, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT cell, kind, message FROM cell_failures WHERE run_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var f FailureRecord
		if err := rows.Scan(&f.Cell, &f.Kind, &f.Message); err != nil {
			return nil, err
		}
		run.Failures = append(run.Failures, f)
	}
	return &run, rows.Err()
}

// ListOptions filters run listings
type ListOptions struct {
	SheetRef string
	Limit    int
}

// ListRuns returns runs newest first, without their failure details
func (s *Store) ListRuns(ctx context.Context, opts ListOptions) ([]*Run, error) {
	query := `SELECT id, sheet_ref, processed, succeeded, skipped, success, started_at, finished_at FROM runs WHERE 1=1`
	var args []interface{}

	if opts.SheetRef != "" {
		query += " AND sheet_ref = ?"
		args = append(args, opts.SheetRef)
	}
	query += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		err := rows.Scan(&run.ID, &run.SheetRef, &run.Processed, &run.Succeeded,
			&run.Skipped, &run.Success, &run.StartedAt, &run.FinishedAt)
		if err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
