package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/railguard/internal/apperr"
	"github.com/starford/railguard/internal/pipeline"
	"github.com/starford/railguard/internal/writer"
)

// Store defines the ledger operations consumers depend on.
type Store interface {
	RecordRun(ctx context.Context, res *pipeline.Result) error
	ListRuns(ctx context.Context, limit, offset int) ([]RunRow, int, error)
	GetRun(ctx context.Context, id string) (*RunDetail, error)
}

var (
	_ Store           = (*DB)(nil)
	_ pipeline.Ledger = (*DB)(nil)
)

// RunRow is one row of the runs table with aggregate counts.
type RunRow struct {
	ID         string    `json:"id"`
	Root       string    `json:"root"`
	Output     string    `json:"output,omitempty"`
	DryRun     bool      `json:"dry_run"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Passes     int       `json:"passes"`
	Classes    int       `json:"classes"`
	Writes     int       `json:"writes"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Class is one persistence class recorded for a run.
type Class struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
}

// RunDetail is a run with its classes and writes.
type RunDetail struct {
	RunRow
	ClassList []Class        `json:"class_list"`
	WriteList []writer.Write `json:"write_list"`
}

// RecordRun stores a run result, replacing any earlier record with the same
// id, within a transaction.
func (db *DB) RecordRun(ctx context.Context, res *pipeline.Result) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	passes := 0
	if res.Classes != nil {
		passes = res.Classes.Passes
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, root, output, dry_run, status, error, passes, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status      = excluded.status,
			error       = excluded.error,
			passes      = excluded.passes,
			finished_at = excluded.finished_at
	`, res.RunID, res.Root, res.Output, res.DryRun, string(res.Status), res.Error, passes,
		res.StartedAt.UTC(), res.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("ledger: upsert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_classes WHERE run_id = ?`, res.RunID); err != nil {
		return fmt.Errorf("ledger: clear classes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_writes WHERE run_id = ?`, res.RunID); err != nil {
		return fmt.Errorf("ledger: clear writes: %w", err)
	}

	if res.Classes != nil && len(res.Classes.Names) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_classes (run_id, position, identity, name) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("ledger: prepare class insert: %w", err)
		}
		defer stmt.Close()
		for i, name := range res.Classes.Names {
			if _, err := stmt.ExecContext(ctx, res.RunID, i, res.Classes.Identities[i], name); err != nil {
				return fmt.Errorf("ledger: insert class: %w", err)
			}
		}
	}

	if len(res.Written) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO run_writes (run_id, role, path, checksum_before, checksum_after) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("ledger: prepare write insert: %w", err)
		}
		defer stmt.Close()
		for _, w := range res.Written {
			if _, err := stmt.ExecContext(ctx, res.RunID, w.Role, w.Path, w.Before, w.After); err != nil {
				return fmt.Errorf("ledger: insert write: %w", err)
			}
		}
	}

	return tx.Commit()
}

const runColumns = `
	r.id, r.root, r.output, r.dry_run, r.status, r.error, r.passes,
	(SELECT count(*) FROM run_classes c WHERE c.run_id = r.id),
	(SELECT count(*) FROM run_writes w WHERE w.run_id = r.id),
	r.started_at, r.finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunRow, error) {
	var r RunRow
	err := s.Scan(&r.ID, &r.Root, &r.Output, &r.DryRun, &r.Status, &r.Error, &r.Passes,
		&r.Classes, &r.Writes, &r.StartedAt, &r.FinishedAt)
	return r, err
}

// ListRuns returns runs newest first together with the total count.
func (db *DB) ListRuns(ctx context.Context, limit, offset int) ([]RunRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ledger: count runs: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs r ORDER BY r.started_at DESC, r.id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: list runs: %w", err)
	}
	defer rows.Close()

	out := []RunRow{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// GetRun returns one run with its classes and writes, or apperr.ErrNotFound.
func (db *DB) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	row, err := scanRun(db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger: run %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get run: %w", err)
	}
	d := &RunDetail{RunRow: row, ClassList: []Class{}, WriteList: []writer.Write{}}

	rows, err := db.conn.QueryContext(ctx, `SELECT identity, name FROM run_classes WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("ledger: run classes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Class
		if err := rows.Scan(&c.Identity, &c.Name); err != nil {
			return nil, err
		}
		d.ClassList = append(d.ClassList, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	wrows, err := db.conn.QueryContext(ctx, `SELECT role, path, checksum_before, checksum_after FROM run_writes WHERE run_id = ? ORDER BY path`, id)
	if err != nil {
		return nil, fmt.Errorf("ledger: run writes: %w", err)
	}
	defer wrows.Close()
	for wrows.Next() {
		var w writer.Write
		if err := wrows.Scan(&w.Role, &w.Path, &w.Before, &w.After); err != nil {
			return nil, err
		}
		d.WriteList = append(d.WriteList, w)
	}
	return d, wrows.Err()
}
