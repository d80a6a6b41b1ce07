package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/featureprep/pkg/core"
)

const runColumns = `id, parent_id, workspace, experiment, status, started_at, completed_at, error`

func scanRun(row scanner) (*core.Run, error) {
	run := &core.Run{}
	var parentID, errMsg sql.NullString
	var completedAt sql.NullTime
	var status string

	if err := row.Scan(&run.ID, &parentID, &run.Workspace, &run.Experiment, &status,
		&run.StartedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}

	run.Status = core.RunStatus(status)
	run.ParentID = parentID.String
	run.Error = errMsg.String
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// CreateRun creates a new run in the running state. A run id that already
// failed is restarted: its status, timestamps and dataset links are reset.
func (s *SQLiteStore) CreateRun(ctx context.Context, rc core.RunContext) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &core.Run{
		ID:         rc.RunID,
		ParentID:   rc.ParentRunID,
		Workspace:  rc.Workspace,
		Experiment: rc.Experiment,
		Status:     core.RunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	if run.ID == "" {
		run.ID = generateID()
	}

	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("parent_id", run.ParentID))

	var parentID *string
	if run.ParentID != "" {
		parentID = &run.ParentID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, parent_id, workspace, experiment, status, started_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			parent_id = excluded.parent_id,
			workspace = excluded.workspace,
			experiment = excluded.experiment,
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = NULL,
			error = NULL
		WHERE runs.status = ?`,
		run.ID, parentID, run.Workspace, run.Experiment, string(run.Status), run.StartedAt, string(core.RunStatusFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_datasets WHERE run_id = ?`, run.ID); err != nil {
		return nil, fmt.Errorf("failed to reset links of run %s: %w", run.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return run, nil
}

// CompleteRun marks a run as completed with the given status.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status core.RunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	now := time.Now().UTC()
	var errorPtr *string
	if errMsg != "" {
		errorPtr = &errMsg
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), now, errorPtr, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first. A limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LinkRunDataset records a dataset version read or written by a run.
// Linking the same version twice is a no-op.
func (s *SQLiteStore) LinkRunDataset(ctx context.Context, link core.RunDataset) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO run_datasets (run_id, name, version, role) VALUES (?, ?, ?, ?)`,
		link.RunID, link.Name, link.Version, string(link.Role),
	); err != nil {
		return fmt.Errorf("failed to link dataset %s:%d to run %s: %w", link.Name, link.Version, link.RunID, err)
	}
	return nil
}

// RunDatasets returns the datasets linked to a run, inputs first.
func (s *SQLiteStore) RunDatasets(ctx context.Context, runID string) ([]*core.RunDataset, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, name, version, role FROM run_datasets WHERE run_id = ? ORDER BY role, name, version`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []*core.RunDataset
	for rows.Next() {
		l := &core.RunDataset{}
		var role string
		if err := rows.Scan(&l.RunID, &l.Name, &l.Version, &role); err != nil {
			return nil, fmt.Errorf("failed to scan run dataset: %w", err)
		}
		l.Role = core.DatasetRole(role)
		links = append(links, l)
	}
	return links, rows.Err()
}
