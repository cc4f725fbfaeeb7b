package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const runColumns = `id, namespace, command, status, summary, error, started_at, completed_at, created_at, updated_at`

func scanRun(row scanner) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.Namespace, &r.Command, &r.Status, &r.Summary, &r.Error,
		&r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRun records the start of a plan or apply.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	if run.Summary == "" {
		run.Summary = "{}"
	}
	run.CreatedAt, run.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Namespace, run.Command, run.Status, run.Summary, run.Error,
		run.StartedAt, run.CompletedAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns a run. A missing run is reported with ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	return run, nil
}

// CompleteRun stores the final status, summary and error of a run.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status RunStatus, summary string, errMsg *string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot complete run %s with status %s", id, status)
	}
	if summary == "" {
		summary = "{}"
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, error = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		status, summary, errMsg, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListRuns lists runs newest first. A nil namespace lists every namespace.
func (s *SQLiteStore) ListRuns(ctx context.Context, namespace *string, limit, offset int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs
		WHERE (? IS NULL OR namespace = ?)
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?`,
		namespace, namespace, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs, err := collect(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// PruneRuns deletes the completed runs of namespace except the newest
// keep, together with their mutations. Running runs are never pruned. It
// returns the number of deleted runs.
func (s *SQLiteStore) PruneRuns(ctx context.Context, namespace string, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative, got %d", keep)
	}

	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM runs
			WHERE namespace = ? AND status != ? AND id NOT IN (
				SELECT id FROM runs
				WHERE namespace = ? AND status != ?
				ORDER BY started_at DESC, id
				LIMIT ?
			)`,
			namespace, RunStatusRunning, namespace, RunStatusRunning, keep,
		)
		if err != nil {
			return fmt.Errorf("failed to prune runs of %s: %w", namespace, err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

func scanMutation(row scanner) (*Mutation, error) {
	var m Mutation
	err := row.Scan(&m.ID, &m.RunID, &m.Phase, &m.Kind, &m.Name, &m.ResourceID,
		&m.Operation, &m.Status, &m.Error, &m.DurationMs, &m.Timestamp)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AppendMutation records one remote mutation of a run. The run must exist.
func (s *SQLiteStore) AppendMutation(ctx context.Context, m *Mutation) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO mutations (run_id, phase, kind, name, resource_id, operation, status, error, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.Phase, m.Kind, m.Name, m.ResourceID, m.Operation, m.Status, m.Error, m.DurationMs, m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s of %s/%s: %w", m.Operation, m.Kind, m.Name, err)
	}

	if m.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read mutation id: %w", err)
	}
	return nil
}

// ListMutations lists the mutations of a run in the order they ran.
func (s *SQLiteStore) ListMutations(ctx context.Context, runID string) ([]*Mutation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, phase, kind, name, resource_id, operation, status, error, duration_ms, timestamp
		FROM mutations WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations of run %s: %w", runID, err)
	}

	mutations, err := collect(rows, scanMutation)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations of run %s: %w", runID, err)
	}
	return mutations, nil
}
