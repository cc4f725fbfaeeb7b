package stores

import (
	"context"
	"fmt"
	"time"
)

// UpsertResourceState records the server id a resource had after a run.
func (s *SQLiteStore) UpsertResourceState(ctx context.Context, st *ResourceState) error {
	st.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resource_state (namespace, kind, name, resource_id, last_run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, kind, name) DO UPDATE SET
			resource_id = excluded.resource_id,
			last_run_id = excluded.last_run_id,
			updated_at = excluded.updated_at`,
		st.Namespace, st.Kind, st.Name, st.ResourceID, st.LastRunID, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record state of %s/%s: %w", st.Kind, st.Name, err)
	}
	return nil
}

// ListResourceStates lists the known resources of a namespace ordered by
// kind and name.
func (s *SQLiteStore) ListResourceStates(ctx context.Context, namespace string) ([]*ResourceState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT namespace, kind, name, resource_id, last_run_id, updated_at
		FROM resource_state WHERE namespace = ? ORDER BY kind, name`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources of %s: %w", namespace, err)
	}

	states, err := collect(rows, func(row scanner) (*ResourceState, error) {
		var st ResourceState
		err := row.Scan(&st.Namespace, &st.Kind, &st.Name, &st.ResourceID, &st.LastRunID, &st.UpdatedAt)
		return &st, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list resources of %s: %w", namespace, err)
	}
	return states, nil
}

// DeleteResourceState forgets a deleted resource. Forgetting an unknown
// resource is not an error.
func (s *SQLiteStore) DeleteResourceState(ctx context.Context, namespace, kind, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM resource_state WHERE namespace = ? AND kind = ? AND name = ?`,
		namespace, kind, name,
	)
	if err != nil {
		return fmt.Errorf("failed to forget %s/%s: %w", kind, name, err)
	}
	return nil
}

// CreateAuditEntry appends to the audit log.
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, e *AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit (action, actor, target_id, details, timestamp) VALUES (?, ?, ?, ?, ?)`,
		e.Action, e.Actor, e.TargetID, e.Details, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s audit entry: %w", e.Action, err)
	}

	if e.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read audit entry id: %w", err)
	}
	return nil
}

// ListAuditEntries lists audit entries newest first. A nil action lists
// every action.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`,
		action, action, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	entries, err := collect(rows, func(row scanner) (*AuditEntry, error) {
		var e AuditEntry
		err := row.Scan(&e.ID, &e.Action, &e.Actor, &e.TargetID, &e.Details, &e.Timestamp)
		return &e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}
