package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/datarivers-io/alohomora/internal/services/authority/instance"
	"github.com/datarivers-io/alohomora/internal/services/authority/storage"
)

// PutInstance persists an instance and its step records atomically.
//
// Steps are replaced wholesale. The instance is the unit of mutation under
// the service's per-workflow-user lock, so partial step writes never leak.
func (s *Store) PutInstance(ctx context.Context, inst instance.Instance) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put instance: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := putInstanceTx(ctx, tx, inst); err != nil {
		return err
	}
	return tx.Commit()
}

func putInstanceTx(ctx context.Context, tx *sql.Tx, inst instance.Instance) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO workflow_instances (id, workflow_id, user_id, session_id, status, created_at, updated_at, completed_at, failure_reason, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status = excluded.status,
    updated_at = excluded.updated_at,
    completed_at = excluded.completed_at,
    failure_reason = excluded.failure_reason,
    metadata = excluded.metadata;
`,
		inst.ID,
		inst.WorkflowID,
		inst.UserID,
		inst.SessionID,
		string(inst.Status),
		toMillis(inst.CreatedAt),
		toMillis(inst.UpdatedAt),
		toNullMillis(inst.CompletedAt),
		inst.FailureReason,
		inst.Metadata,
	); err != nil {
		return fmt.Errorf("put instance: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM instance_steps WHERE instance_id = ?;`, inst.ID); err != nil {
		return fmt.Errorf("clear instance steps: %w", err)
	}
	for _, step := range inst.Steps {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO instance_steps (instance_id, step_id, function_id, system_id, status, token_id, started_at, completed_at, result_data, error_message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			inst.ID,
			step.StepID,
			step.FunctionID,
			step.SystemID,
			string(step.Status),
			step.TokenID,
			toMillis(step.StartedAt),
			toMillis(step.CompletedAt),
			step.ResultData,
			step.ErrorMessage,
		); err != nil {
			return fmt.Errorf("put instance step %s: %w", step.StepID, err)
		}
	}

	return nil
}

const instanceColumns = `id, workflow_id, user_id, session_id, status, created_at, updated_at, completed_at, failure_reason, metadata`

func scanInstance(row interface{ Scan(...any) error }) (instance.Instance, error) {
	var inst instance.Instance
	var status string
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64
	if err := row.Scan(
		&inst.ID,
		&inst.WorkflowID,
		&inst.UserID,
		&inst.SessionID,
		&status,
		&createdAt,
		&updatedAt,
		&completedAt,
		&inst.FailureReason,
		&inst.Metadata,
	); err != nil {
		return instance.Instance{}, err
	}
	inst.Status = instance.Status(status)
	inst.CreatedAt = fromMillis(createdAt)
	inst.UpdatedAt = fromMillis(updatedAt)
	inst.CompletedAt = fromNullMillis(completedAt)
	return inst, nil
}

// GetInstance loads an instance with its step records.
func (s *Store) GetInstance(ctx context.Context, id string) (instance.Instance, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM workflow_instances WHERE id = ?;`, id)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return instance.Instance{}, storage.ErrNotFound
		}
		return instance.Instance{}, fmt.Errorf("get instance: %w", err)
	}
	if err := s.loadInstanceSteps(ctx, &inst); err != nil {
		return instance.Instance{}, err
	}
	return inst, nil
}

// FindOpenInstance returns the newest in-progress instance for the pair.
func (s *Store) FindOpenInstance(ctx context.Context, workflowID, userID string) (instance.Instance, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+instanceColumns+`
FROM workflow_instances
WHERE workflow_id = ? AND user_id = ? AND status = ?
ORDER BY created_at DESC
LIMIT 1;
`, workflowID, userID, string(instance.StatusInProgress))
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return instance.Instance{}, storage.ErrNotFound
		}
		return instance.Instance{}, fmt.Errorf("find open instance: %w", err)
	}
	if err := s.loadInstanceSteps(ctx, &inst); err != nil {
		return instance.Instance{}, err
	}
	return inst, nil
}

// CountInstances aggregates instance statuses for a workflow.
func (s *Store) CountInstances(ctx context.Context, workflowID string) (instance.Counts, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT status, COUNT(*) FROM workflow_instances WHERE workflow_id = ? GROUP BY status;
`, workflowID)
	if err != nil {
		return instance.Counts{}, fmt.Errorf("count instances: %w", err)
	}
	defer rows.Close()

	var counts instance.Counts
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return instance.Counts{}, fmt.Errorf("scan instance counts: %w", err)
		}
		counts.Total += count
		switch instance.Status(status) {
		case instance.StatusCompleted:
			counts.Completed = count
		case instance.StatusInProgress:
			counts.InProgress = count
		case instance.StatusFailed:
			counts.Failed = count
		}
	}
	return counts, rows.Err()
}

func (s *Store) loadInstanceSteps(ctx context.Context, inst *instance.Instance) error {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT step_id, function_id, system_id, status, token_id, started_at, completed_at, result_data, error_message
FROM instance_steps WHERE instance_id = ?;
`, inst.ID)
	if err != nil {
		return fmt.Errorf("list instance steps: %w", err)
	}
	defer rows.Close()

	inst.Steps = make(map[string]instance.StepCompletion)
	for rows.Next() {
		var step instance.StepCompletion
		var status string
		var startedAt, completedAt int64
		if err := rows.Scan(
			&step.StepID,
			&step.FunctionID,
			&step.SystemID,
			&status,
			&step.TokenID,
			&startedAt,
			&completedAt,
			&step.ResultData,
			&step.ErrorMessage,
		); err != nil {
			return fmt.Errorf("scan instance step: %w", err)
		}
		step.Status = instance.StepStatus(status)
		step.StartedAt = fromMillis(startedAt)
		step.CompletedAt = fromMillis(completedAt)
		inst.Steps[step.StepID] = step
	}
	return rows.Err()
}
