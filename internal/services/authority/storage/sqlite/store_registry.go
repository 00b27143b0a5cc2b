package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/datarivers-io/alohomora/internal/services/authority/registry"
	"github.com/datarivers-io/alohomora/internal/services/authority/storage"
)

// PutGroup persists a replication group.
func (s *Store) PutGroup(ctx context.Context, group registry.Group) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO groups (id, name, description, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    description = excluded.description;
`, group.ID, group.Name, group.Description, toMillis(group.CreatedAt))
	if err != nil {
		return fmt.Errorf("put group: %w", err)
	}
	return nil
}

// GetGroup loads a group by id.
func (s *Store) GetGroup(ctx context.Context, id string) (registry.Group, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, description, created_at FROM groups WHERE id = ?;
`, id)

	var group registry.Group
	var createdAt int64
	if err := row.Scan(&group.ID, &group.Name, &group.Description, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Group{}, storage.ErrNotFound
		}
		return registry.Group{}, fmt.Errorf("get group: %w", err)
	}
	group.CreatedAt = fromMillis(createdAt)
	return group, nil
}

const systemColumns = `id, name, group_id, owner_user_id, status, public_key, callback_url, created_at, last_seen_at, updated_at`

func scanSystem(row interface{ Scan(...any) error }) (registry.System, error) {
	var system registry.System
	var status string
	var createdAt, lastSeenAt, updatedAt int64
	if err := row.Scan(
		&system.ID,
		&system.Name,
		&system.GroupID,
		&system.OwnerUserID,
		&status,
		&system.PublicKey,
		&system.CallbackURL,
		&createdAt,
		&lastSeenAt,
		&updatedAt,
	); err != nil {
		return registry.System{}, err
	}
	system.Status = registry.SystemStatus(status)
	system.CreatedAt = fromMillis(createdAt)
	system.LastSeenAt = fromMillis(lastSeenAt)
	system.UpdatedAt = fromMillis(updatedAt)
	return system, nil
}

// PutSystem persists a system record, replacing any prior version.
func (s *Store) PutSystem(ctx context.Context, system registry.System) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO systems (id, name, group_id, owner_user_id, status, public_key, callback_url, created_at, last_seen_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    group_id = excluded.group_id,
    owner_user_id = excluded.owner_user_id,
    status = excluded.status,
    public_key = excluded.public_key,
    callback_url = excluded.callback_url,
    last_seen_at = excluded.last_seen_at,
    updated_at = excluded.updated_at;
`,
		system.ID,
		system.Name,
		system.GroupID,
		system.OwnerUserID,
		string(system.Status),
		system.PublicKey,
		system.CallbackURL,
		toMillis(system.CreatedAt),
		toMillis(system.LastSeenAt),
		toMillis(system.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put system: %w", err)
	}
	return nil
}

// GetSystem loads a system by id.
func (s *Store) GetSystem(ctx context.Context, id string) (registry.System, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+systemColumns+` FROM systems WHERE id = ?;`, id)
	system, err := scanSystem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.System{}, storage.ErrNotFound
		}
		return registry.System{}, fmt.Errorf("get system: %w", err)
	}
	return system, nil
}

// GetSystemByName loads a system by its unique name.
func (s *Store) GetSystemByName(ctx context.Context, name string) (registry.System, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+systemColumns+` FROM systems WHERE name = ?;`, name)
	system, err := scanSystem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.System{}, storage.ErrNotFound
		}
		return registry.System{}, fmt.Errorf("get system by name: %w", err)
	}
	return system, nil
}

// ListNotificationTargets returns callback-capable systems in the group,
// excluding the originating system so it never receives its own event.
func (s *Store) ListNotificationTargets(ctx context.Context, groupID, excludeSystemID string) ([]registry.System, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+systemColumns+`
FROM systems
WHERE group_id = ? AND callback_url != '' AND id != ? AND status = 'active'
ORDER BY name;
`, groupID, excludeSystemID)
	if err != nil {
		return nil, fmt.Errorf("list notification targets: %w", err)
	}
	defer rows.Close()

	var systems []registry.System
	for rows.Next() {
		system, err := scanSystem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification target: %w", err)
		}
		systems = append(systems, system)
	}
	return systems, rows.Err()
}

const functionColumns = `id, system_id, group_id, name, url, created_at, updated_at`

func scanFunction(row interface{ Scan(...any) error }) (registry.Function, error) {
	var function registry.Function
	var createdAt, updatedAt int64
	if err := row.Scan(
		&function.ID,
		&function.SystemID,
		&function.GroupID,
		&function.Name,
		&function.URL,
		&createdAt,
		&updatedAt,
	); err != nil {
		return registry.Function{}, err
	}
	function.CreatedAt = fromMillis(createdAt)
	function.UpdatedAt = fromMillis(updatedAt)
	return function, nil
}

// PutFunction persists a function record.
func (s *Store) PutFunction(ctx context.Context, function registry.Function) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO system_functions (id, system_id, group_id, name, url, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    system_id = excluded.system_id,
    group_id = excluded.group_id,
    name = excluded.name,
    url = excluded.url,
    updated_at = excluded.updated_at;
`,
		function.ID,
		function.SystemID,
		function.GroupID,
		function.Name,
		function.URL,
		toMillis(function.CreatedAt),
		toMillis(function.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put function: %w", err)
	}
	return nil
}

// GetFunction loads a function by id.
func (s *Store) GetFunction(ctx context.Context, id string) (registry.Function, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+functionColumns+` FROM system_functions WHERE id = ?;`, id)
	function, err := scanFunction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Function{}, storage.ErrNotFound
		}
		return registry.Function{}, fmt.Errorf("get function: %w", err)
	}
	return function, nil
}

// ListFunctionsByGroup returns every function registered within a group.
func (s *Store) ListFunctionsByGroup(ctx context.Context, groupID string) ([]registry.Function, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+functionColumns+` FROM system_functions WHERE group_id = ? ORDER BY name;
`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list functions by group: %w", err)
	}
	defer rows.Close()

	var functions []registry.Function
	for rows.Next() {
		function, err := scanFunction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan function: %w", err)
		}
		functions = append(functions, function)
	}
	return functions, rows.Err()
}

// SystemOwnsFunction reports whether the function belongs to the system.
func (s *Store) SystemOwnsFunction(ctx context.Context, systemID, functionID string) (bool, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM system_functions WHERE id = ? AND system_id = ?;
`, functionID, systemID)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("check function ownership: %w", err)
	}
	return count > 0, nil
}

// PutWorkflow persists a workflow and its step sequence atomically.
func (s *Store) PutWorkflow(ctx context.Context, workflow registry.Workflow) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put workflow: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO workflows (id, name, system_id, group_id, owner_user_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    system_id = excluded.system_id,
    group_id = excluded.group_id,
    owner_user_id = excluded.owner_user_id,
    updated_at = excluded.updated_at;
`,
		workflow.ID,
		workflow.Name,
		workflow.SystemID,
		workflow.GroupID,
		workflow.OwnerUserID,
		toMillis(workflow.CreatedAt),
		toMillis(workflow.UpdatedAt),
	); err != nil {
		return fmt.Errorf("put workflow: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_steps WHERE workflow_id = ?;`, workflow.ID); err != nil {
		return fmt.Errorf("clear workflow steps: %w", err)
	}
	for position, step := range workflow.Steps {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO workflow_steps (workflow_id, step_id, function_id, system_id, position)
VALUES (?, ?, ?, ?, ?);
`, workflow.ID, step.StepID, step.FunctionID, step.SystemID, position); err != nil {
			return fmt.Errorf("put workflow step %s: %w", step.StepID, err)
		}
	}

	return tx.Commit()
}

// GetWorkflow loads a workflow and its ordered steps.
func (s *Store) GetWorkflow(ctx context.Context, id string) (registry.Workflow, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, system_id, group_id, owner_user_id, created_at, updated_at
FROM workflows WHERE id = ?;
`, id)

	var workflow registry.Workflow
	var createdAt, updatedAt int64
	if err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.SystemID,
		&workflow.GroupID,
		&workflow.OwnerUserID,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Workflow{}, storage.ErrNotFound
		}
		return registry.Workflow{}, fmt.Errorf("get workflow: %w", err)
	}
	workflow.CreatedAt = fromMillis(createdAt)
	workflow.UpdatedAt = fromMillis(updatedAt)

	steps, err := s.workflowSteps(ctx, workflow.ID)
	if err != nil {
		return registry.Workflow{}, err
	}
	workflow.Steps = steps
	return workflow, nil
}

func (s *Store) workflowSteps(ctx context.Context, workflowID string) ([]registry.StepSpec, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT step_id, function_id, system_id
FROM workflow_steps WHERE workflow_id = ? ORDER BY position;
`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow steps: %w", err)
	}
	defer rows.Close()

	var steps []registry.StepSpec
	for rows.Next() {
		var step registry.StepSpec
		if err := rows.Scan(&step.StepID, &step.FunctionID, &step.SystemID); err != nil {
			return nil, fmt.Errorf("scan workflow step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}
