package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/datarivers-io/alohomora/internal/services/authority/instance"
	"github.com/datarivers-io/alohomora/internal/services/authority/registry"
	"github.com/datarivers-io/alohomora/internal/services/authority/storage"
	"github.com/datarivers-io/alohomora/internal/services/authority/token"
)

// ChangedSince returns every group-owned record created or modified after the
// cursor. Tokens scope to the group through their issuing system, instances
// through their workflow.
func (s *Store) ChangedSince(ctx context.Context, groupID string, since time.Time) (storage.Delta, error) {
	var delta storage.Delta
	cursor := toMillis(since)

	group, err := s.changedGroup(ctx, groupID, cursor)
	if err != nil {
		return storage.Delta{}, err
	}
	delta.Groups = group

	if delta.Systems, err = s.changedSystems(ctx, groupID, cursor); err != nil {
		return storage.Delta{}, err
	}
	if delta.Functions, err = s.changedFunctions(ctx, groupID, cursor); err != nil {
		return storage.Delta{}, err
	}
	if delta.Workflows, err = s.changedWorkflows(ctx, groupID, cursor); err != nil {
		return storage.Delta{}, err
	}
	if delta.Tokens, err = s.changedTokens(ctx, groupID, cursor); err != nil {
		return storage.Delta{}, err
	}
	if delta.Instances, err = s.changedInstances(ctx, groupID, cursor); err != nil {
		return storage.Delta{}, err
	}
	return delta, nil
}

func (s *Store) changedGroup(ctx context.Context, groupID string, cursor int64) ([]registry.Group, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, name, description, created_at FROM groups WHERE id = ? AND created_at > ?;
`, groupID, cursor)
	if err != nil {
		return nil, fmt.Errorf("sync groups: %w", err)
	}
	defer rows.Close()

	var groups []registry.Group
	for rows.Next() {
		var group registry.Group
		var createdAt int64
		if err := rows.Scan(&group.ID, &group.Name, &group.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("scan sync group: %w", err)
		}
		group.CreatedAt = fromMillis(createdAt)
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

func (s *Store) changedSystems(ctx context.Context, groupID string, cursor int64) ([]registry.System, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+systemColumns+` FROM systems WHERE group_id = ? AND updated_at > ? ORDER BY updated_at;
`, groupID, cursor)
	if err != nil {
		return nil, fmt.Errorf("sync systems: %w", err)
	}
	defer rows.Close()

	var systems []registry.System
	for rows.Next() {
		system, err := scanSystem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync system: %w", err)
		}
		systems = append(systems, system)
	}
	return systems, rows.Err()
}

func (s *Store) changedFunctions(ctx context.Context, groupID string, cursor int64) ([]registry.Function, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+functionColumns+` FROM system_functions WHERE group_id = ? AND updated_at > ? ORDER BY updated_at;
`, groupID, cursor)
	if err != nil {
		return nil, fmt.Errorf("sync functions: %w", err)
	}
	defer rows.Close()

	var functions []registry.Function
	for rows.Next() {
		function, err := scanFunction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync function: %w", err)
		}
		functions = append(functions, function)
	}
	return functions, rows.Err()
}

func (s *Store) changedWorkflows(ctx context.Context, groupID string, cursor int64) ([]registry.Workflow, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id FROM workflows WHERE group_id = ? AND updated_at > ? ORDER BY updated_at;
`, groupID, cursor)
	if err != nil {
		return nil, fmt.Errorf("sync workflows: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan sync workflow id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var workflows []registry.Workflow
	for _, id := range ids {
		workflow, err := s.GetWorkflow(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("sync workflow %s: %w", id, err)
		}
		workflows = append(workflows, workflow)
	}
	return workflows, nil
}

func (s *Store) changedTokens(ctx context.Context, groupID string, cursor int64) ([]token.Token, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT t.id, t.session_id, t.system_id, t.workflow_id, t.function_id, t.user_id, t.token_hash, t.issued_at, t.expires_at, t.last_verified_at, t.metadata
FROM shared_tokens t
JOIN systems s ON s.id = t.system_id
WHERE s.group_id = ? AND t.issued_at > ?
ORDER BY t.issued_at;
`, groupID, cursor)
	if err != nil {
		return nil, fmt.Errorf("sync tokens: %w", err)
	}
	defer rows.Close()

	var tokens []token.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *Store) changedInstances(ctx context.Context, groupID string, cursor int64) ([]instance.Instance, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT i.id
FROM workflow_instances i
JOIN workflows w ON w.id = i.workflow_id
WHERE w.group_id = ? AND i.updated_at > ?
ORDER BY i.updated_at;
`, groupID, cursor)
	if err != nil {
		return nil, fmt.Errorf("sync instances: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan sync instance id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var instances []instance.Instance
	for _, id := range ids {
		inst, err := s.GetInstance(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("sync instance %s: %w", id, err)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}
