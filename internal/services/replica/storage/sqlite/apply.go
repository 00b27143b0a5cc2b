package sqlite

import (
	"context"
	"fmt"

	"github.com/datarivers-io/alohomora/internal/services/shared/replication"
)

// ApplyPayload upserts one sync batch and advances the cursor in a single
// transaction, so concurrent readers see either the pre-sync or fully
// post-sync snapshot and a crash never advances the cursor past unapplied
// data.
func (s *Store) ApplyPayload(ctx context.Context, groupID string, payload replication.Payload) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, group := range payload.DomainGroups() {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO groups (id, name, description, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    description = excluded.description;
`, group.ID, group.Name, group.Description, toMillis(group.CreatedAt)); err != nil {
			return fmt.Errorf("apply group %s: %w", group.ID, err)
		}
	}

	for _, system := range payload.DomainSystems() {
		if _, err := tx.ExecContext(ctx, `
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
			system.ID, system.Name, system.GroupID, system.OwnerUserID,
			string(system.Status), system.PublicKey, system.CallbackURL,
			toMillis(system.CreatedAt), toMillis(system.LastSeenAt), toMillis(system.UpdatedAt),
		); err != nil {
			return fmt.Errorf("apply system %s: %w", system.ID, err)
		}
	}

	for _, function := range payload.DomainFunctions() {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO system_functions (id, system_id, group_id, name, url, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    system_id = excluded.system_id,
    group_id = excluded.group_id,
    name = excluded.name,
    url = excluded.url,
    updated_at = excluded.updated_at;
`,
			function.ID, function.SystemID, function.GroupID, function.Name, function.URL,
			toMillis(function.CreatedAt), toMillis(function.UpdatedAt),
		); err != nil {
			return fmt.Errorf("apply function %s: %w", function.ID, err)
		}
	}

	for _, workflow := range payload.DomainWorkflows() {
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
			workflow.ID, workflow.Name, workflow.SystemID, workflow.GroupID, workflow.OwnerUserID,
			toMillis(workflow.CreatedAt), toMillis(workflow.UpdatedAt),
		); err != nil {
			return fmt.Errorf("apply workflow %s: %w", workflow.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_steps WHERE workflow_id = ?;`, workflow.ID); err != nil {
			return fmt.Errorf("clear workflow steps %s: %w", workflow.ID, err)
		}
		for position, step := range workflow.Steps {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO workflow_steps (workflow_id, step_id, function_id, system_id, position)
VALUES (?, ?, ?, ?, ?);
`, workflow.ID, step.StepID, step.FunctionID, step.SystemID, position); err != nil {
				return fmt.Errorf("apply workflow step %s/%s: %w", workflow.ID, step.StepID, err)
			}
		}
	}

	for _, entry := range payload.DomainTokens() {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO shared_tokens (id, session_id, system_id, workflow_id, function_id, user_id, token_hash, issued_at, expires_at, last_verified_at, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    last_verified_at = excluded.last_verified_at;
`,
			entry.ID, entry.SessionID, entry.SystemID, entry.WorkflowID, entry.FunctionID,
			entry.UserID, entry.Hash, toMillis(entry.IssuedAt), toMillis(entry.ExpiresAt),
			toNullMillis(entry.LastVerifiedAt), entry.Metadata,
		); err != nil {
			return fmt.Errorf("apply token %s: %w", entry.ID, err)
		}
	}

	for _, inst := range payload.DomainInstances() {
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
			inst.ID, inst.WorkflowID, inst.UserID, inst.SessionID, string(inst.Status),
			toMillis(inst.CreatedAt), toMillis(inst.UpdatedAt), toNullMillis(inst.CompletedAt),
			inst.FailureReason, inst.Metadata,
		); err != nil {
			return fmt.Errorf("apply instance %s: %w", inst.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM instance_steps WHERE instance_id = ?;`, inst.ID); err != nil {
			return fmt.Errorf("clear instance steps %s: %w", inst.ID, err)
		}
		for _, step := range inst.Steps {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO instance_steps (instance_id, step_id, function_id, system_id, status, token_id, started_at, completed_at, result_data, error_message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
				inst.ID, step.StepID, step.FunctionID, step.SystemID, string(step.Status),
				step.TokenID, toMillis(step.StartedAt), toMillis(step.CompletedAt),
				step.ResultData, step.ErrorMessage,
			); err != nil {
				return fmt.Errorf("apply instance step %s/%s: %w", inst.ID, step.StepID, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO sync_cursor (group_id, last_sync)
VALUES (?, ?)
ON CONFLICT(group_id) DO UPDATE SET last_sync = excluded.last_sync;
`, groupID, toMillis(payload.SyncTimestamp)); err != nil {
		return fmt.Errorf("advance sync cursor: %w", err)
	}

	return tx.Commit()
}
