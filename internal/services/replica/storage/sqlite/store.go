// Package sqlite implements the replica mirror over a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/datarivers-io/alohomora/internal/platform/storage/sqlitemigrate"
	"github.com/datarivers-io/alohomora/internal/services/authority/instance"
	"github.com/datarivers-io/alohomora/internal/services/authority/registry"
	"github.com/datarivers-io/alohomora/internal/services/authority/token"
	"github.com/datarivers-io/alohomora/internal/services/replica/storage"
	"github.com/datarivers-io/alohomora/internal/services/replica/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Store implements replica persistence over SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a replica SQLite store and applies bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}

	if err := sqlitemigrate.Apply(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Cursor returns the group's last synced position, zero when never synced.
func (s *Store) Cursor(ctx context.Context, groupID string) (time.Time, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT last_sync FROM sync_cursor WHERE group_id = ?;`, groupID)
	var lastSync int64
	if err := row.Scan(&lastSync); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("read sync cursor: %w", err)
	}
	return fromMillis(lastSync), nil
}

// GetSystem loads a mirrored system by id.
func (s *Store) GetSystem(ctx context.Context, id string) (registry.System, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, group_id, owner_user_id, status, public_key, callback_url, created_at, last_seen_at, updated_at
FROM systems WHERE id = ?;
`, id)
	return scanSystem(row)
}

// GetSystemByName loads a mirrored system by name.
func (s *Store) GetSystemByName(ctx context.Context, name string) (registry.System, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, group_id, owner_user_id, status, public_key, callback_url, created_at, last_seen_at, updated_at
FROM systems WHERE name = ?;
`, name)
	return scanSystem(row)
}

func scanSystem(row *sql.Row) (registry.System, error) {
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
		if errors.Is(err, sql.ErrNoRows) {
			return registry.System{}, storage.ErrNotFound
		}
		return registry.System{}, fmt.Errorf("scan system: %w", err)
	}
	system.Status = registry.SystemStatus(status)
	system.CreatedAt = fromMillis(createdAt)
	system.LastSeenAt = fromMillis(lastSeenAt)
	system.UpdatedAt = fromMillis(updatedAt)
	return system, nil
}

// GetWorkflow loads a mirrored workflow with its ordered steps.
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

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT step_id, function_id, system_id FROM workflow_steps WHERE workflow_id = ? ORDER BY position;
`, workflow.ID)
	if err != nil {
		return registry.Workflow{}, fmt.Errorf("list workflow steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var step registry.StepSpec
		if err := rows.Scan(&step.StepID, &step.FunctionID, &step.SystemID); err != nil {
			return registry.Workflow{}, fmt.Errorf("scan workflow step: %w", err)
		}
		workflow.Steps = append(workflow.Steps, step)
	}
	return workflow, rows.Err()
}

// GetInstance loads a mirrored instance with its step records.
func (s *Store) GetInstance(ctx context.Context, id string) (instance.Instance, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, workflow_id, user_id, session_id, status, created_at, updated_at, completed_at, failure_reason, metadata
FROM workflow_instances WHERE id = ?;
`, id)

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
		if errors.Is(err, sql.ErrNoRows) {
			return instance.Instance{}, storage.ErrNotFound
		}
		return instance.Instance{}, fmt.Errorf("get instance: %w", err)
	}
	inst.Status = instance.Status(status)
	inst.CreatedAt = fromMillis(createdAt)
	inst.UpdatedAt = fromMillis(updatedAt)
	inst.CompletedAt = fromNullMillis(completedAt)

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT step_id, function_id, system_id, status, token_id, started_at, completed_at, result_data, error_message
FROM instance_steps WHERE instance_id = ?;
`, inst.ID)
	if err != nil {
		return instance.Instance{}, fmt.Errorf("list instance steps: %w", err)
	}
	defer rows.Close()
	inst.Steps = make(map[string]instance.StepCompletion)
	for rows.Next() {
		var step instance.StepCompletion
		var stepStatus string
		var startedAt, stepCompletedAt int64
		if err := rows.Scan(
			&step.StepID,
			&step.FunctionID,
			&step.SystemID,
			&stepStatus,
			&step.TokenID,
			&startedAt,
			&stepCompletedAt,
			&step.ResultData,
			&step.ErrorMessage,
		); err != nil {
			return instance.Instance{}, fmt.Errorf("scan instance step: %w", err)
		}
		step.Status = instance.StepStatus(stepStatus)
		step.StartedAt = fromMillis(startedAt)
		step.CompletedAt = fromMillis(stepCompletedAt)
		inst.Steps[step.StepID] = step
	}
	return inst, rows.Err()
}

// CountInstances aggregates mirrored instance statuses for a workflow.
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

// FindSharedToken answers a shared-session inquiry from the mirror.
func (s *Store) FindSharedToken(ctx context.Context, userID, tokenID, systemID string, maxAge time.Duration, now time.Time) (token.Token, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, session_id, system_id, workflow_id, function_id, user_id, token_hash, issued_at, expires_at, last_verified_at, metadata
FROM shared_tokens
WHERE user_id = ? AND id = ? AND system_id = ? AND issued_at >= ?
ORDER BY issued_at DESC
LIMIT 1;
`, userID, tokenID, systemID, toMillis(now.Add(-maxAge)))

	var t token.Token
	var issuedAt, expiresAt int64
	var lastVerifiedAt sql.NullInt64
	if err := row.Scan(
		&t.ID,
		&t.SessionID,
		&t.SystemID,
		&t.WorkflowID,
		&t.FunctionID,
		&t.UserID,
		&t.Hash,
		&issuedAt,
		&expiresAt,
		&lastVerifiedAt,
		&t.Metadata,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return token.Token{}, storage.ErrNotFound
		}
		return token.Token{}, fmt.Errorf("find shared token: %w", err)
	}
	t.IssuedAt = fromMillis(issuedAt)
	t.ExpiresAt = fromMillis(expiresAt)
	t.LastVerifiedAt = fromNullMillis(lastVerifiedAt)
	return t, nil
}
