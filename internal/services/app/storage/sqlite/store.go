// Package sqlite implements member app persistence over a single SQLite file.
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
	"github.com/datarivers-io/alohomora/internal/services/app/storage"
	"github.com/datarivers-io/alohomora/internal/services/app/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements member app persistence over SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens an app SQLite store and applies bundled migrations.
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

// PutSession upserts a local session under its authority-issued id.
func (s *Store) PutSession(ctx context.Context, session storage.LocalSession) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO local_sessions (id, user_id, data, source, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    user_id = excluded.user_id,
    data = excluded.data,
    expires_at = excluded.expires_at;
`,
		session.ID, session.UserID, session.Data, string(session.Source),
		toMillis(session.CreatedAt), toMillis(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put local session: %w", err)
	}
	return nil
}

// GetSession loads a local session by id.
func (s *Store) GetSession(ctx context.Context, id string) (storage.LocalSession, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, user_id, data, source, created_at, expires_at
FROM local_sessions WHERE id = ?;
`, id)

	var session storage.LocalSession
	var source string
	var createdAt, expiresAt int64
	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.Data,
		&source,
		&createdAt,
		&expiresAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.LocalSession{}, storage.ErrNotFound
		}
		return storage.LocalSession{}, fmt.Errorf("get local session: %w", err)
	}
	session.Source = storage.Source(source)
	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)
	return session, nil
}

// PutReceipt records a processed notification. The first write for a token_id
// wins; replays keep the original outcome.
func (s *Store) PutReceipt(ctx context.Context, receipt storage.Receipt) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO notification_receipts (token_id, session_id, user_id, workflow_id, workflow_status, local_session_created, received_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(token_id) DO NOTHING;
`,
		receipt.TokenID, receipt.SessionID, receipt.UserID, receipt.WorkflowID,
		receipt.WorkflowStatus, receipt.LocalSessionCreated, toMillis(receipt.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("put notification receipt: %w", err)
	}
	return nil
}

// GetReceipt loads the processed outcome for a token notification.
func (s *Store) GetReceipt(ctx context.Context, tokenID string) (storage.Receipt, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT token_id, session_id, user_id, workflow_id, workflow_status, local_session_created, received_at
FROM notification_receipts WHERE token_id = ?;
`, tokenID)

	var receipt storage.Receipt
	var receivedAt int64
	if err := row.Scan(
		&receipt.TokenID,
		&receipt.SessionID,
		&receipt.UserID,
		&receipt.WorkflowID,
		&receipt.WorkflowStatus,
		&receipt.LocalSessionCreated,
		&receivedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Receipt{}, storage.ErrNotFound
		}
		return storage.Receipt{}, fmt.Errorf("get notification receipt: %w", err)
	}
	receipt.ReceivedAt = fromMillis(receivedAt)
	return receipt, nil
}
