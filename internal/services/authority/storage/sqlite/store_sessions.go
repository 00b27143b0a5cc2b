package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/datarivers-io/alohomora/internal/services/authority/session"
	"github.com/datarivers-io/alohomora/internal/services/authority/storage"
)

// PutSession persists a session record.
func (s *Store) PutSession(ctx context.Context, sess session.Session) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (id, user_id, created_at, last_accessed_at, expires_at, data)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    last_accessed_at = excluded.last_accessed_at,
    data = excluded.data;
`,
		sess.ID,
		sess.UserID,
		toMillis(sess.CreatedAt),
		toMillis(sess.LastAccessedAt),
		toMillis(sess.ExpiresAt),
		sess.Data,
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, user_id, created_at, last_accessed_at, expires_at, data
FROM sessions WHERE id = ?;
`, id)

	var sess session.Session
	var createdAt, lastAccessedAt, expiresAt int64
	if err := row.Scan(&sess.ID, &sess.UserID, &createdAt, &lastAccessedAt, &expiresAt, &sess.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, storage.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.CreatedAt = fromMillis(createdAt)
	sess.LastAccessedAt = fromMillis(lastAccessedAt)
	sess.ExpiresAt = fromMillis(expiresAt)
	return sess, nil
}

// DeleteExpiredSessions reaps sessions past their TTL.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM sessions WHERE expires_at < ?;
`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted sessions: %w", err)
	}
	return int(deleted), nil
}
