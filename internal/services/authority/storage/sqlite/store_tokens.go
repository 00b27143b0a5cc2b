package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/datarivers-io/alohomora/internal/services/authority/instance"
	"github.com/datarivers-io/alohomora/internal/services/authority/storage"
	"github.com/datarivers-io/alohomora/internal/services/authority/token"
)

const tokenColumns = `id, session_id, system_id, workflow_id, function_id, user_id, token_hash, issued_at, expires_at, last_verified_at, metadata`

func scanToken(row interface{ Scan(...any) error }) (token.Token, error) {
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
		return token.Token{}, err
	}
	t.IssuedAt = fromMillis(issuedAt)
	t.ExpiresAt = fromMillis(expiresAt)
	t.LastVerifiedAt = fromNullMillis(lastVerifiedAt)
	return t, nil
}

// PutToken appends a token to the ledger.
func (s *Store) PutToken(ctx context.Context, t token.Token) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO shared_tokens (id, session_id, system_id, workflow_id, function_id, user_id, token_hash, issued_at, expires_at, last_verified_at, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    last_verified_at = excluded.last_verified_at;
`,
		t.ID,
		t.SessionID,
		t.SystemID,
		t.WorkflowID,
		t.FunctionID,
		t.UserID,
		t.Hash,
		toMillis(t.IssuedAt),
		toMillis(t.ExpiresAt),
		toNullMillis(t.LastVerifiedAt),
		t.Metadata,
	)
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

// PutTokenWithInstance commits a token and its instance update in one
// transaction. A token hash collision rolls everything back and reports
// storage.ErrDuplicate.
func (s *Store) PutTokenWithInstance(ctx context.Context, t token.Token, inst instance.Instance) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put token: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO shared_tokens (id, session_id, system_id, workflow_id, function_id, user_id, token_hash, issued_at, expires_at, last_verified_at, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		t.ID,
		t.SessionID,
		t.SystemID,
		t.WorkflowID,
		t.FunctionID,
		t.UserID,
		t.Hash,
		toMillis(t.IssuedAt),
		toMillis(t.ExpiresAt),
		toNullMillis(t.LastVerifiedAt),
		t.Metadata,
	); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: shared_tokens.token_hash") {
			return fmt.Errorf("put token: %w", storage.ErrDuplicate)
		}
		return fmt.Errorf("put token: %w", err)
	}

	if err := putInstanceTx(ctx, tx, inst); err != nil {
		return err
	}
	return tx.Commit()
}

// GetToken loads a ledger entry by id.
func (s *Store) GetToken(ctx context.Context, id string) (token.Token, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM shared_tokens WHERE id = ?;`, id)
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return token.Token{}, storage.ErrNotFound
		}
		return token.Token{}, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// TokenHashExists reports whether a token with the given hash was already
// recorded. Hash uniqueness is also enforced by the schema; this check lets
// the service return a coded duplicate error before hitting the constraint.
func (s *Store) TokenHashExists(ctx context.Context, hash string) (bool, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM shared_tokens WHERE token_hash = ?;
`, hash)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("check token hash: %w", err)
	}
	return count > 0, nil
}

// FindSharedToken answers a shared-session inquiry with the freshest match.
func (s *Store) FindSharedToken(ctx context.Context, userID, tokenID, systemID string, maxAge time.Duration, now time.Time) (token.Token, error) {
	oldest := now.Add(-maxAge)
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+tokenColumns+`
FROM shared_tokens
WHERE user_id = ? AND id = ? AND system_id = ? AND issued_at >= ?
ORDER BY issued_at DESC
LIMIT 1;
`, userID, tokenID, systemID, toMillis(oldest))
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return token.Token{}, storage.ErrNotFound
		}
		return token.Token{}, fmt.Errorf("find shared token: %w", err)
	}
	return t, nil
}

// CountTokens returns the total number of ledger entries.
func (s *Store) CountTokens(ctx context.Context) (int, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM shared_tokens;`)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return count, nil
}
