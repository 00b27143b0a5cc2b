package ledger

import (
	"context"
	"fmt"

	"github.com/datarivers-io/alohomora/internal/services/authority/session"
)

// CreateSession issues a new session with the fixed TTL.
func (s *Service) CreateSession(ctx context.Context, input session.CreateInput) (session.Session, error) {
	sess, err := session.Create(input, s.now, s.newID)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.store.PutSession(ctx, sess); err != nil {
		return session.Session{}, fmt.Errorf("persist session: %w", err)
	}
	return sess, nil
}

// ReapExpiredSessions removes sessions past their TTL. Expiry checks never
// depend on this running; it only keeps the table small.
func (s *Service) ReapExpiredSessions(ctx context.Context) (int, error) {
	return s.store.DeleteExpiredSessions(ctx, s.now().UTC())
}
