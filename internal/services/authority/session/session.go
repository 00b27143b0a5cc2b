// Package session models time-bounded user sessions.
//
// The TTL is fixed from creation: last_accessed_at is recorded for audit but
// does not slide expiry. Deployments that want a different policy set the TTL
// at creation time.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
	"github.com/datarivers-io/alohomora/internal/platform/id"
)

// DefaultTTL is how long a session lives when the caller does not choose.
const DefaultTTL = time.Hour

// Session is a time-bounded user session.
type Session struct {
	ID             string
	UserID         string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time
	Data           string
}

// Expired reports whether the session is past its TTL at the given instant.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// CreateInput describes the metadata needed to create a session.
type CreateInput struct {
	UserID string
	Data   string
	TTL    time.Duration // zero means DefaultTTL
}

// Create creates a new session with a generated ID and fixed expiry.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.UserID = strings.TrimSpace(input.UserID)
	if input.UserID == "" {
		return Session{}, errors.New(errors.CodeValidation, "user_id must be a non-empty string")
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	createdAt := now().UTC()
	return Session{
		ID:             sessionID,
		UserID:         input.UserID,
		CreatedAt:      createdAt,
		LastAccessedAt: createdAt,
		ExpiresAt:      createdAt.Add(ttl),
		Data:           input.Data,
	}, nil
}
