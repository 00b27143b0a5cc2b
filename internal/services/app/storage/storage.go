// Package storage defines the persistence contract for a member app's local
// state: the sessions it mirrors from the authority and the notification
// receipts that keep redelivery idempotent.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record does not exist locally.
var ErrNotFound = errors.New("record not found")

// Source records how a local session came to exist.
type Source string

const (
	// SourceCreated marks sessions the app created at the authority itself.
	SourceCreated Source = "created"
	// SourceNotified marks sessions materialized from a peer notification.
	SourceNotified Source = "notified"
)

// LocalSession is the app's mirror of one authority session.
type LocalSession struct {
	ID        string
	UserID    string
	Data      string
	Source    Source
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its TTL at the given instant.
func (s LocalSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Receipt records that one token notification was processed. token_id maps to
// at most one local session, so redelivery returns the stored outcome instead
// of creating a duplicate.
type Receipt struct {
	TokenID             string
	SessionID           string
	UserID              string
	WorkflowID          string
	WorkflowStatus      string
	LocalSessionCreated bool
	ReceivedAt          time.Time
}

// Store is the member app persistence surface.
type Store interface {
	PutSession(ctx context.Context, session LocalSession) error
	GetSession(ctx context.Context, id string) (LocalSession, error)

	PutReceipt(ctx context.Context, receipt Receipt) error
	GetReceipt(ctx context.Context, tokenID string) (Receipt, error)
}
