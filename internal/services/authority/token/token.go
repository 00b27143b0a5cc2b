// Package token models the append-only authorization artifacts the ledger
// records. Tokens are opaque to the authority: it stores a hash for
// duplicate detection and never verifies signatures.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultTTL is the expiry applied when a token carries none of its own.
const DefaultTTL = time.Hour

// Token binds a session to one workflow step (function + system pair).
// Tokens are append-only: never mutated after issuance, only referenced.
type Token struct {
	ID             string
	SessionID      string
	SystemID       string
	WorkflowID     string
	FunctionID     string
	UserID         string
	Hash           string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	LastVerifiedAt *time.Time
	Metadata       string
}

// Expired reports whether the token is past its expiry at the given instant.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// Hash returns the hex-encoded SHA-256 digest used to detect duplicate
// registrations without relying on the raw token value as a key.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
