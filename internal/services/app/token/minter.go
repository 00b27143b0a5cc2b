// Package token mints signed tokens for a member app.
//
// The authority treats tokens as opaque strings and only hashes them for
// duplicate detection, so the signature matters to the minting app alone. A
// caller that brings its own token bypasses the minter entirely.
package token

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
)

// DefaultTTL is the validity window stamped into minted tokens.
const DefaultTTL = time.Hour

// Claims are the claims a minted token carries.
type Claims struct {
	SessionID  string `json:"session_id"`
	WorkflowID string `json:"workflow_id"`
	FunctionID string `json:"function_id"`
	jwt.RegisteredClaims
}

// Minter signs tokens with an HMAC secret shared within the app.
type Minter struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewMinter creates a minter. issuer names the app in the token's iss claim,
// typically the system name registered at the authority.
func NewMinter(secret []byte, issuer string, now func() time.Time) (*Minter, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Minter{secret: secret, issuer: issuer, ttl: DefaultTTL, now: now}, nil
}

// Mint signs a token binding the session to one workflow step.
func (m *Minter) Mint(sessionID, userID, workflowID, functionID string) (string, error) {
	issuedAt := m.now().UTC()
	claims := Claims{
		SessionID:  sessionID,
		WorkflowID: workflowID,
		FunctionID: functionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token this minter issued and returns its claims. Expired or
// foreign-signed tokens report TOKEN_EXPIRED and VALIDATION respectively.
func (m *Minter) Verify(raw string) (Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return Claims{}, errors.New(errors.CodeValidation, "token must be a non-empty string")
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, errors.New(errors.CodeTokenExpired, "token is expired")
		}
		return Claims{}, errors.Newf(errors.CodeValidation, "invalid token: %v", err)
	}
	return claims, nil
}
