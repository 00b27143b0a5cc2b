package session

import (
	"testing"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
)

func TestCreateFixedTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := Create(CreateInput{UserID: "u1", Data: "{}"}, func() time.Time { return now }, func() (string, error) { return "sess1", nil })
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !s.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected 1h expiry, got %v", s.ExpiresAt)
	}
	if !s.LastAccessedAt.Equal(s.CreatedAt) {
		t.Fatal("expected last_accessed_at to start at created_at")
	}
}

func TestCreateCustomTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := Create(CreateInput{UserID: "u1", TTL: 30 * time.Minute}, func() time.Time { return now }, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !s.ExpiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("expected 30m expiry, got %v", s.ExpiresAt)
	}
}

func TestCreateRequiresUserID(t *testing.T) {
	_, err := Create(CreateInput{UserID: "  "}, nil, nil)
	if errors.CodeOf(err) != errors.CodeValidation {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
}

func TestExpiredBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Session{ExpiresAt: now}

	if s.Expired(now) {
		t.Fatal("session should not be expired exactly at expires_at")
	}
	if !s.Expired(now.Add(time.Nanosecond)) {
		t.Fatal("session should be expired after expires_at")
	}
}
