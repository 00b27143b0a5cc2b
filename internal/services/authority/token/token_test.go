package token

import (
	"testing"
	"time"
)

func TestHashIsStableAndHex(t *testing.T) {
	first := Hash("opaque-token-value")
	second := Hash("opaque-token-value")
	if first != second {
		t.Fatal("expected deterministic hash")
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(first))
	}
	if Hash("other") == first {
		t.Fatal("expected distinct inputs to hash differently")
	}
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tok := Token{ExpiresAt: now.Add(time.Hour)}
	if tok.Expired(now) {
		t.Fatal("token should not be expired before expires_at")
	}
	if !tok.Expired(now.Add(2 * time.Hour)) {
		t.Fatal("token should be expired after expires_at")
	}

	unbounded := Token{}
	if unbounded.Expired(now) {
		t.Fatal("token without expiry never expires")
	}
}
