package token

import (
	"testing"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMintAndVerifyRoundtrip(t *testing.T) {
	minter, err := NewMinter([]byte("secret"), "crm", func() time.Time { return testTime })
	if err != nil {
		t.Fatalf("new minter: %v", err)
	}

	raw, err := minter.Mint("sess1", "u1", "wf1", "f1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := minter.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.SessionID != "sess1" || claims.Subject != "u1" || claims.WorkflowID != "wf1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != "crm" {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
	if !claims.ExpiresAt.Time.Equal(testTime.Add(DefaultTTL)) {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	clock := testTime
	minter, err := NewMinter([]byte("secret"), "crm", func() time.Time { return clock })
	if err != nil {
		t.Fatalf("new minter: %v", err)
	}

	raw, err := minter.Mint("sess1", "u1", "wf1", "f1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	clock = testTime.Add(DefaultTTL + time.Minute)
	if _, err := minter.Verify(raw); !errors.Is(err, errors.CodeTokenExpired) {
		t.Fatalf("expected TOKEN_EXPIRED, got %v", err)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	now := func() time.Time { return testTime }
	minter, _ := NewMinter([]byte("secret"), "crm", now)
	other, _ := NewMinter([]byte("different"), "crm", now)

	raw, err := other.Mint("sess1", "u1", "wf1", "f1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := minter.Verify(raw); !errors.Is(err, errors.CodeValidation) {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
}

func TestNewMinterRequiresSecret(t *testing.T) {
	if _, err := NewMinter(nil, "crm", nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
