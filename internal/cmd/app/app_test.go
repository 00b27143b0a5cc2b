package app

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("app", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != ":8090" {
		t.Fatalf("expected default addr :8090, got %q", cfg.Addr)
	}
	if cfg.SystemName != "member-app" {
		t.Fatalf("expected default system name, got %q", cfg.SystemName)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("ALOHOMORA_APP_TOKEN_SECRET", "env-secret")

	fs := flag.NewFlagSet("app", flag.ContinueOnError)
	args := []string{"-system-id", "s9", "-replica-url", "http://replica:8089"}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.TokenSecret != "env-secret" {
		t.Fatalf("expected env token secret, got %q", cfg.TokenSecret)
	}
	if cfg.SystemID != "s9" || cfg.ReplicaURL != "http://replica:8089" {
		t.Fatalf("expected flag values, got %+v", cfg)
	}
}
