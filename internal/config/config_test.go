package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ECOTRACK_AUTH_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.AccessTTL != 15*time.Minute || cfg.AuthIssuer != "ecotrack" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("ECOTRACK_AUTH_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without auth secret")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("ECOTRACK_AUTH_SECRET", "s3cret")
	t.Setenv("ECOTRACK_ACCESS_TTL", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}
