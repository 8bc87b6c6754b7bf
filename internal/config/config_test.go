package config

import (
	"os"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTHN_ORG_URL", "https://acme.example.com")
	t.Setenv("AUTHN_OIDC_CLIENT_ID", "client-123")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "authenticator.db" {
		t.Errorf("DBPath default: got %q", cfg.DBPath)
	}
	if cfg.APSEnvironment != "production" {
		t.Errorf("APSEnvironment default: got %q", cfg.APSEnvironment)
	}
	if cfg.Timeout() != 30*time.Second {
		t.Errorf("Timeout default: got %v", cfg.Timeout())
	}
	if cfg.Skew() != 60*time.Second {
		t.Errorf("Skew default: got %v", cfg.Skew())
	}
	if cfg.PushSkew() != 300*time.Second {
		t.Errorf("PushSkew default: got %v", cfg.PushSkew())
	}
}

func TestLoad_MissingOrgURL(t *testing.T) {
	os.Unsetenv("AUTHN_ORG_URL")
	t.Setenv("AUTHN_OIDC_CLIENT_ID", "client-123")
	if _, err := Load(); err == nil {
		t.Fatal("Load: want error for missing AUTHN_ORG_URL")
	}
}

func TestLoad_InvalidAPSEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTHN_APS_ENVIRONMENT", "staging")
	if _, err := Load(); err == nil {
		t.Fatal("Load: want error for invalid AUTHN_APS_ENVIRONMENT")
	}
}

func TestDurations_Invalid(t *testing.T) {
	cfg := &Config{HTTPTimeout: "nope", ClockSkew: "-5s", PushClockSkew: ""}
	if cfg.Timeout() != 30*time.Second {
		t.Errorf("Timeout fallback: got %v", cfg.Timeout())
	}
	if cfg.Skew() != 60*time.Second {
		t.Errorf("Skew fallback: got %v", cfg.Skew())
	}
	if cfg.PushSkew() != 300*time.Second {
		t.Errorf("PushSkew fallback: got %v", cfg.PushSkew())
	}
}
