package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"HTTP_ADDR", "DATABASE_URL", "REDIS_URL", "JWT_SECRET", "LOG_LEVEL",
		"LOCK_TIMEOUT", "SLA_ESCALATION_INTERVAL", "SLA_BREACH_INTERVAL",
		"SLA_ITEM_TIMEOUT", "SLA_DEFAULT_RESOLUTION_HOURS", "NOTIFY_RATE_PER_SECOND",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadDefaultsWithEnvDatabase(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/disputes")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EscalationInterval != 5*time.Minute || cfg.BreachInterval != 10*time.Minute {
		t.Fatalf("unexpected intervals: %v %v", cfg.EscalationInterval, cfg.BreachInterval)
	}
	if cfg.ItemTimeout != 10*time.Second {
		t.Fatalf("expected 10s item timeout, got %v", cfg.ItemTimeout)
	}
	if cfg.DefaultResolutionHours != 720 {
		t.Fatalf("expected 720h default, got %d", cfg.DefaultResolutionHours)
	}
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "disputeflow.yaml")
	body := `
http:
  addr: ":9000"
database:
  url: postgres://file/db
  lock_timeout: 2s
sla:
  escalation_interval: 1m
  breach_interval: 3m
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SLA_BREACH_INTERVAL", "7m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" || cfg.DatabaseURL != "postgres://file/db" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.LockTimeout != 2*time.Second || cfg.EscalationInterval != time.Minute {
		t.Fatalf("file durations not applied: %+v", cfg)
	}
	if cfg.BreachInterval != 7*time.Minute {
		t.Fatalf("env override lost, got %v", cfg.BreachInterval)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SLA_ESCALATION_INTERVAL", "0s")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"database url", "escalation interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/disputes")
	t.Setenv("SLA_ITEM_TIMEOUT", "soon")

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "SLA_ITEM_TIMEOUT") {
		t.Fatalf("expected SLA_ITEM_TIMEOUT error, got %v", err)
	}
}
