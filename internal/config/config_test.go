package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected level debug, got %s", cfg.Log.Level)
	}
	if cfg.Trading.AccountBalance != 500 {
		t.Fatalf("expected default balance 500, got %.2f", cfg.Trading.AccountBalance)
	}
	if cfg.Trading.MinHold != 2*time.Minute || cfg.Trading.MaxHold != 5*time.Minute {
		t.Fatalf("unexpected default hold bounds: %s, %s", cfg.Trading.MinHold, cfg.Trading.MaxHold)
	}
	if len(cfg.Trading.Pairs) == 0 {
		t.Fatal("expected default pairs")
	}
	for _, pair := range cfg.Trading.Pairs {
		if cfg.Trading.Leverage[pair] != 5 {
			t.Fatalf("expected default leverage 5 for %s, got %.2f", pair, cfg.Trading.Leverage[pair])
		}
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts 3, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Verify.SizeTolerance != 0.02 {
		t.Fatalf("expected default size tolerance 0.02, got %.4f", cfg.Verify.SizeTolerance)
	}
	if cfg.Orchestrator.MaxCycleRestarts != 3 {
		t.Fatalf("expected default restart budget 3, got %d", cfg.Orchestrator.MaxCycleRestarts)
	}
	if cfg.Lighter.BaseURL == "" || cfg.Pacifica.BaseURL == "" || cfg.Pacifica.WSURL == "" {
		t.Fatal("expected default venue endpoints")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
trading:
  account_balance: 2500
  min_position_percent: 10
  max_position_percent: 30
  pairs: [ETH, HYPE]
  leverage:
    ETH: 10
    HYPE: 3
  min_hold: 30s
  max_hold: 1m
retry:
  max_attempts: 7
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Trading.AccountBalance != 2500 {
		t.Fatalf("expected balance 2500, got %.2f", cfg.Trading.AccountBalance)
	}
	if cfg.Trading.Leverage["HYPE"] != 3 {
		t.Fatalf("expected leverage 3 for HYPE, got %.2f", cfg.Trading.Leverage["HYPE"])
	}
	if cfg.Retry.MaxAttempts != 7 {
		t.Fatalf("expected 7 attempts, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"inverted position percent", "trading:\n  min_position_percent: 80\n  max_position_percent: 50\n"},
		{"position percent above 100", "trading:\n  max_position_percent: 120\n"},
		{"inverted hold bounds", "trading:\n  min_hold: 10m\n  max_hold: 2m\n"},
		{"inverted cycle wait", "trading:\n  min_cycle_wait: 5m\n  max_cycle_wait: 1m\n"},
		{"bad leverage", "trading:\n  pairs: [BTC]\n  leverage:\n    BTC: 500\n"},
		{"size tolerance out of range", "verify:\n  size_tolerance: 1.5\n"},
		{"timescale without dsn", "timescale:\n  enabled: true\n"},
	}
	for _, tc := range cases {
		if _, err := Load(writeConfig(t, tc.body)); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
