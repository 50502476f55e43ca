package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("CFG_TEST_HOST", "ch.example.com")
	os.Unsetenv("CFG_TEST_MISSING")

	cases := []struct {
		in, want string
	}{
		{"addr: ${CFG_TEST_HOST}:9000", "addr: ch.example.com:9000"},
		{"addr: ${CFG_TEST_MISSING:-localhost}:9000", "addr: localhost:9000"},
		{"addr: ${CFG_TEST_MISSING}", "addr: ${CFG_TEST_MISSING}"},
		{"plain: value", "plain: value"},
	}
	for _, tc := range cases {
		if got := SubstituteEnvVars(tc.in); got != tc.want {
			t.Errorf("SubstituteEnvVars(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	t.Setenv("CFG_TEST_DB", "analytics_sys")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
store:
  system_database: ${CFG_TEST_DB}
buffer:
  max_size: 100
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Store.SystemDatabase != "analytics_sys" {
		t.Errorf("system_database: got %q", cfg.Store.SystemDatabase)
	}
	if cfg.Buffer.MaxSize != 100 {
		t.Errorf("max_size: got %d", cfg.Buffer.MaxSize)
	}
	// Untouched sections keep their defaults.
	if cfg.Buffer.FlushInterval != 2*time.Second {
		t.Errorf("flush_interval default lost: %v", cfg.Buffer.FlushInterval)
	}
	if cfg.Workspace.CacheTTL != 60*time.Second {
		t.Errorf("cache_ttl default lost: %v", cfg.Workspace.CacheTTL)
	}
}

func TestDefault_StaleThresholdFromEnv(t *testing.T) {
	t.Setenv("BACKFILL_STALE_THRESHOLD_MINUTES", "12")
	if got := Default().Backfill.StaleThresholdMinutes; got != 12 {
		t.Errorf("stale threshold: got %d, want 12", got)
	}

	t.Setenv("BACKFILL_STALE_THRESHOLD_MINUTES", "not-a-number")
	if got := Default().Backfill.StaleThresholdMinutes; got != 5 {
		t.Errorf("unparseable env must fall back to 5, got %d", got)
	}
}
