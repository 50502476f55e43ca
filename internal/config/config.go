// Package config loads the service's YAML configuration, applying
// ${VAR}/${VAR:-default} environment substitution before unmarshalling.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the ingest + backfill service.
type Config struct {
	Ingest        IngestConfig        `json:"ingest" yaml:"ingest"`
	Buffer        BufferConfig        `json:"buffer" yaml:"buffer"`
	Store         StoreConfig         `json:"store" yaml:"store"`
	Workspace     WorkspaceConfig     `json:"workspace" yaml:"workspace"`
	Backfill      BackfillConfig      `json:"backfill" yaml:"backfill"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// IngestConfig controls the HTTP ingest endpoint.
type IngestConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// BufferConfig controls the per-workspace event buffer's flush thresholds.
type BufferConfig struct {
	MaxSize       int           `json:"max_size" yaml:"max_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// StoreConfig is the ClickHouse connection the events/task/mutation client
// dials. Tenant tables live in one database per workspace, named by
// prefixing the workspace id; the task table lives in the system database.
type StoreConfig struct {
	Addr              []string `json:"addr" yaml:"addr"`
	SystemDatabase    string   `json:"system_database" yaml:"system_database"`
	WorkspaceDBPrefix string   `json:"workspace_db_prefix" yaml:"workspace_db_prefix"`
	Username          string   `json:"username" yaml:"username"`
	Password          string   `json:"password" yaml:"password"`
}

// WorkspaceConfig controls the workspace settings cache and its cross-
// replica invalidation bus.
type WorkspaceConfig struct {
	CacheTTL    time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	RedisAddr   string        `json:"redis_addr" yaml:"redis_addr"`
	RedisPrefix string        `json:"redis_prefix" yaml:"redis_prefix"`
}

// BackfillConfig controls the backfill orchestrator's tunables.
type BackfillConfig struct {
	StaleThresholdMinutes int `json:"stale_threshold_minutes" yaml:"stale_threshold_minutes"`
}

// ObservabilityConfig controls metrics/tracing export.
type ObservabilityConfig struct {
	MetricsListenAddr string  `json:"metrics_listen_addr" yaml:"metrics_listen_addr"`
	OTLPEndpoint      string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	TraceSampleRatio  float64 `json:"trace_sample_ratio" yaml:"trace_sample_ratio"`
}

// Default returns a Config with the service's documented defaults.
func Default() Config {
	return Config{
		Ingest: IngestConfig{ListenAddr: ":8080"},
		Buffer: BufferConfig{MaxSize: 500, FlushInterval: 2 * time.Second},
		Store: StoreConfig{
			Addr:              []string{"127.0.0.1:9000"},
			SystemDatabase:    "analytics_system",
			WorkspaceDBPrefix: "analytics_ws_",
		},
		Workspace: WorkspaceConfig{
			CacheTTL:    60 * time.Second,
			RedisPrefix: "analytics:",
		},
		Backfill:      BackfillConfig{StaleThresholdMinutes: staleThresholdFromEnv()},
		Observability: ObservabilityConfig{MetricsListenAddr: ":9090", TraceSampleRatio: 1.0},
	}
}

// staleThresholdFromEnv reads BACKFILL_STALE_THRESHOLD_MINUTES, defaulting
// to 5 when unset or unparseable.
func staleThresholdFromEnv() int {
	if v := os.Getenv("BACKFILL_STALE_THRESHOLD_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 5
}

// Load reads a YAML config file at path, applying environment substitution,
// and overlays it onto the documented defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	content := SubstituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	return cfg, nil
}

var envRegex = regexp.MustCompile(`\${(\w+)(?::-([^}]*))?}`)

// SubstituteEnvVars replaces ${VAR} and ${VAR:-default} references in input
// with the matching environment variable, or the default when unset.
func SubstituteEnvVars(input string) string {
	return envRegex.ReplaceAllStringFunc(input, func(m string) string {
		matches := envRegex.FindStringSubmatch(m)
		if len(matches) < 2 {
			return m
		}
		if val, ok := os.LookupEnv(matches[1]); ok {
			return val
		}
		if len(matches) > 2 && strings.Contains(m, ":-") {
			return matches[2]
		}
		return m
	})
}
