package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "least_connections", cfg.Fleet.Strategy)
	assert.Equal(t, 30*time.Second, cfg.Fleet.HealthCheckInterval)
	assert.Equal(t, 5*time.Second, cfg.Fleet.ProbeTimeout)
	assert.Equal(t, 3, cfg.Fleet.EscalationThreshold)
	assert.Equal(t, 2, cfg.Queue.WorkerCount)
	assert.Equal(t, "json", cfg.Logging.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pressroom.yaml")
	raw := `
server:
  port: 9090
fleet:
  strategy: weighted
  escalation_threshold: 5
  backup_regions:
    NA: [EU, APAC]
queue:
  worker_count: 4
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "weighted", cfg.Fleet.Strategy)
	assert.Equal(t, 5, cfg.Fleet.EscalationThreshold)
	assert.Equal(t, []string{"EU", "APAC"}, cfg.Fleet.BackupRegions["NA"])
	assert.Equal(t, 4, cfg.Queue.WorkerCount)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.Fleet.ProbeTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pressroom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	t.Setenv("PRESSROOM_PORT", "7070")
	t.Setenv("PRESSROOM_STRATEGY", "ROUND_ROBIN")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "round_robin", cfg.Fleet.Strategy)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad_port", func(c *Config) { c.Server.Port = 0 }},
		{"missing_db_path", func(c *Config) { c.Database.Path = "" }},
		{"zero_probe_timeout", func(c *Config) { c.Fleet.ProbeTimeout = 0 }},
		{"zero_threshold", func(c *Config) { c.Fleet.EscalationThreshold = 0 }},
		{"unknown_strategy", func(c *Config) { c.Fleet.Strategy = "random" }},
		{"zero_workers", func(c *Config) { c.Queue.WorkerCount = 0 }},
		{"unknown_log_level", func(c *Config) { c.Logging.Level = "trace" }},
		{"unknown_log_format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, defaults().Validate())
}
