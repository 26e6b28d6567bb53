package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Contains(t, cfg.Store.DatabaseURL, "grant_enhancer")
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:4200"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Monitor.Concurrency)
	assert.Equal(t, 10, cfg.Monitor.TimeoutSecs)
	assert.Equal(t, 24, cfg.Monitor.StaleAfterHours)
	assert.InDelta(t, 2.0, cfg.Monitor.RateLimitRPS, 0.001)
	assert.Equal(t, 10, cfg.Monitor.BatchLimit)
	assert.Equal(t, int64(2<<20), cfg.Monitor.MaxBodyBytes)
	assert.Equal(t, 8, cfg.Enhance.Concurrency)
	assert.Equal(t, 85, cfg.Dedupe.TitleThreshold)
	assert.Equal(t, 80, cfg.Dedupe.AgencyThreshold)
	assert.InDelta(t, 0.2, cfg.Dedupe.AmountTolerance, 0.001)
	assert.Equal(t, 20, cfg.Match.Limit)
	assert.Empty(t, cfg.Admin.Secret)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
server:
  port: 9090
log:
  level: debug
  format: console
dedupe:
  title_threshold: 90
monitor:
  timeout_secs: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 90, cfg.Dedupe.TitleThreshold)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Timeout())
	// Defaults still apply for unset values
	assert.Equal(t, 80, cfg.Dedupe.AgencyThreshold)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("match:\n  limit: 5\n"), 0644))

	t.Setenv("GRANTS_MATCH_LIMIT", "7")
	t.Setenv("GRANTS_ADMIN_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Match.Limit)
	assert.Equal(t, "s3cret", cfg.Admin.Secret)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [oops"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	chdirTemp(t)
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"title threshold", func(c *Config) { c.Dedupe.TitleThreshold = 101 }, "title_threshold"},
		{"agency threshold", func(c *Config) { c.Dedupe.AgencyThreshold = -1 }, "agency_threshold"},
		{"tolerance", func(c *Config) { c.Dedupe.AmountTolerance = 1.5 }, "amount_tolerance"},
		{"monitor concurrency", func(c *Config) { c.Monitor.Concurrency = 0 }, "monitor.concurrency"},
		{"timeout too long", func(c *Config) { c.Monitor.TimeoutSecs = 30 }, "timeout_secs"},
		{"timeout zero", func(c *Config) { c.Monitor.TimeoutSecs = 0 }, "timeout_secs"},
		{"enhance concurrency", func(c *Config) { c.Enhance.Concurrency = 0 }, "enhance.concurrency"},
		{"empty dsn", func(c *Config) { c.Store.DatabaseURL = "" }, "database_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestPipelineConfig(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Dedupe.TitleThreshold = 90
	cfg.Monitor.StaleAfterHours = 6
	cfg.Enhance.Concurrency = 3

	pc := cfg.Pipeline()
	assert.Equal(t, 90, pc.Dedupe.TitleThreshold)
	assert.Equal(t, 6*time.Hour, pc.Status.StaleAfter)
	assert.Equal(t, 10*time.Second, pc.Status.Timeout)
	assert.Equal(t, 3, pc.Concurrency)
	assert.InDelta(t, 1.0, pc.Matcher.Weights.Sum(), 1e-9)
}

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
