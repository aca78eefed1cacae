package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ONA_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "deny", cfg.License.UnknownLimitPolicy)
	assert.Equal(t, "memory", cfg.Graph.Store)
	assert.Equal(t, 10000, cfg.Graph.FetchLimit)
	assert.Equal(t, 100000, cfg.Graph.CliqueMaxResults)
	assert.Equal(t, 15*time.Second, cfg.Graph.QueryTimeout)
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
	assert.False(t, cfg.Ingest.AllowPrivateSources)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "ona.yaml", `
server:
  port: 9000
  allowed_origins: ["https://app.example.com"]
graph:
  store: neo4j
  neo4j_uri: bolt://graph:7687
  query_timeout: 5s
license:
  unknown_limit_policy: allow
`)
	t.Setenv("ONA_PORT", "9100")
	t.Setenv("ONA_GRAPH_ALGORITHM_TIMEOUT", "2m")
	t.Setenv("ONA_ALLOW_PRIVATE_SOURCES", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.EnvOverrides["PORT"])
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "neo4j", cfg.Graph.Store)
	assert.Equal(t, 5*time.Second, cfg.Graph.QueryTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Graph.AlgorithmTimeout)
	assert.Equal(t, "allow", cfg.License.UnknownLimitPolicy)
	assert.Equal(t, path, cfg.FilePath)
	assert.True(t, cfg.Ingest.AllowPrivateSources)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("ONA_DATA_DIR", dir)
	writeFile(t, dir, ".env", "ONA_LOG_LEVEL=debug\n")
	t.Cleanup(func() { os.Unsetenv("ONA_LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.yaml", "server: [")
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"license store", func(c *Config) { c.License.Store = "mongo" }},
		{"postgres dsn", func(c *Config) { c.License.Store = "postgres" }},
		{"policy", func(c *Config) { c.License.UnknownLimitPolicy = "maybe" }},
		{"graph store", func(c *Config) { c.Graph.Store = "arangodb" }},
		{"timeouts", func(c *Config) { c.Graph.QueryTimeout = 0 }},
		{"s3 bucket", func(c *Config) { c.Archive.Backend = "s3" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestWatcherReloadsRuntimeSettings(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "ona.yaml", "log:\n  level: info\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	reloaded := make(chan string, 1)
	cw, err := NewConfigWatcher(cfg, func(c *Config) {
		reloaded <- c.License.UnknownLimitPolicy
	})
	require.NoError(t, err)
	cw.debounce = 0
	defer cw.Stop()

	events := make(chan fsnotify.Event)
	errs := make(chan error)
	go cw.handleEvents(events, errs)

	writeFile(t, dir, "ona.yaml", "log:\n  level: warn\nlicense:\n  unknown_limit_policy: allow\n")
	events <- fsnotify.Event{Name: filepath.Join(dir, "other.txt"), Op: fsnotify.Write}
	events <- fsnotify.Event{Name: path, Op: fsnotify.Write}

	select {
	case policy := <-reloaded:
		assert.Equal(t, "allow", policy)
	case <-time.After(2 * time.Second):
		t.Fatal("config was not reloaded")
	}

	Mu.RLock()
	assert.Equal(t, "warn", cfg.Log.Level)
	Mu.RUnlock()
}

func TestWatcherKeepsSettingsOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "ona.yaml", "log:\n  level: info\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	cw, err := NewConfigWatcher(cfg, nil)
	require.NoError(t, err)
	defer cw.Stop()

	writeFile(t, dir, "ona.yaml", "license:\n  unknown_limit_policy: sometimes\n")
	cw.ReloadConfig()
	assert.Equal(t, "deny", cfg.License.UnknownLimitPolicy)
}
