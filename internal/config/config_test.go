package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/qsync/internal/lifecycle"
)

func validConfig() Config {
	return Config{
		ServerURL: "http://localhost:8730",
		Sheet:     "sales",
		Actor:     "alice",
	}
}

func TestInitializeAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig()
	cfg.RefreshInterval = "15s"
	cfg.RejectPolicy = "strict"

	created, err := Initialize(dir, cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, QsyncDir), created.Path())

	info, err := os.Stat(filepath.Join(dir, QsyncDir, ConfigFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// Load walks up from a nested directory
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	t.Chdir(nested)

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sales", loaded.Sheet)
	assert.Equal(t, filepath.Join(dir, QsyncDir, CacheFile), loaded.CachePath())

	d, err := loaded.Refresh()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, d)

	ttl, err := loaded.TTL()
	require.NoError(t, err)
	assert.Equal(t, DefaultCacheTTL, ttl)

	p, err := loaded.Policy()
	require.NoError(t, err)
	assert.Equal(t, lifecycle.RejectStrict, p)
}

func TestInitialize_AlreadyExists(t *testing.T) {
	dir := t.TempDir()
	_, err := Initialize(dir, validConfig())
	require.NoError(t, err)

	_, err = Initialize(dir, validConfig())
	assert.Error(t, err)
}

func TestInitialize_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig()
	cfg.Sheet = ""

	_, err := Initialize(dir, cfg)
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, QsyncDir))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoad_NotInitialized(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	created, err := Initialize(dir, validConfig())
	require.NoError(t, err)

	t.Setenv(EnvToken, "qsync_secret")
	t.Setenv(EnvServerURL, "https://qsync.example.com")
	t.Setenv(EnvActor, "bob")

	cfg, err := LoadFrom(created.Path())
	require.NoError(t, err)
	assert.Equal(t, "qsync_secret", cfg.Token)
	assert.Equal(t, "https://qsync.example.com", cfg.ServerURL)
	assert.Equal(t, "bob", cfg.Actor)

	raw, err := ReadFile(created.Path())
	require.NoError(t, err)
	assert.Empty(t, raw.Token)
	assert.Equal(t, "alice", raw.Actor)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing server", func(c *Config) { c.ServerURL = "" }, false},
		{"missing actor", func(c *Config) { c.Actor = "" }, false},
		{"bad interval", func(c *Config) { c.RefreshInterval = "soon" }, false},
		{"negative ttl", func(c *Config) { c.CacheTTL = "-1m" }, false},
		{"unknown policy", func(c *Config) { c.RejectPolicy = "latest" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
