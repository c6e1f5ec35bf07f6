// Package config manages qsync client configuration and the .qsync directory.
// It handles loading, saving and initializing the per-project configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/kilupskalvis/qsync/internal/lifecycle"
)

const (
	QsyncDir   = ".qsync"
	ConfigFile = "config"
	CacheFile  = "cache.db"
)

// Environment variables that override the config file.
const (
	EnvToken     = "QSYNC_TOKEN"
	EnvServerURL = "QSYNC_SERVER_URL"
	EnvActor     = "QSYNC_ACTOR"
	EnvLogLevel  = "QSYNC_LOG_LEVEL"
)

// Defaults for optional settings.
const (
	DefaultRefreshInterval = 30 * time.Second
	DefaultCacheTTL        = 10 * time.Minute
)

// ErrNotInitialized is returned when no .qsync directory is found.
var ErrNotInitialized = errors.New("not a qsync project (or any parent up to root)")

// Config represents the qsync client configuration
type Config struct {
	ServerURL       string `toml:"server_url"`
	Sheet           string `toml:"sheet"`
	Token           string `toml:"token,omitempty"`
	Actor           string `toml:"actor"`
	Privileged      bool   `toml:"privileged,omitempty"`
	RefreshInterval string `toml:"refresh_interval,omitempty"` // Go duration, e.g. "30s"
	CacheTTL        string `toml:"cache_ttl,omitempty"`
	RejectPolicy    string `toml:"reject_policy,omitempty"` // "earliest" or "strict"

	path string // path to .qsync directory
}

// FindRoot finds the .qsync directory by walking up from the current directory
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		p := filepath.Join(dir, QsyncDir)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotInitialized
		}
		dir = parent
	}
}

// Load loads the configuration from the nearest .qsync directory and applies
// environment overrides.
func Load() (*Config, error) {
	root, err := FindRoot()
	if err != nil {
		return nil, err
	}
	return LoadFrom(root)
}

// LoadFrom loads the configuration stored in the given .qsync directory.
func LoadFrom(root string) (*Config, error) {
	cfg, err := ReadFile(root)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile parses the config file as stored, without environment overrides.
func ReadFile(root string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.path = root
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvToken); v != "" {
		c.Token = v
	}
	if v := os.Getenv(EnvServerURL); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv(EnvActor); v != "" {
		c.Actor = v
	}
}

// Validate checks required fields and that durations and policy parse.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is not set")
	}
	if c.Sheet == "" {
		return fmt.Errorf("sheet is not set")
	}
	if c.Actor == "" {
		return fmt.Errorf("actor is not set")
	}
	if _, err := c.Refresh(); err != nil {
		return err
	}
	if _, err := c.TTL(); err != nil {
		return err
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	return nil
}

// Refresh returns the background refresh interval.
func (c *Config) Refresh() (time.Duration, error) {
	return parseDuration("refresh_interval", c.RefreshInterval, DefaultRefreshInterval)
}

// TTL returns the freshness window of the local cache.
func (c *Config) TTL() (time.Duration, error) {
	return parseDuration("cache_ttl", c.CacheTTL, DefaultCacheTTL)
}

// Policy returns the reject-delete fallback policy.
func (c *Config) Policy() (lifecycle.RejectPolicy, error) {
	return lifecycle.ParseRejectPolicy(c.RejectPolicy)
}

func parseDuration(name, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", name, s)
	}
	return d, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	// the file may hold a token
	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, 0600)
}

// Path returns the path to the .qsync directory
func (c *Config) Path() string {
	return c.path
}

// CachePath returns the path to the bbolt cache
func (c *Config) CachePath() string {
	return filepath.Join(c.path, CacheFile)
}

// Initialize creates a new .qsync directory in dir with the given settings.
func Initialize(dir string, cfg Config) (*Config, error) {
	root := filepath.Join(dir, QsyncDir)

	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("qsync project already exists in %s", dir)
	}

	cfg.path = root
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", QsyncDir, err)
	}

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(root)
		return nil, err
	}

	return &cfg, nil
}
