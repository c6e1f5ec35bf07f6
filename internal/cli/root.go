// Package cli implements the command-line interface for qsync.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/qsync/internal/cache"
	"github.com/kilupskalvis/qsync/internal/config"
	"github.com/kilupskalvis/qsync/internal/engine"
	"github.com/kilupskalvis/qsync/internal/remote"
	"github.com/kilupskalvis/qsync/internal/store"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config *config.Config
	Cache  *cache.BoltCache
	Engine *engine.Engine
	Store  *store.Store
	Logger *slog.Logger
}

// Close releases resources held by cmdContext. The durable cache is kept.
func (c *cmdContext) Close() {
	if c.Store != nil {
		c.Store.Stop()
	}
	if c.Cache != nil {
		c.Cache.Close()
	}
}

// initContext loads config and wires gateway, cache, engine and store.
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}
	logger := newLogger(os.Getenv(config.EnvLogLevel))

	interval, _ := cfg.Refresh()
	ttl, _ := cfg.TTL()
	policy, _ := cfg.Policy()

	bc, err := cache.Open(cfg.CachePath(), ttl)
	if err != nil {
		exitError("failed to open cache: %v", err)
	}

	retry := remote.DefaultRetryConfig()
	retry.Logger = logger
	gw := remote.NewRetryClient(remote.NewHTTPClient(cfg.ServerURL, cfg.Sheet, cfg.Token), retry)
	e := engine.New(gw, engine.Options{
		Cache:           bc,
		Logger:          logger,
		RefreshInterval: interval,
		RejectPolicy:    policy,
	})
	st := store.New(e, store.Actor{Name: cfg.Actor, Privileged: cfg.Privileged}, logger)

	return &cmdContext{Config: cfg, Cache: bc, Engine: e, Store: st, Logger: logger}
}

// initLoadedContext is initContext plus one foreground sync. A failed read
// falls back to the cached snapshot when there is one.
func initLoadedContext(ctx context.Context) *cmdContext {
	c := initContext()
	if err := c.Store.Load(ctx); err != nil {
		if len(c.Store.Snapshot().Records) == 0 {
			c.Close()
			exitError("failed to read sheet: %v", err)
		}
		warnf("could not reach server, showing cached data: %v", err)
	}
	return c
}

// newLogger builds the client logger. Client logs go to stderr and are
// quiet unless a level is requested.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "":
		lvl = slog.LevelWarn
	default:
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

var rootCmd = &cobra.Command{
	Use:   "qsync",
	Short: "Query workflow client",
	Long: `qsync tracks customer queries through an eight-stage workflow
stored on a shared record server. Changes are applied locally at once and
confirmed or rolled back when the server answers.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(assignCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(completionCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
}

// shortID returns first 12 characters of an ID
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
