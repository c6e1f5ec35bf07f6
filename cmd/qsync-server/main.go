// Command qsync-server runs the qsync record server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kilupskalvis/qsync/internal/remote/recordstore"
	"github.com/kilupskalvis/qsync/internal/remote/server"
	"github.com/kilupskalvis/qsync/internal/remote/tokenstore"
)

func main() {
	listen := flag.String("listen", envOrDefault("QSYNC_LISTEN", "0.0.0.0:8730"), "Listen address")
	dataDir := flag.String("data-dir", envOrDefault("QSYNC_DATA_DIR", "/var/lib/qsync-server"), "Data directory")
	adminToken := flag.String("admin-token", os.Getenv("QSYNC_ADMIN_TOKEN"), "Admin API token")
	logLevel := flag.String("log-level", envOrDefault("QSYNC_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", envOrDefault("QSYNC_LOG_FORMAT", "json"), "Log format (json, text)")
	tlsCert := flag.String("tls-cert", os.Getenv("QSYNC_TLS_CERT"), "TLS certificate file")
	tlsKey := flag.String("tls-key", os.Getenv("QSYNC_TLS_KEY"), "TLS key file")
	webhookURLs := flag.String("webhook-urls", os.Getenv("QSYNC_WEBHOOK_URLS"), "Comma-separated webhook URLs notified on record changes")
	webhookPrivate := flag.Bool("webhook-allow-private", os.Getenv("QSYNC_WEBHOOK_ALLOW_PRIVATE") == "true", "Allow webhook URLs on loopback or private networks")
	rateLimit := flag.Int("rate-limit", 300, "Requests per minute per token")
	flag.Parse()

	logger := newLogger(*logLevel, *logFormat)

	sheetsDir := filepath.Join(*dataDir, "sheets")
	if err := os.MkdirAll(sheetsDir, 0755); err != nil {
		logger.Error("failed to create sheets directory", "error", err, "path", sheetsDir)
		os.Exit(1)
	}

	tokens, err := tokenstore.Open(filepath.Join(*dataDir, "tokens.db"))
	if err != nil {
		logger.Error("failed to open token store", "error", err)
		os.Exit(1)
	}
	defer tokens.Close()

	sheets := &diskSheetOpener{
		dir:    sheetsDir,
		stores: make(map[string]*recordstore.SQLiteStore),
		logger: logger,
	}

	cfg := server.DefaultServerConfig()
	cfg.AdminToken = *adminToken
	cfg.RequestsPerMinute = *rateLimit

	if urls := splitList(*webhookURLs); len(urls) > 0 {
		cfg.Webhooks = server.NewWebhookNotifier(&server.WebhookConfig{URLs: urls, AllowPrivate: *webhookPrivate}, logger)
		logger.Info("webhooks configured", "count", len(urls))
	}

	h, handlerCleanup := server.Handler(sheets, tokens, cfg, logger, sheets)
	defer handlerCleanup()

	srv := &http.Server{
		Addr:         *listen,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return context.Background() },
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting qsync-server", "listen", *listen, "data_dir", *dataDir)
		var err error
		if *tlsCert != "" && *tlsKey != "" {
			err = srv.ListenAndServeTLS(*tlsCert, *tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	sheets.CloseAll()
	logger.Info("server stopped")
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// diskSheetOpener keeps one SQLite file per sheet under dir.
type diskSheetOpener struct {
	dir    string
	mu     sync.RWMutex
	stores map[string]*recordstore.SQLiteStore
	logger *slog.Logger
}

func (d *diskSheetOpener) path(name string) string {
	return filepath.Join(d.dir, name+".db")
}

func (d *diskSheetOpener) Open(name string) (recordstore.RecordStore, error) {
	d.mu.RLock()
	store, ok := d.stores[name]
	d.mu.RUnlock()
	if ok {
		return store, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after write lock
	if store, ok := d.stores[name]; ok {
		return store, nil
	}

	if !server.ValidSheetName(name) {
		return nil, fmt.Errorf("%w: %q", server.ErrInvalidName, name)
	}
	if _, err := os.Stat(d.path(name)); os.IsNotExist(err) {
		return nil, fmt.Errorf("sheet '%s': %w", name, server.ErrSheetNotFound)
	}

	store, err := recordstore.NewSQLiteStore(d.path(name))
	if err != nil {
		return nil, fmt.Errorf("open sheet %s: %w", name, err)
	}

	d.stores[name] = store
	d.logger.Info("opened sheet", "name", name)
	return store, nil
}

func (d *diskSheetOpener) Create(name string) error {
	if !server.ValidSheetName(name) {
		return fmt.Errorf("%w: %q", server.ErrInvalidName, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(d.path(name)); err == nil {
		return fmt.Errorf("sheet '%s': %w", name, server.ErrSheetExists)
	}

	store, err := recordstore.NewSQLiteStore(d.path(name))
	if err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	d.stores[name] = store
	return nil
}

func (d *diskSheetOpener) Delete(name string) error {
	if !server.ValidSheetName(name) {
		return fmt.Errorf("%w: %q", server.ErrInvalidName, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if store, ok := d.stores[name]; ok {
		store.Close()
		delete(d.stores, name)
	}
	if _, err := os.Stat(d.path(name)); os.IsNotExist(err) {
		return fmt.Errorf("sheet '%s': %w", name, server.ErrSheetNotFound)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(d.path(name) + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove sheet %s: %w", name, err)
		}
	}
	return nil
}

func (d *diskSheetOpener) List() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".db"))
	}
	sort.Strings(names)
	return names, nil
}

func (d *diskSheetOpener) CloseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for name, store := range d.stores {
		if err := store.Close(); err != nil {
			d.logger.Error("close sheet", "sheet", name, "error", err)
		}
	}
	d.stores = make(map[string]*recordstore.SQLiteStore)
}
