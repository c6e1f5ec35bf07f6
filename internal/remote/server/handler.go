package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kilupskalvis/qsync/internal/lifecycle"
	"github.com/kilupskalvis/qsync/internal/models"
	"github.com/kilupskalvis/qsync/internal/remote"
	"github.com/kilupskalvis/qsync/internal/remote/recordstore"
)

// SheetOpener returns the RecordStore of a named sheet.
type SheetOpener interface {
	Open(name string) (recordstore.RecordStore, error)
}

// SheetManager creates, deletes and lists sheets. Used by the admin API.
type SheetManager interface {
	Create(name string) error
	Delete(name string) error
	List() ([]string, error)
}

// Sentinel errors a SheetManager reports.
var (
	ErrSheetExists   = errors.New("sheet already exists")
	ErrSheetNotFound = errors.New("sheet not found")
	ErrInvalidName   = errors.New("invalid sheet name")
)

// ServerConfig holds configurable limits for the server.
type ServerConfig struct {
	MaxRequestBody    int64  // bytes, for JSON endpoints
	RequestsPerMinute int    // per-token rate limit
	AdminToken        string // for admin endpoints
	Webhooks          *WebhookNotifier
	Now               func() time.Time
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxRequestBody:    4 * 1024 * 1024, // 4MB
		RequestsPerMinute: 300,
		Now:               time.Now,
	}
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and should be
// called on server shutdown.
func Handler(sheets SheetOpener, tokens TokenStore, cfg *ServerConfig, logger *slog.Logger, manager SheetManager) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	rl := newRateLimiter(cfg.RequestsPerMinute, cfg.Now)
	used := newLastUsedRecorder(tokens, logger)
	auth := authMiddleware(tokens, used)

	// applyMiddleware runs the first item outermost.
	// Execution order: auth -> requireSheet -> rl -> handler
	withAuth := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth, requireSheet, rl.middleware)
	}
	// Execution order: auth -> requireSheet -> requireWrite -> rl -> handler
	withAuthWrite := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth, requireSheet, requireWrite, rl.middleware)
	}

	h := &handlers{cfg: cfg, logger: logger}

	mux := http.NewServeMux()

	// Health endpoints (no auth)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := tokens.ListTokens(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: token store unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Admin endpoints
	if cfg.AdminToken != "" {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("POST /admin/tokens", makeAdminCreateTokenHandler(tokens, logger))
		adminMux.HandleFunc("DELETE /admin/tokens/{id}", makeAdminDeleteTokenHandler(tokens, logger))
		adminMux.HandleFunc("GET /admin/tokens", makeAdminListTokensHandler(tokens, logger))
		if manager != nil {
			adminMux.HandleFunc("POST /admin/sheets", makeAdminCreateSheetHandler(manager, logger))
			adminMux.HandleFunc("DELETE /admin/sheets/{sheet}", makeAdminDeleteSheetHandler(manager, logger))
			adminMux.HandleFunc("GET /admin/sheets", makeAdminListSheetsHandler(manager, logger))
		} else {
			adminMux.HandleFunc("POST /admin/sheets", handleNotImplemented)
			adminMux.HandleFunc("DELETE /admin/sheets/{sheet}", handleNotImplemented)
			adminMux.HandleFunc("GET /admin/sheets", handleNotImplemented)
		}
		adminMux.HandleFunc("POST /admin/sheets/{sheet}/purge", makeSheetHandler(sheets, h.purge))
		mux.Handle("/admin/", adminAuth(cfg.AdminToken, adminMux))
	}

	// Records
	mux.Handle("GET /api/v1/sheets/{sheet}/records", withAuth(makeSheetHandler(sheets, h.listRecords)))
	mux.Handle("POST /api/v1/sheets/{sheet}/records", withAuthWrite(makeSheetHandler(sheets, h.createRecord)))
	mux.Handle("POST /api/v1/sheets/{sheet}/records/{id}/mutations", withAuthWrite(makeSheetHandler(sheets, h.mutateRecord)))

	// Apply global middleware
	handler := applyMiddleware(mux,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		requestIDMiddleware,
	)

	cleanup := func() {
		rl.Stop()
		used.Stop()
	}

	return handler, cleanup
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type sheetHandlerFunc func(w http.ResponseWriter, r *http.Request, store recordstore.RecordStore)

// makeSheetHandler resolves the sheet and calls fn with its RecordStore.
func makeSheetHandler(sheets SheetOpener, fn sheetHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("sheet")
		if name == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "missing sheet name in path")
			return
		}

		store, err := sheets.Open(name)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("sheet '%s' not found", name))
			return
		}
		fn(w, r, store)
	}
}

type handlers struct {
	cfg    *ServerConfig
	logger *slog.Logger
}

// --- Record Handlers ---

func (h *handlers) listRecords(w http.ResponseWriter, r *http.Request, store recordstore.RecordStore) {
	records, err := store.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, &remote.RecordList{
		Records: records,
		ReadAt:  h.cfg.Now().UTC(),
	})
}

func (h *handlers) createRecord(w http.ResponseWriter, r *http.Request, store recordstore.RecordStore) {
	var req remote.CreateRecordRequest
	if err := readJSON(r, h.cfg.MaxRequestBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	fields := req.Fields.Clone()
	delete(fields, models.FieldID)
	if fields[models.FieldBucket] == "" {
		fields[models.FieldBucket] = string(models.BucketA)
	}

	var q models.Query
	if err := fields.Apply(&q); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := validateNewRecord(q); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}

	id, created, err := store.Create(r.Context(), req.ClientKey, fields)
	if err != nil {
		if errors.Is(err, recordstore.ErrInvalidField) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.cfg.Webhooks.NotifyRecord(EventRecordCreated, r.PathValue("sheet"), id, models.ActionAdd)
	}
	writeJSON(w, status, &remote.CreateRecordResponse{ID: id, Created: created})
}

// validateNewRecord checks what a freshly created record may hold.
func validateNewRecord(q models.Query) error {
	if q.Description == "" {
		return errors.New("description is required")
	}
	if q.Type != "" && !q.Type.Valid() {
		return fmt.Errorf("unknown query type %q", q.Type)
	}
	if q.Bucket != models.BucketA && q.Bucket != models.BucketB {
		return fmt.Errorf("new records start in A or B, not %s", q.Bucket)
	}
	return lifecycle.CheckNoLeakage(q)
}

func (h *handlers) mutateRecord(w http.ResponseWriter, r *http.Request, store recordstore.RecordStore) {
	id := r.PathValue("id")

	var req remote.MutateRecordRequest
	if err := readJSON(r, h.cfg.MaxRequestBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	m := req.Mutation
	if !m.Kind.Valid() || m.Kind == models.ActionAdd {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unsupported mutation kind %q", m.Kind))
		return
	}
	needsApprover := m.Kind == models.ActionApproveDelete || m.Kind == models.ActionRejectDelete ||
		(m.Kind == models.ActionRequestDelete && m.Privileged)
	if needsApprover && !principalFrom(r).canApprove() {
		writeError(w, http.StatusForbidden, "forbidden", "token cannot approve or reject deletions")
		return
	}
	if m.At.IsZero() {
		m.At = h.cfg.Now()
	}

	delta, err := lifecycle.Compute(m, req.Hints)
	if err != nil {
		if errors.Is(err, lifecycle.ErrValidation) {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	if err := store.SetFields(r.Context(), id, delta); err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("record '%s' not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	h.logger.Debug("record mutated", "record", id, "op", m.Kind, "fields", len(delta))
	h.cfg.Webhooks.NotifyRecord(EventRecordMutated, r.PathValue("sheet"), id, m.Kind)

	writeJSON(w, http.StatusOK, &remote.MutateRecordResponse{Applied: delta})
}

func (h *handlers) purge(w http.ResponseWriter, r *http.Request, store recordstore.RecordStore) {
	var req remote.PurgeRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, h.cfg.MaxRequestBody, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}
	if req.OlderThan.IsZero() {
		req.OlderThan = h.cfg.Now()
	}

	result, err := Purge(r.Context(), store, req.OlderThan, h.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// --- Health Handlers ---

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func handleNotImplemented(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotImplemented, "not_implemented", "endpoint not yet implemented")
}

// --- Admin Auth ---

func adminAuth(adminToken string, next http.Handler) http.Handler {
	expected := "Bearer " + adminToken
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
			writeError(w, http.StatusUnauthorized, "auth_failed", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, &remote.ErrorResponse{Error: code, Message: message})
}

func readJSON(r *http.Request, maxSize int64, v any) error {
	limited := io.LimitReader(r.Body, maxSize)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
