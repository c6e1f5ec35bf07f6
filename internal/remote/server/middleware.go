// Package server implements the qsync-server HTTP handlers and middleware.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Token permissions. Each level includes the ones before it.
const (
	PermRead    = "ro"
	PermWrite   = "rw"
	PermApprove = "approve"
)

func permRank(p string) int {
	switch p {
	case PermRead:
		return 1
	case PermWrite:
		return 2
	case PermApprove:
		return 3
	}
	return 0
}

// ValidPermission reports whether p is a known permission level.
func ValidPermission(p string) bool {
	return permRank(p) > 0
}

// TokenInfo holds the metadata for an authenticated token.
type TokenInfo struct {
	ID         string    `json:"id"`
	TokenHash  string    `json:"token_hash"`
	Desc       string    `json:"description"`
	Sheets     []string  `json:"sheets"`
	Permission string    `json:"permission"`
	LastUsedAt time.Time `json:"last_used_at,omitzero"`
}

// TokenStore is the interface for managing authentication tokens.
type TokenStore interface {
	GetByHash(hash string) (*TokenInfo, error)
	UpdateLastUsed(id string) error
	ListTokens() ([]*TokenInfo, error)
	DeleteToken(id string) error
	CreateToken(desc string, sheets []string, permission string) (rawToken string, info *TokenInfo, err error)
}

// HashToken returns the SHA256 hex digest of a raw token string.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	principalKey
)

// principal is the authenticated caller of a sheet endpoint.
type principal struct {
	TokenID    string
	Sheets     []string
	Permission string
}

func (p *principal) canAccess(sheet string) bool {
	return slices.Contains(p.Sheets, "*") || slices.Contains(p.Sheets, sheet)
}

func (p *principal) canWrite() bool   { return permRank(p.Permission) >= permRank(PermWrite) }
func (p *principal) canApprove() bool { return permRank(p.Permission) >= permRank(PermApprove) }

// principalFrom returns the caller set by authMiddleware. Unauthenticated
// requests get an empty principal with no rights.
func principalFrom(r *http.Request) *principal {
	if p, ok := r.Context().Value(principalKey).(*principal); ok {
		return p
	}
	return &principal{}
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestIDMiddleware tags each request with an id. A well-formed id sent by
// the client is kept so logs on both sides line up.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, reqID)))
	})
}

// loggingMiddleware logs one line per request. Server errors log at warn.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w}

			next.ServeHTTP(rw, r)

			level := slog.LevelInfo
			if rw.status() >= 500 {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status(),
				"bytes", rw.written,
				"latency_ms", time.Since(start).Milliseconds(),
				"request_id", requestIDFrom(r.Context()),
			)
		})
	}
}

// recoveryMiddleware turns a panic into a 500 if nothing was written yet.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				logger.Error("panic recovered", "error", rec, "request_id", requestIDFrom(r.Context()))
				if rw.code == 0 {
					writeError(rw, http.StatusInternalServerError, "internal_error", "internal server error")
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

// lastUsedRecorder hands token usage to a single background writer so the
// request path never waits on the token store. Updates are dropped when the
// queue is full.
type lastUsedRecorder struct {
	tokens TokenStore
	logger *slog.Logger
	queue  chan string
	wg     sync.WaitGroup
}

func newLastUsedRecorder(tokens TokenStore, logger *slog.Logger) *lastUsedRecorder {
	rec := &lastUsedRecorder{tokens: tokens, logger: logger, queue: make(chan string, 64)}
	rec.wg.Add(1)
	go rec.run()
	return rec
}

func (rec *lastUsedRecorder) run() {
	defer rec.wg.Done()
	for id := range rec.queue {
		if err := rec.tokens.UpdateLastUsed(id); err != nil {
			rec.logger.Warn("failed to update token last_used_at", "error", err, "token_id", id)
		}
	}
}

func (rec *lastUsedRecorder) record(id string) {
	select {
	case rec.queue <- id:
	default:
	}
}

// Stop drains the queue and waits for the writer to exit.
func (rec *lastUsedRecorder) Stop() {
	close(rec.queue)
	rec.wg.Wait()
}

// authMiddleware resolves the bearer token into a principal.
func authMiddleware(tokens TokenStore, used *lastUsedRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeError(w, http.StatusUnauthorized, "auth_failed", "missing or invalid Authorization header")
				return
			}

			info, err := tokens.GetByHash(HashToken(raw))
			if err != nil || info == nil {
				writeError(w, http.StatusUnauthorized, "auth_failed", "invalid token")
				return
			}
			used.record(info.ID)

			p := &principal{TokenID: info.ID, Sheets: info.Sheets, Permission: info.Permission}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
		})
	}
}

// requireSheet checks that the token has access to the requested sheet.
func requireSheet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sheet := r.PathValue("sheet")
		if sheet == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "missing sheet name in path")
			return
		}
		if !principalFrom(r).canAccess(sheet) {
			writeError(w, http.StatusForbidden, "forbidden", "token does not have access to sheet '"+sheet+"'")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireWrite rejects read-only tokens.
func requireWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !principalFrom(r).canWrite() {
			writeError(w, http.StatusForbidden, "forbidden", "read-only token cannot perform write operations")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a per-caller token bucket holding up to perMinute requests
// and refilling continuously.
type rateLimiter struct {
	perMinute int
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*tokenBucket
	done    chan struct{}
}

type tokenBucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(perMinute int, now func() time.Time) *rateLimiter {
	if now == nil {
		now = time.Now
	}
	rl := &rateLimiter{
		perMinute: perMinute,
		now:       now,
		buckets:   make(map[string]*tokenBucket),
		done:      make(chan struct{}),
	}
	if perMinute > 0 {
		go rl.sweep(5 * time.Minute)
	}
	return rl
}

// allow takes one request from key's bucket. When empty it returns how long
// until the next request would be admitted.
func (rl *rateLimiter) allow(key string) (bool, time.Duration) {
	rate := float64(rl.perMinute) / float64(time.Minute)
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(rl.perMinute), last: now}
		rl.buckets[key] = b
	}
	b.tokens = math.Min(float64(rl.perMinute), b.tokens+float64(now.Sub(b.last))*rate)
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, time.Duration((1 - b.tokens) / rate)
}

// sweep forgets buckets that have been full long enough to be idle.
func (rl *rateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := rl.now()
			rl.mu.Lock()
			for k, b := range rl.buckets {
				if now.Sub(b.last) > time.Minute {
					delete(rl.buckets, k)
				}
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

func (rl *rateLimiter) Stop() {
	close(rl.done)
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	if rl.perMinute <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := principalFrom(r).TokenID
		if key == "" {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			key = host
		}

		if ok, wait := rl.allow(key); !ok {
			secs := int(math.Ceil(wait.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter records the status code and body size.
type responseWriter struct {
	http.ResponseWriter
	code    int
	written int64
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.code == 0 {
		rw.code = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	if rw.code == 0 {
		rw.code = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(p)
	rw.written += int64(n)
	return n, err
}

func (rw *responseWriter) status() int {
	if rw.code == 0 {
		return http.StatusOK
	}
	return rw.code
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
