package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipalRights(t *testing.T) {
	tests := []struct {
		perm           string
		write, approve bool
	}{
		{PermRead, false, false},
		{PermWrite, true, false},
		{PermApprove, true, true},
		{"admin", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.perm, func(t *testing.T) {
			p := &principal{Permission: tt.perm}
			assert.Equal(t, tt.write, p.canWrite())
			assert.Equal(t, tt.approve, p.canApprove())
		})
	}

	p := &principal{Sheets: []string{"sales", "ops"}}
	assert.True(t, p.canAccess("ops"))
	assert.False(t, p.canAccess("hr"))
	assert.True(t, (&principal{Sheets: []string{"*"}}).canAccess("hr"))
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(60, func() time.Time { return now })
	defer rl.Stop()

	for i := 0; i < 60; i++ {
		ok, _ := rl.allow("tok")
		require.True(t, ok, "request %d", i)
	}
	ok, wait := rl.allow("tok")
	assert.False(t, ok)
	assert.InDelta(t, float64(time.Second), float64(wait), float64(10*time.Millisecond))

	// other callers have their own bucket
	ok, _ = rl.allow("other")
	assert.True(t, ok)

	now = now.Add(2500 * time.Millisecond)
	ok, _ = rl.allow("tok")
	assert.True(t, ok)
	ok, _ = rl.allow("tok")
	assert.True(t, ok)
	ok, _ = rl.allow("tok")
	assert.False(t, ok)
}

func TestRateLimiter_Middleware(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(1, func() time.Time { return now })
	defer rl.Stop()

	h := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := newRateLimiter(0, nil)
	defer rl.Stop()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := rl.middleware(next)
	for i := 0; i < 100; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	given := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", given)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, given, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid\nInjected: yes")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, "not-a-uuid\nInjected: yes", seen)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := recoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}

type countingTokenStore struct {
	testTokenStore
	mu   sync.Mutex
	used []string
}

func (c *countingTokenStore) UpdateLastUsed(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.used = append(c.used, id)
	return nil
}

func TestAuthMiddleware_RecordsUsage(t *testing.T) {
	tokens := &countingTokenStore{testTokenStore: testTokenStore{tokens: map[string]*TokenInfo{}}}
	tokens.add("qsync_abc", "tok-1", PermWrite, "sales")

	used := newLastUsedRecorder(tokens, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var got *principal
	h := authMiddleware(tokens, used)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = principalFrom(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background())
	req.Header.Set("Authorization", "Bearer qsync_abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "tok-1", got.TokenID)
	assert.Equal(t, []string{"sales"}, got.Sheets)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	used.Stop()
	tokens.mu.Lock()
	defer tokens.mu.Unlock()
	assert.Equal(t, []string{"tok-1"}, tokens.used)
}
