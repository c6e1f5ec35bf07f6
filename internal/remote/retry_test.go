package remote

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kilupskalvis/qsync/internal/lifecycle"
	"github.com/kilupskalvis/qsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingGateway fails the first failures calls of every method.
type countingGateway struct {
	failures int
	err      error

	creates, mutates, reads int
}

func (g *countingGateway) CreateRecord(_ context.Context, _ string, _ models.Delta) (string, error) {
	g.creates++
	if g.creates <= g.failures {
		return "", g.err
	}
	return "Q-1", nil
}

func (g *countingGateway) MutateRecord(_ context.Context, _ string, _ lifecycle.MutationRequest, _ models.PriorState) error {
	g.mutates++
	if g.mutates <= g.failures {
		return g.err
	}
	return nil
}

func (g *countingGateway) ReadAll(_ context.Context) ([]models.Query, error) {
	g.reads++
	if g.reads <= g.failures {
		return nil, g.err
	}
	return []models.Query{{ID: "Q-1", Bucket: models.BucketA}}, nil
}

func fastRetry(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		JitterFraction: 0.0,
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &RemoteError{Status: 500, Code: "internal_error"}, true},
		{"rate limited", &RemoteError{Status: http.StatusTooManyRequests, Code: "rate_limited"}, true},
		{"not found", &RemoteError{Status: 404, Code: "not_found"}, false},
		{"validation", &RemoteError{Status: http.StatusUnprocessableEntity, Code: "validation_failed"}, false},
		{"network", &http.MaxBytesError{Limit: 100}, true},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestRetryClient_Delay(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	})
	transport := errors.New("connection refused")

	assert.Equal(t, 100*time.Millisecond, rc.delay(0, transport))
	assert.Equal(t, 200*time.Millisecond, rc.delay(1, transport))
	assert.Equal(t, 400*time.Millisecond, rc.delay(2, transport))
	assert.Equal(t, 10*time.Second, rc.delay(40, transport), "capped, no overflow")
}

func TestRetryClient_DelayHonoursRetryAfter(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	})

	limited := &RemoteError{Status: http.StatusTooManyRequests, RetryAfter: 2 * time.Second}
	assert.Equal(t, 2*time.Second, rc.delay(0, limited))

	limited.RetryAfter = time.Minute
	assert.Equal(t, 5*time.Second, rc.delay(0, limited))
}

func TestRetryClient_DelayJitterBounds(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		JitterFraction: 0.25,
	})
	for i := 0; i < 50; i++ {
		d := rc.delay(0, errors.New("x"))
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("-1"))
	assert.Zero(t, parseRetryAfter("Wed, 21 Oct 2026 07:28:00 GMT"))
}

func TestRetryClient_ReadAllRetriesTransient(t *testing.T) {
	inner := &countingGateway{failures: 2, err: &RemoteError{Status: 503, Code: "unavailable"}}
	rc := NewRetryClient(inner, fastRetry(3))

	records, err := rc.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 3, inner.reads)
}

func TestRetryClient_ReadAllExhausted(t *testing.T) {
	inner := &countingGateway{failures: 10, err: &RemoteError{Status: 500, Code: "internal"}}
	rc := NewRetryClient(inner, fastRetry(2))

	_, err := rc.ReadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, inner.reads)
}

func TestRetryClient_ReadAllNoRetryOn4xx(t *testing.T) {
	inner := &countingGateway{failures: 10, err: &RemoteError{Status: 403, Code: "forbidden"}}
	rc := NewRetryClient(inner, fastRetry(3))

	_, err := rc.ReadAll(context.Background())
	assert.True(t, IsStatus(err, 403))
	assert.Equal(t, 1, inner.reads)
}

func TestRetryClient_WritesAreAttemptedOnce(t *testing.T) {
	inner := &countingGateway{failures: 1, err: errors.New("connection reset")}
	rc := NewRetryClient(inner, fastRetry(3))

	_, err := rc.CreateRecord(context.Background(), "temp_1", models.Delta{models.FieldDescription: "x"})
	assert.Error(t, err)
	assert.Equal(t, 1, inner.creates)

	err = rc.MutateRecord(context.Background(), "Q-1", lifecycle.MutationRequest{Kind: models.ActionEdit}, models.PriorState{})
	assert.Error(t, err)
	assert.Equal(t, 1, inner.mutates)
}

func TestRetryClient_ContextCancellation(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := rc.retry(ctx, "test", func() error {
		return &RemoteError{Status: 500, Code: "internal", Message: "fail"}
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
}

func TestSleep(t *testing.T) {
	assert.NoError(t, sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, 10*time.Second), context.Canceled)
}
