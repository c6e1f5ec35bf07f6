package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/kilupskalvis/qsync/internal/lifecycle"
	"github.com/kilupskalvis/qsync/internal/models"
)

// RetryConfig configures how reads are retried.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
	Logger         *slog.Logger
}

// DefaultRetryConfig returns the retry settings used by the CLI.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryClient wraps a Gateway. Only ReadAll is retried: creates and
// mutations are attempted once and their failure is reported to the caller,
// which rolls back.
type RetryClient struct {
	inner  Gateway
	config RetryConfig
	logger *slog.Logger
}

// NewRetryClient creates a RetryClient that wraps the given Gateway.
func NewRetryClient(inner Gateway, cfg *RetryConfig) *RetryClient {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	rc := &RetryClient{inner: inner, config: *cfg, logger: cfg.Logger}
	if rc.logger == nil {
		rc.logger = slog.Default()
	}
	return rc
}

// isTransient reports whether a failed read is worth repeating.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	return true // transport errors
}

// delay returns the wait before retry number attempt (0-based). A server
// Retry-After wins over the computed backoff; both are capped by MaxBackoff.
func (rc *RetryClient) delay(attempt int, err error) time.Duration {
	var re *RemoteError
	if errors.As(err, &re) && re.RetryAfter > 0 {
		return min(re.RetryAfter, rc.config.MaxBackoff)
	}

	d := rc.config.MaxBackoff
	if attempt < 63 {
		if s := rc.config.InitialBackoff << attempt; s>>attempt == rc.config.InitialBackoff && s > 0 && s < d {
			d = s
		}
	}
	if j := rc.config.JitterFraction; j > 0 {
		spread := float64(d) * j
		d += time.Duration(spread * (2*rand.Float64() - 1))
	}
	return max(d, 0)
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry runs fn until it succeeds, fails permanently or runs out of attempts.
func (rc *RetryClient) retry(ctx context.Context, operation string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt == rc.config.MaxRetries {
			return fmt.Errorf("%s: %w (after %d retries)", operation, err, rc.config.MaxRetries)
		}

		wait := rc.delay(attempt, err)
		rc.logger.Debug("retrying", "op", operation, "attempt", attempt+1, "wait", wait, "error", err)
		if serr := sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%s: %w (retry cancelled)", operation, err)
		}
	}
}

// CreateRecord is attempted once.
func (rc *RetryClient) CreateRecord(ctx context.Context, clientKey string, fields models.Delta) (string, error) {
	return rc.inner.CreateRecord(ctx, clientKey, fields)
}

// MutateRecord is attempted once.
func (rc *RetryClient) MutateRecord(ctx context.Context, id string, req lifecycle.MutationRequest, hints models.PriorState) error {
	return rc.inner.MutateRecord(ctx, id, req, hints)
}

// ReadAll retries transient failures; reads have no side effects.
func (rc *RetryClient) ReadAll(ctx context.Context) ([]models.Query, error) {
	var records []models.Query
	err := rc.retry(ctx, "read records", func() error {
		var err error
		records, err = rc.inner.ReadAll(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
