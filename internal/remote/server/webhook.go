package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kilupskalvis/qsync/internal/models"
)

// Webhook event names.
const (
	EventRecordCreated = "record.created"
	EventRecordMutated = "record.mutated"
)

// WebhookEvent represents the payload sent to webhook URLs.
type WebhookEvent struct {
	Event     string            `json:"event"`
	Sheet     string            `json:"sheet"`
	RecordID  string            `json:"record_id"`
	Kind      models.ActionKind `json:"kind"`
	Timestamp string            `json:"timestamp"`
}

// WebhookConfig holds the list of configured webhook URLs. Loopback and
// private addresses are dropped unless AllowPrivate is set.
type WebhookConfig struct {
	URLs         []string
	AllowPrivate bool
}

// WebhookNotifier sends HTTP POST notifications to configured webhook URLs.
type WebhookNotifier struct {
	urls   []string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier creates a webhook notifier. Returns nil if no usable URLs are configured.
func NewWebhookNotifier(cfg *WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	if cfg == nil || len(cfg.URLs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	var urls []string
	for _, raw := range cfg.URLs {
		if err := checkWebhookURL(raw, cfg.AllowPrivate); err != nil {
			logger.Warn("webhook: ignoring url", "url", raw, "error", err)
			continue
		}
		urls = append(urls, raw)
	}
	if len(urls) == 0 {
		return nil
	}

	return &WebhookNotifier{
		urls:   urls,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func checkWebhookURL(raw string, allowPrivate bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("missing host")
	}
	if allowPrivate {
		return nil
	}
	if u.Hostname() == "localhost" {
		return fmt.Errorf("loopback host not allowed")
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("private address not allowed")
		}
	}
	return nil
}

// NotifyRecord sends a record event to all configured webhook URLs.
// Delivery is asynchronous.
func (wn *WebhookNotifier) NotifyRecord(event, sheet, recordID string, kind models.ActionKind) {
	if wn == nil {
		return
	}

	go wn.send(&WebhookEvent{
		Event:     event,
		Sheet:     sheet,
		RecordID:  recordID,
		Kind:      kind,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// send delivers the webhook event to all configured URLs.
func (wn *WebhookNotifier) send(event *WebhookEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		wn.logger.Error("webhook: marshal event", "error", err)
		return
	}

	for _, url := range wn.urls {
		if err := wn.post(url, data); err != nil {
			wn.logger.Warn("webhook: delivery failed", "url", url, "error", err)
		} else {
			wn.logger.Debug("webhook: delivered", "url", url, "event", event.Event, "record", event.RecordID)
		}
	}
}

// post sends a single webhook POST with up to 2 retries.
func (wn *WebhookNotifier) post(url string, data []byte) error {
	const maxRetries = 2

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "qsync-server/1.0")

		resp, err := wn.client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * time.Second)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr // no retry on 4xx
		}
		time.Sleep(time.Duration(attempt+1) * time.Second)
	}

	return lastErr
}
