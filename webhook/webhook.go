// Package webhook delivers signed JSON events when a target's refresh
// fails or recovers, so operators hear about broken parking pages without
// polling the API.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Event types.
const (
	EventRefreshFailed = "target.refresh_failed"
	EventRecovered     = "target.recovered"
)

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string `json:"type"`
	TargetKey string `json:"target_key"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// Notifier publishes refresh lifecycle events to a single endpoint.
// A nil Notifier is valid and publishes nothing.
type Notifier struct {
	url    string
	secret string
}

// NewNotifier creates a Notifier, or nil when url is empty.
func NewNotifier(url, secret string) *Notifier {
	if url == "" {
		return nil
	}
	return &Notifier{url: url, secret: secret}
}

// RefreshFailed reports a refresh that exhausted its attempts.
func (n *Notifier) RefreshFailed(key string, err error) {
	if n == nil {
		return
	}
	deliverAsync(n.url, n.secret, &Event{
		Type:      EventRefreshFailed,
		TargetKey: key,
		Timestamp: time.Now().Unix(),
		Data:      map[string]string{"error": err.Error()},
	})
}

// Recovered reports the first successful refresh after a failure.
func (n *Notifier) Recovered(key string) {
	if n == nil {
		return
	}
	deliverAsync(n.url, n.secret, &Event{
		Type:      EventRecovered,
		TargetKey: key,
		Timestamp: time.Now().Unix(),
	})
}

// Deliver sends a webhook event synchronously. The request body is signed
// with HMAC-SHA256 when secret is non-empty.
// Header: X-Lotwatch-Signature: sha256=<hex>
func Deliver(ctx context.Context, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Lotwatch-Webhook/1.0")

	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		sig := hex.EncodeToString(mac.Sum(nil))
		req.Header.Set("X-Lotwatch-Signature", "sha256="+sig)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// deliverAsync sends a webhook event in the background with staged
// retries at 1s, 5s and 30s.
func deliverAsync(url, secret string, event *Event) {
	go func() {
		delays := []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second}
		for attempt, delay := range delays {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := Deliver(ctx, url, secret, event)
			cancel()
			if err == nil {
				slog.Info("webhook delivered",
					"event", event.Type,
					"target", event.TargetKey,
					"attempt", attempt+1,
				)
				return
			}
			slog.Warn("webhook delivery failed",
				"event", event.Type,
				"target", event.TargetKey,
				"attempt", attempt+1,
				"error", err,
			)
		}
		slog.Error("webhook delivery exhausted all retries",
			"event", event.Type,
			"target", event.TargetKey,
		)
	}()
}
