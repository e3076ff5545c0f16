package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"whale-signal-engine/internal/domain"
)

// StatusError is a non-2xx webhook response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook http status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// WebhookConsumer POSTs deliveries as JSON.
type WebhookConsumer struct {
	name string
	url  string
	http *http.Client
}

// NewWebhookConsumer creates a webhook consumer. A nil client uses a 5s timeout.
func NewWebhookConsumer(name, url string, client *http.Client) *WebhookConsumer {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if name == "" {
		name = "webhook"
	}
	return &WebhookConsumer{name: name, url: url, http: client}
}

func (w *WebhookConsumer) Name() string { return w.name }

// Deliver posts d. 4xx responses other than 408 and 429 are permanent.
func (w *WebhookConsumer) Deliver(ctx context.Context, d *domain.Delivery) error {
	b, err := json.Marshal(d)
	if err != nil {
		return backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(b))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", d.Signal.SignalID)

	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	statusErr := &StatusError{StatusCode: resp.StatusCode}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(statusErr)
	}
	return statusErr
}
