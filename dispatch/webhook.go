package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentplexus/orderline/order"
)

// Verify interface compliance at compile time.
var _ Sink = (*WebhookSink)(nil)

// WebhookSink POSTs the order record as JSON to a configured endpoint.
// Every attempt for the same order carries the same X-Delivery-ID
// header, derived from the delivery idempotency key, so the receiver
// can deduplicate retries on its side as well.
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithWebhookHTTPClient overrides the HTTP client.
func WithWebhookHTTPClient(client *http.Client) WebhookOption {
	return func(s *WebhookSink) {
		s.httpClient = client
	}
}

// NewWebhookSink creates a webhook sink for url.
func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		url: url,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns "webhook".
func (s *WebhookSink) Name() string {
	return "webhook"
}

// Deliver sends the order record.
func (s *WebhookSink) Deliver(ctx context.Context, snap order.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("webhook: encoding order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", deliveryKey(snap))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return httpError("webhook", resp.StatusCode, string(snippet))
	}
	return nil
}
