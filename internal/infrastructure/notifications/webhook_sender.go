package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookSender delivers decision notifications to a configured HTTP
// endpoint (typically the referring provider's intake system).
type WebhookSender struct {
	url        string
	httpClient *http.Client
}

// NewWebhookSender creates a new webhook sender
func NewWebhookSender(url string) (*WebhookSender, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("webhook url must be set")
	}

	return &WebhookSender{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Send posts one JSON payload to the webhook endpoint
func (w *WebhookSender) Send(ctx context.Context, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook error (status %d): %s", resp.StatusCode, string(body))
	}

	return nil
}
