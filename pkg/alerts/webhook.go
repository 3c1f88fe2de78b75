package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hervehildenbrand/flow-radar/pkg/models"
)

// WebhookSink posts each alert as JSON to an HTTP endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink for url with a 10-second timeout.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Content string       `json:"content"`
	Alert   models.Alert `json:"alert"`
}

// Publish posts the alert. Any non-2xx status is an error.
func (w *WebhookSink) Publish(ctx context.Context, alert models.Alert) error {
	body, err := json.Marshal(webhookPayload{
		Content: fmt.Sprintf("**%s** at block %d: %.4f ETH", alert.Reason, alert.BlockNumber, alert.Delta.EtherFloat()),
		Alert:   alert,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns "webhook".
func (w *WebhookSink) Name() string { return "webhook" }
