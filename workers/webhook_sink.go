package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"delivery-escrow-system/models"
)

// WebhookSink POSTs event batches to a downstream service.
type WebhookSink struct {
	URL        string
	Token      string
	HTTPClient *http.Client
}

func NewWebhookSink(url, token string) *WebhookSink {
	return &WebhookSink{
		URL:   url,
		Token: token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *WebhookSink) Deliver(ctx context.Context, events []models.OutboxEvent) error {
	body, err := json.Marshal(struct {
		Events []models.OutboxEvent `json:"events"`
	}{Events: events})
	if err != nil {
		return fmt.Errorf("failed to encode events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", s.Token)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call event webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("event webhook returned status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
