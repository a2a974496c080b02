package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"mkv-converter/pkg/models"
)

// Notifier announces a finished run to an external system.
type Notifier interface {
	NotifyRun(ctx context.Context, payload models.RunSummaryPayload) error
}

// WebhookClient posts run summaries as JSON to a fixed URL.
type WebhookClient struct {
	url        string
	httpClient *http.Client
}

// NewWebhookClient creates an HTTP client that retries transient failures
// (connection errors, 429 and 5xx) three times with 1s to 5s backoff.
func NewWebhookClient(url string) *WebhookClient {
	return newWebhookClient(url, 3, 1*time.Second, 5*time.Second)
}

func newWebhookClient(url string, retries int, waitMin, waitMax time.Duration) *WebhookClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retries
	retryClient.RetryWaitMin = waitMin
	retryClient.RetryWaitMax = waitMax
	retryClient.Logger = nil // Silence default debug logger

	return &WebhookClient{
		url:        url,
		httpClient: retryClient.StandardClient(),
	}
}

// StatusError is a non-retryable HTTP error response from the webhook.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.StatusCode)
}

// NotifyRun sends the summary of a finished run.
func (c *WebhookClient) NotifyRun(ctx context.Context, payload models.RunSummaryPayload) error {
	if err := c.doRequest(ctx, http.MethodPost, payload, payload.RunID); err != nil {
		return fmt.Errorf("notify run %s: %w", payload.RunID, err)
	}
	return nil
}

func (c *WebhookClient) doRequest(ctx context.Context, method string, payload any, runID string) error {
	var body io.Reader
	if payload != nil {
		jsonBytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if runID != "" {
		req.Header.Set("X-Run-ID", runID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}
