package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// WebhookNotifier delivers notification payloads to the host platform's
// display facility over HTTP.
type WebhookNotifier struct {
	client *http.Client
	url    string
}

func NewWebhookNotifier(client *http.Client, url string) *WebhookNotifier {
	return &WebhookNotifier{client: client, url: url}
}

func (n *WebhookNotifier) Notify(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode notification %q: %w", req.Tag, err)
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	hr.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(hr)
	if err != nil {
		return fmt.Errorf("deliver notification %q: %w", req.Tag, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("deliver notification %q: status %d", req.Tag, resp.StatusCode)
	}
	return nil
}

// LogNotifier is the fallback facility when no webhook is configured:
// payloads land in the log instead of disappearing.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, req Request) error {
	n.log.InfoContext(ctx, "notification",
		"tag", req.Tag, "title", req.Title, "body", req.Body)
	return nil
}
