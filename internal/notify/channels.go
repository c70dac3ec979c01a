package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// LogChannel writes alerts to the structured log. Always configured as the
// fallback channel.
type LogChannel struct {
	Logger *slog.Logger
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(_ context.Context, p Payload) error {
	c.Logger.Info("quality alert",
		"alert_id", p.AlertID,
		"category", p.Category,
		"severity", p.Severity,
		"table", p.Table,
		"criticality", p.Criticality["total"],
		"title", p.Title)
	return nil
}

// WebhookChannel POSTs the JSON payload to a configured endpoint.
type WebhookChannel struct {
	ChannelName string
	URL         string
	Client      *http.Client
}

func NewWebhookChannel(name, url string) *WebhookChannel {
	return &WebhookChannel{
		ChannelName: name,
		URL:         url,
		Client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *WebhookChannel) Name() string { return c.ChannelName }

func (c *WebhookChannel) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", c.ChannelName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: unexpected status %d", c.ChannelName, resp.StatusCode)
	}
	return nil
}
