// Package processor submits user commands to the external workflow
// processor. The processor answers later through the result webhook,
// not on this request.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotConfigured is returned when no webhook URL is set.
var ErrNotConfigured = errors.New("processor webhook not configured")

// Command is the submission payload. The channel id rides along as a
// delivery fallback in case the pending-command entry is gone by the
// time the result comes back.
type Command struct {
	Text      string    `json:"text"`
	CommandID string    `json:"commandId"`
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	ChannelID string    `json:"channelId"`
	IssuedAt  time.Time `json:"timestamp"`
}

// Client is the HTTP client for the processor webhook.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a processor client. An empty url produces a client
// whose Submit always fails with ErrNotConfigured.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a webhook URL is set.
func (c *Client) Configured() bool {
	return c.url != ""
}

// Submit posts the command to the processor. Fire-and-forget: a 2xx
// response only acknowledges receipt, the result arrives later via the
// callback webhook.
func (c *Client) Submit(ctx context.Context, cmd Command) error {
	if c.url == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("submit command: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("processor returned status %d", resp.StatusCode)
	}
	return nil
}
