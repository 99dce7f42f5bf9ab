package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Alerter posts system alerts to a Slack channel via chat.postMessage.
type Alerter struct {
	token   string
	channel string
	client  *http.Client
	apiURL  string

	mu       sync.Mutex
	lastSent time.Time
}

// NewAlerter creates a new Slack alerter.
func NewAlerter(token, channel string) *Alerter {
	return &Alerter{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  "https://slack.com/api/chat.postMessage",
	}
}

// alertPayload is the subset of fields we extract from the alert NATS message.
type alertPayload struct {
	Message string `json:"message"`
	Source  string `json:"source"`
}

// PostSystemAlert sends a Block Kit message for a console system alert. It
// rate-limits to at most one alert per 30 seconds to protect against burst
// storms.
func (a *Alerter) PostSystemAlert(ctx context.Context, subject string, payload []byte) error {
	a.mu.Lock()
	if time.Since(a.lastSent) < 30*time.Second {
		a.mu.Unlock()
		return nil
	}
	a.lastSent = time.Now()
	a.mu.Unlock()

	var alert alertPayload
	_ = json.Unmarshal(payload, &alert)

	source := alert.Source
	if source == "" {
		source = subject
	}
	msg := alert.Message
	if msg == "" {
		msg = "unknown"
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": "Console System Alert",
			},
		},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Source:*\n%s", source)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Subject:*\n%s", subject)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Message:*\n%s", msg)},
			},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("Sent at %s", time.Now().UTC().Format(time.RFC3339))},
			},
		},
	}

	body, err := json.Marshal(map[string]any{
		"channel": a.channel,
		"blocks":  blocks,
		"text":    fmt.Sprintf("Console alert: %s: %s", source, msg),
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}

	slog.Info("system alert posted to Slack", "channel", a.channel, "subject", subject)
	return nil
}
