package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scribehq/scribe/core/internal/domain"
)

// WebhookChannel posts the alert as JSON to a configured URL.
type WebhookChannel struct {
	client *http.Client
}

// NewWebhookChannel constructs a WebhookChannel. A nil client uses a default.
func NewWebhookChannel(client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{client: client}
}

// Send implements Channel.
func (c *WebhookChannel) Send(ctx context.Context, alert domain.Alert, config map[string]string) error {
	url := strings.TrimSpace(config["url"])
	if url == "" {
		return fmt.Errorf("webhook channel requires a url")
	}
	payload, err := json.Marshal(alertPayload(alert))
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	return c.post(ctx, url, payload, config["token"])
}

func (c *WebhookChannel) post(ctx context.Context, url string, payload []byte, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ChatChannel posts a human-readable summary to a chat webhook.
type ChatChannel struct {
	webhook *WebhookChannel
}

// NewChatChannel constructs a ChatChannel.
func NewChatChannel(client *http.Client) *ChatChannel {
	return &ChatChannel{webhook: NewWebhookChannel(client)}
}

// Send implements Channel.
func (c *ChatChannel) Send(ctx context.Context, alert domain.Alert, config map[string]string) error {
	url := strings.TrimSpace(config["webhook_url"])
	if url == "" {
		url = strings.TrimSpace(config["url"])
	}
	if url == "" {
		return fmt.Errorf("chat channel requires a webhook_url")
	}
	payload, err := json.Marshal(map[string]string{"text": formatChatMessage(alert)})
	if err != nil {
		return fmt.Errorf("encode chat message: %w", err)
	}
	return c.webhook.post(ctx, url, payload, config["token"])
}

// EmailChannel relays the alert to an e-mail gateway endpoint.
type EmailChannel struct {
	webhook *WebhookChannel
}

// NewEmailChannel constructs an EmailChannel.
func NewEmailChannel(client *http.Client) *EmailChannel {
	return &EmailChannel{webhook: NewWebhookChannel(client)}
}

// Send implements Channel.
func (c *EmailChannel) Send(ctx context.Context, alert domain.Alert, config map[string]string) error {
	url := strings.TrimSpace(config["gateway_url"])
	if url == "" {
		return fmt.Errorf("email channel requires a gateway_url")
	}
	to := strings.TrimSpace(config["to"])
	if to == "" {
		return fmt.Errorf("email channel requires a recipient")
	}
	body := map[string]any{
		"to":      to,
		"subject": fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title),
		"body":    formatChatMessage(alert),
		"alert":   alertPayload(alert),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}
	return c.webhook.post(ctx, url, payload, config["token"])
}

func alertPayload(alert domain.Alert) map[string]any {
	return map[string]any{
		"fingerprint":     alert.Fingerprint,
		"title":           alert.Title,
		"category":        alert.Category,
		"source":          alert.Source,
		"message":         alert.Message,
		"severity":        alert.Severity,
		"status":          alert.Status,
		"level":           alert.Level,
		"occurrences":     alert.Occurrences,
		"first_triggered": alert.FirstTriggered.UTC().Format(time.RFC3339),
		"last_triggered":  alert.LastTriggered.UTC().Format(time.RFC3339),
		"users_affected":  alert.Impact.UsersAffected,
		"revenue_impact":  alert.Impact.RevenueEstimate,
		"sla_breach":      alert.Impact.SLABreach,
		"labels":          alert.Labels,
	}
}

func formatChatMessage(alert domain.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(alert.Severity)), alert.Title)
	if alert.Message != "" {
		fmt.Fprintf(&b, "%s\n", alert.Message)
	}
	fmt.Fprintf(&b, "source=%s category=%s occurrences=%d level=%d", alert.Source, alert.Category, alert.Occurrences, alert.Level)
	if alert.Impact.UsersAffected > 0 {
		fmt.Fprintf(&b, " users_affected=%d", alert.Impact.UsersAffected)
	}
	if alert.Impact.SLABreach {
		b.WriteString(" sla_breach=true")
	}
	return b.String()
}
