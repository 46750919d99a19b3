package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mkarlsen/sendlater/internal/models"
	"github.com/mkarlsen/sendlater/internal/signing"
)

type WebhookConfig struct {
	Secret  string
	Timeout time.Duration
}

// Webhook delivers to an arbitrary HTTP endpoint; the message's recipient is
// the destination URL. Payloads are HMAC-signed when a secret is configured.
type Webhook struct {
	secret string
	client *http.Client
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Webhook{
		secret: cfg.Secret,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) Platform() models.Platform { return models.PlatformWebhook }

func (w *Webhook) Validate(msg *models.ScheduledMessage) error {
	if msg.Content == "" {
		return fmt.Errorf("message content is empty")
	}
	u, err := url.Parse(msg.RecipientID)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("recipient is not a valid http(s) URL: %q", msg.RecipientID)
	}
	return nil
}

type webhookPayload struct {
	MessageID  string            `json:"message_id"`
	Content    string            `json:"content"`
	Parameters map[string]string `json:"parameters,omitempty"`
	SentAt     time.Time         `json:"sent_at"`
}

func (w *Webhook) Send(ctx context.Context, msg *models.ScheduledMessage) Result {
	payload, err := json.Marshal(webhookPayload{
		MessageID:  msg.ID,
		Content:    msg.Content,
		Parameters: msg.Parameters,
		SentAt:     time.Now().UTC(),
	})
	if err != nil {
		return Permanent(fmt.Sprintf("failed to encode payload: %v", err), "")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.RecipientID, bytes.NewReader(payload))
	if err != nil {
		return Permanent(fmt.Sprintf("failed to create request: %v", err), "")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Sendlater/1.0")
	req.Header.Set("X-Sendlater-ID", msg.ID)
	if w.secret != "" {
		signature, timestamp := signing.Sign(w.secret, payload)
		req.Header.Set("X-Sendlater-Timestamp", fmt.Sprintf("%d", timestamp))
		req.Header.Set("X-Sendlater-Signature", signature)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return Transient(fmt.Sprintf("request failed: %v", err), "")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return classifyHTTP(resp.StatusCode, string(body))
}

// classifyHTTP maps an HTTP status to the three-way outcome. Retryable
// statuses are timeouts, rate limits and server-side errors; any other
// non-2xx is treated as the receiver rejecting the message for good.
func classifyHTTP(status int, body string) Result {
	switch {
	case status >= 200 && status < 300:
		return Success(body)
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return Transient(fmt.Sprintf("received status %d", status), body)
	default:
		return Permanent(fmt.Sprintf("received status %d", status), body)
	}
}
