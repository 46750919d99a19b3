package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mkarlsen/sendlater/internal/models"
)

type SlackConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// Slack posts through an incoming-webhook URL. The recipient is an optional
// channel override; an empty recipient uses the webhook's default channel.
type Slack struct {
	webhookURL string
	client     *http.Client
}

func NewSlack(cfg SlackConfig) *Slack {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Slack{
		webhookURL: cfg.WebhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *Slack) Platform() models.Platform { return models.PlatformSlack }

func (s *Slack) Validate(msg *models.ScheduledMessage) error {
	if msg.Content == "" {
		return fmt.Errorf("message content is empty")
	}
	return nil
}

type slackRequest struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

func (s *Slack) Send(ctx context.Context, msg *models.ScheduledMessage) Result {
	body, err := json.Marshal(slackRequest{
		Text:    msg.Content,
		Channel: msg.RecipientID,
	})
	if err != nil {
		return Permanent(fmt.Sprintf("failed to encode request: %v", err), "")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Sprintf("failed to create request: %v", err), "")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Transient(fmt.Sprintf("request failed: %v", err), "")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return classifyHTTP(resp.StatusCode, string(raw))
}
