package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/mkarlsen/sendlater/internal/models"
)

// Telegram message length limit per sendMessage call.
const telegramContentMax = 4096

type TelegramConfig struct {
	Token   string
	APIURL  string
	Timeout time.Duration
}

type Telegram struct {
	token  string
	apiURL string
	client *http.Client
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Telegram{
		token:  cfg.Token,
		apiURL: apiURL,
		client: &http.Client{Timeout: timeout},
	}
}

func (t *Telegram) Platform() models.Platform { return models.PlatformTelegram }

func (t *Telegram) Validate(msg *models.ScheduledMessage) error {
	if msg.RecipientID == "" {
		return fmt.Errorf("telegram recipient (chat id) is empty")
	}
	if msg.Content == "" {
		return fmt.Errorf("message content is empty")
	}
	if n := utf8.RuneCountInString(msg.Content); n > telegramContentMax {
		return fmt.Errorf("content is %d chars, telegram limit is %d", n, telegramContentMax)
	}
	return nil
}

type telegramRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *Telegram) Send(ctx context.Context, msg *models.ScheduledMessage) Result {
	body, err := json.Marshal(telegramRequest{
		ChatID:    msg.RecipientID,
		Text:      msg.Content,
		ParseMode: msg.Parameters["parse_mode"],
	})
	if err != nil {
		return Permanent(fmt.Sprintf("failed to encode request: %v", err), "")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Sprintf("failed to create request: %v", err), "")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Transient(fmt.Sprintf("request failed: %v", err), "")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var tr telegramResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		// Non-JSON body usually means a proxy or gateway error in front of
		// the API, which is worth retrying.
		return Transient(fmt.Sprintf("unexpected response (status %d)", resp.StatusCode), string(raw))
	}

	if tr.OK {
		return Success(string(raw))
	}

	detail := fmt.Sprintf("telegram error %d: %s", tr.ErrorCode, tr.Description)
	if tr.ErrorCode == http.StatusTooManyRequests || tr.ErrorCode >= 500 {
		return Transient(detail, string(raw))
	}
	// 400 (chat not found) and 403 (bot blocked by user) are not retryable.
	return Permanent(detail, string(raw))
}
