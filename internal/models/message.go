package models

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a message in this status can never change again.
// A recurring message resets to pending before it would reach sent, so a
// terminal row is always the end of its occurrence's history.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformSlack    Platform = "slack"
	PlatformWebhook  Platform = "webhook"
)

func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformTelegram, PlatformSlack, PlatformWebhook:
		return Platform(s), nil
	}
	return "", fmt.Errorf("unknown platform: %q", s)
}

type ScheduledMessage struct {
	ID             string            `json:"id"`
	RecipientID    string            `json:"recipient_id"`
	Platform       Platform          `json:"platform"`
	Content        string            `json:"content"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	ScheduledTime  time.Time         `json:"scheduled_time"`
	Recurrence     *RecurrenceRule   `json:"recurrence,omitempty"`
	Status         Status            `json:"status"`
	Attempts       int               `json:"attempts"`
	LastError      string            `json:"last_error,omitempty"`
	ClaimedBy      string            `json:"claimed_by,omitempty"`
	ClaimExpiresAt *time.Time        `json:"claim_expires_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	SentAt         *time.Time        `json:"sent_at,omitempty"`
	FailedAt       *time.Time        `json:"failed_at,omitempty"`
}
