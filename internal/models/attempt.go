package models

import "time"

type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomePermanentFailure Outcome = "permanent_failure"
)

// DeliveryAttempt records a single dispatch of a scheduled message to its
// channel adapter. Exactly one row is written per dispatch, in the same
// transaction as the resulting status transition.
type DeliveryAttempt struct {
	ID            string    `json:"id"`
	MessageID     string    `json:"message_id"`
	AttemptNumber int       `json:"attempt_number"`
	AttemptTime   time.Time `json:"attempt_time"`
	Outcome       Outcome   `json:"outcome"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	ResponseData  string    `json:"response_data,omitempty"`
}
