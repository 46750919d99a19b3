package models

import (
	"fmt"
	"time"
)

type RecurrenceKind string

const (
	RecurDaily   RecurrenceKind = "daily"
	RecurWeekly  RecurrenceKind = "weekly"
	RecurMonthly RecurrenceKind = "monthly"
)

// RecurrenceRule describes how a message repeats. TimeOfDay is "HH:MM"
// (24-hour); when empty, each occurrence keeps the previous occurrence's
// clock time. Weekdays applies to weekly rules, DayOfMonth to monthly ones.
type RecurrenceRule struct {
	Kind       RecurrenceKind `json:"kind"`
	Weekdays   []time.Weekday `json:"weekdays,omitempty"`
	DayOfMonth int            `json:"day_of_month,omitempty"`
	TimeOfDay  string         `json:"time_of_day,omitempty"`
}

func (r *RecurrenceRule) Validate() error {
	if r == nil {
		return nil
	}
	switch r.Kind {
	case RecurDaily:
	case RecurWeekly:
		if len(r.Weekdays) == 0 {
			return fmt.Errorf("weekly recurrence requires at least one weekday")
		}
		for _, d := range r.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("invalid weekday: %d", d)
			}
		}
	case RecurMonthly:
		if r.DayOfMonth < 0 || r.DayOfMonth > 31 {
			return fmt.Errorf("day_of_month must be 1-31, got %d", r.DayOfMonth)
		}
	default:
		return fmt.Errorf("unknown recurrence kind: %q", r.Kind)
	}
	if r.TimeOfDay != "" {
		if _, _, err := ParseTimeOfDay(r.TimeOfDay); err != nil {
			return err
		}
	}
	return nil
}

func ParseTimeOfDay(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("time_of_day must be HH:MM, got %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time_of_day out of range: %q", s)
	}
	return hour, minute, nil
}
