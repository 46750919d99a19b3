// Package recurrence computes the next occurrence of a repeating message.
//
// The next occurrence is always derived from the scheduled time of the
// occurrence that just completed, never from the wall clock, so retries and
// delivery delays do not accumulate drift across occurrences.
package recurrence

import (
	"time"

	"github.com/mkarlsen/sendlater/internal/models"
)

// Next returns the scheduled time of the occurrence after the one at
// occurrence, or false when the rule is nil (one-shot) or yields nothing.
// The result is strictly after occurrence.
func Next(rule *models.RecurrenceRule, occurrence time.Time) (time.Time, bool) {
	if rule == nil {
		return time.Time{}, false
	}

	hour, minute := timeOfDay(rule, occurrence)

	switch rule.Kind {
	case models.RecurDaily:
		return at(occurrence.AddDate(0, 0, 1), hour, minute), true

	case models.RecurWeekly:
		if len(rule.Weekdays) == 0 {
			return time.Time{}, false
		}
		want := make(map[time.Weekday]bool, len(rule.Weekdays))
		for _, d := range rule.Weekdays {
			want[d] = true
		}
		// Walk forward at most one full week; the set is non-empty so a
		// match always exists.
		for i := 1; i <= 7; i++ {
			cand := occurrence.AddDate(0, 0, i)
			if want[cand.Weekday()] {
				return at(cand, hour, minute), true
			}
		}
		return time.Time{}, false

	case models.RecurMonthly:
		day := rule.DayOfMonth
		if day == 0 {
			day = occurrence.Day()
		}
		year, month, _ := occurrence.Date()
		next := time.Date(year, month+1, 1, hour, minute, 0, 0, occurrence.Location())
		if last := daysIn(next.Year(), next.Month(), occurrence.Location()); day > last {
			day = last
		}
		return next.AddDate(0, 0, day-1), true
	}

	return time.Time{}, false
}

func timeOfDay(rule *models.RecurrenceRule, occurrence time.Time) (hour, minute int) {
	if rule.TimeOfDay != "" {
		if h, m, err := models.ParseTimeOfDay(rule.TimeOfDay); err == nil {
			return h, m
		}
	}
	return occurrence.Hour(), occurrence.Minute()
}

func at(day time.Time, hour, minute int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, day.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	// Day zero of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
