package recurrence

import (
	"testing"
	"time"

	"github.com/mkarlsen/sendlater/internal/models"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad test time %q: %v", value, err)
	}
	return ts
}

func TestNext_OneShot(t *testing.T) {
	t.Parallel()

	if _, ok := Next(nil, time.Now()); ok {
		t.Fatalf("expected no next occurrence for nil rule")
	}
}

func TestNext_Daily(t *testing.T) {
	t.Parallel()

	rule := &models.RecurrenceRule{Kind: models.RecurDaily}
	occ := mustTime(t, "2026-01-02T09:00:00Z")

	next, ok := Next(rule, occ)
	if !ok {
		t.Fatalf("expected a next occurrence")
	}
	want := mustTime(t, "2026-01-03T09:00:00Z")
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNext_Daily_TimeOfDayOverride(t *testing.T) {
	t.Parallel()

	rule := &models.RecurrenceRule{Kind: models.RecurDaily, TimeOfDay: "07:30"}
	occ := mustTime(t, "2026-01-02T09:00:00Z")

	next, _ := Next(rule, occ)
	want := mustTime(t, "2026-01-03T07:30:00Z")
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNext_Weekly_WrapsToNextWeek(t *testing.T) {
	t.Parallel()

	// 2026-01-02 is a Friday; Mon/Wed/Fri at 09:00 should wrap to the
	// following Monday.
	rule := &models.RecurrenceRule{
		Kind:      models.RecurWeekly,
		Weekdays:  []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		TimeOfDay: "09:00",
	}
	occ := mustTime(t, "2026-01-02T09:00:00Z")
	if occ.Weekday() != time.Friday {
		t.Fatalf("test precondition: %v is not a Friday", occ)
	}

	next, ok := Next(rule, occ)
	if !ok {
		t.Fatalf("expected a next occurrence")
	}
	want := mustTime(t, "2026-01-05T09:00:00Z")
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	if next.Weekday() != time.Monday {
		t.Fatalf("next is %v, want Monday", next.Weekday())
	}
}

func TestNext_Weekly_SameWeek(t *testing.T) {
	t.Parallel()

	rule := &models.RecurrenceRule{
		Kind:     models.RecurWeekly,
		Weekdays: []time.Weekday{time.Monday, time.Wednesday, time.Friday},
	}
	occ := mustTime(t, "2026-01-05T09:00:00Z") // Monday

	next, _ := Next(rule, occ)
	want := mustTime(t, "2026-01-07T09:00:00Z") // Wednesday
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNext_Weekly_SingleDay(t *testing.T) {
	t.Parallel()

	// A single configured day lands exactly one week out.
	rule := &models.RecurrenceRule{
		Kind:     models.RecurWeekly,
		Weekdays: []time.Weekday{time.Friday},
	}
	occ := mustTime(t, "2026-01-02T12:15:00Z")

	next, _ := Next(rule, occ)
	want := mustTime(t, "2026-01-09T12:15:00Z")
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNext_Monthly(t *testing.T) {
	t.Parallel()

	rule := &models.RecurrenceRule{Kind: models.RecurMonthly, DayOfMonth: 15}
	occ := mustTime(t, "2026-01-15T08:00:00Z")

	next, _ := Next(rule, occ)
	want := mustTime(t, "2026-02-15T08:00:00Z")
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNext_Monthly_ClampsToShortMonth(t *testing.T) {
	t.Parallel()

	rule := &models.RecurrenceRule{Kind: models.RecurMonthly, DayOfMonth: 31}
	occ := mustTime(t, "2026-01-31T08:00:00Z")

	next, _ := Next(rule, occ)
	want := mustTime(t, "2026-02-28T08:00:00Z")
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNext_Monthly_YearWrap(t *testing.T) {
	t.Parallel()

	rule := &models.RecurrenceRule{Kind: models.RecurMonthly}
	occ := mustTime(t, "2025-12-10T23:45:00Z")

	next, _ := Next(rule, occ)
	want := mustTime(t, "2026-01-10T23:45:00Z")
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNext_StrictlyAfterOccurrence(t *testing.T) {
	t.Parallel()

	rules := []*models.RecurrenceRule{
		{Kind: models.RecurDaily, TimeOfDay: "00:00"},
		{Kind: models.RecurWeekly, Weekdays: []time.Weekday{time.Saturday}, TimeOfDay: "00:00"},
		{Kind: models.RecurMonthly, DayOfMonth: 1, TimeOfDay: "00:00"},
	}
	occ := mustTime(t, "2026-01-02T23:59:00Z")

	for _, rule := range rules {
		next, ok := Next(rule, occ)
		if !ok {
			t.Fatalf("rule %q: expected next occurrence", rule.Kind)
		}
		if !next.After(occ) {
			t.Fatalf("rule %q: next %v is not strictly after %v", rule.Kind, next, occ)
		}
	}
}

func TestNext_DeterministicForSameInput(t *testing.T) {
	t.Parallel()

	rule := &models.RecurrenceRule{Kind: models.RecurWeekly, Weekdays: []time.Weekday{time.Monday}}
	occ := mustTime(t, "2026-01-02T09:00:00Z")

	a, _ := Next(rule, occ)
	b, _ := Next(rule, occ)
	if !a.Equal(b) {
		t.Fatalf("Next is not deterministic: %v vs %v", a, b)
	}
}
