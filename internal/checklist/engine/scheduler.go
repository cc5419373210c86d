package engine

import (
	"strings"
	"time"
)

// Frequency 检验频次. The empty value means no recurrence.
type Frequency string

const (
	FrequencyNone      Frequency = ""
	FrequencyOnce      Frequency = "once"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnually  Frequency = "annually"
)

// ParseFrequency accepts the stored nullable column value.
func ParseFrequency(s *string) (Frequency, error) {
	if s == nil {
		return FrequencyNone, nil
	}
	f := Frequency(strings.ToLower(strings.TrimSpace(*s)))
	switch f {
	case FrequencyNone, FrequencyOnce, FrequencyDaily, FrequencyWeekly,
		FrequencyMonthly, FrequencyQuarterly, FrequencyAnnually:
		return f, nil
	}
	return FrequencyNone, &SchedulingError{Frequency: *s}
}

// Recurring reports whether the frequency produces due dates.
func (f Frequency) Recurring() bool {
	return f != FrequencyNone && f != FrequencyOnce
}

// ComputeDueDate derives the next due instant from ref. Month arithmetic is
// clamped to the last valid day of the target month, so Jan 31 + 1 month is
// the end of February and Feb 29 + 1 year is Feb 28.
func ComputeDueDate(f Frequency, ref time.Time) (*time.Time, error) {
	var due time.Time
	switch f {
	case FrequencyNone, FrequencyOnce:
		return nil, nil
	case FrequencyDaily:
		due = ref.AddDate(0, 0, 1)
	case FrequencyWeekly:
		due = ref.AddDate(0, 0, 7)
	case FrequencyMonthly:
		due = addMonthsClamped(ref, 1)
	case FrequencyQuarterly:
		due = addMonthsClamped(ref, 3)
	case FrequencyAnnually:
		due = addMonthsClamped(ref, 12)
	default:
		return nil, &SchedulingError{Frequency: string(f)}
	}
	return &due, nil
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	target := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(target.Year(), target.Month()); d > last {
		d = last
	}
	return time.Date(target.Year(), target.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
