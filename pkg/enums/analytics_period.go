package enums

import (
	"fmt"
	"strings"
	"time"
)

// AnalyticsPeriod is the roll-up window of a vendor analytics row.
type AnalyticsPeriod string

const (
	AnalyticsPeriodDaily   AnalyticsPeriod = "DAILY"
	AnalyticsPeriodWeekly  AnalyticsPeriod = "WEEKLY"
	AnalyticsPeriodMonthly AnalyticsPeriod = "MONTHLY"
)

var validAnalyticsPeriods = []AnalyticsPeriod{
	AnalyticsPeriodDaily,
	AnalyticsPeriodWeekly,
	AnalyticsPeriodMonthly,
}

// String implements fmt.Stringer.
func (p AnalyticsPeriod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known AnalyticsPeriod.
func (p AnalyticsPeriod) IsValid() bool {
	for _, candidate := range validAnalyticsPeriods {
		if candidate == p {
			return true
		}
	}
	return false
}

// Window returns the UTC [start, end) range of the period containing t.
// Weeks start on Monday.
func (p AnalyticsPeriod) Window(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case AnalyticsPeriodWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case AnalyticsPeriodMonthly:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	default:
		return day, day.AddDate(0, 0, 1)
	}
}

// ParseAnalyticsPeriod converts raw input into an AnalyticsPeriod, case-insensitively.
func ParseAnalyticsPeriod(value string) (AnalyticsPeriod, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validAnalyticsPeriods {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid analytics period %q", value)
}
