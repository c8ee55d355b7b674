package attendance

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical wire form of a session date.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseDate accepts a calendar date or a timestamp and returns the canonical
// session day. The calendar day is taken as written: "2024-03-01T23:30:00-05:00"
// is 2024-03-01, whatever instant that is in UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NormalizeDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// NormalizeDate drops time of day and zone, keeping the calendar day of t in its own location.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a session day in DateLayout.
func FormatDate(t time.Time) string {
	return NormalizeDate(t).Format(DateLayout)
}
