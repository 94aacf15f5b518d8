package ingest

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// NormalizeDate parses the date formats seen upstream and renders them as
// YYYY-MM-DD. An absent or unparseable value returns the empty string, the
// explicit unknown sentinel; it is never coerced to today or the epoch.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// ISO-8601 prefix, with or without a time component.
	if len(s) >= 10 && s[4] == '-' && s[7] == '-' {
		if _, err := time.Parse(dateLayout, s[:10]); err == nil {
			return s[:10]
		}
	}

	for _, layout := range []string{dateLayout, "01/02/2006", "01/02/06", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(dateLayout)
		}
	}
	return ""
}

// DaysToDue returns the whole days from today until the due date. The second
// return value is false when due is the unknown sentinel or unparseable.
func DaysToDue(due string, today time.Time) (int, bool) {
	if due == "" {
		return 0, false
	}
	t, err := time.Parse(dateLayout, due)
	if err != nil {
		return 0, false
	}
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(day).Hours() / 24), true
}
