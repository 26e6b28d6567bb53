package enhance

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// dateTimeLayouts carry a time of day and are returned as parsed.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"January 2, 2006 3:04 PM",
	"2 January 2006 3:04 PM",
}

// dateLayouts carry only a day; the deadline is the end of that day (UTC).
var dateLayouts = []string{
	"2006-01-02",
	"2 January 2006",
	"02 January 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"02/01/2006",
	"02-01-2006",
}

// parseDeadline reads a deadline written in ISO form or in one of the common
// English layouts Indian portals publish.
func parseDeadline(text string) (time.Time, error) {
	text = normalizeSpace(text)
	if text == "" {
		return time.Time{}, eris.New("deadline: empty")
	}
	if strings.HasSuffix(text, "Z") && !strings.Contains(text, "T") {
		text = strings.TrimSuffix(text, "Z")
	}

	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return toEndOfDay(t), nil
		}
	}

	return time.Time{}, eris.Errorf("deadline: unable to parse %q", text)
}

// toEndOfDay sets the time to 23:59:59.999999999 UTC.
func toEndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, time.UTC)
}

// daysUntil is the number of whole days from now to deadline, floored, so a
// deadline earlier today is -1.
func daysUntil(deadline, now time.Time) int {
	d := deadline.Sub(now)
	days := int(d / (24 * time.Hour))
	if d < 0 && d%(24*time.Hour) != 0 {
		days--
	}
	return days
}
