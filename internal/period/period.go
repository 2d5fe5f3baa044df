// Package period resolves relative period labels into inclusive day-bound
// timestamp pairs suitable for BETWEEN filters.
package period

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Layout is the bound format handed to the store.
const Layout = "2006-01-02 15:04:05"

var lastNDaysPattern = regexp.MustCompile(`^last_(\d+)_days$`)

// Labels returns the fixed relative labels Resolve understands, for error
// messages. The last_<n>_days family is represented by its general form.
func Labels() []string {
	return []string{
		"today", "yesterday", "this_week", "last_week",
		"this_month", "last_month", "this_year", "last_<n>_days",
	}
}

// Range is an inclusive [Start, End] pair of day-bound timestamps.
type Range struct {
	Start string
	End   string
}

// Resolve turns a relative label into a concrete range anchored at now.
// Supported labels: today, yesterday, this_week, last_week, this_month,
// last_month, this_year, last_7_days and the general last_<n>_days form.
func Resolve(label string, now time.Time) (Range, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	day := func(d time.Time) (time.Time, time.Time) { return d, d }

	var start, end time.Time
	switch label {
	case "today":
		start, end = day(now)
	case "yesterday":
		start, end = day(now.AddDate(0, 0, -1))
	case "this_week":
		start = mondayOf(now)
		end = start.AddDate(0, 0, 6)
	case "last_week":
		end = mondayOf(now).AddDate(0, 0, -1)
		start = end.AddDate(0, 0, -6)
	case "this_month":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 1, -1)
	case "last_month":
		firstOfThis := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		end = firstOfThis.AddDate(0, 0, -1)
		start = time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, now.Location())
	case "this_year":
		start = time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
		end = time.Date(now.Year(), 12, 31, 0, 0, 0, 0, now.Location())
	default:
		if m := lastNDaysPattern.FindStringSubmatch(label); m != nil {
			n := 0
			fmt.Sscanf(m[1], "%d", &n)
			if n < 1 {
				return Range{}, fmt.Errorf("period %q: day count must be positive", label)
			}
			start = now.AddDate(0, 0, -(n - 1))
			end = now
			break
		}
		return Range{}, fmt.Errorf("unknown period label %q", label)
	}

	return Range{
		Start: DayStart(start),
		End:   DayEnd(end),
	}, nil
}

// mondayOf returns the Monday of t's ISO week.
func mondayOf(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

// DayStart formats the 00:00:00 bound of t's day.
func DayStart(t time.Time) string {
	return t.Format("2006-01-02") + " 00:00:00"
}

// DayEnd formats the 23:59:59 bound of t's day.
func DayEnd(t time.Time) string {
	return t.Format("2006-01-02") + " 23:59:59"
}

// NormalizeStart widens a caller-supplied date or timestamp to the 00:00:00
// bound of its day. Values without a recognizable leading date pass through
// unchanged.
func NormalizeStart(value string) string {
	return normalize(value, " 00:00:00")
}

// NormalizeEnd widens a caller-supplied date or timestamp to the 23:59:59
// bound of its day.
func NormalizeEnd(value string) string {
	return normalize(value, " 23:59:59")
}

// normalize keeps only the calendar day of the supplied value, so a bound
// like "2025-01-15 15:30:00" covers the whole of 2025-01-15.
func normalize(value, suffix string) string {
	v := strings.TrimSpace(value)
	if len(v) < len("2006-01-02") {
		return v
	}
	day := v[:len("2006-01-02")]
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return v
	}
	return day + suffix
}
