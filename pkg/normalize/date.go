package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"02-Jan-2006",
	"02-Jan-06",
	"Mon, 02 Jan 2006",
	"Mon Jan 2 2006",
}

var (
	datePattern   = regexp.MustCompile(`\d{1,4}[/.\-]\d{1,2}[/.\-]\d{1,4}`)
	amountPattern = regexp.MustCompile(`\(?-?[$€£¥]?\s?-?\d[\d,]*(?:[.,]\d+)?\)?`)
)

// ParseDate runs the fallback chain: known layouts, then a split on / - .
// (four-digit first segment means year-month-day, otherwise month/day/year).
// On failure it returns now and false.
func ParseDate(raw string, now time.Time) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return now, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, ok := splitDate(s); ok {
		return t, true
	}
	return now, false
}

func splitDate(s string) (time.Time, bool) {
	if i := strings.IndexAny(s, " T"); i > 0 {
		s = s[:i]
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '-' || r == '.' })
	if len(parts) != 3 {
		return time.Time{}, false
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, false
		}
		nums[i] = n
	}

	var y, m, d int
	if len(parts[0]) == 4 {
		y, m, d = nums[0], nums[1], nums[2]
	} else {
		m, d, y = nums[0], nums[1], nums[2]
		if len(parts[2]) <= 2 {
			y += 2000
		}
	}
	if m < 1 || m > 12 || d < 1 || d > 31 || y < 1 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || t.Month() != time.Month(m) {
		return time.Time{}, false
	}
	return t, true
}

// SplitCombined pulls a date, an amount and the leftover text out of one
// value holding all three.
func SplitCombined(value string) (date, amount, rest string) {
	rest = value
	if loc := datePattern.FindStringIndex(rest); loc != nil {
		date = rest[loc[0]:loc[1]]
		rest = rest[:loc[0]] + " " + rest[loc[1]:]
	}
	if locs := amountPattern.FindAllStringIndex(rest, -1); len(locs) > 0 {
		loc := locs[len(locs)-1]
		amount = strings.TrimSpace(rest[loc[0]:loc[1]])
		rest = rest[:loc[0]] + " " + rest[loc[1]:]
	}
	rest = strings.Join(strings.Fields(strings.Trim(rest, " ,;|\t")), " ")
	rest = strings.Trim(rest, " ,;|")
	return date, amount, rest
}
