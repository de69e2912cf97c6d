package parse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CanonicalLayout is the format this service writes timestamps in. It sorts
// lexically in the same order as the instants it encodes.
const CanonicalLayout = "2006-01-02 15:04:05"

// DateLayout is the YYYY-MM-DD form used for calendar days.
const DateLayout = "2006-01-02"

// Numeric timestamps below this value are unix seconds, at or above it unix
// milliseconds.
const unixMillisThreshold = 1_000_000_000_000

// ErrEmptyTimestamp is returned for blank input.
var ErrEmptyTimestamp = errors.New("empty timestamp")

var (
	zonedLayouts = []string{
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
	}
	// Zone-less layouts are read in the caller's location. Fractional seconds
	// are accepted by time.Parse without being named in the layout.
	localLayouts = []string{
		CanonicalLayout,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02T15:04",
	}
)

// Timestamp converts a producer-written timestamp into an instant. It accepts
// ISO-8601 text with or without a zone, unix seconds and unix milliseconds.
func Timestamp(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, ErrEmptyTimestamp
	}
	if loc == nil {
		loc = time.Local
	}

	if isDigits(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid numeric timestamp %q: %w", raw, err)
		}
		if n < unixMillisThreshold {
			return time.Unix(n, 0).In(loc), nil
		}
		return time.UnixMilli(n).In(loc), nil
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(loc), nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// FormatTimestamp renders t in CanonicalLayout in loc.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(CanonicalLayout)
}

// HourStart returns the instant the local clock hour containing t began. On a
// DST fall-back day the repeated hour yields two distinct instants.
func HourStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	into := time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
	return t.Add(-into)
}

// Day parses a YYYY-MM-DD date into midnight of that day in loc.
func Day(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	return t, nil
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
