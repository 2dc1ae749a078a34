package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the ISO-8601 civil date format used for exception lists,
// occurrence dates and API parameters.
const DateLayout = "2006-01-02"

// All civil dates are UTC midnight instants. Arithmetic is done in UTC so
// that a date never shifts with the server's local zone.

// ParseDate parses YYYY-MM-DD into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// ParseDateOrTime accepts either a civil date or an RFC3339 timestamp.
func ParseDateOrTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := ParseDate(s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

// FormatDate renders the UTC civil date of t.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DateOf truncates t to UTC midnight.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last instant of t's UTC civil date.
func EndOfDay(t time.Time) time.Time {
	return DateOf(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// OccurrenceKey is the deterministic identity of a virtual occurrence.
type OccurrenceKey struct {
	SeriesID string
	Date     string // YYYY-MM-DD
}

func (k OccurrenceKey) String() string {
	return k.SeriesID + "@" + k.Date
}

// ParseOccurrenceKey parses "<seriesId>@<YYYY-MM-DD>".
func ParseOccurrenceKey(s string) (OccurrenceKey, bool) {
	i := strings.LastIndexByte(s, '@')
	if i <= 0 || i == len(s)-1 {
		return OccurrenceKey{}, false
	}
	k := OccurrenceKey{SeriesID: s[:i], Date: s[i+1:]}
	if _, err := ParseDate(k.Date); err != nil {
		return OccurrenceKey{}, false
	}
	return k, true
}
