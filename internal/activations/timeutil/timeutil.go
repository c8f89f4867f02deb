// Package timeutil holds the date arithmetic shared by the activation engine.
//
// CRM timestamps carry an offset. The engine parses them as instants and then
// compares them as naive UTC wall-clock values, so every instant leaving this
// package is in UTC and every date is UTC midnight.
package timeutil

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"activation_backend/platform/apperr"
)

const (
	// CRMLayout is the timestamp form returned by the CRM.
	CRMLayout = "2006-01-02T15:04:05.000-0700"
	// QueryLayout is the timestamp form sent to the CRM in queries.
	QueryLayout = "2006-01-02T15:04:05Z"
	// DateLayout is the calendar date form used by filters and storage.
	DateLayout = time.DateOnly
)

var crmFallbackLayouts = []string{
	"2006-01-02T15:04:05.000Z0700",
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
}

// ParseCRMTime parses a CRM timestamp and normalises it to UTC.
func ParseCRMTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, apperr.Schema("empty CRM timestamp")
	}
	if t, err := time.Parse(CRMLayout, value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range crmFallbackLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperr.Schema(fmt.Sprintf("unparseable CRM timestamp %q", value))
}

// FormatCRMTime renders t in the Z-suffixed form the CRM query language accepts.
func FormatCRMTime(t time.Time) string {
	return t.UTC().Format(QueryLayout)
}

// ParseDate parses YYYY-MM-DD, ignoring anything after the first ten characters.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if len(value) > len(DateLayout) {
		value = value[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, apperr.Schema(fmt.Sprintf("invalid date %q", value))
	}
	return t, nil
}

// DateOf truncates an instant to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// AddDays shifts t by n calendar days.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// DaysBetween counts calendar days from one date to another.
func DaysBetween(from, to time.Time) int {
	return int(DateOf(to).Sub(DateOf(from)).Hours() / 24)
}

// InWindow reports whether t lies in the half-open window [start, start+days).
func InWindow(t, start time.Time, days int) bool {
	return !t.Before(start) && t.Before(AddDays(start, days))
}

// InRange reports whether t lies in the half-open range [start, end).
func InRange(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

// MaxTime returns the later of a and b.
func MaxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// MinTime returns the earlier of a and b.
func MinTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.T }

// Today returns the current UTC date.
func Today(c Clock) time.Time {
	return DateOf(c.Now())
}

// NowIn returns the current instant in the named IANA zone.
func NowIn(c Clock, tz string) (time.Time, error) {
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, apperr.Validation(fmt.Sprintf("unknown timezone %q", tz))
	}
	return c.Now().In(loc), nil
}
