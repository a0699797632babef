package utils

import (
	"errors"
	"strings"
	"time"
)

const (
	layoutDate     = "2006-01-02"
	layoutDateTime = "2006-01-02 15:04:05"
	layoutClock    = "15:04"
)

var (
	ErrDepartureUnparseable = errors.New("departure time could not be determined")
	ErrDepartureNotFuture   = errors.New("departure must be in the future")
)

var explicitLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	layoutDateTime,
}

// NowUTC returns current time in UTC.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// ParseClock parses "HH:MM" into hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse(layoutClock, strings.TrimSpace(s))
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// ResolveDeparture picks the departure instant for a booking. An explicit
// value may be a full timestamp, or a date that is combined with the route's
// first departure time. Without one, today (in loc) at firstDeparture is used.
// The result must be strictly after now.
func ResolveDeparture(explicit, firstDeparture string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	explicit = strings.TrimSpace(explicit)

	var (
		dep time.Time
		ok  bool
	)
	for _, layout := range explicitLayouts {
		if explicit == "" {
			break
		}
		if t, err := time.ParseInLocation(layout, explicit, loc); err == nil {
			dep, ok = t, true
			break
		}
	}

	if !ok {
		day := now.In(loc)
		if explicit != "" {
			d, err := time.ParseInLocation(layoutDate, explicit, loc)
			if err != nil {
				return time.Time{}, ErrDepartureUnparseable
			}
			day = d
		}
		hour, minute, err := ParseClock(firstDeparture)
		if err != nil {
			return time.Time{}, ErrDepartureUnparseable
		}
		dep = time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	}

	if !dep.After(now) {
		return time.Time{}, ErrDepartureNotFuture
	}
	return dep.UTC(), nil
}

// FormatDate formats time to YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(layoutDate)
}

// FormatDateTime formats time to "YYYY-MM-DD HH:MM:SS".
func FormatDateTime(t time.Time) string {
	return t.Format(layoutDateTime)
}
