// Package timewindow derives the current and comparable previous windows for
// a dashboard range.
//
// The previous window is the current one shifted back by a single
// granularity unit: one day, seven days, one calendar month or one calendar
// year. For ranges longer than one unit the two windows overlap; the
// dashboard relies on that.
package timewindow

import (
	"errors"
	"fmt"
	"time"

	"turismo/internal/domain"
)

// DateCode is the compact date layout the analytics backend expects.
const DateCode = "20060102"

// ISODate is the layout used in error messages and by API callers.
const ISODate = "2006-01-02"

var ErrInvalidRange = errors.New("invalid time range")

// Resolve computes the windows for the inclusive range [start, end].
func Resolve(g domain.Granularity, start, end time.Time) (domain.Windows, error) {
	start, end = day(start), day(end)
	if end.Before(start) {
		return domain.Windows{}, fmt.Errorf("%w: end %s before start %s", ErrInvalidRange, end.Format(ISODate), start.Format(ISODate))
	}
	if !g.Valid() {
		return domain.Windows{}, fmt.Errorf("%w: unknown granularity %q", ErrInvalidRange, g)
	}
	return domain.Windows{
		Current:      domain.Window{Start: start.Format(DateCode), End: end.Format(DateCode)},
		Previous:     domain.Window{Start: shift(g, start).Format(DateCode), End: shift(g, end).Format(DateCode)},
		DurationDays: int(end.Sub(start).Hours()/24) + 1,
	}, nil
}

// Trailing is the inclusive range of the last n days ending on now's date.
func Trailing(now time.Time, n int) (time.Time, time.Time) {
	if n < 1 {
		n = 1
	}
	end := day(now)
	return end.AddDate(0, 0, -(n - 1)), end
}

// shift moves a bound back one granularity unit. Ranges longer than one unit
// overlap their previous window: a 30-day daily range overlaps by 29 days.
// TestResolve_PreviousShift pins each case.
func shift(g domain.Granularity, t time.Time) time.Time {
	switch g {
	case domain.GranularityWeek:
		return t.AddDate(0, 0, -7)
	case domain.GranularityMonth:
		return addMonthsClamped(t, -1)
	case domain.GranularityYear:
		return addYearsClamped(t, -1)
	default:
		return t.AddDate(0, 0, -1)
	}
}

// addMonthsClamped keeps the day within the target month (Mar 31 -> Feb 28).
func addMonthsClamped(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	last := first.AddDate(0, 1, -1).Day()
	d := t.Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

func addYearsClamped(t time.Time, years int) time.Time {
	return addMonthsClamped(t, 12*years)
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
