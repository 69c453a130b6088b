// Package dateutil is the single seam for calendar-date parsing and
// formatting. Grade records key on bare calendar dates, so the calendar
// components are always extracted from the input string before any
// time.Time is constructed; going through local time first can shift a
// stored date by a day depending on the viewer's zone.
package dateutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/gradetrack/gradesync-api/pkg/errors"
)

// Date is a timezone-independent calendar date.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DisplayStyle selects a human-readable format.
type DisplayStyle string

const (
	StyleShort  DisplayStyle = "short"  // Mar 14
	StyleMedium DisplayStyle = "medium" // March 14
	StyleLong   DisplayStyle = "long"   // Friday, March 14, 2025
)

// Normalize parses a YYYY-MM-DD string, or a timestamp such as
// 2025-03-14T00:00:00.000Z, into its calendar date. The time and zone
// portion is discarded before parsing so the result never depends on
// the caller's timezone.
func Normalize(input string) (Date, error) {
	raw := strings.TrimSpace(input)
	if i := strings.IndexByte(raw, 'T'); i >= 0 {
		raw = raw[:i]
	}

	parts := strings.Split(raw, "-")
	if len(parts) != 3 {
		return Date{}, appErrors.Wrap(fmt.Errorf("parse %q", input), appErrors.ErrInvalidDateFormat.Code, appErrors.ErrInvalidDateFormat.Status, appErrors.ErrInvalidDateFormat.Message)
	}

	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return Date{}, appErrors.Wrap(fmt.Errorf("parse %q: %w", input, err), appErrors.ErrInvalidDateFormat.Code, appErrors.ErrInvalidDateFormat.Status, appErrors.ErrInvalidDateFormat.Message)
		}
		nums[i] = n
	}

	d := Date{Year: nums[0], Month: time.Month(nums[1]), Day: nums[2]}
	if !d.valid() {
		return Date{}, appErrors.Wrap(fmt.Errorf("out of range %q", input), appErrors.ErrInvalidDateFormat.Code, appErrors.ErrInvalidDateFormat.Status, appErrors.ErrInvalidDateFormat.Message)
	}
	return d, nil
}

func (d Date) valid() bool {
	if d.Year < 1 || d.Month < time.January || d.Month > time.December || d.Day < 1 || d.Day > 31 {
		return false
	}
	// Round-tripping through time.Date catches day-of-month overflow.
	t := d.Time()
	return t.Day() == d.Day && t.Month() == d.Month && t.Year() == d.Year
}

// Time returns the date anchored at midnight UTC. All arithmetic goes
// through this, never through local time.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// String returns the canonical YYYY-MM-DD form.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Display formats the date for humans. Output depends only on the date
// and style, never on the caller's locale or zone.
func (d Date) Display(style DisplayStyle) string {
	t := d.Time()
	switch style {
	case StyleMedium:
		return t.Format("January 2")
	case StyleLong:
		return t.Format("Monday, January 2, 2006")
	default:
		return t.Format("Jan 2")
	}
}

// AddDays returns the date shifted by the given number of calendar days.
func (d Date) AddDays(days int) Date {
	t := d.Time().AddDate(0, 0, days)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Before reports whether d falls strictly before other.
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

// FromTime extracts the UTC calendar date of an instant.
func FromTime(t time.Time) Date {
	u := t.UTC()
	return Date{Year: u.Year(), Month: u.Month(), Day: u.Day()}
}

// Today returns the current UTC calendar date.
func Today() Date {
	return FromTime(time.Now())
}
