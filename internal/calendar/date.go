// Package calendar provides a civil (time-zone free) date used as the key for
// booking jobs.
package calendar

import (
	"fmt"
	"strings"
	"time"
)

// Layout is the ISO-8601 calendar date layout used on the wire and in storage.
const Layout = "2006-01-02"

// Date is a calendar day without a time or location. The zero value is
// invalid (see IsZero). Date is comparable and safe to use as a map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// New returns the normalized date for y-m-d (e.g. April 31 becomes May 1).
func New(y int, m time.Month, d int) Date {
	return Of(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// Of returns the date part of t in t's location.
func Of(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the current date in loc (Local when nil).
func Today(loc *time.Location) Date {
	if loc == nil {
		loc = time.Local
	}
	return Of(time.Now().In(loc))
}

// Parse parses an ISO date ("2025-04-10"). Surrounding whitespace is ignored.
func Parse(raw string) (Date, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Date{}, fmt.Errorf("date required")
	}
	t, err := time.Parse(Layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	return Of(t), nil
}

// LastOfMonth returns the last calendar day of the given month.
func LastOfMonth(y int, m time.Month) Date {
	// Day 0 of the next month is the last day of this one.
	return New(y, m+1, 0)
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// AddDays returns d shifted by n days (n may be negative).
func (d Date) AddDays(n int) Date { return New(d.Year, d.Month, d.Day+n) }

func (d Date) Weekday() time.Weekday { return d.midnight(time.UTC).Weekday() }

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }

func (d Date) After(o Date) bool { return d.Compare(o) > 0 }

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return cmpInt(d.Year, o.Year)
	case d.Month != o.Month:
		return cmpInt(int(d.Month), int(o.Month))
	default:
		return cmpInt(d.Day, o.Day)
	}
}

// At returns the instant at hour:minute on d in loc (Local when nil).
func (d Date) At(hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(d.Year, d.Month, d.Day, hour, minute, 0, 0, loc)
}

func (d Date) midnight(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
