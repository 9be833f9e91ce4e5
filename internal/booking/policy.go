package booking

import (
	"context"
	"time"

	"bookingsched/internal/calendar"
	"bookingsched/internal/errors"
)

// HolidayCalendar answers holiday questions for the policy. Implementations
// may do I/O; their failures surface as ErrPolicy.
type HolidayCalendar interface {
	IsHoliday(ctx context.Context, d calendar.Date) (bool, error)
	// PreviousWorkingDay returns a date strictly before d.
	PreviousWorkingDay(ctx context.Context, d calendar.Date) (calendar.Date, error)
}

// maxPolicySteps bounds the backward walk. A calendar that marks a whole
// year as holidays is broken, not busy.
const maxPolicySteps = 366

// ResolveExecutionDate returns candidate unless it is a holiday, in which case
// it walks back through PreviousWorkingDay until a non-holiday is found.
// A nil calendar has no holidays.
func ResolveExecutionDate(ctx context.Context, candidate calendar.Date, cal HolidayCalendar) (calendar.Date, error) {
	if candidate.IsZero() {
		return calendar.Date{}, validationError(errors.New("date required"))
	}
	if cal == nil {
		return candidate, nil
	}
	cur := candidate
	for step := 0; step < maxPolicySteps; step++ {
		holiday, err := cal.IsHoliday(ctx, cur)
		if err != nil {
			return calendar.Date{}, errors.Mark(errors.Wrapf(err, "holiday lookup %s", cur), ErrPolicy)
		}
		if !holiday {
			return cur, nil
		}
		prev, err := cal.PreviousWorkingDay(ctx, cur)
		if err != nil {
			return calendar.Date{}, errors.Mark(errors.Wrapf(err, "previous working day of %s", cur), ErrPolicy)
		}
		if !prev.Before(cur) {
			return calendar.Date{}, errors.Mark(errors.Newf("previous working day of %s is %s", cur, prev), ErrPolicy)
		}
		cur = prev
	}
	return calendar.Date{}, errors.Mark(errors.Newf("no business day within %d days before %s", maxPolicySteps, candidate), ErrPolicy)
}

// LastBusinessDayOfMonth starts at the calendar's last day of the month and
// walks back until a non-holiday is found.
func LastBusinessDayOfMonth(ctx context.Context, year int, month time.Month, cal HolidayCalendar) (calendar.Date, error) {
	if month < time.January || month > time.December {
		return calendar.Date{}, validationError(errors.Newf("invalid month %d", int(month)))
	}
	return ResolveExecutionDate(ctx, calendar.LastOfMonth(year, month), cal)
}

// InLastWeek reports whether d falls in the final `days` days of its month.
func InLastWeek(d calendar.Date, days int) bool {
	if days <= 0 {
		days = 7
	}
	last := calendar.LastOfMonth(d.Year, d.Month)
	return d.Day > last.Day-days
}
