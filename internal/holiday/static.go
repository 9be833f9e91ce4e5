// Package holiday provides the holiday calendars consulted when resolving a
// booking's execution date.
package holiday

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"bookingsched/internal/calendar"
)

// Calendar is the lookup surface consumed by the booking policy.
type Calendar interface {
	IsHoliday(ctx context.Context, d calendar.Date) (bool, error)
	PreviousWorkingDay(ctx context.Context, d calendar.Date) (calendar.Date, error)
}

const maxWalk = 366

// Static is an in-memory calendar built from configuration: an explicit date
// list plus, optionally, every Saturday and Sunday.
type Static struct {
	weekends bool
	dates    map[calendar.Date]struct{}
}

var _ Calendar = (*Static)(nil)

func NewStatic(weekends bool, dates []calendar.Date) *Static {
	s := &Static{weekends: weekends, dates: make(map[calendar.Date]struct{}, len(dates))}
	for _, d := range dates {
		s.dates[d] = struct{}{}
	}
	return s
}

// ParseDates parses ISO dates, reporting every malformed entry at once.
func ParseDates(raw []string) ([]calendar.Date, error) {
	out := make([]calendar.Date, 0, len(raw))
	var bad []string
	for _, r := range raw {
		d, err := calendar.Parse(r)
		if err != nil {
			bad = append(bad, fmt.Sprintf("%q", r))
			continue
		}
		out = append(out, d)
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("invalid holiday dates: %s", strings.Join(bad, ", "))
	}
	return out, nil
}

func (s *Static) isHoliday(d calendar.Date) bool {
	if s.weekends {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
			return true
		}
	}
	_, ok := s.dates[d]
	return ok
}

func (s *Static) IsHoliday(_ context.Context, d calendar.Date) (bool, error) {
	return s.isHoliday(d), nil
}

// PreviousWorkingDay returns the nearest non-holiday strictly before d.
func (s *Static) PreviousWorkingDay(ctx context.Context, d calendar.Date) (calendar.Date, error) {
	cur := d
	for i := 0; i < maxWalk; i++ {
		if err := ctx.Err(); err != nil {
			return calendar.Date{}, err
		}
		cur = cur.AddDays(-1)
		if !s.isHoliday(cur) {
			return cur, nil
		}
	}
	return calendar.Date{}, fmt.Errorf("no working day within %d days before %s", maxWalk, d)
}

// Dates returns the explicit holiday list in ascending order.
func (s *Static) Dates() []calendar.Date {
	out := make([]calendar.Date, 0, len(s.dates))
	for d := range s.dates {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
