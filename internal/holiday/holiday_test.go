package holiday

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookingsched/internal/calendar"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDates(t *testing.T, raw ...string) []calendar.Date {
	t.Helper()
	ds, err := ParseDates(raw)
	require.NoError(t, err)
	return ds
}

func TestStaticWeekendsAndDates(t *testing.T) {
	t.Parallel()
	cal := NewStatic(true, mustDates(t, "2025-04-18", "2025-12-25"))
	ctx := context.Background()

	tests := []struct {
		date    string
		holiday bool
		prev    string
	}{
		{date: "2025-04-10", holiday: false, prev: "2025-04-09"},
		{date: "2025-04-13", holiday: true, prev: "2025-04-11"},  // Sunday
		{date: "2025-04-21", holiday: false, prev: "2025-04-17"}, // Monday after Good Friday
		{date: "2025-04-18", holiday: true, prev: "2025-04-17"},
		{date: "2025-12-26", holiday: false, prev: "2025-12-24"},
	}
	for _, tc := range tests {
		d, err := calendar.Parse(tc.date)
		require.NoError(t, err)
		got, err := cal.IsHoliday(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, tc.holiday, got, tc.date)

		prev, err := cal.PreviousWorkingDay(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, tc.prev, prev.String(), tc.date)
	}
	assert.Equal(t, "2025-04-18", cal.Dates()[0].String())
}

func TestStaticWithoutWeekends(t *testing.T) {
	t.Parallel()
	cal := NewStatic(false, nil)
	sunday := calendar.New(2025, time.April, 13)
	got, err := cal.IsHoliday(context.Background(), sunday)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestParseDatesReportsAllBad(t *testing.T) {
	t.Parallel()
	_, err := ParseDates([]string{"2025-01-01", "2025-02-30", "tomorrow"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"2025-02-30"`)
	assert.Contains(t, err.Error(), `"tomorrow"`)
}

type countingCalendar struct {
	Calendar
	calls int
	err   error
}

func (c *countingCalendar) IsHoliday(ctx context.Context, d calendar.Date) (bool, error) {
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.Calendar.IsHoliday(ctx, d)
}

func TestCachedMemoizes(t *testing.T) {
	t.Parallel()
	inner := &countingCalendar{Calendar: NewStatic(true, nil)}
	c, err := NewCached(inner, 8)
	require.NoError(t, err)
	ctx := context.Background()
	sat := calendar.New(2025, time.April, 12)

	for i := 0; i < 3; i++ {
		got, err := c.IsHoliday(ctx, sat)
		require.NoError(t, err)
		assert.True(t, got)
	}
	assert.Equal(t, 1, inner.calls)

	prev, err := c.PreviousWorkingDay(ctx, sat)
	require.NoError(t, err)
	assert.Equal(t, "2025-04-11", prev.String())

	st := c.Stats()
	assert.Equal(t, uint64(2), st.Hits)
	assert.Equal(t, uint64(2), st.Misses)
	assert.Equal(t, 2, st.Size)

	c.Purge()
	_, _ = c.IsHoliday(ctx, sat)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	t.Parallel()
	inner := &countingCalendar{Calendar: NewStatic(false, nil), err: errors.New("calendar service down")}
	c, err := NewCached(inner, 0)
	require.NoError(t, err)
	d := calendar.New(2025, time.May, 1)

	_, err = c.IsHoliday(context.Background(), d)
	require.Error(t, err)
	inner.err = nil
	got, err := c.IsHoliday(context.Background(), d)
	require.NoError(t, err)
	assert.False(t, got)
	assert.Equal(t, 2, inner.calls)
}
