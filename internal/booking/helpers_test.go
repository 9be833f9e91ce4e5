package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookingsched/internal/calendar"
	"bookingsched/internal/storage"
	"bookingsched/internal/task/engine"

	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{Location: time.UTC, FireHour: 18, LastWeekDays: 7}
}

func day(t *testing.T, raw string) calendar.Date {
	t.Helper()
	d, err := calendar.Parse(raw)
	require.NoError(t, err)
	return d
}

// fakeClock fires timers only from Advance, on the calling goroutine.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	done    bool
	stopped bool
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.stopped = true
	return true
}

// Advance moves the clock and runs every timer that became due, in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.done && !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// recorder counts processed dates.
type recorder struct {
	mu    sync.Mutex
	dates []calendar.Date
	err   error
}

func (r *recorder) Process(_ context.Context, d calendar.Date) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dates = append(r.dates, d)
	return r.err
}

func (r *recorder) NotifyProcessed(_ context.Context, d calendar.Date) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dates = append(r.dates, d)
	return r.err
}

func (r *recorder) got() []calendar.Date {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]calendar.Date(nil), r.dates...)
}

// flakyStore fails writes while failSave/failDelete are set.
type flakyStore struct {
	*storage.Memory
	failSave   atomic.Bool
	failDelete atomic.Bool
}

var errDiskFull = errors.New("disk full")

func newFlakyStore() *flakyStore { return &flakyStore{Memory: storage.NewMemory()} }

func (s *flakyStore) SaveBooking(ctx context.Context, b storage.Booking) error {
	if s.failSave.Load() {
		return errDiskFull
	}
	return s.Memory.SaveBooking(ctx, b)
}

func (s *flakyStore) DeleteBooking(ctx context.Context, date string) error {
	if s.failDelete.Load() {
		return errDiskFull
	}
	return s.Memory.DeleteBooking(ctx, date)
}

// holidays is a fixed holiday set. PreviousWorkingDay follows prev when
// present and steps back one day otherwise.
type holidays struct {
	days map[calendar.Date]bool
	prev map[calendar.Date]calendar.Date
	err  error
}

func (h holidays) IsHoliday(_ context.Context, d calendar.Date) (bool, error) {
	if h.err != nil {
		return false, h.err
	}
	return h.days[d], nil
}

func (h holidays) PreviousWorkingDay(_ context.Context, d calendar.Date) (calendar.Date, error) {
	if p, ok := h.prev[d]; ok {
		return p, nil
	}
	return d.AddDays(-1), nil
}

// goExecutor runs each task on its own goroutine.
type goExecutor struct{ wg sync.WaitGroup }

func (e *goExecutor) Submit(_ context.Context, t engine.Task) error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = t.Run(context.Background())
	}()
	return nil
}

type rejectExecutor struct{}

func (rejectExecutor) Submit(context.Context, engine.Task) error { return engine.ErrStopped }

type fixture struct {
	svc   *Service
	clock *fakeClock
	store *flakyStore
	proc  *recorder
	note  *recorder
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		clock: newFakeClock(testStart),
		store: newFlakyStore(),
		proc:  &recorder{},
		note:  &recorder{},
	}
	deps := Deps{
		Store:     f.store,
		Processor: f.proc,
		Notifier:  f.note,
		Clock:     f.clock,
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc, err := New(testConfig(), deps)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) listed() []string {
	var out []string
	for _, d := range f.svc.List(context.Background()) {
		out = append(out, d.String())
	}
	return out
}

func (f *fixture) stored(t *testing.T) []string {
	t.Helper()
	recs, err := f.store.ListBookings(context.Background())
	require.NoError(t, err)
	var out []string
	for _, r := range recs {
		out = append(out, r.BookingDate)
	}
	return out
}
