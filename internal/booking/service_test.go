package booking

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookingsched/internal/calendar"
	"bookingsched/internal/eventbus"
	"bookingsched/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenDays = 10 * 24 * time.Hour

func TestScheduleFireRetire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	d, err := f.svc.ScheduleManual(ctx, "2025-04-10")
	require.NoError(t, err)
	assert.Equal(t, "2025-04-10", d.String())
	assert.Equal(t, []string{"2025-04-10"}, f.listed())
	assert.Equal(t, []string{"2025-04-10"}, f.stored(t))

	// One minute before 18:00 nothing happens.
	f.clock.Advance(9*24*time.Hour + 8*time.Hour + 59*time.Minute)
	assert.Empty(t, f.proc.got())

	f.clock.Advance(time.Minute)
	assert.Equal(t, []calendar.Date{d}, f.proc.got())
	assert.Equal(t, []calendar.Date{d}, f.note.got())
	assert.Empty(t, f.listed())
	assert.Empty(t, f.stored(t))

	// Firing again is impossible: the timer is spent.
	f.clock.Advance(tenDays)
	assert.Len(t, f.proc.got(), 1)
}

func TestScheduleTwiceYieldsOneEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	for i := 0; i < 3; i++ {
		_, err := f.svc.ScheduleManual(ctx, "2025-04-10")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"2025-04-10"}, f.listed())
	assert.Equal(t, 1, f.clock.pending())

	f.clock.Advance(tenDays)
	assert.Len(t, f.proc.got(), 1)
}

func TestScheduleAppliesHolidayPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cal := holidays{
		days: map[calendar.Date]bool{calendar.New(2025, time.April, 13): true},
		prev: map[calendar.Date]calendar.Date{calendar.New(2025, time.April, 13): calendar.New(2025, time.April, 11)},
	}
	f := newFixture(t, func(d *Deps) { d.Holidays = cal })

	d, err := f.svc.ScheduleManual(ctx, "2025-04-13")
	require.NoError(t, err)
	assert.Equal(t, "2025-04-11", d.String())
	assert.Equal(t, []string{"2025-04-11"}, f.listed())

	f.clock.Advance(tenDays + 10*24*time.Hour)
	require.Len(t, f.proc.got(), 1)
	assert.Equal(t, "2025-04-11", f.proc.got()[0].String())

	recs, err := f.store.ListBookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCancelBeforeFire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.ScheduleManual(ctx, "2025-04-10")
	require.NoError(t, err)

	found, err := f.svc.Cancel(ctx, "2025-04-10")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, f.listed())
	assert.Empty(t, f.stored(t))
	assert.Zero(t, f.clock.pending())
	assert.Zero(t, f.svc.Trigger().Armed())

	f.clock.Advance(tenDays)
	assert.Empty(t, f.proc.got())

	// Second cancel is a clean not-found.
	found, err = f.svc.Cancel(ctx, "2025-04-10")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCancelAfterFireStarted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	proc := ProcessorFunc(func(context.Context, calendar.Date) error {
		calls.Add(1)
		close(started)
		<-release
		return nil
	})
	f := newFixture(t, func(d *Deps) { d.Processor = proc })

	_, err := f.svc.ScheduleManual(ctx, "2025-04-10")
	require.NoError(t, err)

	fired := make(chan struct{})
	go func() {
		f.clock.Advance(tenDays)
		close(fired)
	}()
	<-started

	found, err := f.svc.Cancel(ctx, "2025-04-10")
	require.NoError(t, err)
	assert.False(t, found)

	close(release)
	<-fired
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, f.listed())
	assert.Empty(t, f.stored(t))
}

func TestCancelRacesFire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		exec := &goExecutor{}
		f := newFixture(t, func(d *Deps) { d.Fire = exec })
		_, err := f.svc.ScheduleManual(ctx, "2025-04-10")
		require.NoError(t, err)

		var wg sync.WaitGroup
		var found bool
		wg.Add(2)
		go func() { defer wg.Done(); f.clock.Advance(tenDays) }()
		go func() {
			defer wg.Done()
			var cerr error
			found, cerr = f.svc.Cancel(ctx, "2025-04-10")
			assert.NoError(t, cerr)
		}()
		wg.Wait()
		exec.wg.Wait()

		processed := len(f.proc.got()) == 1
		assert.NotEqual(t, found, processed, "exactly one of cancel and fire must win")
		assert.Empty(t, f.listed())
	}
}

func TestCancelNothingScheduled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	found, err := f.svc.Cancel(context.Background(), "2025-04-10")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMalformedInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.svc.ScheduleManual(ctx, "2025-04-20")
	require.NoError(t, err)

	_, err = f.svc.ScheduleManual(ctx, "invalid-date")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrScheduling)
	assert.Equal(t, []string{"2025-04-20"}, f.listed())

	_, err = f.svc.Cancel(ctx, "2025-13-01")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, []string{"2025-04-20"}, f.listed())

	audit := f.store.Audit()
	require.Len(t, audit, 3)
	assert.True(t, audit[0].OK)
	assert.False(t, audit[1].OK)
	assert.Equal(t, "invalid-date", audit[1].Target)
}

func TestSchedulePersistenceFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	f.store.failSave.Store(true)

	_, err := f.svc.ScheduleManual(ctx, "2025-04-10")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScheduling)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, f.listed())
	assert.Zero(t, f.clock.pending())

	// Retrying the same request is safe.
	f.store.failSave.Store(false)
	_, err = f.svc.ScheduleManual(ctx, "2025-04-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-04-10"}, f.listed())
	assert.Equal(t, 1, f.clock.pending())
}

func TestSchedulePolicyFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(d *Deps) { d.Holidays = holidays{err: assert.AnError} })
	_, err := f.svc.ScheduleManual(context.Background(), "2025-04-10")
	assert.ErrorIs(t, err, ErrScheduling)
	assert.ErrorIs(t, err, ErrPolicy)
	assert.Empty(t, f.listed())
}

func TestProcessingFailureStillRetires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	f := newFixture(t, func(d *Deps) { d.Bus = bus })
	f.proc.err = assert.AnError

	_, err := f.svc.ScheduleManual(ctx, "2025-04-10")
	require.NoError(t, err)
	f.clock.Advance(tenDays)

	assert.Len(t, f.proc.got(), 1)
	assert.Empty(t, f.note.got(), "no success notification for a failed run")
	assert.Empty(t, f.listed())
	assert.Empty(t, f.stored(t))

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{EventScheduled, EventFired, EventFailed, EventCompleted}, types)
}

func TestProcessingPanicIsContained(t *testing.T) {
	t.Parallel()
	proc := ProcessorFunc(func(context.Context, calendar.Date) error { panic("boom") })
	f := newFixture(t, func(d *Deps) { d.Processor = proc })

	_, err := f.svc.ScheduleManual(context.Background(), "2025-04-10")
	require.NoError(t, err)
	assert.NotPanics(t, func() { f.clock.Advance(tenDays) })
	assert.Empty(t, f.listed())
}

func TestNotificationFailureDoesNotBlockRetire(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.note.err = assert.AnError

	_, err := f.svc.ScheduleManual(context.Background(), "2025-04-10")
	require.NoError(t, err)
	f.clock.Advance(tenDays)

	assert.Len(t, f.proc.got(), 1)
	assert.Len(t, f.note.got(), 1)
	assert.Empty(t, f.listed())
	assert.Empty(t, f.stored(t))
}

func TestFireRejectedByExecutorKeepsJobPersisted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(d *Deps) { d.Fire = rejectExecutor{} })

	_, err := f.svc.ScheduleManual(context.Background(), "2025-04-10")
	require.NoError(t, err)
	f.clock.Advance(tenDays)

	assert.Empty(t, f.proc.got())
	assert.Equal(t, []string{"2025-04-10"}, f.stored(t))
}

func TestRecoverIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	first := newFixture(t, nil)
	_, err := first.svc.ScheduleManual(ctx, "2025-04-10")
	require.NoError(t, err)
	first.svc.Shutdown()

	// Restart against the same store.
	second := newFixture(t, func(d *Deps) { d.Store = first.store })
	second.store = first.store

	rep, err := second.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Loaded)

	rep, err = second.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Loaded)
	assert.Equal(t, 1, rep.Duplicate)

	// A schedule request for the recovered date sees the same single job.
	_, err = second.svc.ScheduleManual(ctx, "2025-04-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-04-10"}, second.listed())
	assert.Equal(t, 1, second.clock.pending())

	second.clock.Advance(tenDays)
	assert.Len(t, second.proc.got(), 1)
	assert.Empty(t, first.proc.got())
	assert.Empty(t, second.stored(t))
}

func TestRecoverFiresPastDueAndSkipsMalformed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	for _, b := range []storage.Booking{
		{Year: 2025, Month: 3, BookingDate: "2025-03-31"},
		{Year: 2025, Month: 4, BookingDate: "not-a-date"},
		{Year: 2025, Month: 4, BookingDate: "2025-04-30"},
	} {
		require.NoError(t, f.store.Memory.SaveBooking(ctx, b))
	}

	rep, err := f.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Loaded: 2, PastDue: 1, Skipped: 1}, rep)

	f.clock.Advance(0)
	assert.Equal(t, []string{"2025-03-31"}, datesOf(f.proc.got()))
	assert.Equal(t, []string{"2025-04-30"}, f.listed())

	job, _, ok := f.svc.Registry().Lookup(day(t, "2025-04-30"))
	require.True(t, ok)
	assert.Equal(t, 2025, job.OriginYear)
	assert.Equal(t, time.April, job.OriginMonth)
}

func TestRecoverStoreFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	require.NoError(t, f.store.Close())
	_, err := f.svc.Recover(context.Background())
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestScheduleMonth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, func(d *Deps) { d.Holidays = weekends() })

	d, err := f.svc.ScheduleMonth(ctx, 2025, time.May)
	require.NoError(t, err)
	assert.Equal(t, "2025-05-30", d.String())

	recs, err := f.store.ListBookings(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, storage.Booking{Year: 2025, Month: 5, BookingDate: "2025-05-30"}, recs[0])

	_, err = f.svc.ScheduleMonth(ctx, 2025, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRunDailyCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, func(d *Deps) { d.Holidays = weekends() })

	_, ok, err := f.svc.RunDailyCheck(ctx, calendar.New(2025, time.April, 23))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.listed())

	// Saturday in the window resolves to Friday.
	d, ok, err := f.svc.RunDailyCheck(ctx, calendar.New(2025, time.April, 26))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2025-04-25", d.String())

	_, ok, err = f.svc.RunDailyCheck(ctx, calendar.New(2025, time.April, 25))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"2025-04-25"}, f.listed())
}

func TestOpsExecutorRunsRequests(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	exec := &goExecutor{}
	f := newFixture(t, func(d *Deps) { d.Ops = exec })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ScheduleManual(ctx, "2025-04-10")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"2025-04-10"}, f.listed())

	found, err := f.svc.Cancel(ctx, "2025-04-10")
	require.NoError(t, err)
	assert.True(t, found)
	exec.wg.Wait()
}

func TestOpsExecutorRejects(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(d *Deps) { d.Ops = rejectExecutor{} })
	_, err := f.svc.ScheduleManual(context.Background(), "2025-04-10")
	assert.ErrorIs(t, err, ErrScheduling)
	assert.Empty(t, f.listed())
}

func TestShutdownDisarmsButKeepsRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	for _, raw := range []string{"2025-04-10", "2025-04-11"} {
		_, err := f.svc.ScheduleManual(ctx, raw)
		require.NoError(t, err)
	}
	f.svc.Shutdown()
	f.svc.Shutdown()

	assert.Zero(t, f.clock.pending())
	f.clock.Advance(tenDays)
	assert.Empty(t, f.proc.got())
	assert.Equal(t, []string{"2025-04-10", "2025-04-11"}, f.stored(t))
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := New(testConfig(), Deps{Processor: &recorder{}})
	assert.Error(t, err)
	_, err = New(testConfig(), Deps{Store: storage.NewMemory()})
	assert.Error(t, err)
}

func TestFireInstant(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("WIB", 7*3600)
	cfg := Config{Location: loc, FireHour: 18, FireMinute: 30}
	got := cfg.FireInstant(calendar.New(2025, time.April, 10))
	assert.Equal(t, time.Date(2025, time.April, 10, 18, 30, 0, 0, loc), got)
	assert.Equal(t, 18, DefaultConfig().FireHour)
}

func datesOf(ds []calendar.Date) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.String())
	}
	return out
}
