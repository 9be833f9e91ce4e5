package booking

import (
	"context"
	"sync/atomic"
	"time"

	"bookingsched/internal/calendar"
	"bookingsched/internal/errors"
	"bookingsched/internal/eventbus"
	"bookingsched/internal/storage"
	"bookingsched/internal/task/engine"
	logx "bookingsched/pkg/logx"

	"github.com/google/uuid"
)

// Scheduler is the contract consumed by the transport layer.
type Scheduler interface {
	// ScheduleManual parses raw, applies the holiday policy and schedules
	// the resolved date. Scheduling an already scheduled date is a no-op.
	ScheduleManual(ctx context.Context, raw string) (calendar.Date, error)
	// ScheduleMonth schedules the last business day of year-month.
	ScheduleMonth(ctx context.Context, year int, month time.Month) (calendar.Date, error)
	// Cancel cancels the pending job for raw. found is false when no pending
	// job exists, including when it has already started firing.
	Cancel(ctx context.Context, raw string) (found bool, err error)
	// List returns the pending dates in ascending order.
	List(ctx context.Context) []calendar.Date
	// RunDailyCheck schedules today when it falls in the last week of its
	// month. scheduled reports whether the window matched.
	RunDailyCheck(ctx context.Context, today calendar.Date) (d calendar.Date, scheduled bool, err error)
}

// Deps are the collaborators of Service. Store and Processor are required.
type Deps struct {
	Store     storage.Store
	Holidays  HolidayCalendar
	Processor Processor
	Notifier  Notifier
	// Fire runs fired jobs; Ops runs schedule and cancel requests. Either
	// may be nil, in which case the work runs on the calling goroutine.
	Fire  Executor
	Ops   Executor
	Clock Clock
	Bus   eventbus.Bus
	Log   logx.Logger
}

// Service composes the policy, registry and trigger behind Scheduler.
type Service struct {
	cfg      Config
	store    storage.Store
	holidays HolidayCalendar
	ops      Executor
	clock    Clock
	bus      eventbus.Bus
	log      logx.Logger

	reg     *Registry
	trigger *Trigger

	stopped chan struct{}
}

var _ Scheduler = (*Service)(nil)

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("booking: store is required")
	}
	if deps.Processor == nil {
		return nil, errors.New("booking: processor is required")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	log := deps.Log.With(logx.String("comp", "booking"))
	reg := NewRegistry(deps.Store, log)
	s := &Service{
		cfg:      cfg.normalized(),
		store:    deps.Store,
		holidays: deps.Holidays,
		ops:      deps.Ops,
		clock:    deps.Clock,
		bus:      deps.Bus,
		log:      log,
		reg:      reg,
		stopped:  make(chan struct{}),
	}
	s.trigger = NewTrigger(TriggerDeps{
		Registry:  reg,
		Processor: deps.Processor,
		Notifier:  deps.Notifier,
		Executor:  deps.Fire,
		Clock:     deps.Clock,
		Bus:       deps.Bus,
		Log:       log,
	})
	return s, nil
}

func (s *Service) Registry() *Registry { return s.reg }

func (s *Service) Trigger() *Trigger { return s.trigger }

func (s *Service) Config() Config { return s.cfg }

func (s *Service) ScheduleManual(ctx context.Context, raw string) (calendar.Date, error) {
	d, err := calendar.Parse(raw)
	if err != nil {
		s.audit(ctx, "schedule", raw, err, 0)
		return calendar.Date{}, validationError(err)
	}
	return s.ScheduleDate(ctx, d, d.Year, d.Month)
}

func (s *Service) ScheduleMonth(ctx context.Context, year int, month time.Month) (calendar.Date, error) {
	if month < time.January || month > time.December {
		return calendar.Date{}, validationError(errors.Newf("invalid month %d", int(month)))
	}
	return s.ScheduleDate(ctx, calendar.LastOfMonth(year, month), year, month)
}

// ScheduleDate resolves candidate through the holiday policy and registers
// and arms the result, recording originYear/originMonth on the job.
func (s *Service) ScheduleDate(ctx context.Context, candidate calendar.Date, originYear int, originMonth time.Month) (calendar.Date, error) {
	start := s.clock.Now()
	var resolved calendar.Date
	err := s.onPool(ctx, "booking.schedule", func(ctx context.Context) error {
		d, err := ResolveExecutionDate(ctx, candidate, s.holidays)
		if err != nil {
			if errors.Is(err, ErrValidation) {
				return err
			}
			return schedulingError(err, "resolve execution date")
		}
		resolved = d
		return s.schedule(ctx, s.newJob(d, originYear, originMonth))
	})
	s.audit(ctx, "schedule", candidate.String(), err, s.clock.Now().Sub(start))
	if err != nil {
		s.log.Warn("booking schedule failed", logx.String("candidate", candidate.String()), logx.Err(err))
		return calendar.Date{}, err
	}
	return resolved, nil
}

func (s *Service) schedule(ctx context.Context, job Job) error {
	d := job.ExecutionDate
	accepted, err := s.reg.Register(ctx, job)
	if err != nil {
		return schedulingError(err, "register booking")
	}
	if !accepted {
		s.log.Debug("booking already scheduled", logx.String("date", d.String()))
		return nil
	}
	h := s.trigger.Arm(job)
	if !s.reg.Attach(d, job.ID, h) {
		// Cancelled between Register and Arm.
		s.trigger.Disarm(h)
	}
	s.log.Info("booking scheduled", logx.String("date", d.String()), logx.String("job", job.ID), logx.Time("fire_at", job.FireAt))
	s.publish(EventScheduled, Event{JobID: job.ID, Date: d.String()})
	return nil
}

func (s *Service) Cancel(ctx context.Context, raw string) (bool, error) {
	d, err := calendar.Parse(raw)
	if err != nil {
		s.audit(ctx, "cancel", raw, err, 0)
		return false, validationError(err)
	}
	start := s.clock.Now()
	found := false
	err = s.onPool(ctx, "booking.cancel", func(ctx context.Context) error {
		h, ok := s.reg.Retire(ctx, d, StatusCancelled)
		if !ok {
			return nil
		}
		found = true
		// Retire already won against MarkFiring, so a late Disarm cannot
		// let the job run.
		if h != nil && !s.trigger.Disarm(h) {
			s.log.Debug("booking timer already fired before cancel", logx.String("date", d.String()))
		}
		return nil
	})
	s.audit(ctx, "cancel", d.String(), err, s.clock.Now().Sub(start))
	if err != nil {
		return false, err
	}
	if found {
		s.log.Info("booking cancelled", logx.String("date", d.String()))
		s.publish(EventCancelled, Event{Date: d.String()})
	}
	return found, nil
}

func (s *Service) List(ctx context.Context) []calendar.Date {
	_ = ctx
	return s.reg.Snapshot()
}

func (s *Service) RunDailyCheck(ctx context.Context, today calendar.Date) (calendar.Date, bool, error) {
	if !InLastWeek(today, s.cfg.LastWeekDays) {
		s.log.Debug("daily check: outside last week window", logx.String("today", today.String()))
		return calendar.Date{}, false, nil
	}
	d, err := s.ScheduleManual(ctx, today.String())
	return d, true, err
}

// Shutdown disarms all timers. Pending records stay in the store and are
// recovered on the next start.
func (s *Service) Shutdown() {
	select {
	case <-s.stopped:
		return
	default:
		close(s.stopped)
	}
	n := s.trigger.DisarmAll()
	s.log.Info("booking timers disarmed", logx.Int("count", n), logx.Int("pending", s.reg.Len()))
}

func (s *Service) newJob(d calendar.Date, originYear int, originMonth time.Month) Job {
	return Job{
		ID:            uuid.NewString(),
		ExecutionDate: d,
		FireAt:        s.cfg.FireInstant(d),
		OriginYear:    originYear,
		OriginMonth:   originMonth,
	}
}

// Claim states of a request handed to the ops executor.
const (
	claimQueued int32 = iota
	claimRunning
	claimAbandoned
)

// onPool runs fn on the ops executor and waits for its result. A request the
// caller gives up on while it is still queued is abandoned and never runs;
// once fn has started the caller gets its real outcome. fn sees the caller's
// cancellation as well as the executor's.
func (s *Service) onPool(ctx context.Context, name string, fn func(context.Context) error) error {
	if s.ops == nil {
		return fn(ctx)
	}
	var claim atomic.Int32
	done := make(chan error, 1)
	dropped := make(chan error, 1)
	err := s.ops.Submit(ctx, engine.Task{
		Name: name,
		Run: func(c context.Context) error {
			if !claim.CompareAndSwap(claimQueued, claimRunning) {
				s.log.Debug("abandoned request skipped", logx.String("task", name))
				return nil
			}
			runCtx, cancel := context.WithCancel(c)
			stop := context.AfterFunc(ctx, cancel)
			err := safeCall(func() error { return fn(runCtx) })
			stop()
			cancel()
			done <- err
			return err
		},
		OnDrop: func(reason error) { dropped <- reason },
	})
	if err != nil {
		return schedulingError(err, "submit "+name)
	}
	abandon := func(cause error) error {
		if claim.CompareAndSwap(claimQueued, claimAbandoned) {
			return schedulingError(cause, name)
		}
		// Already running: report what actually happened.
		return <-done
	}
	select {
	case err := <-done:
		return err
	case reason := <-dropped:
		return schedulingError(reason, name+" dropped")
	case <-ctx.Done():
		return abandon(ctx.Err())
	case <-s.stopped:
		return abandon(errors.New("scheduler stopped"))
	}
}

func (s *Service) audit(ctx context.Context, action, target string, err error, took time.Duration) {
	e := storage.AuditEntry{
		At:     s.clock.Now(),
		Actor:  "api",
		Action: action,
		Target: target,
		OK:     err == nil,
		Error:  errString(err),
		TookMS: took.Milliseconds(),
	}
	if aerr := s.store.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
		s.log.Debug("audit append failed", logx.Err(aerr))
	}
}

func (s *Service) publish(typ string, ev Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: ev})
}
