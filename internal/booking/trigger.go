package booking

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"bookingsched/internal/calendar"
	"bookingsched/internal/eventbus"
	"bookingsched/internal/task/engine"
	logx "bookingsched/pkg/logx"
)

// Processor runs the transaction processing for a business day.
type Processor interface {
	Process(ctx context.Context, d calendar.Date) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, d calendar.Date) error

func (f ProcessorFunc) Process(ctx context.Context, d calendar.Date) error { return f(ctx, d) }

// Notifier is told about each successfully processed day. Delivery is best
// effort.
type Notifier interface {
	NotifyProcessed(ctx context.Context, d calendar.Date) error
}

// Executor runs fired jobs. *engine.Service satisfies it.
type Executor interface {
	Submit(ctx context.Context, t engine.Task) error
}

// Clock is the time source for arming timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a one-shot timer started by a Clock.
type Timer interface {
	// Stop reports whether the timer was stopped before it fired.
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock { return systemClock{} }

// Handle identifies one armed timer.
type Handle struct {
	JobID string
	Date  calendar.Date
	timer Timer
}

// Trigger arms one timer per job. When a timer fires the job is handed to the
// executor; the job only runs if Registry.MarkFiring succeeds at that point,
// so a cancel that wins the race leaves no side effects.
type Trigger struct {
	reg     *Registry
	clock   Clock
	exec    Executor
	process Processor
	notify  Notifier
	bus     eventbus.Bus
	log     logx.Logger

	mu    sync.Mutex
	armed map[string]*Handle
}

// TriggerDeps groups the collaborators of a Trigger. Only Registry and
// Processor are required.
type TriggerDeps struct {
	Registry  *Registry
	Processor Processor
	Notifier  Notifier
	// Executor runs fires; nil runs them on the timer goroutine.
	Executor Executor
	Clock    Clock
	Bus      eventbus.Bus
	Log      logx.Logger
}

func NewTrigger(deps TriggerDeps) *Trigger {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &Trigger{
		reg:     deps.Registry,
		clock:   deps.Clock,
		exec:    deps.Executor,
		process: deps.Processor,
		notify:  deps.Notifier,
		bus:     deps.Bus,
		log:     deps.Log,
		armed:   map[string]*Handle{},
	}
}

// Arm starts the timer for job. A FireAt in the past fires immediately.
func (t *Trigger) Arm(job Job) *Handle {
	delay := job.FireAt.Sub(t.clock.Now())
	if delay < 0 {
		delay = 0
	}
	h := &Handle{JobID: job.ID, Date: job.ExecutionDate}

	// Held across AfterFunc so an immediate fire sees h in the armed set.
	t.mu.Lock()
	h.timer = t.clock.AfterFunc(delay, func() { t.fire(job) })
	t.armed[job.ID] = h
	t.mu.Unlock()

	t.log.Debug("booking armed", logx.String("date", job.ExecutionDate.String()), logx.String("job", job.ID), logx.Duration("in", delay))
	return h
}

// Disarm stops h's timer. It returns false when the timer already fired (or
// h was already disarmed); the registry decides whether the job still runs.
func (t *Trigger) Disarm(h *Handle) bool {
	if h == nil {
		return false
	}
	t.mu.Lock()
	_, ok := t.armed[h.JobID]
	delete(t.armed, h.JobID)
	t.mu.Unlock()
	if !ok || h.timer == nil {
		return false
	}
	return h.timer.Stop()
}

// DisarmAll stops every pending timer and returns how many were stopped.
// Registry state and persisted records are left alone.
func (t *Trigger) DisarmAll() int {
	t.mu.Lock()
	hs := make([]*Handle, 0, len(t.armed))
	for _, h := range t.armed {
		hs = append(hs, h)
	}
	t.armed = map[string]*Handle{}
	t.mu.Unlock()

	n := 0
	for _, h := range hs {
		if h.timer != nil && h.timer.Stop() {
			n++
		}
	}
	return n
}

// Armed returns the number of timers that have not fired or been disarmed.
func (t *Trigger) Armed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.armed)
}

func (t *Trigger) fire(job Job) {
	t.mu.Lock()
	delete(t.armed, job.ID)
	t.mu.Unlock()

	run := func(ctx context.Context) error {
		t.execute(ctx, job)
		return nil
	}
	if t.exec == nil {
		_ = run(context.Background())
		return
	}
	err := t.exec.Submit(context.Background(), engine.Task{
		ID:   job.ID,
		Name: "booking.fire",
		Run:  run,
	})
	if err != nil {
		// Still Pending and persisted: the next start recovers it.
		t.log.Warn("booking fire not accepted by executor", logx.String("date", job.ExecutionDate.String()), logx.String("job", job.ID), logx.Err(err))
		t.publish(EventFailed, Event{JobID: job.ID, Date: job.ExecutionDate.String(), Stage: "submit", Error: errString(err)})
	}
}

func (t *Trigger) execute(ctx context.Context, job Job) {
	d := job.ExecutionDate
	log := t.log.With(logx.String("date", d.String()), logx.String("job", job.ID))
	if !t.reg.MarkFiring(d, job.ID) {
		log.Debug("booking fire skipped; job no longer pending")
		return
	}
	start := t.clock.Now()
	t.publish(EventFired, Event{JobID: job.ID, Date: d.String()})
	log.Info("booking firing")

	err := safeCall(func() error { return t.process.Process(ctx, d) })
	if err != nil {
		log.Error("booking processing failed", logx.Err(err))
		t.publish(EventFailed, Event{JobID: job.ID, Date: d.String(), Stage: "process", Error: errString(err)})
	} else if t.notify != nil {
		if nerr := safeCall(func() error { return t.notify.NotifyProcessed(ctx, d) }); nerr != nil {
			log.Warn("booking notification failed", logx.Err(nerr))
			t.publish(EventFailed, Event{JobID: job.ID, Date: d.String(), Stage: "notify", Error: errString(nerr)})
		}
	}

	if _, ok := t.reg.retire(context.WithoutCancel(ctx), d, job.ID, StatusCompleted); !ok {
		log.Warn("booking retire after fire found no firing job")
	}
	took := t.clock.Now().Sub(start)
	t.publish(EventCompleted, Event{JobID: job.ID, Date: d.String(), Took: took})
	log.Info("booking completed", logx.Duration("took", took))
}

func (t *Trigger) publish(typ string, ev Event) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(eventbus.Event{Type: typ, Time: t.clock.Now(), Data: ev})
}

// safeCall turns a panic in fn into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
