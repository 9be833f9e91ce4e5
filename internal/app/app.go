package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"bookingsched/internal/booking"
	"bookingsched/internal/calendar"
	"bookingsched/internal/config"
	"bookingsched/internal/eventbus"
	"bookingsched/internal/holiday"
	"bookingsched/internal/metrics"
	"bookingsched/internal/notifier"
	"bookingsched/internal/processing"
	rtsup "bookingsched/internal/runtime/supervisor"
	"bookingsched/internal/storage"
	"bookingsched/internal/task/engine"
	"bookingsched/internal/task/scheduler"
	"bookingsched/internal/transport/httpapi"
	logx "bookingsched/pkg/logx"
)

// DailyCheckName is the scheduler entry of the daily last-week check.
const DailyCheckName = "booking.daily-check"

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	jobs *engine.Service
	ops  *engine.Service

	holidays *holiday.Cached
	notif    *notifier.Service
	booking  *booking.Service
	sched    *scheduler.Service
	metrics  *metrics.Metrics
	http     *httpapi.Server

	dailySpec string
	loc       *time.Location
	httpAddr  net.Addr
}

// NewApp loads cfgPath and builds every component. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO")
	cfgm := config.NewConfigManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logs, log := logx.New(mapLoggingConfig(cfg))
	a, err := build(cfg, logs, log)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	a.cfgm = cfgm
	return a, nil
}

// build wires the components for cfg. cfg must already be validated.
func build(cfg *config.Config, logs *logx.Service, log logx.Logger) (*App, error) {
	a := &App{log: log, logs: logs, bus: eventbus.New()}

	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(scfg, log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.store = store

	jobsCfg, opsCfg, err := mapEngineConfigs(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.jobs = engine.New("jobs", jobsCfg, log, a.bus)
	a.ops = engine.New("ops", opsCfg, log, a.bus)

	a.holidays, err = NewHolidayCalendar(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}

	procTimeout, err := config.ParseDurationOrDefault("processor.timeout", cfg.Processor.Timeout, 30*time.Second)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	var proc booking.Processor = processing.Log{Log: log.With(logx.String("comp", "processor"))}
	if u := strings.TrimSpace(cfg.Processor.URL); u != "" {
		proc = processing.NewHTTP(u, procTimeout, &http.Client{}, log)
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	deps := booking.Deps{
		Store:     store,
		Holidays:  a.holidays,
		Processor: proc,
		Fire:      a.jobs,
		Ops:       a.ops,
		Bus:       a.bus,
		Log:       log,
	}
	var sender notifier.Sender
	if ncfg.URL != "" {
		sender = notifier.NewHTTPSender(ncfg.URL, &http.Client{})
	}
	a.notif = notifier.New(ncfg, sender, log, a.bus)
	deps.Notifier = gatedNotifier{a.notif}

	bcfg, err := mapBookingConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.loc = bcfg.Location
	a.booking, err = booking.New(bcfg, deps)
	if err != nil {
		a.closeStore()
		return nil, err
	}

	dc, err := mapSchedulerConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.dailySpec = dc.spec
	a.sched = scheduler.New(dc.scheduler, a.jobs, log)

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := a.booking.Registry()
		a.metrics = metrics.New(reg.Len, []metrics.EngineSource{a.jobs, a.ops}, log)
		metricsHandler = a.metrics.Handler()
	}

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.http = httpapi.New(hcfg, httpapi.Deps{
		Scheduler:  a.booking,
		DailyCheck: func() bool { return a.sched.RunNow(DailyCheckName) },
		Status:     func() any { return a.Status() },
		Metrics:    metricsHandler,
		Log:        log,
	})
	return a, nil
}

func (a *App) closeStore() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

// Booking exposes the booking service, mainly for tests and tooling.
func (a *App) Booking() *booking.Service { return a.booking }

// Addr is the bound HTTP address, nil before Start.
func (a *App) Addr() net.Addr { return a.httpAddr }

// Done is closed when the app context ends, including on a fatal
// goroutine error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error recorded by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	if a.cfgm != nil {
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return Validate(cfg) })
	}

	// Engines first: recovery and HTTP requests submit work to them.
	a.jobs.Start(runCtx)
	a.ops.Start(runCtx)

	if a.metrics != nil {
		a.sup.Go("metrics.events", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	}

	rep, err := a.booking.Recover(runCtx)
	if err != nil {
		a.sup.Cancel()
		return fmt.Errorf("recover bookings: %w", err)
	}
	a.log.Info("bookings recovered",
		logx.Int("loaded", rep.Loaded),
		logx.Int("past_due", rep.PastDue),
		logx.Int("duplicate", rep.Duplicate),
		logx.Int("skipped", rep.Skipped),
	)

	if err := a.registerDailyCheck(a.dailySpec); err != nil {
		a.sup.Cancel()
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	}

	addr, err := a.http.Listen()
	if err != nil {
		a.sup.Cancel()
		return err
	}
	a.httpAddr = addr
	a.sup.Go("http.serve", func(c context.Context) error { return a.http.Serve(c) })

	// Debug-level to avoid noise for frequent events.
	a.sup.Go("eventbus.log", func(c context.Context) error {
		return eventbus.Consume(c, a.bus, 128, func(e eventbus.Event) {
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		})
	})

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			lastApplied := a.cfgm.Get()
			for {
				select {
				case <-c.Done():
					return nil
				case newCfg, ok := <-sub:
					if !ok {
						return nil
					}
					// Keep only the latest of a burst.
					for drained := false; !drained; {
						select {
						case newer := <-sub:
							if newer != nil {
								newCfg = newer
							}
						default:
							drained = true
						}
					}
					a.applyConfig(lastApplied, newCfg)
					lastApplied = newCfg
				}
			}
		})
		a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })
	}

	a.log.Info("app started", logx.String("addr", addr.String()), logx.String("daily_check", a.dailySpec))
	return nil
}

func (a *App) runDailyCheck(ctx context.Context) error {
	today := calendar.Today(a.loc)
	d, scheduled, err := a.booking.RunDailyCheck(ctx, today)
	if err != nil {
		return err
	}
	if scheduled {
		a.log.Info("daily check scheduled booking", logx.String("today", today.String()), logx.String("date", d.String()))
	}
	return nil
}

// registerDailyCheck (re)registers the daily check for spec, replacing any
// previous entry.
func (a *App) registerDailyCheck(spec string) error {
	switch {
	case spec == dailyCheckOff:
		a.sched.Remove(DailyCheckName)
		return nil
	case isClockTime(spec):
		return a.sched.AddDaily(DailyCheckName, spec, 0, a.runDailyCheck)
	default:
		return a.sched.AddCron(DailyCheckName, spec, 0, a.runDailyCheck)
	}
}

// gatedNotifier skips notification while the notifier is switched off, so
// a reload can turn it on and off.
type gatedNotifier struct{ svc *notifier.Service }

func (g gatedNotifier) NotifyProcessed(ctx context.Context, d calendar.Date) error {
	if !g.svc.Enabled() {
		return nil
	}
	return g.svc.NotifyProcessed(ctx, d)
}

// applyConfig applies the hot-reloadable sections and warns about the rest.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLoggingConfig(next))
	for _, sec := range sections {
		switch sec {
		case "scheduler":
			a.applyScheduler(next)
		case "notifier":
			if ncfg, err := mapNotifierConfig(next); err == nil {
				a.notif.Apply(ncfg)
			}
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applyScheduler swaps the daily check trigger and starts or stops cron
// triggering when enabled flips.
func (a *App) applyScheduler(next *config.Config) {
	dc, err := mapSchedulerConfig(next)
	if err != nil {
		a.log.Warn("scheduler reload skipped", logx.Err(err))
		return
	}
	a.sched.Apply(dc.scheduler)
	if dc.spec != a.dailySpec {
		if err := a.registerDailyCheck(dc.spec); err != nil {
			a.log.Warn("daily check reload failed", logx.String("spec", dc.spec), logx.Err(err))
		} else {
			a.log.Info("daily check rescheduled", logx.String("from", a.dailySpec), logx.String("to", dc.spec))
			a.dailySpec = dc.spec
		}
	}
	running := a.sched.Snapshot().Running
	switch {
	case dc.scheduler.Enabled && !running:
		a.sched.Start(a.sup.Context())
	case !dc.scheduler.Enabled && running:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.sched.Stop(ctx)
		cancel()
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Never extend the caller's deadline.
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("http", 3*time.Second, func(c context.Context) error { return a.http.Shutdown(c) })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("booking", time.Second, func(context.Context) error { a.booking.Shutdown(); return nil })
	step("engine.ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("engine.jobs", 3*time.Second, func(c context.Context) error { a.jobs.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
