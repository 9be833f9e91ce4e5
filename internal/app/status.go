package app

import (
	"bookingsched/internal/holiday"
	"bookingsched/internal/notifier"
	rtsup "bookingsched/internal/runtime/supervisor"
	"bookingsched/internal/task/engine"
	"bookingsched/internal/task/scheduler"
)

// StatusView is served on /api/status.
type StatusView struct {
	Pending    []string               `json:"pending"`
	Scheduler  scheduler.Snapshot     `json:"scheduler"`
	Engines    []engine.Snapshot      `json:"engines"`
	Holidays   holiday.CacheStats     `json:"holiday_cache"`
	Notifier   []notifier.HistoryItem `json:"notifier,omitempty"`
	Supervisor rtsup.Snapshot         `json:"supervisor"`
	BusDropped uint64                 `json:"bus_dropped"`
}

func (a *App) Status() StatusView {
	v := StatusView{
		Pending:    []string{},
		Scheduler:  a.sched.Snapshot(),
		Engines:    []engine.Snapshot{a.jobs.Snapshot(), a.ops.Snapshot()},
		Holidays:   a.holidays.Stats(),
		Supervisor: a.sup.Snapshot(),
		BusDropped: a.bus.Dropped(),
	}
	for _, d := range a.booking.Registry().Snapshot() {
		v.Pending = append(v.Pending, d.String())
	}
	if a.notif != nil {
		v.Notifier = a.notif.History()
	}
	return v
}
