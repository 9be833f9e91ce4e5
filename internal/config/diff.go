package config

import (
	"reflect"
	"strings"

	logx "bookingsched/pkg/logx"
)

// SummarizeConfigChange returns the changed section names, safe log fields
// for them (secrets are reduced to *_set flags), and the subset of changed
// sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		// Booking fire instants are computed with these at startup.
		o, n := oldCfg.Scheduler, newCfg.Scheduler
		if o.Timezone != n.Timezone || o.FireTime != n.FireTime || o.LastWeekDays != n.LastWeekDays {
			restart = append(restart, "scheduler")
		}
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.fire_time", strings.TrimSpace(newCfg.Scheduler.FireTime)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Holidays, newCfg.Holidays) {
		changed = append(changed, "holidays")
		restart = append(restart, "holidays")
		attrs = append(attrs, logx.Int("holidays.dates", len(newCfg.Holidays.Dates)))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.password_set", newCfg.Storage.Password != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if oldCfg.Notifier.URL != newCfg.Notifier.URL {
			restart = append(restart, "notifier")
		}
		attrs = append(attrs, logx.Bool("notifier.enabled", newCfg.Notifier.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Processor, newCfg.Processor) {
		changed = append(changed, "processor")
		restart = append(restart, "processor")
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		restart = append(restart, "http")
		attrs = append(attrs,
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
		restart = append(restart, "task_engine")
	}
	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		changed = append(changed, "metrics")
		restart = append(restart, "metrics")
	}
	return changed, attrs, restart
}
