package app

import (
	"fmt"
	"strings"
	"time"

	"bookingsched/internal/booking"
	"bookingsched/internal/config"
	"bookingsched/internal/holiday"
	"bookingsched/internal/notifier"
	"bookingsched/internal/storage"
	"bookingsched/internal/task/engine"
	"bookingsched/internal/task/scheduler"
	"bookingsched/internal/transport/httpapi"
	logx "bookingsched/pkg/logx"
)

const (
	defaultFireTime   = "18:00"
	defaultDailyCheck = "0 18 * * *"
	dailyCheckOff     = "off"
	defaultStorePath  = "./data/bookings"
)

// Validate maps every section, so anything the app would refuse at startup
// is also refused on hot reload.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		return fmt.Errorf("logging.level: unknown level %q", lvl)
	}
	if _, err := mapBookingConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := holiday.ParseDates(cfg.Holidays.Dates); err != nil {
		return fmt.Errorf("holidays.dates: %w", err)
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("processor.timeout", cfg.Processor.Timeout); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapEngineConfigs(cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig reads and validates the config at path without starting anything.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path, logx.Nop()).Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewHolidayCalendar builds the cached static calendar described by cfg.
func NewHolidayCalendar(cfg *config.Config) (*holiday.Cached, error) {
	dates, err := holiday.ParseDates(cfg.Holidays.Dates)
	if err != nil {
		return nil, fmt.Errorf("holidays.dates: %w", err)
	}
	return holiday.NewCached(holiday.NewStatic(cfg.Holidays.Weekends, dates), cfg.Holidays.CacheSize)
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapBookingConfig(cfg *config.Config) (booking.Config, error) {
	sc := cfg.Scheduler
	loc, err := loadLocation(sc.Timezone)
	if err != nil {
		return booking.Config{}, err
	}
	fire := strings.TrimSpace(sc.FireTime)
	if fire == "" {
		fire = defaultFireTime
	}
	h, m, err := scheduler.ParseHHMM(fire)
	if err != nil {
		return booking.Config{}, fmt.Errorf("scheduler.fire_time: %w", err)
	}
	if sc.LastWeekDays < 0 || sc.LastWeekDays > 28 {
		return booking.Config{}, fmt.Errorf("scheduler.last_week_days must be within 0..28")
	}
	return booking.Config{Location: loc, FireHour: h, FireMinute: m, LastWeekDays: sc.LastWeekDays}, nil
}

// dailyCheck is the trigger and timezone of the daily last-week check.
// spec is a cron spec, an HH:MM clock time, or "off".
type dailyCheck struct {
	scheduler scheduler.Config
	spec      string
}

func mapSchedulerConfig(cfg *config.Config) (dailyCheck, error) {
	if _, err := loadLocation(cfg.Scheduler.Timezone); err != nil {
		return dailyCheck{}, err
	}
	spec := strings.TrimSpace(cfg.Scheduler.DailyCheck)
	switch {
	case spec == "":
		spec = defaultDailyCheck
	case strings.EqualFold(spec, dailyCheckOff):
		spec = dailyCheckOff
	case isClockTime(spec):
		if _, _, err := scheduler.ParseHHMM(spec); err != nil {
			return dailyCheck{}, fmt.Errorf("scheduler.daily_check: %w", err)
		}
	default:
		if err := scheduler.ValidateSpec(spec); err != nil {
			return dailyCheck{}, fmt.Errorf("scheduler.daily_check: %w", err)
		}
	}
	return dailyCheck{
		scheduler: scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)},
		spec:      spec,
	}, nil
}

// isClockTime reports whether spec is written as HH:MM rather than cron.
func isClockTime(spec string) bool {
	return strings.Contains(spec, ":") && !strings.ContainsAny(spec, " \t@")
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		if path == "" {
			path = defaultStorePath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "redis":
		if strings.TrimSpace(sc.Addr) == "" {
			return storage.Config{}, fmt.Errorf("storage.addr is required when storage.driver=redis")
		}
		return storage.Config{Driver: "redis", Addr: strings.TrimSpace(sc.Addr), Password: sc.Password, DB: sc.DB, KeyPrefix: sc.KeyPrefix}, nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if nc.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	retryBase, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMax, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	timeout, err := config.ParseDurationField("notifier.timeout", nc.Timeout)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationField("notifier.dedup_window", nc.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       nc.Enabled,
		URL:           strings.TrimSpace(nc.URL),
		Recipient:     strings.TrimSpace(nc.Recipient),
		From:          strings.TrimSpace(nc.From),
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMax,
		Timeout:       timeout,
		DedupWindow:   dedup,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	// pprof profiles run for 30s by default.
	if hc.Pprof && write < 40*time.Second {
		write = 40 * time.Second
	}
	return httpapi.Config{
		Addr:         strings.TrimSpace(hc.Addr),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		Token:        strings.TrimSpace(hc.Token),
		Pprof:        hc.Pprof,
		MetricsPath:  strings.TrimSpace(cfg.Metrics.Path),
	}, nil
}

// mapEngineConfigs returns the "jobs" and "ops" engine configs.
func mapEngineConfigs(cfg *config.Config) (jobs, ops engine.Config, err error) {
	tc := cfg.TaskEngine
	if tc.Workers < 0 || tc.OpsWorkers < 0 {
		return jobs, ops, fmt.Errorf("task_engine workers must be >= 0")
	}
	if tc.QueueSize < 0 {
		return jobs, ops, fmt.Errorf("task_engine.queue_size must be >= 0")
	}
	if tc.HistorySize < 0 {
		return jobs, ops, fmt.Errorf("task_engine.history_size must be >= 0")
	}
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", tc.DefaultTimeout)
	if err != nil {
		return jobs, ops, err
	}
	maxDelay, err := config.ParseDurationField("task_engine.max_queue_delay", tc.MaxQueueDelay)
	if err != nil {
		return jobs, ops, err
	}
	jobs = engine.Config{
		Enabled:        true,
		Workers:        tc.Workers,
		QueueSize:      tc.QueueSize,
		DefaultTimeout: defTimeout,
		HistorySize:    tc.HistorySize,
	}
	// Stale dropping applies to requests only: a late fire must still run.
	ops = engine.Config{
		Enabled:        true,
		Workers:        tc.OpsWorkers,
		QueueSize:      tc.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxDelay,
		HistorySize:    tc.HistorySize,
	}
	return jobs, ops, nil
}
