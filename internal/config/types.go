package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1m"); empty means the component default.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Holidays   HolidaysConfig   `json:"holidays"`
	Storage    StorageConfig    `json:"storage"`
	Notifier   NotifierConfig   `json:"notifier"`
	Processor  ProcessorConfig  `json:"processor"`
	HTTP       HTTPConfig       `json:"http"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls when bookings fire and the daily last-week check.
//
// Defaults:
//   - timezone: Local
//   - fire_time: "18:00"
//   - daily_check: "0 18 * * *"
//   - last_week_days: 7
type SchedulerConfig struct {
	// Enabled turns on the daily check. Manual scheduling works regardless.
	// Enabled and DailyCheck reload without a restart.
	Enabled      bool   `json:"enabled"`
	Timezone     string `json:"timezone,omitempty"`
	FireTime     string `json:"fire_time,omitempty"`
	// DailyCheck is a cron spec or an HH:MM clock time. "off" unregisters
	// the check, including the manual trigger.
	DailyCheck   string `json:"daily_check,omitempty"`
	LastWeekDays int    `json:"last_week_days,omitempty"`
}

// HolidaysConfig lists non-business days. Weekends adds every Saturday and
// Sunday.
type HolidaysConfig struct {
	Weekends  bool     `json:"weekends"`
	Dates     []string `json:"dates,omitempty"`
	CacheSize int      `json:"cache_size,omitempty"`
}

// StorageConfig selects the pending-booking store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/bookings.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	Addr      string `json:"addr,omitempty"`     // redis
	Password  string `json:"password,omitempty"` // redis; never logged
	DB        int    `json:"db,omitempty"`       // redis
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// NotifierConfig controls the processed-booking email. Without a URL the
// message is only logged.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url,omitempty"`
	Recipient     string `json:"recipient,omitempty"`
	From          string `json:"from,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
}

// ProcessorConfig points at the transaction-processing endpoint. Without a
// URL processing is only logged.
type ProcessorConfig struct {
	URL     string `json:"url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type HTTPConfig struct {
	Addr         string `json:"addr"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
	// Token guards operator endpoints; never logged.
	Token string `json:"token,omitempty"`
	Pprof bool   `json:"pprof,omitempty"`
}

// TaskEngineConfig sizes the two worker pools: "jobs" runs fires and the
// daily check, "ops" runs schedule and cancel requests.
//
// Defaults: workers 2, ops_workers 2, queue_size 256, history_size 200.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	OpsWorkers     int    `json:"ops_workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}
