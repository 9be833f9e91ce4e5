package booking

import (
	"strings"
	"time"

	"bookingsched/internal/calendar"
	"bookingsched/internal/storage"
)

// Status is the in-memory lifecycle state of a job. Only Pending jobs are
// ever persisted.
type Status int

const (
	StatusPending Status = iota
	StatusFiring
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFiring:
		return "firing"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Job is one deferred "process transactions for ExecutionDate" execution.
// FireAt is derived from ExecutionDate when the job is built and never
// changes afterwards.
type Job struct {
	ID            string
	ExecutionDate calendar.Date
	FireAt        time.Time

	// Month the job was derived from. Zero when unknown.
	OriginYear  int
	OriginMonth time.Month
}

func (j Job) record() storage.Booking {
	y, m := j.OriginYear, j.OriginMonth
	if y == 0 || m == 0 {
		y, m = j.ExecutionDate.Year, j.ExecutionDate.Month
	}
	return storage.Booking{Year: y, Month: int(m), BookingDate: j.ExecutionDate.String()}
}

// Config holds the scheduling knobs that do not depend on collaborators.
type Config struct {
	// Location is the zone FireAt is computed in. Local when nil.
	Location *time.Location
	// FireHour/FireMinute is the local time of day jobs fire at (18:00 by default).
	FireHour   int
	FireMinute int
	// LastWeekDays is the size of the end-of-month window used by
	// RunDailyCheck. 7 when zero.
	LastWeekDays int
}

// DefaultConfig fires at 18:00 local time with a 7 day window.
func DefaultConfig() Config {
	return Config{Location: time.Local, FireHour: 18, LastWeekDays: 7}
}

func (c Config) normalized() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.FireHour < 0 || c.FireHour > 23 {
		c.FireHour = 18
	}
	if c.FireMinute < 0 || c.FireMinute > 59 {
		c.FireMinute = 0
	}
	if c.LastWeekDays <= 0 {
		c.LastWeekDays = 7
	}
	return c
}

// FireInstant returns the wall-clock instant a job for d fires at.
func (c Config) FireInstant(d calendar.Date) time.Time {
	c = c.normalized()
	return d.At(c.FireHour, c.FireMinute, c.Location)
}

// Event types published on the bus.
const (
	EventScheduled = "booking.scheduled"
	EventCancelled = "booking.cancelled"
	EventRecovered = "booking.recovered"
	EventFired     = "booking.fired"
	EventCompleted = "booking.completed"
	EventFailed    = "booking.failed"
)

// Event is the payload of booking bus events.
type Event struct {
	JobID string `json:"job_id,omitempty"`
	Date  string `json:"date"`
	// Stage names the step that failed for EventFailed (process, notify, persist).
	Stage string        `json:"stage,omitempty"`
	Error string        `json:"error,omitempty"`
	Took  time.Duration `json:"took,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
