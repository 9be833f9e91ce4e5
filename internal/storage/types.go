package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
//   - "redis": Redis hash + list (Addr required)
//   - "memory": process-local, lost on restart (tests and dry runs)
//
// Driver is required.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	Addr      string // redis only
	Password  string // redis only
	DB        int    // redis only
	KeyPrefix string // redis only; default "bookingsched:"
}

// Booking is the persisted form of one pending booking job.
// BookingDate is kept as the raw ISO string so a corrupt record can be
// reported and skipped by the loader instead of failing the whole read.
type Booking struct {
	Year        int    `json:"year"`
	Month       int    `json:"month"`
	BookingDate string `json:"bookingDate"`
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor,omitempty"`
	Action string    `json:"action"`
	Target string    `json:"target,omitempty"`
	OK     bool      `json:"ok"`
	Error  string    `json:"err,omitempty"`
	TookMS int64     `json:"took_ms"`
}
