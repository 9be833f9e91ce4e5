package storage

import (
	"context"
	"errors"
	"strings"

	logx "bookingsched/pkg/logx"
)

// Store is the persistence API used by the booking scheduler.
type Store interface {
	// SaveBooking upserts the record keyed by BookingDate.
	SaveBooking(ctx context.Context, b Booking) error
	// DeleteBooking removes the record for bookingDate. Deleting a missing
	// record is not an error.
	DeleteBooking(ctx context.Context, bookingDate string) error
	// ListBookings returns every pending record, ordered by BookingDate.
	ListBookings(ctx context.Context) ([]Booking, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store. Bookings must persist, so there
// is no disabled driver.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		return nil, errors.New("storage driver required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(context.Background(), cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
