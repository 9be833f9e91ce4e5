package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Memory is a process-local Store. Records do not survive a restart, but a
// single Memory value can be shared by two scheduler instances to simulate one.
type Memory struct {
	mu       sync.Mutex
	bookings map[string]Booking
	audit    []AuditEntry
	closed   bool
}

func NewMemory() *Memory {
	return &Memory{bookings: map[string]Booking{}}
}

func (m *Memory) SaveBooking(ctx context.Context, b Booking) error {
	_ = ctx
	key := strings.TrimSpace(b.BookingDate)
	if key == "" {
		return errors.New("booking date required")
	}
	b.BookingDate = key
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.bookings[key] = b
	return nil
}

func (m *Memory) DeleteBooking(ctx context.Context, bookingDate string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.bookings, strings.TrimSpace(bookingDate))
	return nil
}

func (m *Memory) ListBookings(ctx context.Context) ([]Booking, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return sortedBookings(m.bookings), nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the recorded audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
