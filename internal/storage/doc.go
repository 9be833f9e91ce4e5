// Package storage is the durability boundary for pending bookings.
//
// It holds:
//   - Pending booking records ({year, month, bookingDate}), one per execution date
//   - Audit log appends (operator schedule/cancel actions)
//
// A record exists if and only if the booking is still pending. Callers own the
// ordering (write before accept, delete after retire); drivers only guarantee
// that a returned nil error means the change is durable.
package storage
