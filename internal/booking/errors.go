package booking

import (
	"bookingsched/internal/errors"
)

// Error classes. Failures returned by this package carry one or more of these
// marks; test with errors.Is.
var (
	// ErrValidation marks malformed caller input. Never retried.
	ErrValidation = errors.New("booking: invalid input")
	// ErrScheduling marks a failure to register or arm a job. The job is
	// rolled back, so the same request may be retried.
	ErrScheduling = errors.New("booking: scheduling failed")
	// ErrPersistence marks a store failure. It is always surfaced together
	// with ErrScheduling when it happens on the scheduling path.
	ErrPersistence = errors.New("booking: persistence failed")
	// ErrPolicy marks a holiday calendar failure while resolving a date.
	ErrPolicy = errors.New("booking: holiday policy failed")
)

func validationError(err error) error {
	return errors.Mark(err, ErrValidation)
}

func schedulingError(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrScheduling)
}
