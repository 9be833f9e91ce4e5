package booking

import (
	"context"
	"time"

	"bookingsched/internal/calendar"
	"bookingsched/internal/errors"
	logx "bookingsched/pkg/logx"
)

// RecoveryReport summarises one Recover run.
type RecoveryReport struct {
	Loaded    int // armed from the store
	PastDue   int // of Loaded, fire instant already passed
	Duplicate int // date already present in the registry
	Skipped   int // malformed records
}

// Recover re-arms every persisted booking. Records are re-armed from their
// stored booking date as is; the holiday policy is not applied again.
// A malformed record is logged and skipped. Running Recover twice arms each
// date once.
func (s *Service) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport
	recs, err := s.store.ListBookings(ctx)
	if err != nil {
		return rep, errors.Mark(errors.Wrap(err, "list persisted bookings"), ErrPersistence)
	}
	now := s.clock.Now()
	for _, rec := range recs {
		d, perr := calendar.Parse(rec.BookingDate)
		if perr != nil {
			rep.Skipped++
			s.log.Warn("skipping malformed booking record",
				logx.String("booking_date", rec.BookingDate), logx.Int("year", rec.Year), logx.Int("month", rec.Month), logx.Err(perr))
			continue
		}
		job := s.newJob(d, rec.Year, time.Month(rec.Month))
		if !s.reg.Load(job) {
			rep.Duplicate++
			s.log.Debug("booking already registered; recovery skipped", logx.String("date", d.String()))
			continue
		}
		h := s.trigger.Arm(job)
		if !s.reg.Attach(d, job.ID, h) {
			s.trigger.Disarm(h)
		}
		rep.Loaded++
		if !job.FireAt.After(now) {
			rep.PastDue++
		}
		s.publish(EventRecovered, Event{JobID: job.ID, Date: d.String()})
	}
	s.log.Info("booking recovery finished",
		logx.Int("loaded", rep.Loaded), logx.Int("past_due", rep.PastDue),
		logx.Int("duplicate", rep.Duplicate), logx.Int("skipped", rep.Skipped))
	return rep, nil
}
