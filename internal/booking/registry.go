package booking

import (
	"context"
	"sort"
	"sync"

	"bookingsched/internal/calendar"
	"bookingsched/internal/errors"
	"bookingsched/internal/storage"
	logx "bookingsched/pkg/logx"
)

// Gateway is the durable side of the registry.
type Gateway interface {
	SaveBooking(ctx context.Context, b storage.Booking) error
	DeleteBooking(ctx context.Context, bookingDate string) error
	ListBookings(ctx context.Context) ([]storage.Booking, error)
}

// Registry owns the date -> job mapping. It is the only component that
// mutates it.
//
// Locking: mu guards the map and is never held across store I/O. A date whose
// store write or delete is in flight carries a settled channel; other callers
// touching that date wait for it to close and then re-read the map. This
// keeps operations on a single date totally ordered without a per-date lock.
type Registry struct {
	store Gateway
	log   logx.Logger

	mu   sync.Mutex
	jobs map[calendar.Date]*entry
}

type entry struct {
	job    Job
	status Status
	handle *Handle

	// Non-nil while the entry is being persisted (status Pending, not yet
	// visible) or deleted (status terminal). Closed when that finishes.
	settled chan struct{}
}

func NewRegistry(store Gateway, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{store: store, log: log, jobs: map[calendar.Date]*entry{}}
}

// lockSettled locks mu and returns the entry for d once no store I/O is in
// flight for it. The caller must unlock mu.
func (r *Registry) lockSettled(ctx context.Context, d calendar.Date) (*entry, error) {
	for {
		r.mu.Lock()
		e := r.jobs[d]
		if e == nil || e.settled == nil {
			return e, nil
		}
		ch := e.settled
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Register inserts job as Pending unless a job already exists for its date,
// in which case it returns false. The record is written to the store before
// Register reports true; when the write fails nothing is applied and the
// error is marked ErrPersistence.
func (r *Registry) Register(ctx context.Context, job Job) (bool, error) {
	d := job.ExecutionDate
	if _, err := r.lockSettled(ctx, d); err != nil {
		return false, err
	}
	if _, ok := r.jobs[d]; ok {
		r.mu.Unlock()
		return false, nil
	}
	e := &entry{job: job, status: StatusPending, settled: make(chan struct{})}
	r.jobs[d] = e
	r.mu.Unlock()

	err := r.store.SaveBooking(ctx, job.record())

	r.mu.Lock()
	if err != nil {
		delete(r.jobs, d)
	}
	close(e.settled)
	e.settled = nil
	r.mu.Unlock()

	if err != nil {
		return false, errors.Mark(errors.Wrapf(err, "persist booking %s", d), ErrPersistence)
	}
	return true, nil
}

// Load inserts an already persisted job without writing it again. It returns
// false when the date is already present.
func (r *Registry) Load(job Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ExecutionDate]; ok {
		return false
	}
	r.jobs[job.ExecutionDate] = &entry{job: job, status: StatusPending}
	return true
}

// Attach records the timer handle for a registered job. It returns false if
// the job is gone or has moved on from Pending; the caller then owns h.
func (r *Registry) Attach(d calendar.Date, jobID string, h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.jobs[d]
	if e == nil || e.job.ID != jobID || e.settled != nil || e.status != StatusPending {
		return false
	}
	e.handle = h
	return true
}

// MarkFiring moves the job for d from Pending to Firing. It fails if the job
// was cancelled, already fired, or replaced by a job with another ID.
func (r *Registry) MarkFiring(d calendar.Date, jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.jobs[d]
	if e == nil || e.settled != nil || e.job.ID != jobID || e.status != StatusPending {
		return false
	}
	e.status = StatusFiring
	return true
}

// Retire moves the job for d to outcome and removes it. Cancelled requires a
// Pending job and Completed a Firing one; otherwise Retire reports false.
// The store delete happens before the date is released but its failure does
// not bring the job back. The returned handle (possibly nil) is the job's
// timer, which the caller should disarm.
func (r *Registry) Retire(ctx context.Context, d calendar.Date, outcome Status) (*Handle, bool) {
	return r.retire(ctx, d, "", outcome)
}

func (r *Registry) retire(ctx context.Context, d calendar.Date, jobID string, outcome Status) (*Handle, bool) {
	e, err := r.lockSettled(ctx, d)
	if err != nil {
		return nil, false
	}
	ok := e != nil && (jobID == "" || e.job.ID == jobID)
	switch {
	case !ok:
	case outcome == StatusCancelled:
		ok = e.status == StatusPending
	case outcome == StatusCompleted:
		ok = e.status == StatusFiring
	default:
		ok = false
	}
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	e.status = outcome
	e.settled = make(chan struct{})
	h := e.handle
	e.handle = nil
	r.mu.Unlock()

	// The in-memory transition is already final; the delete must not be cut
	// short by the caller going away.
	if err := r.store.DeleteBooking(context.WithoutCancel(ctx), d.String()); err != nil {
		r.log.Error("booking delete failed; record left in store",
			logx.String("date", d.String()), logx.String("outcome", outcome.String()), logx.Err(err))
	}

	r.mu.Lock()
	delete(r.jobs, d)
	close(e.settled)
	r.mu.Unlock()
	return h, true
}

// Snapshot returns the Pending and Firing dates in ascending order. Dates
// whose registration is not yet durable or whose retirement has started are
// not included.
func (r *Registry) Snapshot() []calendar.Date {
	r.mu.Lock()
	out := make([]calendar.Date, 0, len(r.jobs))
	for d, e := range r.jobs {
		if e.settled != nil {
			continue
		}
		out = append(out, d)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Lookup returns the job for d and its status.
func (r *Registry) Lookup(d calendar.Date) (Job, Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.jobs[d]
	if e == nil {
		return Job{}, 0, false
	}
	return e.job, e.status, true
}

// Len returns the number of visible jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.jobs {
		if e.settled == nil {
			n++
		}
	}
	return n
}
