package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "bookingsched/pkg/logx"
)

const fileCompactEvery = 200

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl            (append-only JSON Lines)
//   - <prefix>.bookings.snapshot.json (periodic snapshot)
//   - <prefix>.bookings.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journalFile  *os.File
	bookings     map[string]Booking

	writes int
}

type journalRecord struct {
	Op      string  `json:"op"` // "put" | "del"
	Date    string  `json:"date"`
	Booking Booking `json:"booking"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".bookings.snapshot.json"
	journalPath := prefix + ".bookings.journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	bookings := map[string]Booking{}
	if err := loadSnapshot(snapPath, bookings); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("booking snapshot unreadable; relying on journal", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, bookings, log); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = af.Close()
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		bookings:     bookings,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.journalFile != nil {
		// Leave a compact snapshot behind for the next start.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("booking compact on close failed", logx.Err(err))
		}
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) SaveBooking(ctx context.Context, b Booking) error {
	_ = ctx
	key := strings.TrimSpace(b.BookingDate)
	if key == "" {
		return errors.New("booking date required")
	}
	b.BookingDate = key

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "put", Date: key, Booking: b}); err != nil {
		return err
	}
	s.bookings[key] = b
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) DeleteBooking(ctx context.Context, bookingDate string) error {
	_ = ctx
	key := strings.TrimSpace(bookingDate)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[key]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: "del", Date: key}); err != nil {
		return err
	}
	delete(s.bookings, key)
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) ListBookings(ctx context.Context) ([]Booking, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, ErrClosed
	}
	return sortedBookings(s.bookings), nil
}

// appendLocked writes one journal record and fsyncs it; a booking is only
// acknowledged once it would survive a crash.
func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	return s.journalFile.Sync()
}

func (s *fileStore) maybeCompactLocked() {
	s.writes++
	if s.writes%fileCompactEvery != 0 {
		return
	}
	// Best-effort compact.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("booking compact failed", logx.Err(err))
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(sortedBookings(s.bookings)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]Booking) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []Booking
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, b := range list {
		out[b.BookingDate] = b
	}
	return nil
}

func replayJournal(path string, out map[string]Booking, log logx.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn trailing write after a crash is expected; skip it.
			log.Warn("skipping corrupt journal line", logx.String("path", path), logx.Int("line", line), logx.Err(err))
			continue
		}
		switch r.Op {
		case "put":
			if r.Date == "" {
				continue
			}
			out[r.Date] = r.Booking
		case "del":
			delete(out, r.Date)
		}
	}
	return sc.Err()
}

func sortedBookings(m map[string]Booking) []Booking {
	out := make([]Booking, 0, len(m))
	for _, b := range m {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookingDate < out[j].BookingDate })
	return out
}
