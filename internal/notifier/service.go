package notifier

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"bookingsched/internal/calendar"
	"bookingsched/internal/eventbus"
	logx "bookingsched/pkg/logx"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

var ErrDisabled = errors.New("notifier disabled")

const dedupMaxEntries = 1024

// Service sends processed-booking notifications. It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	dedup   *expirable.LRU[string, time.Time]

	sender Sender
	log    logx.Logger
	bus    eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "notifier"))
	if sender == nil {
		sender = LogSender{Log: log}
	}
	s := &Service{sender: sender, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	if cfg.Recipient == "" {
		cfg.Recipient = "user@example.com"
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	window := s.cfg.DedupWindow
	s.cfg = cfg
	// Token bucket: burst = rate per sec.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	if cfg.DedupWindow > 0 && (s.dedup == nil || window != cfg.DedupWindow) {
		s.dedup = expirable.NewLRU[string, time.Time](dedupMaxEntries, nil, cfg.DedupWindow)
	}
	if cfg.DedupWindow == 0 {
		s.dedup = nil
	}
}

// Body is the notification text for a processed date.
func Body(d calendar.Date) string {
	return "Your transaction for " + d.String() + " has been successfully processed."
}

// NotifyProcessed sends the processed email for d. It blocks through rate
// limiting and retries, bounded by ctx.
func (s *Service) NotifyProcessed(ctx context.Context, d calendar.Date) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	dedup := s.dedup
	s.mu.Unlock()

	if !cfg.Enabled {
		return ErrDisabled
	}
	key := d.String()
	if dedup != nil {
		if _, seen := dedup.Get(key); seen {
			s.log.Debug("notification suppressed", logx.String("date", key))
			s.publish(EventSuppressed, NotificationEvent{Date: key, Recipient: cfg.Recipient, At: time.Now()})
			return nil
		}
	}

	msg := Message{Recipient: cfg.Recipient, Subject: DefaultSubject, Body: Body(d), From: cfg.From}
	attempts, err := s.sendWithRetry(ctx, cfg, lim, msg)
	now := time.Now()
	ev := NotificationEvent{Date: key, Recipient: cfg.Recipient, Attempts: attempts, At: now}
	item := HistoryItem{At: now, Date: key, Attempts: attempts}
	if err != nil {
		ev.Error = err.Error()
		item.Error = ev.Error
		s.appendHistory(item, cfg.HistorySize)
		s.publish(EventFailed, ev)
		return err
	}
	if dedup != nil {
		dedup.Add(key, now)
	}
	s.appendHistory(item, cfg.HistorySize)
	s.publish(EventSent, ev)
	s.log.Info("notification sent", logx.String("date", key), logx.Int("attempts", attempts))
	return nil
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, lim *rate.Limiter, msg Message) (int, error) {
	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := s.sender.Send(callCtx, msg)
		cancel()
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		s.log.Debug("notification send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt >= maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return attempt, lastErr
		}
	}
	return maxAttempts, lastErr
}

// History returns recent delivery attempts, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(item HistoryItem, limit int) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1) with
// 0.7..1.3 jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
