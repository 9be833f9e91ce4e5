package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	logx "bookingsched/pkg/logx"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "bookingsched:"
	redisAuditMax      = 1000
)

// redisStore keeps pending bookings in one hash (field = booking date,
// value = JSON record) and the audit log in a capped list.
type redisStore struct {
	client *redis.Client
	log    logx.Logger

	bookingsKey string
	auditKey    string
	owned       bool
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	st := newRedis(client, cfg.KeyPrefix, log)
	st.owned = true
	return st, nil
}

// NewRedis wraps an existing client. The client is not closed by Close.
func NewRedis(client *redis.Client, prefix string, log logx.Logger) Store {
	return newRedis(client, prefix, log)
}

func newRedis(client *redis.Client, prefix string, log logx.Logger) *redisStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisPrefix
	}
	return &redisStore{
		client:      client,
		log:         log,
		bookingsKey: prefix + "bookings",
		auditKey:    prefix + "audit",
	}
}

func (s *redisStore) SaveBooking(ctx context.Context, b Booking) error {
	key := strings.TrimSpace(b.BookingDate)
	if key == "" {
		return errors.New("booking date required")
	}
	b.BookingDate = key
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.bookingsKey, key, raw).Err(); err != nil {
		return fmt.Errorf("redis hset booking %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) DeleteBooking(ctx context.Context, bookingDate string) error {
	key := strings.TrimSpace(bookingDate)
	if key == "" {
		return nil
	}
	if err := s.client.HDel(ctx, s.bookingsKey, key).Err(); err != nil {
		return fmt.Errorf("redis hdel booking %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) ListBookings(ctx context.Context) ([]Booking, error) {
	m, err := s.client.HGetAll(ctx, s.bookingsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall bookings: %w", err)
	}
	out := make([]Booking, 0, len(m))
	for field, raw := range m {
		var b Booking
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			s.log.Warn("corrupt booking record skipped", logx.String("field", field), logx.Err(err))
			continue
		}
		if b.BookingDate == "" {
			b.BookingDate = field
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookingDate < out[j].BookingDate })
	return out, nil
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.auditKey, raw)
	pipe.LTrim(ctx, s.auditKey, -redisAuditMax, -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) Close() error {
	if s == nil || s.client == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}
