package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookingsched/internal/calendar"
	"bookingsched/internal/eventbus"
	logx "bookingsched/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emailServer struct {
	mu       sync.Mutex
	got      []Message
	failures atomic.Int32
}

func (e *emailServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if e.failures.Add(-1) >= 0 {
			http.Error(w, "mailer busy", http.StatusServiceUnavailable)
			return
		}
		var m Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		e.mu.Lock()
		e.got = append(e.got, m)
		e.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}
}

func (e *emailServer) messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Message(nil), e.got...)
}

func testCfg(url string) Config {
	return Config{
		Enabled:       true,
		URL:           url,
		Recipient:     "ops@example.com",
		RatePerSec:    100,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		Timeout:       time.Second,
	}
}

func TestNotifyProcessedPostsEmail(t *testing.T) {
	t.Parallel()
	srv := &emailServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, "notifier.")
	defer unsub()

	s := New(testCfg(ts.URL), NewHTTPSender(ts.URL, ts.Client()), logx.Nop(), bus)
	require.NoError(t, s.NotifyProcessed(context.Background(), calendar.New(2025, time.April, 30)))

	require.Equal(t, []Message{{
		Recipient: "ops@example.com",
		Subject:   "Transaction Processed",
		Body:      "Your transaction for 2025-04-30 has been successfully processed.",
	}}, srv.messages())

	ev := <-events
	assert.Equal(t, EventSent, ev.Type)
	assert.Equal(t, "2025-04-30", ev.Data.(NotificationEvent).Date)
	require.Len(t, s.History(), 1)
	assert.Equal(t, 1, s.History()[0].Attempts)
}

func TestNotifyProcessedRetries(t *testing.T) {
	t.Parallel()
	srv := &emailServer{}
	srv.failures.Store(2)
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	s := New(testCfg(ts.URL), NewHTTPSender(ts.URL, ts.Client()), logx.Nop(), nil)
	require.NoError(t, s.NotifyProcessed(context.Background(), calendar.New(2025, time.May, 30)))
	assert.Len(t, srv.messages(), 1)
	assert.Equal(t, 3, s.History()[0].Attempts)
}

func TestNotifyProcessedGivesUp(t *testing.T) {
	t.Parallel()
	srv := &emailServer{}
	srv.failures.Store(10)
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(testCfg(ts.URL), NewHTTPSender(ts.URL, ts.Client()), logx.Nop(), bus)
	err := s.NotifyProcessed(context.Background(), calendar.New(2025, time.May, 30))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "mailer busy")
	assert.Empty(t, srv.messages())

	ev := <-events
	assert.Equal(t, EventFailed, ev.Type)
	assert.Equal(t, 3, ev.Data.(NotificationEvent).Attempts)
}

func TestNotifyProcessedDedup(t *testing.T) {
	t.Parallel()
	srv := &emailServer{}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	cfg := testCfg(ts.URL)
	cfg.DedupWindow = time.Hour
	s := New(cfg, NewHTTPSender(ts.URL, ts.Client()), logx.Nop(), nil)
	d := calendar.New(2025, time.June, 30)
	require.NoError(t, s.NotifyProcessed(context.Background(), d))
	require.NoError(t, s.NotifyProcessed(context.Background(), d))
	require.NoError(t, s.NotifyProcessed(context.Background(), d.AddDays(-1)))
	assert.Len(t, srv.messages(), 2)
}

func TestNotifyProcessedDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil)
	assert.False(t, s.Enabled())
	assert.ErrorIs(t, s.NotifyProcessed(context.Background(), calendar.New(2025, time.June, 30)), ErrDisabled)

	s.Apply(Config{Enabled: true})
	assert.True(t, s.Enabled())
	assert.NoError(t, s.NotifyProcessed(context.Background(), calendar.New(2025, time.June, 30)))
}

func TestNotifyProcessedHonorsContext(t *testing.T) {
	t.Parallel()
	srv := &emailServer{}
	srv.failures.Store(10)
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	cfg := testCfg(ts.URL)
	cfg.RetryMax = 5
	cfg.RetryBase = time.Minute
	cfg.RetryMaxDelay = time.Minute
	s := New(cfg, NewHTTPSender(ts.URL, ts.Client()), logx.Nop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := s.NotifyProcessed(ctx, calendar.New(2025, time.June, 30))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, s.History()[0].Attempts)
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	assert.GreaterOrEqual(t, retryDelay(cfg, 1), 70*time.Millisecond)
	assert.LessOrEqual(t, retryDelay(cfg, 1), 130*time.Millisecond)
}
