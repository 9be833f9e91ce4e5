package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"bookingsched/internal/task/engine"
	logx "bookingsched/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureEngine struct {
	mu    sync.Mutex
	tasks []engine.Task
	err   error
}

func (c *captureEngine) Enqueue(t engine.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, t)
	return c.err
}

func (c *captureEngine) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, t := range c.tasks {
		out = append(out, t.Name)
	}
	return out
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{in: "18:00", h: 18},
		{in: " 07:05 ", h: 7, m: 5},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "1800", wantErr: true},
		{in: "aa:bb", wantErr: true},
	}
	for _, tc := range tests {
		h, m, err := ParseHHMM(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.h, h)
		assert.Equal(t, tc.m, m)
	}
}

func TestAddDailyComputesNextRun(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, &captureEngine{}, logx.Nop())
	require.NoError(t, s.AddDaily("booking.daily-check", "18:00", 0, func(context.Context) error { return nil }))

	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	it := snap.Schedules[0]
	assert.Equal(t, "0 18 * * *", it.Spec)
	assert.Equal(t, 18, it.Next.Hour())
	assert.Equal(t, 0, it.Next.Minute())
	assert.True(t, it.Next.After(time.Now()))
	assert.Equal(t, "UTC", snap.Timezone)
	assert.False(t, snap.Running)
}

func TestAddCronReplacesAndRemoves(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, &captureEngine{}, logx.Nop())
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.AddCron("a", "0 18 * * *", 0, noop))
	require.NoError(t, s.AddCron("a", "@daily", 0, noop))
	require.Len(t, s.Snapshot().Schedules, 1)
	assert.Equal(t, "@daily", s.Snapshot().Schedules[0].Spec)

	assert.Error(t, s.AddCron("b", "not a spec", 0, noop))
	assert.Error(t, s.AddCron("", "@daily", 0, noop))
	assert.Error(t, s.AddCron("c", "@daily", 0, nil))

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.Empty(t, s.Snapshot().Schedules)
}

func TestStartRegistersAndRunNowEnqueues(t *testing.T) {
	t.Parallel()
	eng := &captureEngine{}
	s := New(Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop())
	require.NoError(t, s.AddDaily("booking.daily-check", "18:00", time.Minute, func(context.Context) error { return nil }))

	s.Start(context.Background())
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	assert.True(t, snap.Running)
	require.Len(t, snap.Schedules, 1)
	assert.False(t, snap.Schedules[0].Next.IsZero())

	assert.True(t, s.RunNow("booking.daily-check"))
	assert.False(t, s.RunNow("missing"))
	assert.Equal(t, []string{"booking.daily-check"}, eng.names())
	assert.Equal(t, time.Minute, eng.tasks[0].Timeout)
}

func TestDisabledDoesNotStart(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &captureEngine{}, logx.Nop())
	s.Start(context.Background())
	assert.False(t, s.Snapshot().Running)
	s.Stop(context.Background())
}

func TestEveryTriggersThroughEngine(t *testing.T) {
	t.Parallel()
	eng := &captureEngine{err: engine.ErrQueueFull}
	s := New(Config{Enabled: true}, eng, logx.Nop())
	require.NoError(t, s.AddCron("tick", "@every 1s", 0, func(context.Context) error { return nil }))
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool { return len(eng.names()) > 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestValidateSpec(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateSpec("0 18 * * *"))
	assert.NoError(t, ValidateSpec("0 0 18 * * *"))
	assert.Error(t, ValidateSpec("every day"))
}
