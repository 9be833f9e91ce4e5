package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"bookingsched/internal/eventbus"
	logx "bookingsched/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEngine(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New("test", cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestSubmitRunsTask(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2, QueueSize: 4}, nil)

	done := make(chan string, 1)
	require.NoError(t, s.Submit(context.Background(), Task{
		Name: "hello",
		Run: func(context.Context) error {
			done <- "ran"
			return nil
		},
	}))
	select {
	case got := <-done:
		assert.Equal(t, "ran", got)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	require.Eventually(t, func() bool { return s.Snapshot().Completed == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestPanicAndErrorAreRecorded(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()
	s := startEngine(t, Config{Workers: 1, QueueSize: 4}, bus)

	require.NoError(t, s.Submit(context.Background(), Task{Name: "panics", Run: func(context.Context) error { panic("boom") }}))
	require.NoError(t, s.Submit(context.Background(), Task{Name: "fails", Run: func(context.Context) error { return errors.New("nope") }}))

	var ran atomic.Bool
	require.NoError(t, s.Submit(context.Background(), Task{Name: "ok", Run: func(context.Context) error { ran.Store(true); return nil }}))
	require.Eventually(t, ran.Load, 2*time.Second, 5*time.Millisecond, "worker survives a panicking task")
	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 3 }, 2*time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Failed)
	assert.Equal(t, "panic: boom", snap.History[0].Error)
	assert.Equal(t, "nope", snap.History[1].Error)

	failed := 0
	for len(events) > 0 {
		if (<-events).Type == EventFailed {
			failed++
		}
	}
	assert.Equal(t, 2, failed)
}

func TestEnqueueQueueFull(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 1}, nil)

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	require.NoError(t, s.Submit(context.Background(), Task{Name: "block", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Enqueue(Task{Name: "queued", Run: noop}))
	assert.ErrorIs(t, s.Enqueue(Task{Name: "overflow", Run: noop}), ErrQueueFull)
	assert.Equal(t, uint64(1), s.Snapshot().DroppedQueueFull)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Submit(ctx, Task{Name: "waits", Run: noop}), context.DeadlineExceeded)
}

func TestTimeoutCancelsTask(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, DefaultTimeout: 10 * time.Millisecond}, nil)
	errCh := make(chan error, 1)
	require.NoError(t, s.Submit(context.Background(), Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}}))
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout not applied")
	}
}

func TestDisabledAndStopped(t *testing.T) {
	t.Parallel()
	noop := func(context.Context) error { return nil }

	off := New("off", Config{}, logx.Nop(), nil)
	off.Start(context.Background())
	assert.ErrorIs(t, off.Enqueue(Task{Name: "x", Run: noop}), ErrDisabled)

	s := New("on", Config{Enabled: true}, logx.Nop(), nil)
	assert.ErrorIs(t, s.Enqueue(Task{Name: "x", Run: noop}), ErrStopped)
	s.Start(context.Background())
	s.Start(context.Background())
	assert.True(t, s.Snapshot().Running)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.ErrorIs(t, s.Enqueue(Task{Name: "x", Run: noop}), ErrStopped)
	assert.False(t, s.Snapshot().Running)

	assert.Error(t, s.Enqueue(Task{Name: "", Run: noop}))
	assert.Error(t, s.Enqueue(Task{Name: "nil"}))
}

func TestStaleTaskCallsOnDrop(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 4, MaxQueueDelay: 10 * time.Millisecond}, nil)

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Submit(context.Background(), Task{Name: "block", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started

	var ran atomic.Bool
	dropped := make(chan error, 1)
	require.NoError(t, s.Submit(context.Background(), Task{
		Name:   "late",
		Run:    func(context.Context) error { ran.Store(true); return nil },
		OnDrop: func(reason error) { dropped <- reason },
	}))
	time.Sleep(30 * time.Millisecond)
	close(block)

	select {
	case reason := <-dropped:
		assert.ErrorIs(t, reason, ErrStale)
	case <-time.After(2 * time.Second):
		t.Fatal("OnDrop not called for stale task")
	}
	assert.False(t, ran.Load())
	assert.Equal(t, uint64(1), s.Snapshot().DroppedStale)
}

func TestStopDiscardsQueuedTasks(t *testing.T) {
	t.Parallel()
	s := New("test", Config{Enabled: true, Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	s.Start(context.Background())

	started := make(chan struct{})
	require.NoError(t, s.Submit(context.Background(), Task{Name: "block", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	dropped := make(chan error, 1)
	require.NoError(t, s.Submit(context.Background(), Task{
		Name:   "queued",
		Run:    func(context.Context) error { return nil },
		OnDrop: func(reason error) { dropped <- reason },
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	select {
	case reason := <-dropped:
		assert.ErrorIs(t, reason, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("OnDrop not called for discarded task")
	}
	assert.Equal(t, uint64(1), s.Snapshot().Dropped)
}
