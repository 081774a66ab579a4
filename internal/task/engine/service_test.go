package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"threadrunner/internal/eventbus"
	logx "threadrunner/pkg/logx"
)

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for !cond() {
		select {
		case <-deadline.C:
			t.Fatal("condition not met before deadline")
		case <-tick.C:
		}
	}
}

func TestEnqueueRunsJobs(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 3, QueueSize: 16}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		if err := s.Go("count", func(ctx context.Context) { ran.Add(1) }); err != nil {
			t.Fatalf("Go: %v", err)
		}
	}
	waitFor(t, time.Second, func() bool { return ran.Load() == 10 })
	waitFor(t, time.Second, func() bool { return s.Snapshot().Executed == 10 })
}

func TestEnqueueErrors(t *testing.T) {
	t.Parallel()
	noop := func(ctx context.Context) {}

	disabled := New(Config{}, logx.Nop(), nil)
	if err := disabled.Go("x", noop); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v, want ErrDisabled", err)
	}

	notStarted := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := notStarted.Go("x", noop); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started err = %v, want ErrStopped", err)
	}
	if err := notStarted.Enqueue(Job{Name: "x"}); !errors.Is(err, ErrNilJob) {
		t.Fatalf("nil job err = %v, want ErrNilJob", err)
	}
}

func TestQueueFullRejects(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.SubscribePrefix(4, EventDropped)
	defer unsub()

	s := New(Config{Enabled: true, Workers: 1, QueueSize: 1}, logx.Nop(), bus)
	s.Start(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	if err := s.Go("block", func(ctx context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("Go: %v", err)
	}
	<-started
	if err := s.Go("queued", func(ctx context.Context) {}); err != nil {
		t.Fatalf("Go queued: %v", err)
	}
	if err := s.Go("overflow", func(ctx context.Context) {}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	select {
	case e := <-ch:
		ev := e.Data.(JobEvent)
		if ev.Name != "overflow" || ev.Error != "queue_full" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected task.dropped event")
	}
	close(release)
	s.Stop(context.Background())

	if s.Snapshot().DroppedQueueFull != 1 {
		t.Fatalf("DroppedQueueFull = %d, want 1", s.Snapshot().DroppedQueueFull)
	}
}

func TestStopRunsQueuedJobs(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 8}, logx.Nop(), nil)
	s.Start(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	_ = s.Go("block", func(ctx context.Context) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
	})
	<-started

	var (
		mu      sync.Mutex
		ctxErrs []error
	)
	for i := 0; i < 4; i++ {
		if err := s.Go("queued", func(ctx context.Context) {
			mu.Lock()
			ctxErrs = append(ctxErrs, ctx.Err())
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Go: %v", err)
		}
	}

	s.Stop(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(ctxErrs) != 4 {
		t.Fatalf("queued jobs run = %d, want 4", len(ctxErrs))
	}
	for _, err := range ctxErrs {
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("drained job ctx err = %v, want canceled", err)
		}
	}
	if err := s.Go("late", func(ctx context.Context) {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop err = %v, want ErrStopped", err)
	}
}

func TestJobPanicKeepsWorkerAlive(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	done := make(chan struct{})
	_ = s.Go("panic", func(ctx context.Context) { panic("boom") })
	_ = s.Go("after", func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking job")
	}
	if s.Snapshot().Panicked != 1 {
		t.Fatalf("Panicked = %d, want 1", s.Snapshot().Panicked)
	}
}

func TestStaleJobsStillRun(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 4, MaxQueueDelay: time.Millisecond}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	_ = s.Go("block", func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	ran := make(chan struct{})
	_ = s.Go("late", func(ctx context.Context) { close(ran) })
	time.Sleep(10 * time.Millisecond)
	close(release)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("stale job was not run")
	}
	if s.Snapshot().Stale != 1 {
		t.Fatalf("Stale = %d, want 1", s.Snapshot().Stale)
	}
}

func TestApplyResizesRunningPool(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 2}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Apply(context.Background(), Config{Enabled: true, Workers: 4, QueueSize: 32})
	snap := s.Snapshot()
	if snap.Workers != 4 || snap.QueueCap != 32 {
		t.Fatalf("snapshot = %+v, want 4 workers / cap 32", snap)
	}
	done := make(chan struct{})
	if err := s.Go("after-resize", func(ctx context.Context) { close(done) }); err != nil {
		t.Fatalf("Go: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run after resize")
	}
}

func TestGoDuringResizeIsHeldNotRejected(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	// Keep the only worker busy so the resize stays between Stop and Start.
	release := make(chan struct{})
	if err := s.Go("blocker", func(ctx context.Context) { <-release }); err != nil {
		t.Fatalf("Go blocker: %v", err)
	}
	waitFor(t, time.Second, func() bool { return s.Snapshot().InFlight == 1 })

	applied := make(chan struct{})
	go func() {
		s.Apply(context.Background(), Config{Enabled: true, Workers: 2, QueueSize: 1})
		close(applied)
	}()
	waitFor(t, time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.resizing
	})

	ran := make(chan error, 1)
	if err := s.Go("held", func(ctx context.Context) { ran <- ctx.Err() }); err != nil {
		t.Fatalf("Go during resize = %v, want nil", err)
	}
	if err := s.Go("overflow", func(context.Context) {}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Go past held limit = %v, want ErrQueueFull", err)
	}

	close(release)
	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("Apply did not return")
	}
	select {
	case err := <-ran:
		if err != nil {
			t.Fatalf("held job ctx err = %v, want live context", err)
		}
	case <-time.After(time.Second):
		t.Fatal("held job did not run after resize")
	}
	if snap := s.Snapshot(); snap.Workers != 2 || snap.QueueCap != 1 {
		t.Fatalf("snapshot = %+v, want 2 workers / cap 1", snap)
	}
}

func TestReleaseHeldRunsJobsWhenRestartFails(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	s.mu.Lock()
	s.resizing = true
	s.mu.Unlock()

	var ctxErr error
	if err := s.Go("held", func(ctx context.Context) { ctxErr = ctx.Err() }); err != nil {
		t.Fatalf("Go: %v", err)
	}
	s.releaseHeld()
	if !errors.Is(ctxErr, context.Canceled) {
		t.Fatalf("held job ctx err = %v, want context.Canceled", ctxErr)
	}
	if err := s.Go("after", func(context.Context) {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Go after release = %v, want ErrStopped", err)
	}
}
