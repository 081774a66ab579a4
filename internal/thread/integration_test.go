package thread_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"threadrunner/internal/clock"
	"threadrunner/internal/eventbus"
	"threadrunner/internal/mainloop"
	"threadrunner/internal/task/engine"
	"threadrunner/internal/thread"
	logx "threadrunner/pkg/logx"
)

type host struct {
	clk    *clock.Manual
	pool   *engine.Service
	queue  *mainloop.Queue
	runner *thread.Runner
}

func newHost(t *testing.T, workers int) *host {
	t.Helper()
	clk := clock.NewManual(time.Unix(1_000, 0))
	bus := eventbus.New()
	pool := engine.New(engine.Config{Enabled: true, Workers: workers, QueueSize: 1024}, logx.Nop(), bus)
	pool.Start(context.Background())
	queue := mainloop.New(logx.Nop())
	r, err := thread.New(thread.Options{Clock: clk, Relay: queue, Pool: pool, Bus: bus, Log: logx.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pool.Stop(ctx)
	})
	return &host{clk: clk, pool: pool, queue: queue, runner: r}
}

// frames runs tick+drain frames on the calling goroutine until done reports
// true or the deadline passes.
func (h *host) frames(step time.Duration, done func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		h.clk.Advance(step)
		h.runner.Tick()
		h.queue.Drain()
		if done() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestEndToEndEveryTaskCompletesOnce(t *testing.T) {
	t.Parallel()

	h := newHost(t, 4)
	const n = 200

	// Only touched by callbacks, which must all run on this goroutine.
	calls := make([]int, n)
	var onMain atomic.Bool
	offMain := 0
	total := 0

	for i := 0; i < n; i++ {
		i := i
		delay := time.Duration(i%50) * time.Millisecond
		if _, err := h.runner.Action(func(context.Context) error { return nil }).
			Delay(delay).
			OnComplete(func() {
				if !onMain.Load() {
					offMain++
				}
				calls[i]++
				total++
			}).
			Activate(); err != nil {
			t.Fatalf("Activate %d: %v", i, err)
		}
	}

	onMain.Store(true)
	ok := h.frames(5*time.Millisecond, func() bool { return total >= n })
	onMain.Store(false)
	if !ok {
		t.Fatalf("completed %d of %d", total, n)
	}
	for i, c := range calls {
		if c != 1 {
			t.Fatalf("task %d completed %d times, want 1", i, c)
		}
	}
	if offMain != 0 {
		t.Fatalf("%d callbacks ran off the main loop", offMain)
	}
	if p := h.runner.Pending(); p != 0 {
		t.Fatalf("pending = %d, want 0", p)
	}
}

func TestEndToEndTypedResultAndFailure(t *testing.T) {
	t.Parallel()

	h := newHost(t, 2)
	boom := errors.New("boom")

	var (
		result string
		gotErr error
	)
	if _, err := thread.Func(h.runner, func(context.Context) (string, error) { return "ready", nil }).
		Delay(20 * time.Millisecond).
		OnComplete(func(v string) { result = v }).
		Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := h.runner.Action(func(context.Context) error { return boom }).
		OnError(func(err error) { gotErr = err }).
		Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if !h.frames(10*time.Millisecond, func() bool { return result != "" && gotErr != nil }) {
		t.Fatalf("result = %q, err = %v", result, gotErr)
	}
	if result != "ready" {
		t.Fatalf("result = %q, want ready", result)
	}
	if !errors.Is(gotErr, boom) {
		t.Fatalf("err = %v, want boom", gotErr)
	}
}

func TestEndToEndStoppedPoolRejects(t *testing.T) {
	t.Parallel()

	h := newHost(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.pool.Stop(ctx)

	var gotErr error
	if _, err := h.runner.Action(func(context.Context) error { return nil }).
		Delay(time.Millisecond).
		OnComplete(func() { t.Errorf("work must not run on a stopped pool") }).
		OnError(func(err error) { gotErr = err }).
		Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !h.frames(time.Millisecond, func() bool { return gotErr != nil }) {
		t.Fatalf("no rejection delivered")
	}
	if !thread.IsRejected(gotErr) {
		t.Fatalf("err = %v, want rejection", gotErr)
	}
	if got := h.runner.Snapshot().Rejected; got != 1 {
		t.Fatalf("rejected = %d, want 1", got)
	}
}
