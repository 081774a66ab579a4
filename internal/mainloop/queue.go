// Package mainloop is the host's main thread: a goroutine that owns a callback
// queue and, once per frame, ticks the thread runner and drains the queue.
//
// Workers never call back into host code directly. They Post closures here and
// the loop goroutine runs them in posting order.
package mainloop

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "threadrunner/pkg/logx"
)

type Queue struct {
	log logx.Logger

	mu      sync.Mutex
	pending []func()
	closed  bool

	// wake is signalled (non-blocking) on Post so Run can drain between frames.
	wake chan struct{}

	posted   atomic.Uint64
	ran      atomic.Uint64
	panicked atomic.Uint64
	dropped  atomic.Uint64
}

func New(log logx.Logger) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{log: log, wake: make(chan struct{}, 1)}
}

// Post enqueues fn for the main thread. It never blocks. After Stop the
// callback is dropped and counted.
func (q *Queue) Post(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.dropped.Add(1)
		q.log.Warn("mainloop: callback dropped after stop")
		return
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	q.posted.Add(1)

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Drain runs every callback queued so far on the calling goroutine and returns
// how many ran. Callbacks posted while draining wait for the next Drain. A
// panicking callback is logged and does not stop the rest.
func (q *Queue) Drain() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for i, fn := range batch {
		q.call(fn)
		batch[i] = nil
	}
	return len(batch)
}

func (q *Queue) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.panicked.Add(1)
			q.log.Error("mainloop: callback panic",
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	fn()
	q.ran.Add(1)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run is the frame loop. Every interval it calls tick and then drains the
// queue; a Post between frames triggers an early drain. It returns when ctx is
// done, after one last drain so already-delivered callbacks are not lost.
func (q *Queue) Run(ctx context.Context, interval time.Duration, tick func()) error {
	if interval <= 0 {
		return fmt.Errorf("mainloop: interval must be > 0, got %s", interval)
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			q.Drain()
			return ctx.Err()
		case <-t.C:
			if tick != nil {
				tick()
			}
			q.Drain()
		case <-q.wake:
			q.Drain()
		}
	}
}

// Stop refuses further posts. Callbacks already queued can still be drained.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

type Stats struct {
	Queued   int
	Posted   uint64
	Ran      uint64
	Panicked uint64
	Dropped  uint64
}

func (q *Queue) Stats() Stats {
	return Stats{
		Queued:   q.Len(),
		Posted:   q.posted.Load(),
		Ran:      q.ran.Load(),
		Panicked: q.panicked.Load(),
		Dropped:  q.dropped.Load(),
	}
}
