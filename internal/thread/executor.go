package thread

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	logx "threadrunner/pkg/logx"
)

// promote hands a running task to the pool. It must not block: Tick calls it
// while holding the read lock.
func (r *Runner) promote(t *Task, now time.Time) {
	t.promotedAt = now
	atomic.AddUint64(&r.promoted, 1)

	err := r.pool.Go("thread."+t.label(), func(ctx context.Context) {
		r.execute(ctx, t)
	})
	if err != nil {
		r.reject(t, err)
	}
}

// reject finishes a task the pool refused. The caller still gets exactly one
// outcome: the rejection goes through OnError like any other failure.
func (r *Runner) reject(t *Task, cause error) {
	t.state.Store(int32(StateDone))
	atomic.AddUint64(&r.rejected, 1)
	err := fmt.Errorf("%w: %v", ErrRejected, cause)

	r.log.Warn("thread.rejected", logx.String("task", t.label()), logx.String("id", t.id), logx.Err(cause))
	r.publish(EventRejected, t.event(0, 0, err))
	r.fail(t, err)
}

// execute runs on a worker goroutine. Nothing escapes it: work failures and
// panics become values delivered through the relay, and anything else goes to
// the failure sink.
func (r *Runner) execute(ctx context.Context, t *Task) {
	defer func() {
		if p := recover(); p != nil {
			err := &PanicError{Value: p, Stack: string(debug.Stack())}
			r.log.Error("thread.executor_panic", logx.String("task", t.label()), logx.Err(err), logx.Stack(err.Stack))
			r.publish(EventError, t.event(0, 0, err))
		}
	}()

	start := time.Now()
	var queueDelay time.Duration
	if !t.promotedAt.IsZero() {
		// promotedAt comes from the runner clock, which may not be wall time.
		if d := r.clock.Now().Sub(t.promotedAt); d > 0 {
			queueDelay = d
		}
	}

	var (
		value any
		err   error
	)
	switch t.form {
	case FormAction:
		err = guard(func() error { return t.action(ctx) })
	case FormFunction:
		err = guard(func() error {
			var werr error
			value, werr = t.function(ctx)
			return werr
		})
	default:
		t.state.Store(int32(StateDone))
		uerr := fmt.Errorf("%w: %q (%d)", ErrUnsupportedForm, t.form.String(), t.form)
		r.log.Error("thread.unsupported", logx.String("task", t.label()), logx.String("id", t.id), logx.Err(uerr))
		r.publish(EventError, t.event(queueDelay, 0, uerr))
		return
	}
	dur := time.Since(start)
	t.state.Store(int32(StateDone))

	if err != nil {
		atomic.AddUint64(&r.failed, 1)
		r.log.Debug("thread.failed", logx.String("task", t.label()), logx.String("id", t.id), logx.Err(err), logx.Duration("dur", dur))
		r.publish(EventFailed, t.event(queueDelay, dur, err))
		r.fail(t, err)
		return
	}

	atomic.AddUint64(&r.completed, 1)
	r.log.Debug("thread.completed", logx.String("task", t.label()), logx.String("id", t.id), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
	r.publish(EventFinished, t.event(queueDelay, dur, nil))

	switch t.form {
	case FormFunction:
		if cb := t.onResult; cb != nil {
			r.relay.Post(func() { cb(value) })
		}
	case FormAction:
		if cb := t.onComplete; cb != nil {
			r.relay.Post(cb)
		}
	}
}

// fail delivers err to OnError on the main thread, or drops it.
func (r *Runner) fail(t *Task, err error) {
	if cb := t.onError; cb != nil {
		r.relay.Post(func() { cb(err) })
		return
	}
	atomic.AddUint64(&r.unhandled, 1)
	if !r.reportUnhandled.Load() {
		return
	}
	r.log.Warn("thread.unhandled", logx.String("task", t.label()), logx.String("id", t.id), logx.Err(err))
	r.publish(EventUnhandled, t.event(0, 0, err))
}

// guard runs fn and turns a panic into a *PanicError.
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: string(debug.Stack())}
		}
	}()
	return fn()
}
