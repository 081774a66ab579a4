package thread

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"threadrunner/internal/eventbus"
	logx "threadrunner/pkg/logx"
)

// Options wires the runner's collaborators. Clock, Relay and Pool are required.
type Options struct {
	Clock Clock
	Relay Relay
	Pool  Pool

	// Bus receives failure reports and outcome events. Optional.
	Bus eventbus.Bus
	Log logx.Logger

	// ReportUnhandled publishes EventUnhandled (and logs a warning) when work
	// fails and no OnError callback was set. Off by default: such failures
	// are dropped silently.
	ReportUnhandled bool
}

// Runner schedules tasks: immediate ones straight onto the pool, delayed ones
// into the pending set until a Tick finds them due.
type Runner struct {
	clock Clock
	relay Relay
	pool  Pool
	bus   eventbus.Bus
	log   logx.Logger

	reportUnhandled atomic.Bool
	stopped         atomic.Bool

	// mu guards pending. Tick scans under RLock and removes under Lock.
	mu      sync.RWMutex
	pending []*Task

	activated uint64
	promoted  uint64
	completed uint64
	failed    uint64
	unhandled uint64
	cancelled uint64
	rejected  uint64
}

func New(opts Options) (*Runner, error) {
	var missing []string
	if opts.Clock == nil {
		missing = append(missing, "clock")
	}
	if opts.Relay == nil {
		missing = append(missing, "relay")
	}
	if opts.Pool == nil {
		missing = append(missing, "pool")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("thread: missing collaborators: %v", missing)
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{
		clock: opts.Clock,
		relay: opts.Relay,
		pool:  opts.Pool,
		bus:   opts.Bus,
		log:   log,
	}
	r.reportUnhandled.Store(opts.ReportUnhandled)
	return r, nil
}

// Now reads the runner's clock. Delays are measured against it.
func (r *Runner) Now() time.Time { return r.clock.Now() }

// SetReportUnhandled toggles ReportUnhandled at runtime (config reload).
func (r *Runner) SetReportUnhandled(on bool) { r.reportUnhandled.Store(on) }

func (r *Runner) activate(t *Task) error {
	if r.stopped.Load() {
		return ErrStopped
	}
	t.id = uuid.NewString()
	t.createdAt = r.clock.Now()
	atomic.AddUint64(&r.activated, 1)

	if t.delay <= 0 {
		// Stop takes the write lock, so it cannot return while this hand-off
		// is in progress.
		r.mu.RLock()
		defer r.mu.RUnlock()
		if r.stopped.Load() {
			return ErrStopped
		}
		t.state.Store(int32(StateRunning))
		r.promote(t, t.createdAt)
		return nil
	}

	r.mu.Lock()
	// Re-check under the lock so Stop cannot miss a task appended after it drained the set.
	if r.stopped.Load() {
		r.mu.Unlock()
		return ErrStopped
	}
	t.state.Store(int32(StatePending))
	r.pending = append(r.pending, t)
	n := len(r.pending)
	r.mu.Unlock()

	r.log.Debug("thread.pending", logx.String("task", t.label()), logx.String("id", t.id), logx.Duration("delay", t.delay), logx.Int("pending", n))
	return nil
}

// Cancel removes t from the pending set. It reports false (and does nothing)
// when t is not pending: never activated, already promoted, finished, or
// cancelled before. Running work is never interrupted.
func (r *Runner) Cancel(t *Task) bool {
	if t == nil || t.runner != r {
		return false
	}
	r.mu.Lock()
	if !t.transition(StatePending, StateCancelled) {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(t, len(r.pending)-1)
	r.mu.Unlock()

	atomic.AddUint64(&r.cancelled, 1)
	r.log.Debug("thread.cancelled", logx.String("task", t.label()), logx.String("id", t.id))
	r.publish(EventCancelled, t.event(0, 0, nil))
	return true
}

// Tick promotes every pending task whose delay has elapsed and returns how
// many were promoted. The host calls it once per frame or period; the clock is
// sampled once per call.
//
// Promotion happens during the read-locked scan so the exclusive lock is only
// held for the set bookkeeping that follows.
func (r *Runner) Tick() int {
	now := r.clock.Now()

	r.mu.RLock()
	if len(r.pending) == 0 {
		r.mu.RUnlock()
		return 0
	}
	var (
		idx      []int
		done     []*Task
		promoted int
	)
	for i, t := range r.pending {
		if !t.due(now) {
			continue
		}
		// Concurrent Ticks may both see t; only one wins the transition.
		if t.transition(StatePending, StateRunning) {
			r.promote(t, now)
			promoted++
		}
		// Either way it is no longer pending and must leave the set.
		idx = append(idx, i)
		done = append(done, t)
	}
	r.mu.RUnlock()

	if len(idx) == 0 {
		return 0
	}

	r.mu.Lock()
	for k := len(idx) - 1; k >= 0; k-- {
		r.removeLocked(done[k], idx[k])
	}
	left := len(r.pending)
	r.mu.Unlock()

	r.log.Debug("thread.tick", logx.Int("promoted", promoted), logx.Int("pending", left))
	return promoted
}

// removeLocked deletes t from the pending set. hint is where t was last seen;
// between the scan and the removal phase other mutations may have shifted it,
// so identity is checked and the set searched from the end when the hint is stale.
// A task that is already gone is ignored.
func (r *Runner) removeLocked(t *Task, hint int) {
	i := -1
	if hint >= 0 && hint < len(r.pending) && r.pending[hint] == t {
		i = hint
	} else {
		for j := len(r.pending) - 1; j >= 0; j-- {
			if r.pending[j] == t {
				i = j
				break
			}
		}
	}
	if i < 0 {
		return
	}
	last := len(r.pending) - 1
	copy(r.pending[i:], r.pending[i+1:])
	r.pending[last] = nil
	r.pending = r.pending[:last]
}

// Pending returns how many tasks are waiting for their delay to elapse.
func (r *Runner) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

// IsPending reports whether t is currently in the pending set.
func (r *Runner) IsPending(t *Task) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pending {
		if p == t {
			return true
		}
	}
	return false
}

// Stop refuses further activations and discards the pending set (pending
// tasks are never persisted). Once it returns no task reaches the pool through
// this runner. Work already handed to the pool keeps running and still
// delivers its callbacks. It returns the number of discarded tasks.
func (r *Runner) Stop() int {
	if !r.stopped.CompareAndSwap(false, true) {
		return 0
	}
	r.mu.Lock()
	drop := r.pending
	r.pending = nil
	r.mu.Unlock()

	n := 0
	for _, t := range drop {
		if t.transition(StatePending, StateCancelled) {
			n++
		}
	}
	atomic.AddUint64(&r.cancelled, uint64(n))
	r.log.Info("thread runner stopped", logx.Int("discarded", n))
	return n
}

func (r *Runner) Snapshot() Snapshot {
	return Snapshot{
		Pending:   r.Pending(),
		Activated: atomic.LoadUint64(&r.activated),
		Promoted:  atomic.LoadUint64(&r.promoted),
		Completed: atomic.LoadUint64(&r.completed),
		Failed:    atomic.LoadUint64(&r.failed),
		Unhandled: atomic.LoadUint64(&r.unhandled),
		Cancelled: atomic.LoadUint64(&r.cancelled),
		Rejected:  atomic.LoadUint64(&r.rejected),
		Stopped:   r.stopped.Load(),
	}
}

func (r *Runner) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func (t *Task) event(queueDelay, dur time.Duration, err error) TaskEvent {
	ev := TaskEvent{
		ID:         t.id,
		Name:       t.name,
		Form:       t.form.String(),
		Delay:      t.delay,
		QueueDelay: queueDelay,
		Duration:   dur,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// IsRejected reports whether err means the pool never ran the task.
func IsRejected(err error) bool { return errors.Is(err, ErrRejected) }
