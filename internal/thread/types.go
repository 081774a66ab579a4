package thread

import (
	"context"
	"sync/atomic"
	"time"
)

// Clock supplies the runner's notion of "now". It must be monotonic.
type Clock interface {
	Now() time.Time
}

// Relay runs callbacks on the host's main thread at some later point. Post
// must not call fn before returning: the runner may post while holding its lock.
type Relay interface {
	Post(fn func())
}

// Pool runs fn on some goroutine other than the caller's.
// A non-nil error means fn will never run.
type Pool interface {
	Go(name string, fn func(ctx context.Context)) error
}

// Form tells which kind of work a task carries.
type Form uint8

const (
	FormUnknown Form = iota
	FormAction
	FormFunction
)

func (f Form) String() string {
	switch f {
	case FormAction:
		return "action"
	case FormFunction:
		return "function"
	default:
		return "unknown"
	}
}

type State int32

const (
	StateInert State = iota
	StatePending
	StateRunning
	StateDone
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateInert:
		return "inert"
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	default:
		return "invalid"
	}
}

// Task is one activated unit of work. The pointer is the cancellation handle;
// every field except state is fixed once Activate returns.
type Task struct {
	runner *Runner

	id   string
	name string

	form     Form
	action   func(ctx context.Context) error
	function func(ctx context.Context) (any, error)

	delay     time.Duration
	createdAt time.Time

	onComplete func()
	onResult   func(any)
	onError    func(error)

	// promotedAt is written before the task is handed to the pool and read
	// by the worker afterwards.
	promotedAt time.Time

	state atomic.Int32
}

func (t *Task) ID() string           { return t.id }
func (t *Task) Name() string         { return t.name }
func (t *Task) Form() Form           { return t.form }
func (t *Task) Delay() time.Duration { return t.delay }
func (t *Task) CreatedAt() time.Time { return t.createdAt }
func (t *Task) DueAt() time.Time     { return t.createdAt.Add(t.delay) }
func (t *Task) State() State         { return State(t.state.Load()) }

func (t *Task) label() string {
	if t.name != "" {
		return t.name
	}
	return t.form.String()
}

// due reports whether createdAt + delay <= now.
func (t *Task) due(now time.Time) bool {
	return !t.DueAt().After(now)
}

func (t *Task) transition(from, to State) bool {
	return t.state.CompareAndSwap(int32(from), int32(to))
}

// Event payloads published on the bus.

const (
	EventError     = "thread.error"
	EventUnhandled = "thread.unhandled"
	EventFinished  = "thread.finished"
	EventFailed    = "thread.failed"
	EventRejected  = "thread.rejected"
	EventCancelled = "thread.cancelled"
)

// TaskEvent describes a task outcome.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name,omitempty"`
	Form       string        `json:"form"`
	Delay      time.Duration `json:"delay"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Pending   int
	Activated uint64
	Promoted  uint64
	Completed uint64
	Failed    uint64
	Unhandled uint64
	Cancelled uint64
	Rejected  uint64
	Stopped   bool
}
