package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"threadrunner/internal/thread"
	logx "threadrunner/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Berlin"
}

type OverlapPolicy int

const (
	// OverlapAllow activates a new task on every trigger.
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning skips a trigger while the previous task of the same
	// schedule is still pending or running.
	OverlapSkipIfRunning
)

type Options struct {
	// Delay is the thread delay of every activated task.
	Delay   time.Duration
	Overlap OverlapPolicy
	// OnError is called on the main thread when a run fails. When nil the
	// scheduler logs the failure.
	OnError func(err error)
}

type scheduleDef struct {
	id            string
	name          string
	spec          string // cron spec or @every
	work          func(ctx context.Context) error
	opt           Options
	entryID       cron.EntryID
	startupSpread time.Duration // initial random delay for @every schedules

	// last is the most recent task this schedule activated.
	last *lastTask
}

type lastTask struct {
	mu    sync.Mutex
	task  *thread.Task
	fired uint64
	skips uint64
}

func (l *lastTask) busy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.task == nil {
		return false
	}
	st := l.task.State()
	return st == thread.StatePending || st == thread.StateRunning
}

func (l *lastTask) set(t *thread.Task) {
	l.mu.Lock()
	l.task = t
	l.fired++
	l.mu.Unlock()
}

func (l *lastTask) skip() {
	l.mu.Lock()
	l.skips++
	l.mu.Unlock()
}

func (l *lastTask) counts() (fired, skips uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fired, l.skips
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	runner *thread.Runner

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// Activation error throttling: key is schedule name.
	actMu        sync.Mutex
	lastActivate map[string]time.Time

	// One-time schedules are plain delayed thread tasks; the handle is kept so
	// Remove can cancel them while they are pending.
	omu  sync.Mutex
	once map[string]*thread.Task
}

type ScheduleInfo struct {
	ID      string
	Name    string
	Spec    string
	Delay   time.Duration
	Next    time.Time
	Prev    time.Time
	Fired   uint64
	Skipped uint64
}

type OnceInfo struct {
	Name  string
	DueAt time.Time
	State string
}

type Snapshot struct {
	Enabled   bool
	Timezone  string
	Schedules []ScheduleInfo
	Once      []OnceInfo
	Runner    thread.Snapshot
}
