package app

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"threadrunner/internal/history"
	"threadrunner/internal/mainloop"
	"threadrunner/internal/task/engine"
	"threadrunner/internal/task/scheduler"
	logx "threadrunner/pkg/logx"
)

// Status is the diagnostics view served at /status.
type Status struct {
	Started       time.Time          `json:"started"`
	Uptime        string             `json:"uptime"`
	Pool          engine.Snapshot    `json:"pool"`
	MainLoop      mainloop.Stats     `json:"main_loop"`
	Scheduler     scheduler.Snapshot `json:"scheduler"`
	History       history.Snapshot   `json:"history"`
	EventsDropped uint64             `json:"events_dropped"`
}

func (a *App) Status() Status {
	return Status{
		Started:       a.started,
		Uptime:        time.Since(a.started).Truncate(time.Second).String(),
		Pool:          a.engine.Snapshot(),
		MainLoop:      a.queue.Stats(),
		Scheduler:     a.sched.Snapshot(),
		History:       a.hist.Snapshot(),
		EventsDropped: a.bus.Dropped(),
	}
}

const statusEvery = time.Minute

// statusLoop periodically logs a one-line health summary.
func (a *App) statusLoop(c context.Context) {
	t := time.NewTicker(statusEvery)
	defer t.Stop()
	for {
		select {
		case <-c.Done():
			return
		case <-t.C:
			a.logStatus()
		}
	}
}

func (a *App) logStatus() {
	rs := a.runner.Snapshot()
	es := a.engine.Snapshot()
	qs := a.queue.Stats()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	a.log.Info("status",
		logx.String("up_since", humanize.Time(a.started)),
		logx.Int("pending", rs.Pending),
		logx.String("activated", humanize.Comma(int64(rs.Activated))),
		logx.String("completed", humanize.Comma(int64(rs.Completed))),
		logx.Uint64("failed", rs.Failed),
		logx.Uint64("rejected", rs.Rejected),
		logx.Int("pool_queue", es.QueueLen),
		logx.Int("pool_in_flight", es.InFlight),
		logx.Int("callbacks_queued", qs.Queued),
		logx.Uint64("callback_panics", qs.Panicked),
		logx.Uint64("events_dropped", a.bus.Dropped()),
		logx.String("heap", humanize.IBytes(ms.HeapAlloc)),
		logx.Int("goroutines", runtime.NumGoroutine()),
	)
}

// summary is the human-friendly totals line logged on stop.
func (a *App) summary() string {
	rs := a.runner.Snapshot()
	var recorded uint64
	for _, n := range a.hist.Snapshot().Counts {
		recorded += n
	}
	return fmt.Sprintf("%s activated, %s completed, %s failed, %s cancelled, %s rejected; %s outcomes recorded; up %s",
		humanize.Comma(int64(rs.Activated)),
		humanize.Comma(int64(rs.Completed)),
		humanize.Comma(int64(rs.Failed)),
		humanize.Comma(int64(rs.Cancelled)),
		humanize.Comma(int64(rs.Rejected)),
		humanize.Comma(int64(recorded)),
		humanize.RelTime(a.started, time.Now(), "", ""),
	)
}
