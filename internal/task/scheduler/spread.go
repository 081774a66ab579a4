package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// phasedSchedule is an interval whose first run is pushed back by a fixed
// phase; later runs follow the plain interval.
type phasedSchedule struct {
	every cron.ConstantDelaySchedule
	first time.Time
}

func (p *phasedSchedule) Next(t time.Time) time.Time {
	if t.Before(p.first) {
		return p.first
	}
	return p.every.Next(t)
}

// phasedInterval builds an @every schedule whose first run lands at
// now + every + phase. The phase is derived from name, so a schedule keeps
// the same offset across restarts and reloads while different names spread
// out over min(every, maxStartupSpread).
func phasedInterval(every time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return base, 0
	}
	phase := namePhase(name, window)
	return &phasedSchedule{every: base, first: now.Add(every + phase)}, phase
}

// namePhase maps name onto whole seconds in [0, window). cron's constant
// delay schedules drop sub-second parts, so finer phases would not survive.
func namePhase(name string, window time.Duration) time.Duration {
	secs := uint64(window / time.Second)
	if secs == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return time.Duration(h.Sum64()%secs) * time.Second
}
