package scheduler

import (
	"sort"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	tz := s.cfg.Timezone
	defs := make([]scheduleDef, len(s.defs))
	copy(defs, s.defs)
	c := s.c
	loc := s.loc
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}

	items := make([]ScheduleInfo, 0, len(defs))
	for _, d := range defs {
		it := ScheduleInfo{ID: d.id, Name: d.name, Spec: d.spec, Delay: d.opt.Delay}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		it.Fired, it.Skipped = d.last.counts()
		items = append(items, it)
	}

	s.omu.Lock()
	once := make([]OnceInfo, 0, len(s.once))
	for name, t := range s.once {
		once = append(once, OnceInfo{Name: name, DueAt: t.DueAt(), State: t.State().String()})
	}
	s.omu.Unlock()
	sort.Slice(once, func(i, j int) bool { return once[i].Name < once[j].Name })

	snap := Snapshot{
		Enabled:   enabled,
		Timezone:  tz,
		Schedules: items,
		Once:      once,
	}
	if s.runner != nil {
		snap.Runner = s.runner.Snapshot()
	}
	return snap
}
