package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"threadrunner/internal/thread"
	logx "threadrunner/pkg/logx"
)

// AddSchedule parses schedule and registers either a cron or interval trigger.
// Every firing activates work as a thread action task delayed by delay.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "55 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
func (s *Service) AddSchedule(name, schedule string, delay time.Duration, work func(ctx context.Context) error) (string, error) {
	// Default for scheduled work is to skip a trigger while the previous run
	// is still pending or running.
	return s.AddScheduleOpt(name, schedule, Options{Delay: delay, Overlap: OverlapSkipIfRunning}, work)
}

// AddScheduleOpt is AddSchedule with options.
func (s *Service) AddScheduleOpt(name, schedule string, opt Options, work func(ctx context.Context) error) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron:
		return s.add(name, "cron", ps.Cron, opt, work)
	case SpecInterval:
		return s.AddIntervalOpt(name, ps.Every, opt, work)
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

func (s *Service) AddCron(name, spec string, work func(ctx context.Context) error) (string, error) {
	return s.add(name, "cron", spec, Options{Overlap: OverlapSkipIfRunning}, work)
}

func (s *Service) AddInterval(name string, every time.Duration, work func(ctx context.Context) error) (string, error) {
	return s.AddIntervalOpt(name, every, Options{Overlap: OverlapSkipIfRunning}, work)
}

func (s *Service) AddIntervalOpt(name string, every time.Duration, opt Options, work func(ctx context.Context) error) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.add(name, "interval", fmt.Sprintf("@every %s", every), opt, work)
}

// AddDaily triggers every day at HH:MM (scheduler timezone).
func (s *Service) AddDaily(name string, atHHMM string, work func(ctx context.Context) error) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), work)
}

// AddWeekly triggers at HH:MM on the given weekday (scheduler timezone).
func (s *Service) AddWeekly(name string, weekday time.Weekday, atHHMM string, work func(ctx context.Context) error) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * %d", m, h, int(weekday)), work)
}

func (s *Service) add(name, kind, spec string, opt Options, work func(ctx context.Context) error) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if work == nil {
		return "", errors.New("work required")
	}
	if opt.Delay < 0 {
		return "", fmt.Errorf("delay must be >= 0, got %s", opt.Delay)
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid %s schedule %q: %w", kind, spec, err)
	}

	// Upsert by name so hot reloads don't duplicate schedules.
	s.removeOnce(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.removeScheduleLocked(name)

	d := scheduleDef{
		id:   fmt.Sprintf("%s:%d", kind, time.Now().UnixNano()),
		name: name,
		spec: spec,
		work: work,
		opt:  opt,
		last: &lastTask{},
	}
	s.defs = append(s.defs, d)
	if s.c == nil {
		// Not started yet: registered when Start runs.
		return name, nil
	}
	err := s.addCronLocked(&s.defs[len(s.defs)-1])
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return name, err
	}
	args := []logx.Field{logx.String("name", name), logx.String("id", d.id), logx.String("spec", spec), logx.Duration("delay", opt.Delay)}
	if next := s.previewNextRunsLocked(spec, 4); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return name, nil
}

// AddOnce activates work once when the runner's clock reaches at. With a
// frame clock that is runner time, not wall time. The remaining time becomes
// the task's thread delay, so the task sits in the runner's pending set until
// due and Remove can cancel it until then.
func (s *Service) AddOnce(name string, at time.Time, work func(ctx context.Context) error) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if at.IsZero() {
		return "", errors.New("at required")
	}
	if work == nil {
		return "", errors.New("work required")
	}
	if s.runner == nil {
		return "", thread.ErrNoRunner
	}

	s.mu.Lock()
	_ = s.removeScheduleLocked(name)
	s.mu.Unlock()
	s.removeOnce(name)

	delay := max(at.Sub(s.runner.Now()), 0)
	t, err := s.runner.Action(work).
		Name(name).
		Delay(delay).
		OnError(s.onError(name, nil)).
		Activate()
	if err != nil {
		return "", err
	}
	s.omu.Lock()
	s.once[name] = t
	s.omu.Unlock()
	s.log.Debug("one-time schedule registered", logx.String("name", name), logx.Time("at", at), logx.Duration("delay", delay))
	return name, nil
}

// Remove unschedules everything registered under name and cancels a pending
// one-time task. It returns true if something was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	if s.removeOnce(name) {
		removed = true
	}
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeOnce(name string) bool {
	s.omu.Lock()
	t, ok := s.once[name]
	delete(s.once, name)
	s.omu.Unlock()
	if !ok {
		return false
	}
	if s.runner != nil {
		s.runner.Cancel(t)
	}
	return true
}

// removeScheduleLocked removes all defs matching name and unregisters them from cron if running.
// Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	for i := n; i < len(s.defs); i++ {
		s.defs[i] = scheduleDef{}
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	def := *d
	job := cron.FuncJob(func() { s.fire(def) })

	// Interval schedules get a startup spread so they don't all fire together
	// right after start.
	spec := strings.TrimSpace(d.spec)
	if strings.HasPrefix(spec, "@every") {
		every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every")))
		if err == nil && every > 0 {
			loc := s.loc
			if loc == nil {
				loc = time.Local
			}
			sched, jitter := phasedInterval(every, time.Now().In(loc), d.name)
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}

	d.startupSpread = 0
	eid, err := s.c.AddJob(d.spec, job)
	if err == nil {
		d.entryID = eid
	}
	return err
}

// fire activates one run of d on the thread runner.
func (s *Service) fire(d scheduleDef) {
	if s.runner == nil {
		return
	}
	if d.opt.Overlap == OverlapSkipIfRunning && d.last.busy() {
		d.last.skip()
		s.log.Debug("schedule trigger skipped: previous run in flight", logx.String("schedule", d.name))
		return
	}
	t, err := s.runner.Action(d.work).
		Name(d.name).
		Delay(d.opt.Delay).
		OnError(s.onError(d.name, d.opt.OnError)).
		Activate()
	if err != nil {
		s.reportActivateError(d.name, err)
		return
	}
	d.last.set(t)
}

func (s *Service) onError(name string, fn func(error)) func(error) {
	if fn != nil {
		return fn
	}
	return func(err error) {
		s.log.Warn("scheduled task failed", logx.String("schedule", name), logx.Err(err))
	}
}

// previewNextRunsLocked returns a short, human-friendly list of upcoming run times
// for the given cron spec. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
