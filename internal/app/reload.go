package app

import (
	"context"
	"strings"
	"time"

	"threadrunner/internal/config"
	logx "threadrunner/pkg/logx"
)

// reloadLoop applies published configs to the live services.
func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary for logx.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		coalesce:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break coalesce
				}
			}
			a.apply(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, schedChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(schedChanged) > 0 {
		a.log.Debug("schedule changes detected", logx.Any("schedules", schedChanged))
	}

	for _, s := range sections {
		if s == "storage" || s == "history" {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if rs, err := mapRunnerConfig(newCfg); err != nil {
		a.log.Warn("invalid runner config; keeping previous", logx.Err(err))
	} else {
		if rs.Tick != a.tick || rs.Frame != (a.frame != nil) {
			a.log.Warn("runner tick/clock changed; restart required for changes to take effect")
		}
		if a.frame != nil {
			a.frame.SetScale(rs.TimeScale)
		}
		a.runner.SetReportUnhandled(newCfg.Runner.ReportUnhandled)
	}

	// apply scheduler/pool updates (live)
	prevSchedEnabled := a.sched.Enabled()
	prevEngEnabled := a.engine.Enabled()

	poolCfg, err := mapPoolConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid pool config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(c, poolCfg)
	}
	schedCfg, err := mapSchedulerConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(schedCfg)
	}

	newEngEnabled := a.engine.Enabled()
	newSchedEnabled := a.sched.Enabled()

	// enable/disable services on the fly (pool first on startup)
	if prevSchedEnabled && !newSchedEnabled {
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	}
	// engine.Apply already started or stopped the pool.
	if prevEngEnabled != newEngEnabled {
		a.log.Info("task engine toggled via config", logx.Bool("enabled", newEngEnabled))
	}
	if !prevSchedEnabled && newSchedEnabled {
		a.log.Info("scheduler enabled via config")
		a.sched.Start(c)
	}

	if len(schedChanged) > 0 {
		a.syncSchedules(newCfg)
	}

	if dc, err := mapDebugConfig(newCfg); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(c, dc)
	}

	a.log.Info("config reloaded", fields...)
}
