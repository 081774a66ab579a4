package app

import (
	"fmt"
	"strings"
	"time"

	"threadrunner/internal/config"
	"threadrunner/internal/observability/debug"
	"threadrunner/internal/storage"
	"threadrunner/internal/task/engine"
	"threadrunner/internal/task/scheduler"
	logx "threadrunner/pkg/logx"
)

const defaultTick = 16 * time.Millisecond

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled,
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
		},
	}
}

// runnerSettings is the parsed runner section.
type runnerSettings struct {
	Tick      time.Duration
	Frame     bool
	TimeScale float64
}

func mapRunnerConfig(cfg *config.Config) (runnerSettings, error) {
	tick, err := config.ParseDurationOrDefault("runner.tick", cfg.Runner.Tick, defaultTick)
	if err != nil {
		return runnerSettings{}, err
	}
	rs := runnerSettings{Tick: tick, TimeScale: cfg.Runner.TimeScale}
	switch strings.ToLower(strings.TrimSpace(cfg.Runner.Clock)) {
	case "", "system":
	case "frame":
		rs.Frame = true
	default:
		return runnerSettings{}, fmt.Errorf("runner.clock: unknown clock %q", cfg.Runner.Clock)
	}
	if rs.TimeScale <= 0 {
		rs.TimeScale = 1
	}
	return rs, nil
}

func mapPoolConfig(cfg *config.Config) (engine.Config, error) {
	maxQueueDelay, err := config.ParseDurationField("pool.max_queue_delay", cfg.Pool.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:       cfg.Pool.IsEnabled(),
		Workers:       cfg.Pool.Workers,
		QueueSize:     cfg.Pool.QueueSize,
		MaxQueueDelay: maxQueueDelay,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path, Retain: sc.Retain}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, Retain: sc.Retain}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDebugConfig(cfg *config.Config) (debug.Config, error) {
	dc := cfg.Debug
	read, err := config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 10*time.Second)
	if err != nil {
		return debug.Config{}, err
	}
	// Profiles stream for up to 30s by default, so the write timeout must exceed that.
	write, err := config.ParseDurationOrDefault("debug.write_timeout", dc.WriteTimeout, 60*time.Second)
	if err != nil {
		return debug.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, 60*time.Second)
	if err != nil {
		return debug.Config{}, err
	}
	return debug.Config{
		Enabled:       dc.Enabled,
		Addr:          strings.TrimSpace(dc.Addr),
		Token:         strings.TrimSpace(dc.Token),
		AllowInsecure: dc.AllowInsecure,
		Pprof:         dc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// validate rejects a reload that the live services could not apply.
func validate(cfg *config.Config) error {
	if _, err := mapRunnerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPoolConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	if cfg.Scheduler.Enabled && !cfg.Pool.IsEnabled() {
		return fmt.Errorf("pool.enabled cannot be false while scheduler.enabled is true")
	}
	for i, s := range cfg.Schedules {
		if _, err := scheduler.ParseSchedule(s.Schedule); err != nil {
			return fmt.Errorf("schedules[%d].schedule: %w", i, err)
		}
	}
	return nil
}
