package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "16ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig    `json:"logging"`
	Runner    RunnerConfig     `json:"runner"`
	Pool      PoolConfig       `json:"pool"`
	Scheduler SchedulerConfig  `json:"scheduler"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	History   HistoryConfig    `json:"history"`
	Debug     DebugConfig      `json:"debug"`
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert mirrors high-severity records to stderr, rate limited.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RunnerConfig controls the thread runner and the host main loop.
//
// Defaults (when fields are omitted/zero):
//   - tick: "16ms"
//   - clock: "system"
//   - time_scale: 1 (frame clock only)
type RunnerConfig struct {
	// Tick is the main loop frame interval.
	Tick string `json:"tick,omitempty"`
	// Clock is "system" (wall time) or "frame" (accumulated, scalable frame time).
	Clock     string  `json:"clock,omitempty"`
	TimeScale float64 `json:"time_scale,omitempty"`
	// ReportUnhandled publishes failures of tasks without an error callback.
	ReportUnhandled bool `json:"report_unhandled"`
}

// PoolConfig controls the worker pool.
//
// Enabled is a pointer so we can distinguish "omitted" (defaults to true)
// from an explicit false.
//
// Defaults: workers 2, queue_size 256, max_queue_delay "0s" (disabled).
type PoolConfig struct {
	Enabled   *bool `json:"enabled,omitempty"`
	Workers   int   `json:"workers,omitempty"`
	QueueSize int   `json:"queue_size,omitempty"`
	// MaxQueueDelay only warns: late jobs still run.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`
}

func (p PoolConfig) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional outcome journal.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/threadrunner" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	Retain      int    `json:"retain,omitempty"`
}

type HistoryConfig struct {
	Size int `json:"size,omitempty"`
}

// DebugConfig controls the diagnostics HTTP server (/healthz, /status,
// /history and optionally /debug/pprof/). A non-loopback addr needs a token
// or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// ScheduleConfig declares a recurring task. Each run logs Message; Delay is
// the thread delay applied after every trigger.
type ScheduleConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Delay    string `json:"delay,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Validate checks what can be checked without building services.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	for _, f := range c.durationFields() {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Runner.Clock)) {
	case "", "system", "frame":
	default:
		errs = append(errs, fmt.Errorf("runner.clock: unknown clock %q (use system or frame)", c.Runner.Clock))
	}
	if c.Runner.TimeScale < 0 {
		errs = append(errs, errors.New("runner.time_scale: must be >= 0"))
	}
	if c.Pool.Workers < 0 || c.Pool.QueueSize < 0 {
		errs = append(errs, errors.New("pool: workers and queue_size must be >= 0"))
	}
	seen := map[string]bool{}
	for i, s := range c.Schedules {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("schedules[%d].name: required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("schedules[%d].name: duplicate %q", i, name))
		}
		seen[name] = true
		if strings.TrimSpace(s.Schedule) == "" {
			errs = append(errs, fmt.Errorf("schedules[%d].schedule: required", i))
		}
	}
	return errors.Join(errs...)
}
