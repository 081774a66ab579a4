package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative Go duration. Empty means 0.
// path names the field in errors, e.g. "pool.max_queue_delay".
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for 0.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

type durationField struct {
	path string
	raw  string
}

// durationFields lists every duration string in c with its config path.
func (c *Config) durationFields() []durationField {
	fields := []durationField{
		{"runner.tick", c.Runner.Tick},
		{"pool.max_queue_delay", c.Pool.MaxQueueDelay},
		{"debug.read_timeout", c.Debug.ReadTimeout},
		{"debug.write_timeout", c.Debug.WriteTimeout},
		{"debug.idle_timeout", c.Debug.IdleTimeout},
	}
	if c.Storage != nil {
		fields = append(fields, durationField{"storage.busy_timeout", c.Storage.BusyTimeout})
	}
	for i, s := range c.Schedules {
		fields = append(fields, durationField{fmt.Sprintf("schedules[%d].delay", i), s.Delay})
	}
	return fields
}
