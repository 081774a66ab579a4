package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

const defaultRetain = 10000

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines journal next to Path
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Retain caps how many outcomes are kept; older ones are pruned.
	// 0 means the default.
	Retain int
}

func (c Config) retain() int {
	if c.Retain <= 0 {
		return defaultRetain
	}
	return c.Retain
}

// Outcome is one terminal task event. Keep it compact and schema-stable.
type Outcome struct {
	At         time.Time     `json:"at"`
	Kind       string        `json:"kind"` // event type, e.g. "thread.finished"
	TaskID     string        `json:"task_id"`
	Name       string        `json:"name,omitempty"`
	Form       string        `json:"form,omitempty"`
	Delay      time.Duration `json:"delay"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}
