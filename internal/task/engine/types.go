package engine

import (
	"context"
	"time"
)

// Config controls the worker pool.
//
// The thread runner decides when work runs; the pool only decides where.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// MaxQueueDelay is a warning threshold: jobs that waited longer than this
	// are counted as stale and logged, but still run. 0 disables the check.
	MaxQueueDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxQueueDelay < 0 {
		c.MaxQueueDelay = 0
	}
	return c
}

// Job is a unit of work executed by the pool.
type Job struct {
	ID   string
	Name string
	Run  func(ctx context.Context)
}

// JobEvent is emitted on the event bus for pool-level incidents.
type JobEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

const (
	EventDropped = "task.dropped"
	EventStale   = "task.stale"
	EventPanic   = "task.panic"
)

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Executed         uint64
	Panicked         uint64
	Stale            uint64
	Dropped          uint64
	DroppedQueueFull uint64

	MaxQueueDelay time.Duration
}
