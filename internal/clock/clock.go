// Package clock provides the time sources sampled by the thread runner.
//
// The runner reads the clock once per activation (to stamp the creation time)
// and once per tick (to decide which pending tasks are due), so any monotonic
// source works: wall time, a manually driven clock, or a frame clock advanced
// by the host's update loop.
package clock

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// System reads the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Manual only moves when told to. It is safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t. Moving backwards is ignored to keep the source monotonic.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	if t.After(m.now) {
		m.now = t
	}
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.now = m.now.Add(d)
	}
	return m.now
}

// Frame is game-style time: it accumulates the frame deltas reported by the
// host loop, scaled by a time scale. Scale 0 pauses it.
type Frame struct {
	epoch   time.Time
	elapsed atomic.Int64  // nanoseconds
	scale   atomic.Uint64 // math.Float64bits
}

func NewFrame(epoch time.Time) *Frame {
	f := &Frame{epoch: epoch}
	f.scale.Store(math.Float64bits(1))
	return f
}

func (f *Frame) Now() time.Time {
	return f.epoch.Add(time.Duration(f.elapsed.Load()))
}

// Elapsed is the scaled time accumulated since the epoch.
func (f *Frame) Elapsed() time.Duration { return time.Duration(f.elapsed.Load()) }

func (f *Frame) Scale() float64 { return math.Float64frombits(f.scale.Load()) }

// SetScale changes the time scale. Negative values are treated as 0.
func (f *Frame) SetScale(s float64) {
	if s < 0 || math.IsNaN(s) {
		s = 0
	}
	f.scale.Store(math.Float64bits(s))
}

// Advance adds one frame's real delta, scaled, and returns the scaled step.
func (f *Frame) Advance(dt time.Duration) time.Duration {
	if dt <= 0 {
		return 0
	}
	step := time.Duration(float64(dt) * f.Scale())
	if step > 0 {
		f.elapsed.Add(int64(step))
	}
	return step
}
