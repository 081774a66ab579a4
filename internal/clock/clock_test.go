package clock

import (
	"testing"
	"time"
)

func TestManualIsMonotonic(t *testing.T) {
	t.Parallel()
	start := time.Unix(100, 0)
	m := NewManual(start)
	m.Advance(5 * time.Second)
	m.Set(start) // backwards: ignored
	m.Advance(-time.Second)
	if got, want := m.Now(), time.Unix(105, 0); !got.Equal(want) {
		t.Fatalf("Now = %v, want %v", got, want)
	}
}

func TestFrameScaleAndPause(t *testing.T) {
	t.Parallel()
	f := NewFrame(time.Unix(0, 0))
	f.Advance(100 * time.Millisecond)
	f.SetScale(2)
	f.Advance(100 * time.Millisecond)
	f.SetScale(0)
	f.Advance(time.Hour)
	f.SetScale(-3)
	if f.Scale() != 0 {
		t.Fatalf("Scale = %v, want 0", f.Scale())
	}
	if got, want := f.Elapsed(), 300*time.Millisecond; got != want {
		t.Fatalf("Elapsed = %v, want %v", got, want)
	}
	if got, want := f.Now(), time.Unix(0, 0).Add(300*time.Millisecond); !got.Equal(want) {
		t.Fatalf("Now = %v, want %v", got, want)
	}
}
