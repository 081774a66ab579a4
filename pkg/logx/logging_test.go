package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// Must not panic.
	l.Info("hello", String("k", "v"))
	if l.With(Int("n", 1)).IsZero() {
		t.Fatal("With() should produce a non-zero logger")
	}
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "thread"))
	l.Warn("task.failed", Err(errors.New("boom")), Int("attempt", 2))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if m["message"] != "task.failed" {
		t.Fatalf("message = %v, want task.failed", m["message"])
	}
	if m["comp"] != "thread" {
		t.Fatalf("comp = %v, want thread", m["comp"])
	}
	if m["level"] != "warn" {
		t.Fatalf("level = %v, want warn", m["level"])
	}
	if _, ok := m["caller"]; !ok {
		t.Fatal("expected caller field")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARNING ", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.raw, LevelInfo); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestAlertSinkRespectsMinLevelAndRate(t *testing.T) {
	svc, log := New(Config{
		Level:   "debug",
		Console: false,
		File:    FileConfig{Enabled: false},
		Alert:   AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 1},
	})
	defer svc.Close()

	var buf bytes.Buffer
	svc.SetAlertOutput(&buf)

	log.Info("quiet")
	log.Error("loud-1")
	log.Error("loud-2")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Fatalf("info record leaked into alert sink: %q", out)
	}
	if !strings.Contains(out, "loud-1") {
		t.Fatalf("expected first error in alert sink, got %q", out)
	}
	if strings.Contains(out, "loud-2") {
		t.Fatalf("second error should be rate limited, got %q", out)
	}
	if svc.AlertsDropped() != 1 {
		t.Fatalf("AlertsDropped = %d, want 1", svc.AlertsDropped())
	}
}
