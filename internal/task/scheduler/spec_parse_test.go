package scheduler

import (
	"strings"
	"testing"
)

func TestParseScheduleDispatch(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw    string
		kind   SpecKind
		source string
		want   string // ParsedSpec.String()
	}{
		// whitespace or a leading @ means cron
		{raw: "*/5 * * * *", kind: SpecCron, source: "cron", want: "*/5 * * * *"},
		{raw: "0 30 * * * *", kind: SpecCron, source: "cron", want: "0 30 * * * *"},
		{raw: "@daily", kind: SpecCron, source: "cron", want: "@daily"},
		{raw: "@every 55m", kind: SpecCron, source: "cron", want: "@every 55m"},
		{raw: "  cron:0 0 * * 1 ", kind: SpecCron, source: "cron", want: "0 0 * * 1"},
		{raw: "CRON:@weekly", kind: SpecCron, source: "cron", want: "@weekly"},

		// bare tokens and interval prefixes mean a fixed interval
		{raw: "2h30m", kind: SpecInterval, source: "duration", want: "@every 2h30m0s"},
		{raw: "02:30", kind: SpecInterval, source: "hhmm", want: "@every 2h30m0s"},
		{raw: "100:00", kind: SpecInterval, source: "hhmm", want: "@every 100h0m0s"},
		{raw: "interval: 45s", kind: SpecInterval, source: "duration", want: "@every 45s"},
		{raw: "Every:90s", kind: SpecInterval, source: "duration", want: "@every 1m30s"},
		{raw: "every:00:05", kind: SpecInterval, source: "hhmm", want: "@every 5m0s"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.raw, err)
			}
			if got.Kind != tt.kind || got.Source != tt.source {
				t.Fatalf("got = %+v, want kind %v source %s", got, tt.kind, tt.source)
			}
			if got.String() != tt.want {
				t.Fatalf("String() = %q, want %q", got.String(), tt.want)
			}
		})
	}
}

func TestParseScheduleRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		wantErr string
	}{
		{raw: "  ", wantErr: "schedule required"},
		{raw: "cron:", wantErr: "cron expression required"},
		{raw: "cron:61 * * * *", wantErr: "invalid cron"},
		{raw: "* * *", wantErr: "invalid cron"},
		{raw: "@fortnightly", wantErr: "invalid cron"},
		{raw: "@every soon", wantErr: "invalid cron"},
		{raw: "every:", wantErr: "interval required"},
		{raw: "interval:abc", wantErr: "invalid interval"},
		{raw: "every:0s", wantErr: "must be > 0"},
		{raw: "every:00:75", wantErr: "invalid minutes"},
		{raw: "00:00", wantErr: "invalid schedule"},
		{raw: "-5m", wantErr: "invalid schedule"},
		{raw: "not-a-schedule", wantErr: "invalid schedule"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			_, err := ParseSchedule(tt.raw)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("ParseSchedule(%q) err = %v, want containing %q", tt.raw, err, tt.wantErr)
			}
		})
	}
}

// Whatever ParseSchedule accepts must also register with the service.
func TestParsedSpecsRegister(t *testing.T) {
	t.Parallel()
	s, _, _, _ := newTestService(t)

	for _, raw := range []string{"*/5 * * * *", "0 30 * * * *", "@hourly", "cron:0 0 * * 1", "every:00:05", "2h"} {
		ps, err := ParseSchedule(raw)
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", raw, err)
		}
		if _, err := s.parser.Parse(ps.String()); err != nil {
			t.Fatalf("service parser rejected %q (from %q): %v", ps.String(), raw, err)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{in: "23:15", h: 23, m: 15},
		{in: " 7:05 ", h: 7, m: 5},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "1230", wantErr: true},
	}
	for _, tt := range tests {
		h, m, err := parseHHMM(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseHHMM(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && (h != tt.h || m != tt.m) {
			t.Fatalf("parseHHMM(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.h, tt.m)
		}
	}
}
