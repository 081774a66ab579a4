package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "threadrunner/pkg/logx"
)

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for file driver without path")
	}
}

func TestFileStoreAppendAndReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "data", "runner.db")}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	at := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 3; i++ {
		o := Outcome{At: at.Add(time.Duration(i) * time.Second), Kind: "thread.finished", TaskID: fmt.Sprintf("t%d", i), Duration: time.Millisecond}
		if err := st.AppendOutcome(ctx, o); err != nil {
			t.Fatalf("AppendOutcome: %v", err)
		}
	}
	got, err := st.RecentOutcomes(ctx, 2)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if len(got) != 2 || got[0].TaskID != "t2" || got[1].TaskID != "t1" {
		t.Fatalf("recent = %+v, want t2, t1", got)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.AppendOutcome(ctx, Outcome{}); err != ErrClosed {
		t.Fatalf("append after close err = %v, want ErrClosed", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "data", "runner.outcomes.jsonl")); err != nil {
		t.Fatalf("journal file missing: %v", err)
	}

	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, err = st2.RecentOutcomes(ctx, 0)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if len(got) != 3 || got[0].TaskID != "t2" || !got[2].At.Equal(at) || got[0].Duration != time.Millisecond {
		t.Fatalf("after reopen = %+v", got)
	}
}

func TestFileStoreSkipsTornLine(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	journal := filepath.Join(dir, "x.outcomes.jsonl")
	content := `{"kind":"thread.failed","task_id":"a","error":"boom"}` + "\n" + `{"kind":"thread.fin`
	if err := os.WriteFile(journal, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "x.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	got, _ := st.RecentOutcomes(context.Background(), 10)
	if len(got) != 1 || got[0].TaskID != "a" || got[0].Error != "boom" {
		t.Fatalf("recent = %+v", got)
	}
}

func TestFileStoreCompacts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "c.db"), Retain: 5}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 12; i++ {
		if err := st.AppendOutcome(ctx, Outcome{Kind: "thread.finished", TaskID: fmt.Sprintf("t%02d", i)}); err != nil {
			t.Fatalf("AppendOutcome: %v", err)
		}
	}
	_ = st.Close()

	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	fs := st2.(*fileStore)
	// 10 lines triggered a compaction to 5, then two more were appended.
	if fs.lines != 7 {
		t.Fatalf("lines on disk = %d, want 7", fs.lines)
	}
	got, _ := st2.RecentOutcomes(ctx, 0)
	if len(got) != 5 || got[0].TaskID != "t11" || got[4].TaskID != "t07" {
		t.Fatalf("recent = %+v", got)
	}
}
