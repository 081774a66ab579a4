//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "threadrunner/pkg/logx"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "runner.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	want := Outcome{At: time.Now().UTC(), Kind: "thread.failed", TaskID: "x", Name: "job", Form: "action", Delay: time.Second, Duration: 3 * time.Millisecond, Error: "boom"}
	if err := st.AppendOutcome(ctx, Outcome{Kind: "thread.finished", TaskID: "w"}); err != nil {
		t.Fatalf("AppendOutcome: %v", err)
	}
	if err := st.AppendOutcome(ctx, want); err != nil {
		t.Fatalf("AppendOutcome: %v", err)
	}
	got, err := st.RecentOutcomes(ctx, 1)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	g := got[0]
	if g.TaskID != "x" || g.Error != "boom" || g.Delay != time.Second || g.Duration != 3*time.Millisecond || !g.At.Equal(want.At) {
		t.Fatalf("got = %+v, want %+v", g, want)
	}
}
