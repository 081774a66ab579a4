package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"threadrunner/internal/eventbus"
	"threadrunner/internal/storage"
	"threadrunner/internal/thread"
	logx "threadrunner/pkg/logx"
)

type memStore struct {
	mu    sync.Mutex
	items []storage.Outcome
	err   error
}

func (m *memStore) AppendOutcome(ctx context.Context, o storage.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, o)
	return nil
}

func (m *memStore) RecentOutcomes(ctx context.Context, limit int) ([]storage.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Outcome
	for i := len(m.items) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.items[i])
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func taskEvent(typ, id string) eventbus.Event {
	return eventbus.Event{Type: typ, Time: time.Unix(1, 0), Data: thread.TaskEvent{ID: id, Form: "action"}}
}

func TestRecordFiltersTerminalEvents(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	r := New(st, 10, logx.Nop())
	ctx := context.Background()

	r.Record(ctx, taskEvent(thread.EventFinished, "a"))
	r.Record(ctx, taskEvent(thread.EventUnhandled, "b"))
	r.Record(ctx, taskEvent(thread.EventFailed, "c"))
	r.Record(ctx, eventbus.Event{Type: thread.EventFinished, Data: "not a task event"})

	got := r.Recent(0)
	if len(got) != 2 || got[0].TaskID != "c" || got[1].TaskID != "a" {
		t.Fatalf("recent = %+v, want c, a", got)
	}
	if st.len() != 2 {
		t.Fatalf("store items = %d, want 2", st.len())
	}
	if c := r.Snapshot().Counts; c[thread.EventFinished] != 1 || c[thread.EventFailed] != 1 {
		t.Fatalf("counts = %v", c)
	}
}

func TestRingWrapsAndRestores(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	r := New(st, 3, logx.Nop())
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		r.Record(ctx, taskEvent(thread.EventFinished, id))
	}
	got := r.Recent(0)
	if len(got) != 3 || got[0].TaskID != "5" || got[2].TaskID != "3" {
		t.Fatalf("recent = %+v, want 5,4,3", got)
	}
	if got := r.Recent(1); len(got) != 1 || got[0].TaskID != "5" {
		t.Fatalf("Recent(1) = %+v", got)
	}

	restored := New(st, 3, logx.Nop())
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got = restored.Recent(0)
	if len(got) != 3 || got[0].TaskID != "5" || got[2].TaskID != "3" {
		t.Fatalf("restored = %+v, want 5,4,3", got)
	}
}

func TestStoreErrorsAreCounted(t *testing.T) {
	t.Parallel()
	r := New(&memStore{err: errors.New("disk full")}, 4, logx.Nop())
	r.Record(context.Background(), taskEvent(thread.EventFinished, "a"))
	if r.Snapshot().StoreErrors != 1 {
		t.Fatalf("StoreErrors = %d, want 1", r.Snapshot().StoreErrors)
	}
	if len(r.Recent(0)) != 1 {
		t.Fatal("outcome should still be kept in memory")
	}
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	st := &memStore{}
	r := New(st, 8, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		close(started)
		done <- r.Run(ctx, bus)
	}()
	<-started

	// Publish until the subscription is live and the event lands.
	deadline := time.Now().Add(2 * time.Second)
	for st.len() == 0 && time.Now().Before(deadline) {
		bus.Publish(taskEvent(thread.EventCancelled, "x"))
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	if st.len() == 0 {
		t.Fatal("no outcome recorded from the bus")
	}
}
