package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: "thread.finished", Data: 1})

	for i, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != "thread.finished" {
				t.Fatalf("sub %d: Type = %q, want thread.finished", i, e.Type)
			}
			if e.Time.IsZero() {
				t.Fatalf("sub %d: expected Publish to stamp Time", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d: no event delivered", i)
		}
	}
}

func TestSubscribePrefixFilters(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.SubscribePrefix(4, "thread.")
	defer unsub()

	b.Publish(Event{Type: "schedule.fired"})
	b.Publish(Event{Type: "thread.error"})

	select {
	case e := <-ch:
		if e.Type != "thread.error" {
			t.Fatalf("Type = %q, want thread.error", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected thread.error")
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected extra event %q", e.Type)
	default:
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if got := b.Dropped(); got != 9 {
		t.Fatalf("Dropped = %d, want 9", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "x"})
}
