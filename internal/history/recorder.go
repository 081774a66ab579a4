// Package history records terminal task outcomes published on the event bus.
package history

import (
	"context"
	"sync"
	"time"

	"threadrunner/internal/eventbus"
	"threadrunner/internal/storage"
	"threadrunner/internal/thread"
	logx "threadrunner/pkg/logx"
)

const (
	defaultSize   = 200
	subBuffer     = 256
	appendTimeout = 2 * time.Second
)

// Subscriber is the part of the event bus the recorder needs.
type Subscriber interface {
	SubscribePrefix(buffer int, prefix string) (<-chan eventbus.Event, func())
}

// recorded lists the event types that end a task's life.
var recorded = map[string]bool{
	thread.EventFinished:  true,
	thread.EventFailed:    true,
	thread.EventRejected:  true,
	thread.EventCancelled: true,
	thread.EventError:     true,
}

// Recorder keeps a ring of recent outcomes and, when a store is configured,
// journals each one.
type Recorder struct {
	store storage.Store
	log   logx.Logger

	mu     sync.Mutex
	ring   []storage.Outcome
	next   int
	full   bool
	counts map[string]uint64
	errs   uint64
}

func New(store storage.Store, size int, log logx.Logger) *Recorder {
	if size <= 0 {
		size = defaultSize
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{
		store:  store,
		log:    log.With(logx.String("comp", "history")),
		ring:   make([]storage.Outcome, size),
		counts: map[string]uint64{},
	}
}

// Restore preloads the ring from the store, oldest first.
func (r *Recorder) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	items, err := r.store.RecentOutcomes(ctx, len(r.ring))
	if err != nil {
		return err
	}
	r.mu.Lock()
	for i := len(items) - 1; i >= 0; i-- {
		r.pushLocked(items[i])
	}
	r.mu.Unlock()
	r.log.Debug("history restored", logx.Int("items", len(items)))
	return nil
}

// Run consumes thread events until ctx is done.
func (r *Recorder) Run(ctx context.Context, bus Subscriber) error {
	ch, unsub := bus.SubscribePrefix(subBuffer, "thread.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx), ch)
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			r.Record(ctx, e)
		}
	}
}

// flush records events already buffered when the run ends.
func (r *Recorder) flush(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			r.Record(ctx, e)
		default:
			return
		}
	}
}

// Record stores e if it is a terminal task event.
func (r *Recorder) Record(ctx context.Context, e eventbus.Event) {
	if !recorded[e.Type] {
		return
	}
	ev, ok := e.Data.(thread.TaskEvent)
	if !ok {
		return
	}
	o := storage.Outcome{
		At:         e.Time,
		Kind:       e.Type,
		TaskID:     ev.ID,
		Name:       ev.Name,
		Form:       ev.Form,
		Delay:      ev.Delay,
		QueueDelay: ev.QueueDelay,
		Duration:   ev.Duration,
		Error:      ev.Error,
	}

	r.mu.Lock()
	r.pushLocked(o)
	r.counts[o.Kind]++
	r.mu.Unlock()

	if r.store == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	if err := r.store.AppendOutcome(actx, o); err != nil {
		r.mu.Lock()
		r.errs++
		r.mu.Unlock()
		r.log.Warn("history append failed", logx.String("task", o.TaskID), logx.Err(err))
	}
}

func (r *Recorder) pushLocked(o storage.Outcome) {
	r.ring[r.next] = o
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns up to limit outcomes, newest first. limit <= 0 returns all.
func (r *Recorder) Recent(limit int) []storage.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.next
	if r.full {
		n = len(r.ring)
	}
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]storage.Outcome, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}

type Snapshot struct {
	Size        int
	Counts      map[string]uint64
	StoreErrors uint64
	Persisted   bool
}

func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]uint64, len(r.counts))
	for k, v := range r.counts {
		counts[k] = v
	}
	return Snapshot{Size: len(r.ring), Counts: counts, StoreErrors: r.errs, Persisted: r.store != nil}
}
