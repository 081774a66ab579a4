package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"threadrunner/internal/eventbus"
	rtsup "threadrunner/internal/runtime/supervisor"
	logx "threadrunner/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service is a fixed-size worker pool fed by a bounded queue.
//
// A job accepted by Enqueue or Submit runs exactly once: jobs still queued when
// the pool stops are run by Stop itself with an already-canceled context.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q chan queuedJob

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	// senders tracks enqueue calls that passed the running check, so Stop can
	// wait for them before draining the queue.
	senders sync.WaitGroup

	// While resizing, enqueue parks jobs in held (up to the new queue size)
	// instead of refusing them; Start moves them into the new queue.
	resizing bool
	held     []queuedJob

	inFlight int32
	idSeq    uint64

	executed         uint64
	panicked         uint64
	stale            uint64
	dropped          uint64
	droppedQueueFull uint64

	lastQueueFullWarnAt int64
	lastStaleWarnAt     int64
}

type queuedJob struct {
	job        Job
	enqueuedAt time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg.withDefaults(),
		log: log,
		bus: bus,
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Supervisor returns the pool's internal supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

// Apply swaps the configuration. A running pool is restarted when its size changes.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	if !running {
		if cfg.Enabled && !prev.Enabled {
			s.Start(ctx)
		}
		return
	}
	if !cfg.Enabled {
		s.Stop(ctx)
		return
	}
	if prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize {
		s.log.Info("task engine resizing", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
		s.mu.Lock()
		s.resizing = true
		s.mu.Unlock()
		s.Stop(ctx)
		s.Start(ctx)
		s.releaseHeld()
	}
}

// releaseHeld ends a resize that Start did not complete: held jobs run here
// with a canceled context, as Stop does with a leftover queue.
func (s *Service) releaseHeld() {
	s.mu.Lock()
	if !s.resizing {
		s.mu.Unlock()
		return
	}
	held := s.held
	s.held = nil
	s.resizing = false
	s.mu.Unlock()

	if len(held) == 0 {
		return
	}
	s.log.Warn("task engine did not restart after resize; running held jobs", logx.Int("jobs", len(held)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, qj := range held {
		s.execOne(ctx, qj)
	}
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg
	if !cfg.Enabled {
		s.mu.Unlock()
		return
	}

	// Start is idempotent.
	if s.stopCh != nil {
		// If stopping, wait for it to finish before restarting.
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	s.q = make(chan queuedJob, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh
	queue := s.q
	workers := cfg.Workers
	atomic.StoreInt32(&s.inFlight, 0)
	// A fresh queue holds at least QueueSize, which bounds held.
	for _, qj := range s.held {
		queue <- qj
	}
	held := len(s.held)
	s.held = nil
	s.resizing = false

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "taskengine"))),
		// A worker failure must not take the host down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		},
			rtsup.WithPublishFirstError(true),
		)
	}

	s.log.Info("task engine started", logx.Int("workers", workers), logx.Int("queue", cap(queue)), logx.Int("held", held))
}

// Stop shuts the workers down and runs whatever is still queued on the calling
// side. It returns when that is done or ctx expires; in the latter case the
// drain finishes in the background.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	queue := s.q
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}

	go func() {
		s.senders.Wait()
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		n := s.drain(queue)

		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		if n > 0 {
			s.log.Info("task engine drained queue on stop", logx.Int("jobs", n))
		}
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// Go adapts the pool to the thread runner: it never blocks and a non-nil error
// means fn will not run.
func (s *Service) Go(name string, fn func(ctx context.Context)) error {
	return s.Enqueue(Job{Name: name, Run: fn})
}

// Enqueue tries to enqueue a job without blocking. If the queue is full, the job is dropped.
//
// Use Submit() when you want backpressure instead of dropping.
func (s *Service) Enqueue(j Job) error {
	return s.enqueue(context.Background(), j, false)
}

// Submit enqueues a job and blocks until it is accepted, ctx is canceled, or the pool stops.
func (s *Service) Submit(ctx context.Context, j Job) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.enqueue(ctx, j, true)
}

func (s *Service) enqueue(ctx context.Context, j Job, block bool) error {
	if j.Run == nil {
		return ErrNilJob
	}
	j.Name = strings.TrimSpace(j.Name)
	if j.Name == "" {
		j.Name = "job"
	}
	now := time.Now()
	if strings.TrimSpace(j.ID) == "" {
		j.ID = s.newJobID(now)
	}

	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	stopCh := s.stopCh
	stopping := s.stopDone != nil
	if s.resizing && cfg.Enabled {
		if len(s.held) < cfg.QueueSize {
			s.held = append(s.held, queuedJob{job: j, enqueuedAt: now})
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
		s.onQueueFullDropped(now, j, q)
		return ErrQueueFull
	}
	if !cfg.Enabled || q == nil || stopping {
		s.mu.Unlock()
		switch {
		case !cfg.Enabled:
			return ErrDisabled
		case stopping:
			return ErrStopping
		default:
			return ErrStopped
		}
	}
	s.senders.Add(1)
	s.mu.Unlock()
	defer s.senders.Done()

	qj := queuedJob{job: j, enqueuedAt: now}

	if !block {
		select {
		case q <- qj:
			return nil
		default:
			s.onQueueFullDropped(now, j, q)
			return ErrQueueFull
		}
	}

	select {
	case q <- qj:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return ErrStopping
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	s.mu.Unlock()

	ql, qc := 0, 0
	if q != nil {
		ql = len(q)
		qc = cap(q)
	}
	return Snapshot{
		Enabled:          cfg.Enabled,
		Workers:          cfg.Workers,
		QueueLen:         ql,
		QueueCap:         qc,
		InFlight:         int(atomic.LoadInt32(&s.inFlight)),
		Executed:         atomic.LoadUint64(&s.executed),
		Panicked:         atomic.LoadUint64(&s.panicked),
		Stale:            atomic.LoadUint64(&s.stale),
		Dropped:          atomic.LoadUint64(&s.dropped),
		DroppedQueueFull: atomic.LoadUint64(&s.droppedQueueFull),
		MaxQueueDelay:    cfg.MaxQueueDelay,
	}
}

func (s *Service) newJobID(now time.Time) string {
	seq := atomic.AddUint64(&s.idSeq, 1)
	return fmt.Sprintf("job-%x-%x", now.UnixNano(), seq)
}

func (s *Service) shouldWarn(last *int64, now time.Time) bool {
	prev := atomic.LoadInt64(last)
	n := now.UnixNano()
	if prev != 0 && (n-prev) < int64(warnThrottleEvery) {
		return false
	}
	return atomic.CompareAndSwapInt64(last, prev, n)
}

func (s *Service) publish(typ string, now time.Time, ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func (s *Service) onQueueFullDropped(now time.Time, j Job, q chan queuedJob) {
	atomic.AddUint64(&s.dropped, 1)
	atomic.AddUint64(&s.droppedQueueFull, 1)
	s.publish(EventDropped, now, JobEvent{ID: j.ID, Name: j.Name, Error: "queue_full"})

	if s.shouldWarn(&s.lastQueueFullWarnAt, now) {
		s.log.Warn(
			"task dropped: queue full",
			logx.String("task", j.Name),
			logx.String("id", j.ID),
			logx.Int("queue_len", len(q)),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("dropped_queue_full", atomic.LoadUint64(&s.droppedQueueFull)),
		)
	}
}

func (s *Service) onStale(now time.Time, j Job, queueDelay time.Duration) {
	atomic.AddUint64(&s.stale, 1)
	s.publish(EventStale, now, JobEvent{ID: j.ID, Name: j.Name, QueueDelay: queueDelay})

	if s.shouldWarn(&s.lastStaleWarnAt, now) {
		s.log.Warn(
			"task ran late: stale queue",
			logx.String("task", j.Name),
			logx.String("id", j.ID),
			logx.Duration("queue_delay", queueDelay),
			logx.Uint64("stale", atomic.LoadUint64(&s.stale)),
		)
	}
}
