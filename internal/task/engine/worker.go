package engine

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	logx "threadrunner/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedJob) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work; Stop drains the rest.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qj := <-queue:
			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, qj)
			atomic.AddInt32(&s.inFlight, -1)
		}
	}
}

// drain runs every job left in queue with a canceled context and returns how many ran.
func (s *Service) drain(queue chan queuedJob) int {
	if queue == nil {
		return 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := 0
	for {
		select {
		case qj := <-queue:
			s.execOne(ctx, qj)
			n++
		default:
			return n
		}
	}
}

func (s *Service) execOne(ctx context.Context, qj queuedJob) {
	start := time.Now()
	queueDelay := time.Duration(0)
	if !qj.enqueuedAt.IsZero() {
		queueDelay = start.Sub(qj.enqueuedAt)
		if queueDelay < 0 {
			queueDelay = 0
		}
	}

	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxDelay > 0 && queueDelay > maxDelay {
		s.onStale(start, qj.job, queueDelay)
	}

	// Guard against job panics so one bad job can't kill a worker.
	func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddUint64(&s.panicked, 1)
				s.log.Error("task.panic", logx.String("task", qj.job.Name), logx.String("id", qj.job.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				s.publish(EventPanic, time.Now(), JobEvent{ID: qj.job.ID, Name: qj.job.Name, QueueDelay: queueDelay, Duration: time.Since(start), Error: "panic"})
			}
		}()
		qj.job.Run(ctx)
	}()
	atomic.AddUint64(&s.executed, 1)

	dur := time.Since(start)
	if dur >= 750*time.Millisecond {
		s.log.Info("task.completed", logx.String("task", qj.job.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
	} else {
		s.log.Trace("task.completed", logx.String("task", qj.job.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
	}
}
