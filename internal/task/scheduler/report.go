package scheduler

import (
	"errors"
	"time"

	"threadrunner/internal/thread"
	logx "threadrunner/pkg/logx"
)

const activateWarnThrottle = 5 * time.Second

func (s *Service) reportActivateError(name string, err error) {
	if err == nil {
		return
	}
	// Shutdown races are expected.
	if errors.Is(err, thread.ErrStopped) {
		s.log.Debug("schedule trigger after runner stop", logx.String("schedule", name))
		return
	}

	now := time.Now()
	s.actMu.Lock()
	last := s.lastActivate[name]
	if !last.IsZero() && now.Sub(last) < activateWarnThrottle {
		s.actMu.Unlock()
		return
	}
	s.lastActivate[name] = now
	s.actMu.Unlock()

	s.log.Warn("schedule failed to activate task", logx.String("schedule", name), logx.Err(err))
}
