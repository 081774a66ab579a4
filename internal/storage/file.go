package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "threadrunner/pkg/logx"
)

// fileStore keeps outcomes in <prefix>.outcomes.jsonl (append-only JSON Lines).
//
// The newest Retain records are mirrored in memory for reads. Once the file
// holds twice that many lines it is compacted down to the in-memory tail.
type fileStore struct {
	log    logx.Logger
	retain int

	mu    sync.Mutex
	path  string
	f     *os.File
	tail  []Outcome
	lines int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	journal := filepath.Join(dir, base) + ".outcomes.jsonl"

	s := &fileStore{log: log, retain: cfg.retain(), path: journal}
	if err := s.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(journal, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	log.Debug("outcome journal opened", logx.String("path", journal), logx.Int("records", s.lines))
	return s, nil
}

func (s *fileStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var o Outcome
		if err := json.Unmarshal(sc.Bytes(), &o); err != nil {
			// A torn last line after a crash is expected; skip it.
			continue
		}
		s.lines++
		s.push(o)
	}
	return sc.Err()
}

func (s *fileStore) push(o Outcome) {
	s.tail = append(s.tail, o)
	if over := len(s.tail) - s.retain; over > 0 {
		copy(s.tail, s.tail[over:])
		for i := len(s.tail) - over; i < len(s.tail); i++ {
			s.tail[i] = Outcome{}
		}
		s.tail = s.tail[:len(s.tail)-over]
	}
}

func (s *fileStore) AppendOutcome(ctx context.Context, o Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(o); err != nil {
		return err
	}
	s.lines++
	s.push(o)

	if s.lines >= 2*s.retain {
		if err := s.compactLocked(); err != nil {
			// Best-effort: the journal is still valid, just longer.
			s.log.Warn("outcome journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentOutcomes(ctx context.Context, limit int) ([]Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	n := len(s.tail)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Outcome, 0, n)
	for i := len(s.tail) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.tail[i])
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// compactLocked rewrites the journal with only the in-memory tail.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, o := range s.tail {
		if err := enc.Encode(o); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_ = s.f.Close()
	s.f = nf
	s.lines = len(s.tail)
	s.log.Debug("outcome journal compacted", logx.Int("records", s.lines))
	return nil
}
