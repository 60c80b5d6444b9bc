package release

import (
	"context"
	"sync"
)

// StaticSource keeps holds in memory, keyed by case code. It backs
// development mode and tests.
type StaticSource struct {
	name   string
	reason Reason

	mu    sync.RWMutex
	holds map[string]string
	err   error
}

func NewStaticSource(name string, reason Reason) *StaticSource {
	return &StaticSource{name: name, reason: reason, holds: make(map[string]string)}
}

func (s *StaticSource) Name() string { return s.name }

// Set places a hold on the case code with a human-readable message.
func (s *StaticSource) Set(code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds[code] = message
}

func (s *StaticSource) Clear(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holds, code)
}

// Fail makes every Check return err until Fail(nil) is called.
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticSource) Check(ctx context.Context, ref CaseRef) (Hold, bool, error) {
	if err := ctx.Err(); err != nil {
		return Hold{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return Hold{}, false, s.err
	}
	msg, ok := s.holds[ref.Code]
	if !ok {
		return Hold{}, false, nil
	}
	return Hold{Reason: s.reason, Source: s.name, Message: msg}, true, nil
}
