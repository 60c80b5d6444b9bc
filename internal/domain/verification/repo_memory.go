package verification

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type attemptRepoMemory struct {
	mu    sync.RWMutex
	items []*Attempt
}

// NewAttemptRepoMemory returns an in-process store for development and tests.
func NewAttemptRepoMemory() AttemptRepository {
	return &attemptRepoMemory{}
}

func (m *attemptRepoMemory) Create(_ context.Context, a *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	cp := *a
	m.items = append(m.items, &cp)
	return nil
}

func (m *attemptRepoMemory) ListByCase(_ context.Context, caseID uuid.UUID) ([]*Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Attempt
	for _, a := range m.items {
		if a.CaseID == caseID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *attemptRepoMemory) LatestByVerdict(_ context.Context, caseID uuid.UUID, verdict Verdict) (*Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.items) - 1; i >= 0; i-- {
		if a := m.items[i]; a.CaseID == caseID && a.Verdict == verdict {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}
