package custody

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type transferRepoMemory struct {
	mu    sync.RWMutex
	items []*Transfer
}

// NewTransferRepoMemory returns an in-process store for development and tests.
func NewTransferRepoMemory() TransferRepository {
	return &transferRepoMemory{}
}

func (m *transferRepoMemory) Create(_ context.Context, t *Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	cp := *t
	m.items = append(m.items, &cp)
	return nil
}

func (m *transferRepoMemory) ListByCase(_ context.Context, caseID uuid.UUID) ([]*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Transfer
	for _, t := range m.items {
		if t.CaseID == caseID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}
