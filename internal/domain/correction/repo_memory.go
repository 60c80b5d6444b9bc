package correction

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/mortuary/internal/platform/apperr"
)

type requestRepoMemory struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Request
}

// NewRequestRepoMemory returns an in-process store. The pending check and the
// insert happen under one lock, which stands in for the partial unique index.
func NewRequestRepoMemory() RequestRepository {
	return &requestRepoMemory{store: make(map[uuid.UUID]*Request)}
}

func (m *requestRepoMemory) Create(_ context.Context, q *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.store {
		if existing.CaseID == q.CaseID && existing.IsPending() {
			return apperr.WithMetadata(apperr.CodeCorrectionAlreadyPending,
				"a correction request is already pending for this case",
				map[string]string{"case_id": q.CaseID.String()})
		}
	}
	q.ID = uuid.New()
	cp := *q
	m.store[q.ID] = &cp
	return nil
}

func (m *requestRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.store[id]
	if !ok {
		return nil, apperr.New(apperr.CodeCorrectionNotFound, "correction request not found")
	}
	cp := *q
	return &cp, nil
}

func (m *requestRepoMemory) PendingByCase(_ context.Context, caseID uuid.UUID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.store {
		if q.CaseID == caseID && q.IsPending() {
			cp := *q
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *requestRepoMemory) Resolve(_ context.Context, q *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.store[q.ID]
	if !ok {
		return apperr.New(apperr.CodeCorrectionNotFound, "correction request not found")
	}
	if !stored.IsPending() {
		return apperr.New(apperr.CodeCorrectionAlreadyResolved, "correction request is already resolved")
	}
	q.Status = StatusResolved
	cp := *q
	m.store[q.ID] = &cp
	return nil
}

func (m *requestRepoMemory) ListPending(_ context.Context, limit, offset int) ([]*Request, int, error) {
	all := m.filter(func(q *Request) bool { return q.IsPending() })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *requestRepoMemory) ListByCase(_ context.Context, caseID uuid.UUID) ([]*Request, error) {
	return m.filter(func(q *Request) bool { return q.CaseID == caseID }), nil
}

func (m *requestRepoMemory) filter(keep func(*Request) bool) []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Request
	for _, q := range m.store {
		if keep(q) {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
