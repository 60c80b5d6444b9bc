package casefile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/mortuary/internal/platform/apperr"
)

type caseRepoMemory struct {
	mu      sync.RWMutex
	prefix  string
	seq     int64
	store   map[uuid.UUID]*Case
	changes []*StateChange
}

// NewCaseRepoMemory returns an in-process store for development and tests.
// The open-record check and the insert share one lock.
func NewCaseRepoMemory(prefix string) CaseRepository {
	return &caseRepoMemory{prefix: prefix, store: make(map[uuid.UUID]*Case)}
}

func (m *caseRepoMemory) Create(_ context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.store {
		if existing.ClinicalRecordNumber == c.ClinicalRecordNumber && existing.State != StateReleased {
			return apperr.WithMetadata(apperr.CodeCaseAlreadyOpen,
				"an open case already exists for this clinical record",
				map[string]string{"clinical_record_number": c.ClinicalRecordNumber})
		}
	}
	m.seq++
	c.ID = uuid.New()
	c.Code = fmt.Sprintf("%s-%d", m.prefix, m.seq)
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *caseRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.store[id]
	if !ok {
		return nil, apperr.WithMetadata(apperr.CodeCaseNotFound, "case not found", map[string]string{"case_id": id.String()})
	}
	cp := *c
	return &cp, nil
}

func (m *caseRepoMemory) GetByCode(_ context.Context, code string) (*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.store {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

// The memory store runs under db.SerialTx, which already excludes every
// other unit of work.
func (m *caseRepoMemory) GetForUpdate(ctx context.Context, id uuid.UUID) (*Case, error) {
	return m.GetByID(ctx, id)
}

func (m *caseRepoMemory) GetByCodeForUpdate(ctx context.Context, code string) (*Case, error) {
	return m.GetByCode(ctx, code)
}

func (m *caseRepoMemory) Update(_ context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.store[c.ID]
	if !ok {
		return apperr.WithMetadata(apperr.CodeCaseNotFound, "case not found", map[string]string{"case_id": c.ID.String()})
	}
	c.UpdatedAt = time.Now().UTC()
	stored.State = c.State
	stored.HoldReason = c.HoldReason
	stored.CustodianID = c.CustodianID
	stored.TrayID = c.TrayID
	stored.ReleasedAt = c.ReleasedAt
	stored.UpdatedAt = c.UpdatedAt
	return nil
}

func (m *caseRepoMemory) List(_ context.Context, state State, limit, offset int) ([]*Case, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*Case
	for _, c := range m.store {
		if state == "" || c.State == state {
			cp := *c
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].Code > all[j].Code
	})
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *caseRepoMemory) AppendStateChange(_ context.Context, sc *StateChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc.ID = int64(len(m.changes) + 1)
	cp := *sc
	m.changes = append(m.changes, &cp)
	return nil
}

func (m *caseRepoMemory) History(_ context.Context, caseID uuid.UUID) ([]*StateChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*StateChange
	for _, sc := range m.changes {
		if sc.CaseID == caseID {
			cp := *sc
			out = append(out, &cp)
		}
	}
	return out, nil
}
