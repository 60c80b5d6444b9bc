package tray

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/mortuary/internal/platform/apperr"
)

// trayRepoMemory keeps trays and occupancy in process. Every guarded write
// checks and mutates under one lock, which gives the same compare-and-swap
// semantics as the conditional UPDATE in Postgres.
type trayRepoMemory struct {
	mu        sync.Mutex
	trays     map[uuid.UUID]*Tray
	occupancy []*Occupancy
}

func NewTrayRepoMemory() TrayRepository {
	return &trayRepoMemory{trays: make(map[uuid.UUID]*Tray)}
}

func copyTray(t *Tray) *Tray {
	cp := *t
	return &cp
}

func (m *trayRepoMemory) Create(_ context.Context, t *Tray) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.trays {
		if existing.Code == t.Code {
			return apperr.WithMetadata(apperr.CodeTrayCodeTaken, "tray code already exists",
				map[string]string{"code": t.Code})
		}
	}
	now := time.Now().UTC()
	t.ID = uuid.New()
	t.CreatedAt, t.UpdatedAt = now, now
	m.trays[t.ID] = copyTray(t)
	return nil
}

func (m *trayRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*Tray, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trays[id]
	if !ok {
		return nil, notFound()
	}
	return copyTray(t), nil
}

func (m *trayRepoMemory) GetByCase(_ context.Context, caseID uuid.UUID) (*Tray, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trays {
		if t.CaseID != nil && *t.CaseID == caseID {
			return copyTray(t), nil
		}
	}
	return nil, nil
}

func (m *trayRepoMemory) sorted() []*Tray {
	out := make([]*Tray, 0, len(m.trays))
	for _, t := range m.trays {
		out = append(out, copyTray(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (m *trayRepoMemory) List(_ context.Context) ([]*Tray, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(), nil
}

func (m *trayRepoMemory) FirstAvailable(_ context.Context) (*Tray, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.sorted() {
		if t.State == StateAvailable {
			return t, nil
		}
	}
	return nil, nil
}

func (m *trayRepoMemory) Occupy(_ context.Context, trayID, caseID uuid.UUID, by string, at time.Time) (*Tray, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trays[trayID]
	if !ok {
		return nil, notFound()
	}
	if t.State != StateAvailable {
		return nil, apperr.WithMetadata(apperr.CodeTrayUnavailable, "tray is not available",
			map[string]string{"tray_id": trayID.String()})
	}
	for _, other := range m.trays {
		if other.CaseID != nil && *other.CaseID == caseID {
			return nil, apperr.WithMetadata(apperr.CodeCaseAlreadyAssigned, "case already occupies another tray",
				map[string]string{"case_id": caseID.String()})
		}
	}
	t.State = StateOccupied
	t.CaseID = &caseID
	t.AssignedBy = &by
	t.AssignedAt = &at
	t.UpdatedAt = time.Now().UTC()
	return copyTray(t), nil
}

func (m *trayRepoMemory) Vacate(_ context.Context, trayID uuid.UUID, by string, at time.Time) (*Tray, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trays[trayID]
	if !ok {
		return nil, notFound()
	}
	if t.State != StateOccupied {
		return nil, apperr.WithMetadata(apperr.CodeTrayNotOccupied, "tray is not occupied",
			map[string]string{"tray_id": trayID.String()})
	}
	t.State = StateAvailable
	t.CaseID = nil
	t.ReleasedBy = &by
	t.ReleasedAt = &at
	t.UpdatedAt = time.Now().UTC()
	return copyTray(t), nil
}

func (m *trayRepoMemory) SetState(_ context.Context, trayID uuid.UUID, state State, notes string) (*Tray, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trays[trayID]
	if !ok {
		return nil, notFound()
	}
	if t.State == StateOccupied {
		return nil, apperr.WithMetadata(apperr.CodeTrayOccupied, "tray is occupied",
			map[string]string{"tray_id": trayID.String()})
	}
	t.State = state
	t.Notes = notes
	t.UpdatedAt = time.Now().UTC()
	return copyTray(t), nil
}

func (m *trayRepoMemory) OpenOccupancy(_ context.Context, o *Occupancy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = uuid.New()
	cp := *o
	m.occupancy = append(m.occupancy, &cp)
	return nil
}

func (m *trayRepoMemory) CloseOccupancy(_ context.Context, trayID uuid.UUID, c Closure) (*Occupancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.occupancy {
		if o.TrayID == trayID && o.ReleasedAt == nil {
			by, at, kind := c.By, c.At, c.Kind
			o.ReleasedBy = &by
			o.ReleasedAt = &at
			o.ReleaseKind = &kind
			o.ReleaseNotes = c.Notes
			o.ManualReason = c.Reason
			o.ManualObservations = c.Observations
			cp := *o
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no open occupancy for tray %s", trayID)
}

func (m *trayRepoMemory) History(_ context.Context, trayID uuid.UUID) ([]*Occupancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Occupancy
	for i := len(m.occupancy) - 1; i >= 0; i-- {
		if o := m.occupancy[i]; o.TrayID == trayID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}
