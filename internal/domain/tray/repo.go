package tray

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TrayRepository interface {
	// Create fails with TRAY_CODE_TAKEN on a duplicate code.
	Create(ctx context.Context, t *Tray) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tray, error)
	// GetByCase returns the tray a case occupies, or nil.
	GetByCase(ctx context.Context, caseID uuid.UUID) (*Tray, error)
	// List returns every tray ordered by code.
	List(ctx context.Context) ([]*Tray, error)
	// FirstAvailable returns the available tray with the lowest code, or nil.
	FirstAvailable(ctx context.Context) (*Tray, error)

	// Occupy atomically moves an available tray to occupied. It fails with
	// TRAY_UNAVAILABLE when the tray is in any other state and with
	// CASE_ALREADY_ASSIGNED when the case occupies another tray.
	Occupy(ctx context.Context, trayID, caseID uuid.UUID, by string, at time.Time) (*Tray, error)
	// Vacate atomically moves an occupied tray to available, stamping the
	// releaser. It fails with TRAY_NOT_OCCUPIED otherwise.
	Vacate(ctx context.Context, trayID uuid.UUID, by string, at time.Time) (*Tray, error)
	// SetState changes the state of a tray that is not occupied. It fails
	// with TRAY_OCCUPIED otherwise.
	SetState(ctx context.Context, trayID uuid.UUID, state State, notes string) (*Tray, error)

	OpenOccupancy(ctx context.Context, o *Occupancy) error
	// CloseOccupancy completes the tray's open occupancy record.
	CloseOccupancy(ctx context.Context, trayID uuid.UUID, c Closure) (*Occupancy, error)
	// History returns occupancy records for a tray, newest first.
	History(ctx context.Context, trayID uuid.UUID) ([]*Occupancy, error)
}
