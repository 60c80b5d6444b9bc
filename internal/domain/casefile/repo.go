package casefile

import (
	"context"

	"github.com/google/uuid"
)

type CaseRepository interface {
	// Create assigns the ID and the next case code. A second open case for
	// the same clinical record fails with CASE_ALREADY_OPEN.
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	// GetByCode returns nil when no case has the code.
	GetByCode(ctx context.Context, code string) (*Case, error)
	// GetForUpdate and GetByCodeForUpdate read like GetByID and GetByCode
	// and lock the row until the surrounding unit of work ends. Every
	// read-check-write on a case goes through them.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Case, error)
	GetByCodeForUpdate(ctx context.Context, code string) (*Case, error)
	// Update persists the mutable fields: status, custodian, tray and
	// release stamp.
	Update(ctx context.Context, c *Case) error
	List(ctx context.Context, state State, limit, offset int) ([]*Case, int, error)

	AppendStateChange(ctx context.Context, sc *StateChange) error
	// History returns state changes oldest first.
	History(ctx context.Context, caseID uuid.UUID) ([]*StateChange, error)
}
