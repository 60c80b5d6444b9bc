package correction

import (
	"context"

	"github.com/google/uuid"
)

type RequestRepository interface {
	// Create inserts a pending request. It fails with
	// CORRECTION_ALREADY_PENDING when the case already has one.
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	// PendingByCase returns the pending request for a case, or nil.
	PendingByCase(ctx context.Context, caseID uuid.UUID) (*Request, error)
	// Resolve stores the resolution fields. It fails with
	// CORRECTION_ALREADY_RESOLVED when the request is no longer pending.
	Resolve(ctx context.Context, r *Request) error
	ListPending(ctx context.Context, limit, offset int) ([]*Request, int, error)
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Request, error)
}
