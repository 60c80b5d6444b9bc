package verification

import (
	"context"

	"github.com/google/uuid"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *Attempt) error
	// ListByCase returns attempts oldest first.
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Attempt, error)
	// LatestByVerdict returns the newest attempt with the verdict, or nil.
	LatestByVerdict(ctx context.Context, caseID uuid.UUID, verdict Verdict) (*Attempt, error)
}
