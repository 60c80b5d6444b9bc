package custody

import (
	"context"

	"github.com/google/uuid"
)

type TransferRepository interface {
	Create(ctx context.Context, t *Transfer) error
	// ListByCase returns transfers oldest first.
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Transfer, error)
}
