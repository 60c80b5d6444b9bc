package custody

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/mortuary/internal/platform/apperr"
)

// Step is one custody hand-over the protocol allows: a case in state From
// moves to state To and custody travels in Direction.
type Step struct {
	From      string
	To        string
	Direction Direction
}

// Protocol lists the states from which a scanned code may be handed over.
type Protocol []Step

// Plan returns the step that applies to a case currently in state.
func (p Protocol) Plan(state string) (Step, bool) {
	for _, s := range p {
		if s.From == state {
			return s, true
		}
	}
	return Step{}, false
}

// Completed returns the step whose target is state, used to recognise a
// repeated scan of a transfer that already went through.
func (p Protocol) Completed(state string) (Step, bool) {
	for _, s := range p {
		if s.To == state {
			return s, true
		}
	}
	return Step{}, false
}

type Service struct {
	repo   TransferRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo TransferRepository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "custody").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record appends a transfer for step, handing custody from fromUser to
// toUser.
func (s *Service) Record(ctx context.Context, caseID uuid.UUID, scanned string, step Step, fromUser, toUser string) (*Transfer, error) {
	if caseID == uuid.Nil {
		return nil, apperr.Validation("case_id is required")
	}
	if strings.TrimSpace(toUser) == "" {
		return nil, apperr.Validation("receiving custodian is required")
	}
	t := &Transfer{
		CaseID:        caseID,
		ScannedCode:   NormalizeCode(scanned),
		Direction:     step.Direction,
		FromUser:      fromUser,
		ToUser:        toUser,
		FromState:     step.From,
		ToState:       step.To,
		TransferredAt: s.now(),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("case_id", caseID.String()).
		Str("direction", string(t.Direction)).
		Str("from_user", fromUser).
		Str("to_user", toUser).
		Msg("custody transferred")
	return t, nil
}

func (s *Service) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Transfer, error) {
	return s.repo.ListByCase(ctx, caseID)
}
