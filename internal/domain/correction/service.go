package correction

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/mortuary/internal/domain/verification"
	"github.com/ehr/mortuary/internal/platform/apperr"
	"github.com/ehr/mortuary/internal/platform/auth"
)

const DefaultSLA = 2 * time.Hour

type Service struct {
	repo   RequestRepository
	sla    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo RequestRepository, sla time.Duration, logger zerolog.Logger) *Service {
	if sla <= 0 {
		sla = DefaultSLA
	}
	return &Service{
		repo:   repo,
		sla:    sla,
		logger: logger.With().Str("component", "correction").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a pending request for a rejected verification. The diff is
// the verification's list of mismatched fields.
func (s *Service) Create(ctx context.Context, caseID uuid.UUID, requestedBy, responsibleUser string,
	diff []verification.FieldDiff, problem string) (*Request, error) {
	if caseID == uuid.Nil {
		return nil, apperr.Validation("case_id is required")
	}
	if strings.TrimSpace(requestedBy) == "" || strings.TrimSpace(responsibleUser) == "" {
		return nil, apperr.Validation("requesting and responsible users are required")
	}
	if len(diff) == 0 {
		return nil, apperr.Validation("a correction request needs at least one mismatched field")
	}

	existing, err := s.repo.PendingByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.WithMetadata(apperr.CodeCorrectionAlreadyPending,
			"a correction request is already pending for this case",
			map[string]string{"case_id": caseID.String(), "request_id": existing.ID.String()})
	}

	q := &Request{
		CaseID:             caseID,
		RequestedBy:        requestedBy,
		ResponsibleUser:    responsibleUser,
		IncorrectData:      diff,
		ProblemDescription: strings.TrimSpace(problem),
		Status:             StatusPending,
		CreatedAt:          s.now(),
	}
	if err := s.repo.Create(ctx, q); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("request_id", q.ID.String()).
		Str("case_id", caseID.String()).
		Str("responsible_user", responsibleUser).
		Int("fields", len(diff)).
		Msg("correction request created")
	return q, nil
}

// Resolve closes a pending request. Only the responsible nurse, or an admin
// acting for them, may resolve; a resolved request never reopens.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, description string, reprinted bool, actor auth.Actor) (*Request, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, apperr.New(apperr.CodeResolutionDescriptionEmpty, "resolution_description is required")
	}
	if err := actor.Require(auth.RoleNurse); err != nil {
		return nil, err
	}

	q, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !q.IsPending() {
		return nil, apperr.New(apperr.CodeCorrectionAlreadyResolved, "correction request is already resolved")
	}
	if actor.ID != q.ResponsibleUser && !actor.HasRole(auth.RoleAdmin) {
		return nil, apperr.WithMetadata(apperr.CodeForbidden,
			"only the nurse responsible for the case may resolve this request",
			map[string]string{"responsible_user": q.ResponsibleUser})
	}

	now := s.now()
	resolvedBy := actor.ID
	q.ResolvedAt = &now
	q.ResolvedBy = &resolvedBy
	q.ResolutionDescription = description
	q.WristbandReprinted = reprinted
	if err := s.repo.Resolve(ctx, q); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("request_id", q.ID.String()).
		Str("case_id", q.CaseID.String()).
		Str("resolved_by", actor.ID).
		Bool("wristband_reprinted", reprinted).
		Dur("elapsed", q.Elapsed(now)).
		Msg("correction request resolved")
	return q, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (View, error) {
	q, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return View{}, err
	}
	return NewView(q, s.now(), s.sla), nil
}

func (s *Service) PendingForCase(ctx context.Context, caseID uuid.UUID) (*Request, error) {
	return s.repo.PendingByCase(ctx, caseID)
}

// ListPending returns pending requests, oldest first, with SLA fields
// derived at now.
func (s *Service) ListPending(ctx context.Context, now time.Time, limit, offset int) ([]View, int, error) {
	items, total, err := s.repo.ListPending(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	views := make([]View, len(items))
	for i, q := range items {
		views[i] = NewView(q, now, s.sla)
	}
	return views, total, nil
}

func (s *Service) ListByCase(ctx context.Context, caseID uuid.UUID, now time.Time) ([]View, error) {
	items, err := s.repo.ListByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	views := make([]View, len(items))
	for i, q := range items {
		views[i] = NewView(q, now, s.sla)
	}
	return views, nil
}

// CountOverSLA counts pending requests older than the SLA at now.
func (s *Service) CountOverSLA(ctx context.Context, now time.Time) (int, error) {
	items, _, err := s.repo.ListPending(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, q := range items {
		if q.OverSLA(now, s.sla) {
			n++
		}
	}
	return n, nil
}
