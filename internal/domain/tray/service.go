package tray

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/mortuary/internal/platform/apperr"
	"github.com/ehr/mortuary/internal/platform/auth"
)

// MinObservationRunes is the minimum length of a manual release
// justification, counted in characters after trimming.
const MinObservationRunes = 20

// allocateAttempts bounds retries when another request takes the tray
// AllocateNext picked.
const allocateAttempts = 5

// Transactor runs fn as one unit of work. Nested calls join the outer unit.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo       TrayRepository
	tx         Transactor
	thresholds Thresholds
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(repo TrayRepository, tx Transactor, th Thresholds, logger zerolog.Logger) *Service {
	if th.Warn <= 0 || th.Critical <= 0 {
		th = DefaultThresholds
	}
	return &Service{
		repo:       repo,
		tx:         tx,
		thresholds: th,
		logger:     logger.With().Str("component", "tray").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Thresholds() Thresholds { return s.thresholds }

// Create registers a new physical tray. Codes are stored upper-case.
func (s *Service) Create(ctx context.Context, code, notes string, actor auth.Actor) (*Tray, error) {
	if err := actor.Require(auth.RoleAdmin); err != nil {
		return nil, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, apperr.Validation("code is required")
	}
	t := &Tray{Code: code, State: StateAvailable, Notes: strings.TrimSpace(notes)}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info().Str("tray_id", t.ID.String()).Str("code", t.Code).Str("actor", actor.ID).Msg("tray created")
	return t, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Tray, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByCase(ctx context.Context, caseID uuid.UUID) (*Tray, error) {
	return s.repo.GetByCase(ctx, caseID)
}

// Assign places a case in an available tray. Assigning a case to the tray
// it already occupies returns that tray unchanged.
func (s *Service) Assign(ctx context.Context, trayID, caseID uuid.UUID, notes string, actor auth.Actor) (*Tray, error) {
	if err := actor.Require(auth.RoleGuard, auth.RoleGuardSupervisor); err != nil {
		return nil, err
	}
	if trayID == uuid.Nil || caseID == uuid.Nil {
		return nil, apperr.Validation("tray_id and case_id are required")
	}

	var out *Tray
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetByCase(ctx, caseID)
		if err != nil {
			return err
		}
		if current != nil {
			if current.ID == trayID {
				out = current
				return nil
			}
			return apperr.WithMetadata(apperr.CodeCaseAlreadyAssigned, "case already occupies another tray",
				map[string]string{"case_id": caseID.String(), "tray_id": current.ID.String()})
		}

		at := s.now()
		t, err := s.repo.Occupy(ctx, trayID, caseID, actor.ID, at)
		if err != nil {
			return err
		}
		if err := s.repo.OpenOccupancy(ctx, &Occupancy{
			TrayID:      trayID,
			CaseID:      caseID,
			AssignedBy:  actor.ID,
			AssignedAt:  at,
			AssignNotes: strings.TrimSpace(notes),
		}); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("tray_id", out.ID.String()).
		Str("tray_code", out.Code).
		Str("case_id", caseID.String()).
		Str("actor", actor.ID).
		Msg("tray assigned")
	return out, nil
}

// AllocateNext assigns the case to the available tray with the lowest code.
// A case that already occupies a tray gets that tray back.
func (s *Service) AllocateNext(ctx context.Context, caseID uuid.UUID, notes string, actor auth.Actor) (*Tray, error) {
	if err := actor.Require(auth.RoleGuard, auth.RoleGuardSupervisor); err != nil {
		return nil, err
	}

	var out *Tray
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetByCase(ctx, caseID)
		if err != nil {
			return err
		}
		if current != nil {
			out = current
			return nil
		}
		for i := 0; i < allocateAttempts; i++ {
			candidate, err := s.repo.FirstAvailable(ctx)
			if err != nil {
				return err
			}
			if candidate == nil {
				return apperr.New(apperr.CodeNoTrayAvailable, "no tray is available")
			}
			out, err = s.Assign(ctx, candidate.ID, caseID, notes, actor)
			if apperr.HasCode(err, apperr.CodeTrayUnavailable) {
				continue
			}
			return err
		}
		return apperr.New(apperr.CodeNoTrayAvailable, "no tray could be allocated")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Release empties an occupied tray and closes its occupancy record.
func (s *Service) Release(ctx context.Context, trayID uuid.UUID, notes string, actor auth.Actor) (*Occupancy, error) {
	if err := actor.Require(auth.RoleGuard, auth.RoleGuardSupervisor); err != nil {
		return nil, err
	}
	occ, err := s.release(ctx, trayID, actor, Closure{Kind: ReleaseNormal, Notes: strings.TrimSpace(notes)})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("tray_id", trayID.String()).
		Str("case_id", occ.CaseID.String()).
		Str("actor", actor.ID).
		Str("release_kind", string(ReleaseNormal)).
		Msg("tray released")
	return occ, nil
}

// ManualRelease is the override path for releasing a tray outside the normal
// release flow. Input is validated before anything is read or written.
func (s *Service) ManualRelease(ctx context.Context, trayID uuid.UUID, reason, observations string, actor auth.Actor) (*Occupancy, error) {
	reason = strings.TrimSpace(reason)
	observations = strings.TrimSpace(observations)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	if n := utf8.RuneCountInString(observations); n < MinObservationRunes {
		return nil, apperr.WithMetadata(apperr.CodeObservationsTooShort,
			"observations must be at least 20 characters",
			map[string]string{"length": strconv.Itoa(n)})
	}
	if err := actor.Require(auth.RoleGuardSupervisor); err != nil {
		return nil, err
	}

	occ, err := s.release(ctx, trayID, actor, Closure{Kind: ReleaseManual, Reason: reason, Observations: observations})
	if err != nil {
		return nil, err
	}
	s.logger.Warn().
		Str("tray_id", trayID.String()).
		Str("case_id", occ.CaseID.String()).
		Str("actor", actor.ID).
		Str("release_kind", string(ReleaseManual)).
		Str("reason", reason).
		Str("observations", observations).
		Msg("tray manually released")
	return occ, nil
}

func (s *Service) release(ctx context.Context, trayID uuid.UUID, actor auth.Actor, c Closure) (*Occupancy, error) {
	if trayID == uuid.Nil {
		return nil, apperr.Validation("tray_id is required")
	}
	var occ *Occupancy
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c.By = actor.ID
		c.At = s.now()
		if _, err := s.repo.Vacate(ctx, trayID, c.By, c.At); err != nil {
			return err
		}
		var err error
		occ, err = s.repo.CloseOccupancy(ctx, trayID, c)
		return err
	})
	return occ, err
}

// SetState moves a free tray between available, maintenance and
// out_of_service. Occupancy only changes through Assign and Release.
func (s *Service) SetState(ctx context.Context, trayID uuid.UUID, state State, notes string, actor auth.Actor) (*Tray, error) {
	if err := actor.Require(auth.RoleAdmin); err != nil {
		return nil, err
	}
	if !validStates[state] || state == StateOccupied {
		return nil, apperr.WithMetadata(apperr.CodeValidation,
			"state must be available, maintenance or out_of_service",
			map[string]string{"state": string(state)})
	}
	t, err := s.repo.SetState(ctx, trayID, state, strings.TrimSpace(notes))
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("tray_id", trayID.String()).Str("state", string(state)).Str("actor", actor.ID).Msg("tray state changed")
	return t, nil
}

// ListWithOccupancy returns every tray with occupied time and alert level
// computed at now.
func (s *Service) ListWithOccupancy(ctx context.Context, now time.Time) ([]View, error) {
	trays, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]View, len(trays))
	for i, t := range trays {
		views[i] = NewView(t, now, s.thresholds)
	}
	return views, nil
}

func (s *Service) ComputeStatistics(ctx context.Context, now time.Time) (Statistics, error) {
	trays, err := s.repo.List(ctx)
	if err != nil {
		return Statistics{}, err
	}
	return ComputeStatistics(trays, now, s.thresholds), nil
}

// History returns the occupancy records of a tray, newest first.
func (s *Service) History(ctx context.Context, trayID uuid.UUID) ([]*Occupancy, error) {
	if _, err := s.repo.GetByID(ctx, trayID); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, trayID)
}
