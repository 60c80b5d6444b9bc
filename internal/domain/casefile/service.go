package casefile

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/mortuary/internal/domain/correction"
	"github.com/ehr/mortuary/internal/domain/custody"
	"github.com/ehr/mortuary/internal/domain/release"
	"github.com/ehr/mortuary/internal/domain/tray"
	"github.com/ehr/mortuary/internal/domain/verification"
	"github.com/ehr/mortuary/internal/platform/apperr"
	"github.com/ehr/mortuary/internal/platform/auth"
	"github.com/ehr/mortuary/internal/platform/notification"
)

// Transactor runs fn as one unit of work. Nested calls join the outer unit.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Gate reports the active release holds of a case.
type Gate interface {
	Evaluate(ctx context.Context, ref release.CaseRef) ([]release.Hold, error)
}

// CustodyProtocol is the hand-over table: a registered case leaves the ward
// for the mortuary, a stored case leaves the mortuary for release.
var CustodyProtocol = custody.Protocol{
	{From: string(StateRegistered), To: string(StateInTransit), Direction: custody.ToMortuary},
	{From: string(StateInTray), To: string(StateAwaitingRelease), Direction: custody.FromMortuary},
}

// Deps are the collaborators of the controller.
type Deps struct {
	Cases       CaseRepository
	Tx          Transactor
	Attempts    verification.AttemptRepository
	Corrections *correction.Service
	Trays       *tray.Service
	Custody     *custody.Service
	Gate        Gate
	Publisher   notification.Publisher
	Templates   *notification.TemplateEngine
}

// Controller drives a case through its lifecycle. Every operation runs in
// one unit of work and applies transitions through Transition only.
type Controller struct {
	cases       CaseRepository
	tx          Transactor
	attempts    verification.AttemptRepository
	corrections *correction.Service
	trays       *tray.Service
	custody     *custody.Service
	gate        Gate
	pub         notification.Publisher
	templates   *notification.TemplateEngine
	logger      zerolog.Logger
	now         func() time.Time
}

func NewController(d Deps, logger zerolog.Logger) *Controller {
	pub := d.Publisher
	if pub == nil {
		pub = notification.Nop{}
	}
	templates := d.Templates
	if templates == nil {
		templates = notification.NewTemplateEngine()
	}
	return &Controller{
		cases:       d.Cases,
		tx:          d.Tx,
		attempts:    d.Attempts,
		corrections: d.Corrections,
		trays:       d.Trays,
		custody:     d.Custody,
		gate:        d.Gate,
		pub:         pub,
		templates:   templates,
		logger:      logger.With().Str("component", "case_controller").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// outbox collects notifications raised inside a unit of work. They are
// published only after it commits.
type outbox []notification.Event

func (o *outbox) add(ev notification.Event) { *o = append(*o, ev) }

func (s *Controller) event(category notification.Category, c *Case, data map[string]string) notification.Event {
	if data == nil {
		data = map[string]string{}
	}
	data["case_code"] = c.Code
	return s.templates.Event(category, c.ID.String(), data)
}

func (s *Controller) flush(ctx context.Context, box outbox) {
	for _, ev := range box {
		if err := s.pub.Publish(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("category", string(ev.Category)).Msg("notification dropped")
		}
	}
}

// apply moves c through ev, persists it and appends the history entry.
// c is left untouched when the transition is refused.
func (s *Controller) apply(ctx context.Context, c *Case, ev Event, actor auth.Actor, note string) error {
	next, err := Transition(c.Status(), ev)
	if err != nil {
		return err
	}
	from := c.State
	c.State, c.HoldReason = next.State, next.HoldReason
	if err := s.cases.Update(ctx, c); err != nil {
		return err
	}
	if err := s.cases.AppendStateChange(ctx, &StateChange{
		CaseID:     c.ID,
		FromState:  from,
		ToState:    next.State,
		HoldReason: next.HoldReason,
		Event:      ev,
		ActorID:    actor.ID,
		Note:       note,
		ChangedAt:  s.now(),
	}); err != nil {
		return err
	}
	s.logger.Info().
		Str("case_id", c.ID.String()).
		Str("case_code", c.Code).
		Str("event", string(ev)).
		Str("from", string(from)).
		Str("to", next.String()).
		Str("actor", actor.ID).
		Msg("case transitioned")
	return nil
}

// RegisterCase files a death registration. The registering nurse is the
// first custodian.
func (s *Controller) RegisterCase(ctx context.Context, in RegisterInput, actor auth.Actor) (*Case, error) {
	if err := actor.Require(auth.RoleNurse); err != nil {
		return nil, err
	}
	if err := in.Validate(s.now()); err != nil {
		return nil, err
	}

	c := &Case{
		ClinicalRecordNumber: in.ClinicalRecordNumber,
		DocumentType:         in.DocumentType,
		DocumentNumber:       in.DocumentNumber,
		FullName:             in.FullName,
		Service:              in.Service,
		State:                StateRegistered,
		LegalCase:            in.LegalCase,
		CreatedBy:            actor.ID,
		CustodianID:          actor.ID,
		DeathAt:              in.DeathAt,
	}
	var box outbox
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.cases.Create(ctx, c); err != nil {
			return err
		}
		if err := s.cases.AppendStateChange(ctx, &StateChange{
			CaseID:    c.ID,
			ToState:   StateRegistered,
			Event:     EventRegistered,
			ActorID:   actor.ID,
			ChangedAt: c.CreatedAt,
		}); err != nil {
			return err
		}
		box.add(s.event(notification.CaseRegistered, c, map[string]string{"service": c.Service}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("case_id", c.ID.String()).Str("case_code", c.Code).Str("actor", actor.ID).Msg("case registered")
	s.flush(ctx, box)
	return c, nil
}

// TransferCustody hands the case identified by a scanned code to actor.
// Scanning again after the hand-over went through returns the case as is.
func (s *Controller) TransferCustody(ctx context.Context, code string, actor auth.Actor) (*Case, error) {
	if err := actor.Require(auth.RoleGuard, auth.RoleAmbulanceTech, auth.RoleGuardSupervisor); err != nil {
		return nil, err
	}
	normalized := custody.NormalizeCode(code)
	if normalized == "" {
		return nil, apperr.Validation("code is required")
	}

	var (
		out *Case
		box outbox
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.cases.GetByCodeForUpdate(ctx, normalized)
		if err != nil {
			return err
		}
		if c == nil {
			return apperr.WithMetadata(apperr.CodeInvalidOrExpiredCode, "code does not identify a case",
				map[string]string{"code": normalized})
		}

		step, ok := CustodyProtocol.Plan(string(c.State))
		if !ok {
			if _, done := CustodyProtocol.Completed(string(c.State)); done && c.CustodianID == actor.ID {
				out = c
				return nil
			}
			return apperr.WithMetadata(apperr.CodeInvalidOrExpiredCode,
				"code is not valid for a custody transfer in the case's current state",
				map[string]string{"code": normalized, "state": string(c.State)})
		}

		t, err := s.custody.Record(ctx, c.ID, normalized, step, c.CustodianID, actor.ID)
		if err != nil {
			return err
		}
		c.CustodianID = actor.ID
		if err := s.apply(ctx, c, EventCustodyTransferred, actor, string(t.Direction)); err != nil {
			return err
		}
		box.add(s.event(notification.CustodyTransferred, c, map[string]string{
			"to_user":   actor.ID,
			"direction": string(t.Direction),
		}))
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, box)
	return out, nil
}

// VerificationOutcome is the result of a wristband check.
type VerificationOutcome struct {
	Case       *Case                 `json:"case"`
	Attempt    *verification.Attempt `json:"attempt"`
	Correction *correction.Request   `json:"correction,omitempty"`

	// Replayed is set when the case was already past this check and the
	// earlier attempt is returned instead of a new one.
	Replayed bool `json:"replayed"`
}

// RegisterVerification compares the wristband with the case at mortuary
// entry. Approval queues the case for a tray; rejection opens a correction
// request and holds the case until it is resolved.
func (s *Controller) RegisterVerification(ctx context.Context, caseID uuid.UUID, w verification.Wristband, actor auth.Actor) (*VerificationOutcome, error) {
	if err := actor.Require(auth.RoleGuard, auth.RoleGuardSupervisor); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	var (
		out *VerificationOutcome
		box outbox
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.cases.GetForUpdate(ctx, caseID)
		if err != nil {
			return err
		}

		switch {
		case c.State == StateOnHold && c.HoldReason == HoldVerificationRejected:
			out, err = s.replayRejected(ctx, c)
			return err
		case c.State == StateInTransit:
			if err := s.apply(ctx, c, EventMortuaryArrived, actor, ""); err != nil {
				return err
			}
		case c.State == StatePendingVerification:
		default:
			a, err := s.attempts.LatestByVerdict(ctx, c.ID, verification.VerdictApproved)
			if err != nil {
				return err
			}
			if a == nil {
				_, err := Transition(c.Status(), EventVerificationApproved)
				return err
			}
			out = &VerificationOutcome{Case: c, Attempt: a, Replayed: true}
			return nil
		}

		result := verification.Compare(w, c.Identity())
		if result.Approved() {
			a := verification.NewAttempt(c.ID, actor.ID, w, result, nil)
			if err := s.attempts.Create(ctx, a); err != nil {
				return err
			}
			if err := s.apply(ctx, c, EventVerificationApproved, actor, ""); err != nil {
				return err
			}
			if err := s.apply(ctx, c, EventAllocationRequested, actor, ""); err != nil {
				return err
			}
			out = &VerificationOutcome{Case: c, Attempt: a}
			return nil
		}

		req, err := s.corrections.Create(ctx, c.ID, actor.ID, c.CreatedBy, result.Diff, result.RejectionReason)
		if err != nil {
			return err
		}
		a := verification.NewAttempt(c.ID, actor.ID, w, result, &req.ID)
		if err := s.attempts.Create(ctx, a); err != nil {
			return err
		}
		if err := s.apply(ctx, c, EventVerificationRejected, actor, result.RejectionReason); err != nil {
			return err
		}
		box.add(s.event(notification.VerificationRejected, c, map[string]string{
			"reason":           result.RejectionReason,
			"responsible_user": c.CreatedBy,
		}))
		out = &VerificationOutcome{Case: c, Attempt: a, Correction: req}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, box)
	return out, nil
}

func (s *Controller) replayRejected(ctx context.Context, c *Case) (*VerificationOutcome, error) {
	a, err := s.attempts.LatestByVerdict(ctx, c.ID, verification.VerdictRejected)
	if err != nil {
		return nil, err
	}
	if a == nil {
		_, err := Transition(c.Status(), EventVerificationRejected)
		return nil, err
	}
	req, err := s.corrections.PendingForCase(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return &VerificationOutcome{Case: c, Attempt: a, Correction: req, Replayed: true}, nil
}

// ResolutionOutcome is a resolved correction and the case it released for
// re-verification.
type ResolutionOutcome struct {
	Case       *Case               `json:"case"`
	Correction *correction.Request `json:"correction"`
}

// ResolveCorrectionRequest closes a pending correction and sends the case
// back to pending_verification for a new wristband check.
func (s *Controller) ResolveCorrectionRequest(ctx context.Context, id uuid.UUID, description string, reprinted bool, actor auth.Actor) (*ResolutionOutcome, error) {
	var (
		out *ResolutionOutcome
		box outbox
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		view, err := s.corrections.Get(ctx, id)
		if err != nil {
			return err
		}
		c, err := s.cases.GetForUpdate(ctx, view.CaseID)
		if err != nil {
			return err
		}
		// A concurrent resolution may have committed while the case lock
		// was awaited.
		if view, err = s.corrections.Get(ctx, id); err != nil {
			return err
		}
		held := c.State == StateOnHold && c.HoldReason == HoldVerificationRejected
		if view.IsPending() && !held {
			_, err := Transition(c.Status(), EventCorrectionResolved)
			return err
		}

		req, err := s.corrections.Resolve(ctx, id, description, reprinted, actor)
		if err != nil {
			return err
		}
		if err := s.apply(ctx, c, EventCorrectionResolved, actor, req.ResolutionDescription); err != nil {
			return err
		}
		box.add(s.event(notification.CorrectionResolved, c, map[string]string{"resolved_by": actor.ID}))
		out = &ResolutionOutcome{Case: c, Correction: req}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, box)
	return out, nil
}

// AssignmentOutcome is a case and the tray it now occupies.
type AssignmentOutcome struct {
	Case *Case      `json:"case"`
	Tray *tray.Tray `json:"tray"`
}

// AssignTray stores a case awaiting a tray. A nil trayID takes the first
// available tray by code.
func (s *Controller) AssignTray(ctx context.Context, trayID *uuid.UUID, caseID uuid.UUID, notes string, actor auth.Actor) (*AssignmentOutcome, error) {
	if err := actor.Require(auth.RoleGuard, auth.RoleGuardSupervisor); err != nil {
		return nil, err
	}

	var (
		out *AssignmentOutcome
		box outbox
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.cases.GetForUpdate(ctx, caseID)
		if err != nil {
			return err
		}
		if c.State == StateInTray && c.TrayID != nil {
			if trayID != nil && *trayID != *c.TrayID {
				return apperr.WithMetadata(apperr.CodeCaseAlreadyAssigned, "case already occupies another tray",
					map[string]string{"case_id": c.ID.String(), "tray_id": c.TrayID.String()})
			}
			t, err := s.trays.Get(ctx, *c.TrayID)
			if err != nil {
				return err
			}
			out = &AssignmentOutcome{Case: c, Tray: t}
			return nil
		}
		if _, err := Transition(c.Status(), EventTrayAssigned); err != nil {
			return err
		}

		var t *tray.Tray
		if trayID == nil {
			t, err = s.trays.AllocateNext(ctx, c.ID, notes, actor)
		} else {
			t, err = s.trays.Assign(ctx, *trayID, c.ID, notes, actor)
		}
		if err != nil {
			return err
		}
		c.TrayID = &t.ID
		if err := s.apply(ctx, c, EventTrayAssigned, actor, t.Code); err != nil {
			return err
		}
		box.add(s.event(notification.TrayAssigned, c, map[string]string{"tray_code": t.Code}))
		out = &AssignmentOutcome{Case: c, Tray: t}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, box)
	return out, nil
}

// TrayReleaseOutcome is a closed occupancy and the case that left the tray.
type TrayReleaseOutcome struct {
	Case      *Case           `json:"case"`
	Occupancy *tray.Occupancy `json:"occupancy"`
}

// ReleaseTray empties a tray. A case still in_tray goes back to awaiting a
// tray, which is how a body is relocated.
func (s *Controller) ReleaseTray(ctx context.Context, trayID uuid.UUID, notes string, actor auth.Actor) (*TrayReleaseOutcome, error) {
	var out *TrayReleaseOutcome
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.lockOccupant(ctx, trayID); err != nil {
			return err
		}
		occ, err := s.trays.Release(ctx, trayID, notes, actor)
		if err != nil {
			return err
		}
		c, err := s.detach(ctx, occ, actor, "tray released")
		if err != nil {
			return err
		}
		out = &TrayReleaseOutcome{Case: c, Occupancy: occ}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ManualReleaseTray is the supervisor override for emptying a tray outside
// the release flow. Justification is validated before any change.
func (s *Controller) ManualReleaseTray(ctx context.Context, trayID uuid.UUID, reason, observations string, actor auth.Actor) (*TrayReleaseOutcome, error) {
	var (
		out *TrayReleaseOutcome
		box outbox
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.lockOccupant(ctx, trayID); err != nil {
			return err
		}
		occ, err := s.trays.ManualRelease(ctx, trayID, reason, observations, actor)
		if err != nil {
			return err
		}
		c, err := s.detach(ctx, occ, actor, "manual release: "+occ.ManualReason)
		if err != nil {
			return err
		}
		t, err := s.trays.Get(ctx, trayID)
		if err != nil {
			return err
		}
		box.add(s.event(notification.TrayManualRelease, c, map[string]string{
			"tray_code": t.Code,
			"reason":    occ.ManualReason,
		}))
		out = &TrayReleaseOutcome{Case: c, Occupancy: occ}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, box)
	return out, nil
}

// lockOccupant locks the case stored in trayID. Every unit of work locks the
// case before the tray. Lookup failures are left to the tray operation.
func (s *Controller) lockOccupant(ctx context.Context, trayID uuid.UUID) error {
	t, err := s.trays.Get(ctx, trayID)
	if err != nil || t.CaseID == nil {
		return nil
	}
	_, err = s.cases.GetForUpdate(ctx, *t.CaseID)
	return err
}

// detach clears the tray reference of the case that occupied occ.
func (s *Controller) detach(ctx context.Context, occ *tray.Occupancy, actor auth.Actor, note string) (*Case, error) {
	c, err := s.cases.GetForUpdate(ctx, occ.CaseID)
	if err != nil {
		return nil, err
	}
	if c.TrayID == nil || *c.TrayID != occ.TrayID {
		return c, nil
	}
	c.TrayID = nil
	if c.State == StateInTray {
		return c, s.apply(ctx, c, EventTrayVacated, actor, note)
	}
	return c, s.cases.Update(ctx, c)
}

// PlaceReleaseHold blocks release of a case administratively until the
// hold is lifted.
func (s *Controller) PlaceReleaseHold(ctx context.Context, caseID uuid.UUID, reason string, actor auth.Actor) (*Case, error) {
	if err := actor.Require(auth.RoleGuardSupervisor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	var out *Case
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.cases.GetForUpdate(ctx, caseID)
		if err != nil {
			return err
		}
		out = c
		if c.State == StateOnHold && c.HoldReason == HoldRelease {
			return nil
		}
		return s.apply(ctx, c, EventReleaseHoldPlaced, actor, reason)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Controller) LiftReleaseHold(ctx context.Context, caseID uuid.UUID, note string, actor auth.Actor) (*Case, error) {
	if err := actor.Require(auth.RoleGuardSupervisor); err != nil {
		return nil, err
	}
	var out *Case
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.cases.GetForUpdate(ctx, caseID)
		if err != nil {
			return err
		}
		out = c
		if c.State == StateAwaitingRelease {
			return nil
		}
		return s.apply(ctx, c, EventReleaseHoldLifted, actor, strings.TrimSpace(note))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AttemptRelease releases the case when no hold source reports an active
// hold. Holds are evaluated on every call; an unreachable source blocks the
// release.
func (s *Controller) AttemptRelease(ctx context.Context, caseID uuid.UUID, actor auth.Actor) (*Case, error) {
	if err := actor.Require(auth.RoleGuard, auth.RoleGuardSupervisor); err != nil {
		return nil, err
	}
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	switch {
	case c.State.IsTerminal():
		return c, nil
	case c.State == StateOnHold && c.HoldReason == HoldRelease:
		return nil, blocked(c, []string{string(HoldRelease)})
	}
	if _, err := Transition(c.Status(), EventReleaseAuthorized); err != nil {
		return nil, err
	}

	holds, err := s.gate.Evaluate(ctx, c.ReleaseRef())
	if err != nil {
		s.logger.Warn().Err(err).Str("case_code", c.Code).Msg("release gate unavailable, release refused")
		return nil, err
	}
	if len(holds) > 0 {
		reasons := release.Reasons(holds)
		s.logger.Info().Str("case_code", c.Code).Strs("holds", reasons).Msg("release blocked")
		s.flush(ctx, outbox{s.event(notification.ReleaseBlocked, c, map[string]string{
			"holds": strings.Join(reasons, ", "),
		})})
		return nil, blocked(c, reasons)
	}

	var (
		out *Case
		box outbox
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.cases.GetForUpdate(ctx, caseID)
		if err != nil {
			return err
		}
		out = cur
		if cur.State.IsTerminal() {
			return nil
		}
		if _, err := Transition(cur.Status(), EventReleaseAuthorized); err != nil {
			return err
		}

		t, err := s.trays.GetByCase(ctx, cur.ID)
		if err != nil {
			return err
		}
		if t != nil {
			if _, err := s.trays.Release(ctx, t.ID, "released with case "+cur.Code, actor); err != nil {
				return err
			}
		}
		now := s.now()
		cur.TrayID = nil
		cur.ReleasedAt = &now
		if err := s.apply(ctx, cur, EventReleaseAuthorized, actor, ""); err != nil {
			return err
		}
		box.add(s.event(notification.CaseReleased, cur, nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, box)
	return out, nil
}

func blocked(c *Case, reasons []string) error {
	return &apperr.Error{
		Code:     apperr.CodeBlockedByHold,
		Message:  "release blocked by active holds",
		Metadata: map[string]string{"case_code": c.Code},
		Details:  reasons,
	}
}

func (s *Controller) GetCase(ctx context.Context, id uuid.UUID) (*Case, error) {
	return s.cases.GetByID(ctx, id)
}

// GetCaseByCode resolves a case code as printed on the wristband.
func (s *Controller) GetCaseByCode(ctx context.Context, code string) (*Case, error) {
	c, err := s.cases.GetByCode(ctx, custody.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.WithMetadata(apperr.CodeCaseNotFound, "case not found", map[string]string{"code": code})
	}
	return c, nil
}

func (s *Controller) ListCases(ctx context.Context, state State, limit, offset int) ([]*Case, int, error) {
	return s.cases.List(ctx, state, limit, offset)
}

// History returns the state changes of a case, oldest first.
func (s *Controller) History(ctx context.Context, caseID uuid.UUID) ([]*StateChange, error) {
	if _, err := s.cases.GetByID(ctx, caseID); err != nil {
		return nil, err
	}
	return s.cases.History(ctx, caseID)
}

func (s *Controller) ListVerificationAttempts(ctx context.Context, caseID uuid.UUID) ([]*verification.Attempt, error) {
	if _, err := s.cases.GetByID(ctx, caseID); err != nil {
		return nil, err
	}
	return s.attempts.ListByCase(ctx, caseID)
}

func (s *Controller) ListTransfers(ctx context.Context, caseID uuid.UUID) ([]*custody.Transfer, error) {
	if _, err := s.cases.GetByID(ctx, caseID); err != nil {
		return nil, err
	}
	return s.custody.ListByCase(ctx, caseID)
}

func (s *Controller) ListCorrections(ctx context.Context, caseID uuid.UUID) ([]correction.View, error) {
	if _, err := s.cases.GetByID(ctx, caseID); err != nil {
		return nil, err
	}
	return s.corrections.ListByCase(ctx, caseID, s.now())
}
