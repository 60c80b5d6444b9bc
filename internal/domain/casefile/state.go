package casefile

import (
	"github.com/ehr/mortuary/internal/platform/apperr"
)

type State string

const (
	StateRegistered             State = "registered"
	StateInTransit              State = "in_transit"
	StatePendingVerification    State = "pending_verification"
	StateVerified               State = "verified"
	StateAwaitingTrayAssignment State = "awaiting_tray_assignment"
	StateInTray                 State = "in_tray"
	StateAwaitingRelease        State = "awaiting_release"
	StateReleased               State = "released"
	StateOnHold                 State = "on_hold"
)

// HoldReason qualifies StateOnHold and is empty in every other state.
type HoldReason string

const (
	HoldVerificationRejected HoldReason = "verification_rejected"
	HoldRelease              HoldReason = "release_hold"
)

type Event string

const (
	EventCustodyTransferred   Event = "custody_transferred"
	EventMortuaryArrived      Event = "mortuary_arrived"
	EventVerificationApproved Event = "verification_approved"
	EventVerificationRejected Event = "verification_rejected"
	EventCorrectionResolved   Event = "correction_resolved"
	EventAllocationRequested  Event = "allocation_requested"
	EventTrayAssigned         Event = "tray_assigned"
	EventTrayVacated          Event = "tray_vacated"
	EventReleaseHoldPlaced    Event = "release_hold_placed"
	EventReleaseHoldLifted    Event = "release_hold_lifted"
	EventReleaseAuthorized    Event = "release_authorized"

	// EventRegistered only appears in history as the first entry of a case.
	EventRegistered Event = "case_registered"
)

// Status is a case state together with its hold reason.
type Status struct {
	State      State      `json:"state"`
	HoldReason HoldReason `json:"hold_reason,omitempty"`
}

func (s Status) String() string {
	if s.HoldReason != "" {
		return string(s.State) + "(" + string(s.HoldReason) + ")"
	}
	return string(s.State)
}

var (
	registered             = Status{State: StateRegistered}
	inTransit              = Status{State: StateInTransit}
	pendingVerification    = Status{State: StatePendingVerification}
	verified               = Status{State: StateVerified}
	awaitingTrayAssignment = Status{State: StateAwaitingTrayAssignment}
	inTray                 = Status{State: StateInTray}
	awaitingRelease        = Status{State: StateAwaitingRelease}
	released               = Status{State: StateReleased}
	heldForCorrection      = Status{State: StateOnHold, HoldReason: HoldVerificationRejected}
	heldForRelease         = Status{State: StateOnHold, HoldReason: HoldRelease}
)

type transition struct {
	from  Status
	event Event
	to    Status
}

var transitions = []transition{
	{registered, EventCustodyTransferred, inTransit},
	{inTransit, EventMortuaryArrived, pendingVerification},
	{pendingVerification, EventVerificationApproved, verified},
	{pendingVerification, EventVerificationRejected, heldForCorrection},
	{heldForCorrection, EventCorrectionResolved, pendingVerification},
	{verified, EventAllocationRequested, awaitingTrayAssignment},
	{awaitingTrayAssignment, EventTrayAssigned, inTray},
	{inTray, EventTrayVacated, awaitingTrayAssignment},
	{inTray, EventCustodyTransferred, awaitingRelease},
	{awaitingRelease, EventReleaseHoldPlaced, heldForRelease},
	{heldForRelease, EventReleaseHoldLifted, awaitingRelease},
	{awaitingRelease, EventReleaseAuthorized, released},
}

// Transition returns the status a case moves to when ev is applied in cur.
// Pairs outside the lifecycle fail with INVALID_TRANSITION.
func Transition(cur Status, ev Event) (Status, error) {
	for _, t := range transitions {
		if t.from == cur && t.event == ev {
			return t.to, nil
		}
	}
	return cur, apperr.WithMetadata(apperr.CodeInvalidTransition,
		"event "+string(ev)+" is not allowed in state "+cur.String(),
		map[string]string{"state": string(cur.State), "hold_reason": string(cur.HoldReason), "event": string(ev)})
}

// IsTerminal reports whether no event can leave the state.
func (s State) IsTerminal() bool { return s == StateReleased }
