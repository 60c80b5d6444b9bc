package correction

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/mortuary/internal/domain/verification"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Request asks the nurse who registered a case to fix the identity data a
// guard found wrong at the mortuary door.
type Request struct {
	ID                    uuid.UUID                `json:"id"`
	CaseID                uuid.UUID                `json:"case_id"`
	RequestedBy           string                   `json:"requested_by"`
	ResponsibleUser       string                   `json:"responsible_user"`
	IncorrectData         []verification.FieldDiff `json:"incorrect_data"`
	ProblemDescription    string                   `json:"problem_description"`
	Status                Status                   `json:"status"`
	CreatedAt             time.Time                `json:"created_at"`
	ResolvedAt            *time.Time               `json:"resolved_at,omitempty"`
	ResolvedBy            *string                  `json:"resolved_by,omitempty"`
	ResolutionDescription string                   `json:"resolution_description,omitempty"`
	WristbandReprinted    bool                     `json:"wristband_reprinted"`
}

func (r *Request) IsPending() bool { return r.Status == StatusPending }

// Elapsed is the time the request has been open: until now while pending,
// until resolution afterwards.
func (r *Request) Elapsed(now time.Time) time.Duration {
	end := now
	if r.ResolvedAt != nil {
		end = *r.ResolvedAt
	}
	if end.Before(r.CreatedAt) {
		return 0
	}
	return end.Sub(r.CreatedAt)
}

// OverSLA reports whether a pending request has waited longer than sla.
// Resolved requests never alert.
func (r *Request) OverSLA(now time.Time, sla time.Duration) bool {
	return r.IsPending() && r.Elapsed(now) > sla
}

// View is the API representation: the stored request plus the SLA fields
// derived at query time.
type View struct {
	*Request
	Elapsed        string `json:"elapsed"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
	OverSLAAlert   bool   `json:"over_sla_alert"`
}

func NewView(r *Request, now time.Time, sla time.Duration) View {
	elapsed := r.Elapsed(now)
	return View{
		Request:        r,
		Elapsed:        elapsed.Truncate(time.Second).String(),
		ElapsedSeconds: int64(elapsed / time.Second),
		OverSLAAlert:   r.OverSLA(now, sla),
	}
}
