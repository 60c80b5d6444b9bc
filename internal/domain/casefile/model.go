package casefile

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/mortuary/internal/domain/release"
	"github.com/ehr/mortuary/internal/domain/verification"
	"github.com/ehr/mortuary/internal/platform/apperr"
)

// Case is the custody record of one deceased patient from death
// registration to release. Code never changes once assigned.
type Case struct {
	ID                   uuid.UUID  `json:"id"`
	Code                 string     `json:"code"`
	ClinicalRecordNumber string     `json:"clinical_record_number"`
	DocumentType         string     `json:"document_type"`
	DocumentNumber       string     `json:"document_number"`
	FullName             string     `json:"full_name"`
	Service              string     `json:"service"`
	State                State      `json:"state"`
	HoldReason           HoldReason `json:"hold_reason,omitempty"`
	LegalCase            bool       `json:"legal_case"`
	TrayID               *uuid.UUID `json:"tray_id,omitempty"`
	CreatedBy            string     `json:"created_by"`
	CustodianID          string     `json:"custodian_id"`
	DeathAt              *time.Time `json:"death_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	ReleasedAt           *time.Time `json:"released_at,omitempty"`
}

func (c *Case) Status() Status {
	return Status{State: c.State, HoldReason: c.HoldReason}
}

// Identity is the stored identity a wristband is verified against.
func (c *Case) Identity() verification.Identity {
	return verification.Identity{
		ClinicalRecordNumber: c.ClinicalRecordNumber,
		DocumentNumber:       c.DocumentNumber,
		FullName:             c.FullName,
		Service:              c.Service,
		CaseCode:             c.Code,
	}
}

func (c *Case) ReleaseRef() release.CaseRef {
	return release.CaseRef{ID: c.ID, Code: c.Code, LegalCase: c.LegalCase}
}

// RegisterInput is the death registration filed by the ward nurse.
type RegisterInput struct {
	ClinicalRecordNumber string     `json:"clinical_record_number"`
	DocumentType         string     `json:"document_type"`
	DocumentNumber       string     `json:"document_number"`
	FullName             string     `json:"full_name"`
	Service              string     `json:"service"`
	LegalCase            bool       `json:"legal_case"`
	DeathAt              *time.Time `json:"death_at,omitempty"`
}

func (in *RegisterInput) normalize() {
	in.ClinicalRecordNumber = strings.TrimSpace(in.ClinicalRecordNumber)
	in.DocumentType = strings.TrimSpace(in.DocumentType)
	in.DocumentNumber = strings.TrimSpace(in.DocumentNumber)
	in.FullName = strings.Join(strings.Fields(in.FullName), " ")
	in.Service = strings.TrimSpace(in.Service)
}

// Validate trims the input and checks the required fields.
func (in *RegisterInput) Validate(now time.Time) error {
	in.normalize()
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"clinical_record_number", in.ClinicalRecordNumber},
		{"document_type", in.DocumentType},
		{"document_number", in.DocumentNumber},
		{"full_name", in.FullName},
		{"service", in.Service},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return apperr.WithDetails(apperr.CodeValidation, "missing required fields", missing)
	}
	if in.DeathAt != nil && in.DeathAt.After(now) {
		return apperr.Validation("death_at cannot be in the future")
	}
	return nil
}

// StateChange is one accepted transition. History is append-only.
type StateChange struct {
	ID         int64      `json:"id"`
	CaseID     uuid.UUID  `json:"case_id"`
	FromState  State      `json:"from_state"`
	ToState    State      `json:"to_state"`
	HoldReason HoldReason `json:"hold_reason,omitempty"`
	Event      Event      `json:"event"`
	ActorID    string     `json:"actor_id"`
	Note       string     `json:"note,omitempty"`
	ChangedAt  time.Time  `json:"changed_at"`
}
