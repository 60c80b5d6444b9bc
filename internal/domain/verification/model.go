package verification

import (
	"time"

	"github.com/google/uuid"
)

type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// Field names used in diffs and correction requests.
const (
	FieldClinicalRecord = "clinical_record_number"
	FieldDocument       = "document_number"
	FieldFullName       = "full_name"
	FieldService        = "service"
	FieldCaseCode       = "case_code"
)

// Wristband holds the five values read from the physical wristband.
type Wristband struct {
	ClinicalRecordNumber string `json:"clinical_record_number"`
	DocumentNumber       string `json:"document_number"`
	FullName             string `json:"full_name"`
	Service              string `json:"service"`
	CaseCode             string `json:"case_code"`
}

// Identity is the stored counterpart of a Wristband, taken from the case.
type Identity Wristband

// FieldDiff describes one mismatched field.
type FieldDiff struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Observed string `json:"observed"`
}

// Result is the outcome of comparing a wristband against a case identity.
type Result struct {
	Verdict             Verdict     `json:"verdict"`
	ClinicalRecordMatch bool        `json:"clinical_record_match"`
	DocumentMatch       bool        `json:"document_match"`
	NameMatch           bool        `json:"name_match"`
	ServiceMatch        bool        `json:"service_match"`
	CodeMatch           bool        `json:"code_match"`
	Diff                []FieldDiff `json:"diff,omitempty"`
	RejectionReason     string      `json:"rejection_reason,omitempty"`
}

func (r Result) Approved() bool { return r.Verdict == VerdictApproved }

// Attempt is one recorded verification. Attempts are append-only.
type Attempt struct {
	ID                  uuid.UUID   `json:"id"`
	CaseID              uuid.UUID   `json:"case_id"`
	VerifiedAt          time.Time   `json:"verified_at"`
	VerifiedBy          string      `json:"verified_by"`
	Wristband           Wristband   `json:"wristband"`
	ClinicalRecordMatch bool        `json:"clinical_record_match"`
	DocumentMatch       bool        `json:"document_match"`
	NameMatch           bool        `json:"name_match"`
	ServiceMatch        bool        `json:"service_match"`
	CodeMatch           bool        `json:"code_match"`
	Verdict             Verdict     `json:"verdict"`
	RejectionReason     string      `json:"rejection_reason,omitempty"`
	Diff                []FieldDiff `json:"diff,omitempty"`
	CorrectionRequestID *uuid.UUID  `json:"correction_request_id,omitempty"`
}

// NewAttempt builds the attempt record for a comparison result.
func NewAttempt(caseID uuid.UUID, verifiedBy string, w Wristband, r Result, correctionID *uuid.UUID) *Attempt {
	return &Attempt{
		CaseID:              caseID,
		VerifiedAt:          time.Now().UTC(),
		VerifiedBy:          verifiedBy,
		Wristband:           w,
		ClinicalRecordMatch: r.ClinicalRecordMatch,
		DocumentMatch:       r.DocumentMatch,
		NameMatch:           r.NameMatch,
		ServiceMatch:        r.ServiceMatch,
		CodeMatch:           r.CodeMatch,
		Verdict:             r.Verdict,
		RejectionReason:     r.RejectionReason,
		Diff:                r.Diff,
		CorrectionRequestID: correctionID,
	}
}
