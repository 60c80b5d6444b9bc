// Package verification compares wristband readings against the stored case
// identity. Comparison is pure: it never reads or writes a case.
package verification

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/ehr/mortuary/internal/platform/apperr"
)

// Normalize canonicalizes a field for comparison: NFC, trimmed, internal
// whitespace collapsed to single spaces, case folded. Accents are kept, so
// "Pérez" and "Perez" differ.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	// Casers carry state and are not safe to share.
	return cases.Fold().String(s)
}

// Compare checks all five fields. The verdict is approved iff every field
// matches; otherwise the diff lists only the mismatched fields, in a fixed
// order, with the values as stored and as read.
func Compare(w Wristband, stored Identity) Result {
	r := Result{
		ClinicalRecordMatch: Normalize(stored.ClinicalRecordNumber) == Normalize(w.ClinicalRecordNumber),
		DocumentMatch:       Normalize(stored.DocumentNumber) == Normalize(w.DocumentNumber),
		NameMatch:           Normalize(stored.FullName) == Normalize(w.FullName),
		ServiceMatch:        Normalize(stored.Service) == Normalize(w.Service),
		CodeMatch:           Normalize(stored.CaseCode) == Normalize(w.CaseCode),
	}

	checks := []struct {
		match    bool
		field    string
		expected string
		observed string
	}{
		{r.ClinicalRecordMatch, FieldClinicalRecord, stored.ClinicalRecordNumber, w.ClinicalRecordNumber},
		{r.DocumentMatch, FieldDocument, stored.DocumentNumber, w.DocumentNumber},
		{r.NameMatch, FieldFullName, stored.FullName, w.FullName},
		{r.ServiceMatch, FieldService, stored.Service, w.Service},
		{r.CodeMatch, FieldCaseCode, stored.CaseCode, w.CaseCode},
	}
	var mismatched []string
	for _, c := range checks {
		if !c.match {
			r.Diff = append(r.Diff, FieldDiff{Field: c.field, Expected: c.expected, Observed: c.observed})
			mismatched = append(mismatched, c.field)
		}
	}

	if len(mismatched) == 0 {
		r.Verdict = VerdictApproved
		return r
	}
	r.Verdict = VerdictRejected
	r.RejectionReason = "wristband does not match case record: " + strings.Join(mismatched, ", ")
	return r
}

// Validate rejects a reading with no usable values. A blank field is still
// compared (and will mismatch); an entirely blank wristband is a bad scan.
func (w Wristband) Validate() error {
	if strings.TrimSpace(w.ClinicalRecordNumber+w.DocumentNumber+w.FullName+w.Service+w.CaseCode) == "" {
		return apperr.Validation("wristband fields are required")
	}
	return nil
}
