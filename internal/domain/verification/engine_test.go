package verification

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/mortuary/internal/platform/apperr"
)

func storedSGM1() Identity {
	return Identity{
		ClinicalRecordNumber: "HC001",
		DocumentNumber:       "DNI001",
		FullName:             "Juan Perez",
		Service:              "UCI",
		CaseCode:             "SGM-1",
	}
}

func TestCompare_ExactMatchApproved(t *testing.T) {
	r := Compare(Wristband{
		ClinicalRecordNumber: "HC001",
		DocumentNumber:       "DNI001",
		FullName:             "Juan Perez",
		Service:              "UCI",
		CaseCode:             "SGM-1",
	}, storedSGM1())

	if r.Verdict != VerdictApproved {
		t.Fatalf("expected approved, got %s (%s)", r.Verdict, r.RejectionReason)
	}
	if len(r.Diff) != 0 {
		t.Errorf("expected empty diff, got %+v", r.Diff)
	}
	if r.RejectionReason != "" {
		t.Errorf("expected no rejection reason, got %q", r.RejectionReason)
	}
	if !(r.ClinicalRecordMatch && r.DocumentMatch && r.NameMatch && r.ServiceMatch && r.CodeMatch) {
		t.Errorf("expected all fields to match: %+v", r)
	}
}

func TestCompare_NameTypoRejected(t *testing.T) {
	r := Compare(Wristband{
		ClinicalRecordNumber: "HC001",
		DocumentNumber:       "DNI001",
		FullName:             "Juan Perz",
		Service:              "UCI",
		CaseCode:             "SGM-1",
	}, storedSGM1())

	if r.Verdict != VerdictRejected {
		t.Fatalf("expected rejected, got %s", r.Verdict)
	}
	if len(r.Diff) != 1 {
		t.Fatalf("expected 1 diff entry, got %+v", r.Diff)
	}
	want := FieldDiff{Field: FieldFullName, Expected: "Juan Perez", Observed: "Juan Perz"}
	if r.Diff[0] != want {
		t.Errorf("expected %+v, got %+v", want, r.Diff[0])
	}
	if r.NameMatch {
		t.Error("expected name mismatch")
	}
	if !r.ClinicalRecordMatch || !r.DocumentMatch || !r.ServiceMatch || !r.CodeMatch {
		t.Error("expected the other fields to match")
	}
	if r.RejectionReason == "" {
		t.Error("expected a rejection reason")
	}
}

func TestCompare_DiffOrderAndReason(t *testing.T) {
	r := Compare(Wristband{
		ClinicalRecordNumber: "HC002",
		DocumentNumber:       "DNI001",
		FullName:             "Juan Perez",
		Service:              "URG",
		CaseCode:             "SGM-1",
	}, storedSGM1())

	if len(r.Diff) != 2 {
		t.Fatalf("expected 2 diff entries, got %d", len(r.Diff))
	}
	if r.Diff[0].Field != FieldClinicalRecord || r.Diff[1].Field != FieldService {
		t.Errorf("unexpected diff order: %+v", r.Diff)
	}
	want := "wristband does not match case record: clinical_record_number, service"
	if r.RejectionReason != want {
		t.Errorf("expected %q, got %q", want, r.RejectionReason)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		same bool
	}{
		{"case insensitive", "JUAN PEREZ", "juan perez", true},
		{"surrounding space", "  sgm-1 ", "SGM-1", true},
		{"internal whitespace", "Juan   Perez", "Juan\tPerez", true},
		{"composed vs decomposed", "P\u00e9rez", "Pe\u0301rez", true},
		{"accent kept", "P\u00e9rez", "Perez", false},
		{"different text", "UCI", "URG", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.a) == Normalize(tt.b)
			if got != tt.same {
				t.Errorf("Normalize(%q) == Normalize(%q) is %v, want %v", tt.a, tt.b, got, tt.same)
			}
		})
	}
}

func TestWristband_Validate(t *testing.T) {
	if err := (Wristband{}).Validate(); !apperr.HasCode(err, apperr.CodeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if err := (Wristband{CaseCode: "SGM-1"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAttemptRepoMemory(t *testing.T) {
	ctx := context.Background()
	repo := NewAttemptRepoMemory()
	caseID := uuid.New()
	corr := uuid.New()

	rejected := NewAttempt(caseID, "guard-1", Wristband{FullName: "x"},
		Result{Verdict: VerdictRejected, RejectionReason: "r"}, &corr)
	approved := NewAttempt(caseID, "guard-1", Wristband{FullName: "y"}, Result{Verdict: VerdictApproved}, nil)
	other := NewAttempt(uuid.New(), "guard-2", Wristband{}, Result{Verdict: VerdictApproved}, nil)
	for _, a := range []*Attempt{rejected, approved, other} {
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("create: %v", err)
		}
		if a.ID == uuid.Nil {
			t.Fatal("expected ID to be set")
		}
	}

	list, err := repo.ListByCase(ctx, caseID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != rejected.ID || list[1].ID != approved.ID {
		t.Fatalf("unexpected list: %+v", list)
	}

	latest, err := repo.LatestByVerdict(ctx, caseID, VerdictRejected)
	if err != nil || latest == nil {
		t.Fatalf("latest rejected: %v, %v", latest, err)
	}
	if latest.CorrectionRequestID == nil || *latest.CorrectionRequestID != corr {
		t.Errorf("expected correction id %s, got %v", corr, latest.CorrectionRequestID)
	}

	none, err := repo.LatestByVerdict(ctx, uuid.New(), VerdictApproved)
	if err != nil || none != nil {
		t.Errorf("expected nil for unknown case, got %v, %v", none, err)
	}
}
