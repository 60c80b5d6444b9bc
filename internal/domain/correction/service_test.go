package correction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/mortuary/internal/domain/verification"
	"github.com/ehr/mortuary/internal/platform/apperr"
	"github.com/ehr/mortuary/internal/platform/auth"
)

var nameDiff = []verification.FieldDiff{{Field: verification.FieldFullName, Expected: "Juan Perez", Observed: "Juan Perz"}}

func newTestService() *Service {
	return NewService(NewRequestRepoMemory(), 2*time.Hour, zerolog.Nop())
}

func nurse(id string) auth.Actor { return auth.Actor{ID: id, Roles: []string{auth.RoleNurse}} }

func TestCreate_Success(t *testing.T) {
	svc := newTestService()
	caseID := uuid.New()

	q, err := svc.Create(context.Background(), caseID, "guard-1", "nurse-1", nameDiff, "name misspelled")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if q.Status != StatusPending {
		t.Errorf("expected pending, got %s", q.Status)
	}
	if len(q.IncorrectData) != 1 || q.IncorrectData[0].Field != verification.FieldFullName {
		t.Errorf("unexpected incorrect data: %+v", q.IncorrectData)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, uuid.Nil, "g", "n", nameDiff, ""); !apperr.HasCode(err, apperr.CodeValidation) {
		t.Errorf("expected validation error for nil case, got %v", err)
	}
	if _, err := svc.Create(ctx, uuid.New(), "g", "n", nil, ""); !apperr.HasCode(err, apperr.CodeValidation) {
		t.Errorf("expected validation error for empty diff, got %v", err)
	}
	if _, err := svc.Create(ctx, uuid.New(), "", "n", nameDiff, ""); !apperr.HasCode(err, apperr.CodeValidation) {
		t.Errorf("expected validation error for missing requester, got %v", err)
	}
}

func TestCreate_SecondPendingConflicts(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	caseID := uuid.New()

	if _, err := svc.Create(ctx, caseID, "guard-1", "nurse-1", nameDiff, ""); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := svc.Create(ctx, caseID, "guard-2", "nurse-1", nameDiff, "")
	if !apperr.HasCode(err, apperr.CodeCorrectionAlreadyPending) {
		t.Fatalf("expected CORRECTION_ALREADY_PENDING, got %v", err)
	}
}

func TestCreate_ConcurrentSinglePending(t *testing.T) {
	repo := NewRequestRepoMemory()
	caseID := uuid.New()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, conflicts := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Create(context.Background(), &Request{
				CaseID: caseID, RequestedBy: "g", ResponsibleUser: "n",
				IncorrectData: nameDiff, Status: StatusPending, CreatedAt: now,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case apperr.HasCode(err, apperr.CodeCorrectionAlreadyPending):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || conflicts != 19 {
		t.Errorf("expected 1 created and 19 conflicts, got %d and %d", created, conflicts)
	}
}

func TestResolve_Success(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	q, _ := svc.Create(ctx, uuid.New(), "guard-1", "nurse-1", nameDiff, "")

	got, err := svc.Resolve(ctx, q.ID, "  name corrected in record  ", true, nurse("nurse-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusResolved || got.ResolvedAt == nil || got.ResolvedBy == nil || *got.ResolvedBy != "nurse-1" {
		t.Errorf("unexpected resolution: %+v", got)
	}
	if got.ResolutionDescription != "name corrected in record" {
		t.Errorf("expected trimmed description, got %q", got.ResolutionDescription)
	}
	if !got.WristbandReprinted {
		t.Error("expected wristband_reprinted to be stored")
	}

	pending, err := svc.PendingForCase(ctx, q.CaseID)
	if err != nil || pending != nil {
		t.Errorf("expected no pending request after resolution, got %v, %v", pending, err)
	}
}

func TestResolve_AlreadyResolved(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	q, _ := svc.Create(ctx, uuid.New(), "guard-1", "nurse-1", nameDiff, "")
	if _, err := svc.Resolve(ctx, q.ID, "fixed", false, nurse("nurse-1")); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	_, err := svc.Resolve(ctx, q.ID, "fixed again", true, nurse("nurse-1"))
	if !apperr.HasCode(err, apperr.CodeCorrectionAlreadyResolved) {
		t.Errorf("expected CORRECTION_ALREADY_RESOLVED, got %v", err)
	}
}

func TestResolve_RequiresDescription(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	q, _ := svc.Create(ctx, uuid.New(), "guard-1", "nurse-1", nameDiff, "")

	_, err := svc.Resolve(ctx, q.ID, "   ", true, nurse("nurse-1"))
	if !apperr.HasCode(err, apperr.CodeResolutionDescriptionEmpty) {
		t.Errorf("expected RESOLUTION_DESCRIPTION_REQUIRED, got %v", err)
	}
}

func TestResolve_OnlyResponsibleNurseOrAdmin(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	q, _ := svc.Create(ctx, uuid.New(), "guard-1", "nurse-1", nameDiff, "")

	if _, err := svc.Resolve(ctx, q.ID, "fixed", true, nurse("nurse-2")); !apperr.HasCode(err, apperr.CodeForbidden) {
		t.Errorf("expected FORBIDDEN for another nurse, got %v", err)
	}
	guard := auth.Actor{ID: "guard-1", Roles: []string{auth.RoleGuard}}
	if _, err := svc.Resolve(ctx, q.ID, "fixed", true, guard); !apperr.HasCode(err, apperr.CodeForbidden) {
		t.Errorf("expected FORBIDDEN for a guard, got %v", err)
	}
	admin := auth.Actor{ID: "admin-1", Roles: []string{auth.RoleAdmin}}
	if _, err := svc.Resolve(ctx, q.ID, "fixed", true, admin); err != nil {
		t.Errorf("expected admin to resolve on behalf of the nurse, got %v", err)
	}
}

func TestResolve_NotFound(t *testing.T) {
	svc := newTestService()
	_, err := svc.Resolve(context.Background(), uuid.New(), "fixed", true, nurse("nurse-1"))
	if !apperr.HasCode(err, apperr.CodeCorrectionNotFound) {
		t.Errorf("expected CORRECTION_NOT_FOUND, got %v", err)
	}
}

func TestRequest_OverSLA(t *testing.T) {
	created := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	q := &Request{Status: StatusPending, CreatedAt: created}

	if q.OverSLA(created.Add(time.Hour), 2*time.Hour) {
		t.Error("expected no alert at T+1h")
	}
	if !q.OverSLA(created.Add(3*time.Hour), 2*time.Hour) {
		t.Error("expected alert at T+3h")
	}
	if q.OverSLA(created.Add(2*time.Hour), 2*time.Hour) {
		t.Error("expected no alert exactly at the threshold")
	}

	resolved := created.Add(30 * time.Minute)
	q.Status = StatusResolved
	q.ResolvedAt = &resolved
	if q.OverSLA(created.Add(5*time.Hour), 2*time.Hour) {
		t.Error("expected resolved request never to alert")
	}
	if got := q.Elapsed(created.Add(5 * time.Hour)); got != 30*time.Minute {
		t.Errorf("expected elapsed frozen at resolution, got %s", got)
	}
}

func TestListPending_DerivesAlertsAtQueryTime(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

	svc.now = func() time.Time { return base }
	old, _ := svc.Create(ctx, uuid.New(), "g", "n", nameDiff, "")
	svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	fresh, _ := svc.Create(ctx, uuid.New(), "g", "n", nameDiff, "")

	views, total, err := svc.ListPending(ctx, base.Add(3*time.Hour), 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(views) != 2 {
		t.Fatalf("expected 2 pending, got %d/%d", len(views), total)
	}
	if views[0].ID != old.ID || !views[0].OverSLAAlert {
		t.Errorf("expected oldest request first and alerted: %+v", views[0])
	}
	if views[1].ID != fresh.ID || views[1].OverSLAAlert {
		t.Errorf("expected fresh request not alerted: %+v", views[1])
	}
	if views[0].Elapsed != "3h0m0s" || views[0].ElapsedSeconds != 10800 {
		t.Errorf("unexpected elapsed: %s / %d", views[0].Elapsed, views[0].ElapsedSeconds)
	}

	n, err := svc.CountOverSLA(ctx, base.Add(3*time.Hour))
	if err != nil || n != 1 {
		t.Errorf("expected 1 over SLA, got %d (%v)", n, err)
	}
}
