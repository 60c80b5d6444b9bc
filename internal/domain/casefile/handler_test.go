package casefile

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/mortuary/internal/platform/apperr"
	"github.com/ehr/mortuary/internal/platform/auth"
)

var errBillingDown = errors.New("billing offline")

func withActor(req *http.Request, a auth.Actor) *http.Request {
	return req.WithContext(auth.ContextWithActor(req.Context(), a))
}

func jsonRequest(method, target, body string, a auth.Actor) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return withActor(req, a)
}

func errorBody(t *testing.T, err error) (int, apperr.Body) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	body, ok := he.Message.(apperr.Body)
	if !ok {
		t.Fatalf("expected apperr.Body, got %T", he.Message)
	}
	return he.Code, body
}

func TestHandler_RegisterCase(t *testing.T) {
	h := newHarness(t)
	handler, e := NewHandler(h.ctrl), echo.New()

	body := `{"clinical_record_number":"HC001","document_type":"DNI","document_number":"DNI001","full_name":"Juan Perez","service":"UCI"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/cases", body, wardNurse), rec)

	if err := handler.RegisterCase(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got Case
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Code != "SGM-1" || got.State != StateRegistered {
		t.Errorf("unexpected case: %+v", got)
	}
}

func TestHandler_RegisterCase_MissingFields(t *testing.T) {
	h := newHarness(t)
	handler, e := NewHandler(h.ctrl), echo.New()

	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/cases", `{"full_name":"Juan Perez"}`, wardNurse), httptest.NewRecorder())
	status, body := errorBody(t, handler.RegisterCase(c))
	if status != http.StatusBadRequest || body.Code != apperr.CodeValidation {
		t.Errorf("expected 400 VALIDATION_FAILED, got %d %s", status, body.Code)
	}
	if len(body.Details) != 4 {
		t.Errorf("expected four missing fields, got %v", body.Details)
	}
}

func TestHandler_RegisterVerification_StatusByOutcome(t *testing.T) {
	h := newHarness(t)
	handler, e := NewHandler(h.ctrl), echo.New()
	cs := h.register(t)
	h.ctrl.TransferCustody(t.Context(), cs.Code, technician)

	body := `{"clinical_record_number":"HC001","document_number":"DNI001","full_name":"Juan Perez","service":"UCI","case_code":"SGM-1"}`
	for _, want := range []int{http.StatusCreated, http.StatusOK} {
		rec := httptest.NewRecorder()
		c := e.NewContext(jsonRequest(http.MethodPost, "/", body, guard), rec)
		c.SetParamNames("id")
		c.SetParamValues(cs.ID.String())

		if err := handler.RegisterVerification(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != want {
			t.Errorf("expected %d, got %d", want, rec.Code)
		}
	}
}

func TestHandler_TransferCustody_UnknownCode(t *testing.T) {
	h := newHarness(t)
	handler, e := NewHandler(h.ctrl), echo.New()

	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/custody/transfers", `{"code":"SGM-77"}`, technician), httptest.NewRecorder())
	status, body := errorBody(t, handler.TransferCustody(c))
	if status != http.StatusConflict || body.Code != apperr.CodeInvalidOrExpiredCode {
		t.Errorf("expected 409 INVALID_OR_EXPIRED_CODE, got %d %s", status, body.Code)
	}
}

func TestHandler_AttemptRelease_Blocked(t *testing.T) {
	h := newHarness(t)
	handler, e := NewHandler(h.ctrl), echo.New()
	cs := h.awaitingRelease(t)
	h.debt.Set(cs.Code, "invoice unpaid")
	h.blood.Set(cs.Code, "two units owed")

	c := e.NewContext(jsonRequest(http.MethodPost, "/", "", guard), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(cs.ID.String())

	status, body := errorBody(t, handler.AttemptRelease(c))
	if status != http.StatusConflict || body.Code != apperr.CodeBlockedByHold {
		t.Fatalf("expected 409 BLOCKED_BY_HOLD, got %d %s", status, body.Code)
	}
	if strings.Join(body.Details, ",") != "blood_debt,economic_debt" {
		t.Errorf("unexpected hold reasons: %v", body.Details)
	}
	if body.Metadata["case_code"] != cs.Code {
		t.Errorf("expected case_code metadata, got %v", body.Metadata)
	}
}

func TestHandler_AttemptRelease_DependencyUnavailable(t *testing.T) {
	h := newHarness(t)
	handler, e := NewHandler(h.ctrl), echo.New()
	cs := h.awaitingRelease(t)
	h.debt.Fail(errBillingDown)

	c := e.NewContext(jsonRequest(http.MethodPost, "/", "", guard), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(cs.ID.String())

	status, body := errorBody(t, handler.AttemptRelease(c))
	if status != http.StatusServiceUnavailable || !body.Retryable {
		t.Errorf("expected retryable 503, got %d %+v", status, body)
	}
}

func TestHandler_ManualRelease_ShortObservations(t *testing.T) {
	h := newHarness(t)
	handler, e := NewHandler(h.ctrl), echo.New()
	_, tr := h.stored(t)

	body := `{"reason":"equipment failure","observations":"too short"}`
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body, supervisor), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(tr.ID.String())

	status, errBody := errorBody(t, handler.ManualReleaseTray(c))
	if status != http.StatusUnprocessableEntity || errBody.Code != apperr.CodeObservationsTooShort {
		t.Errorf("expected 422 MANUAL_RELEASE_OBSERVATIONS_TOO_SHORT, got %d %s", status, errBody.Code)
	}
}

func TestHandler_AllocateTray_RequiresCaseID(t *testing.T) {
	h := newHarness(t)
	handler, e := NewHandler(h.ctrl), echo.New()

	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/trays/allocate", `{}`, guard), httptest.NewRecorder())
	status, _ := errorBody(t, handler.AllocateTray(c))
	if status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
}

func TestHandler_ListCases_ByCode(t *testing.T) {
	h := newHarness(t)
	handler, e := NewHandler(h.ctrl), echo.New()
	cs := h.register(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(withActor(httptest.NewRequest(http.MethodGet, "/api/v1/cases?code=sgm-1", nil), guard), rec)
	if err := handler.ListCases(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got struct {
		Data  []Case `json:"data"`
		Total int    `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Total != 1 || len(got.Data) != 1 || got.Data[0].ID != cs.ID {
		t.Errorf("unexpected page: %s", rec.Body.String())
	}
}

func TestHandler_GetCase_InvalidID(t *testing.T) {
	h := newHarness(t)
	handler, e := NewHandler(h.ctrl), echo.New()

	c := e.NewContext(withActor(httptest.NewRequest(http.MethodGet, "/", nil), guard), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	he, ok := handler.GetCase(c).(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", he)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h := newHarness(t)
	e := echo.New()
	NewHandler(h.ctrl).RegisterRoutes(e.Group("/api/v1"))

	registered := map[string]bool{}
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /api/v1/cases",
		"GET /api/v1/cases/:id",
		"GET /api/v1/cases/:id/history",
		"GET /api/v1/cases/:id/verifications",
		"GET /api/v1/cases/:id/transfers",
		"GET /api/v1/cases/:id/corrections",
		"POST /api/v1/cases",
		"POST /api/v1/corrections/:id/resolve",
		"POST /api/v1/custody/transfers",
		"POST /api/v1/cases/:id/verifications",
		"POST /api/v1/cases/:id/release",
		"POST /api/v1/trays/allocate",
		"POST /api/v1/trays/:id/assign",
		"POST /api/v1/trays/:id/release",
		"POST /api/v1/trays/:id/manual-release",
		"POST /api/v1/cases/:id/holds",
		"DELETE /api/v1/cases/:id/holds",
	} {
		if !registered[want] {
			t.Errorf("route %s not registered", want)
		}
	}
}
