package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/ehr/mortuary/internal/platform/apperr"
	"github.com/ehr/mortuary/internal/platform/auth"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid := c.Get("request_id").(string)
		if rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	}

	h := RequestID()(handler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid := c.Get("request_id").(string)
		if rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	}

	h := RequestID()(handler)
	h(c)

	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	logger := zerolog.New(os.Stderr).With().Logger()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	h := Logger(logger)(handler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	logger := zerolog.New(os.Stderr).With().Logger()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		panic("test panic")
	}

	err := Recovery(logger)(handler)(c)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	logger := zerolog.New(os.Stderr).With().Logger()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	if err := Recovery(logger)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

type auditSink struct {
	entries []AuditEntry
	err     error
}

func (s *auditSink) RecordAccess(_ context.Context, entry AuditEntry) error {
	s.entries = append(s.entries, entry)
	return s.err
}

func TestAudit_RecordsEntry(t *testing.T) {
	logger := zerolog.Nop()
	trayID := uuid.New().String()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/trays/"+trayID+"/release", nil)
	req = req.WithContext(auth.ContextWithActor(context.Background(),
		auth.Actor{ID: "guard-1", Roles: []string{auth.RoleGuard}}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-123")

	recorder := &auditSink{}

	handler := func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}

	if err := Audit(logger, recorder)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recorder.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(recorder.entries))
	}
	entry := recorder.entries[0]
	if entry.Resource != "trays" || entry.ResourceID != trayID {
		t.Errorf("expected trays/%s, got %s/%s", trayID, entry.Resource, entry.ResourceID)
	}
	if entry.Action != "create" {
		t.Errorf("expected create, got %s", entry.Action)
	}
	if entry.UserID != "guard-1" {
		t.Errorf("expected guard-1, got %s", entry.UserID)
	}
	if entry.RequestID != "req-123" {
		t.Errorf("expected req-123, got %s", entry.RequestID)
	}
}

func TestAudit_StatusFromHTTPError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	recorder := &auditSink{}
	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "nope")
	}

	Audit(zerolog.Nop(), recorder)(handler)(c)
	if len(recorder.entries) != 1 || recorder.entries[0].StatusCode != http.StatusForbidden {
		t.Errorf("expected one entry with 403, got %+v", recorder.entries)
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	recorder := &auditSink{}
	handler := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	Audit(zerolog.Nop(), recorder)(handler)(c)
	if len(recorder.entries) != 0 {
		t.Error("expected /health not to be audited")
	}
}

func TestAudit_RecorderFailureKeepsResponse(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/trays", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	recorder := &auditSink{err: errors.New("audit table unavailable")}
	handler := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	if err := Audit(zerolog.Nop(), nil, recorder)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || len(recorder.entries) != 1 {
		t.Errorf("expected 200 and one recorded attempt, got %d and %d", rec.Code, len(recorder.entries))
	}
}

func TestSplitResourcePath(t *testing.T) {
	id := uuid.New().String()
	tests := []struct {
		path     string
		resource string
		id       string
	}{
		{"/api/v1/cases", "cases", ""},
		{"/api/v1/cases/" + id, "cases", id},
		{"/api/v1/cases/" + id + "/history", "cases", id},
		{"/api/v1/custody/transfers", "custody", ""},
		{"/api/v1/trays/statistics", "trays", ""},
		{"/api/v1/", "unknown", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resource, gotID := splitResourcePath(tt.path)
			if resource != tt.resource || gotID != tt.id {
				t.Errorf("splitResourcePath(%q) = %q, %q; want %q, %q", tt.path, resource, gotID, tt.resource, tt.id)
			}
		})
	}
}

func TestSecurityHeaders_SetsHeaders(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	SecurityHeaders()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)

	expected := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	}
	for header, want := range expected {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s: expected %q, got %q", header, want, got)
		}
	}
}

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := RequestTimeout(5*time.Second)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected a deadline on the request context")
		}
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequestTimeout_ReturnsServiceUnavailable(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cases/x/release", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	}

	if err := RequestTimeout(20*time.Millisecond)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body apperr.Body
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body.Code != apperr.CodeDependencyUnavailable || !body.Retryable {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestHTTPMetrics_CountsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/trays", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/trays", nil))
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/api/v1/trays", "200"))
	if got != 3 {
		t.Errorf("expected 3 requests counted, got %v", got)
	}
}
