package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header map[string]string) (Actor, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got Actor
	err := mw(func(c echo.Context) error {
		got = ActorFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})(c)
	return got, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), nil)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}),
				map[string]string{"Authorization": tt.header})
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "guard-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Roles: []string{RoleGuard},
	}, testSigningKey)

	actor, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}),
		map[string]string{"Authorization": "Bearer " + tokenStr})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor.ID != "guard-7" {
		t.Errorf("expected actor guard-7, got %q", actor.ID)
	}
	if !actor.HasRole(RoleGuard) {
		t.Errorf("expected guard role, got %v", actor.Roles)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "guard-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, testSigningKey)

	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}),
		map[string]string{"Authorization": "Bearer " + tokenStr})
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "guard-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, []byte("another-key"))

	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}),
		map[string]string{"Authorization": "Bearer " + tokenStr})
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_MissingSubject(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{RoleNurse},
	}, testSigningKey)

	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}),
		map[string]string{"Authorization": "Bearer " + tokenStr})
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_IssuerMismatch(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "nurse-1",
			Issuer:    "https://other-idp",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSigningKey)

	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "https://hospital-idp"}
	_, err := runMiddleware(t, JWTMiddleware(cfg), map[string]string{"Authorization": "Bearer " + tokenStr})
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	actor, err := runMiddleware(t, DevAuthMiddleware("dev-user"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor.ID != "dev-user" || !actor.HasRole(RoleAdmin) {
		t.Errorf("expected admin dev-user, got %+v", actor)
	}
}

func TestDevAuthMiddleware_HeaderOverride(t *testing.T) {
	actor, err := runMiddleware(t, DevAuthMiddleware("dev-user"), map[string]string{
		"X-Dev-User":  "nurse-3",
		"X-Dev-Roles": "nurse",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor.ID != "nurse-3" {
		t.Errorf("expected nurse-3, got %q", actor.ID)
	}
	if actor.HasRole(RoleGuard) {
		t.Error("expected nurse not to hold guard role")
	}
}
