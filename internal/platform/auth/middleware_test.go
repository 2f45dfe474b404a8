package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	domain "github.com/hangerworks/api/internal/domain"
)

var testSecret = []byte("test-signing-secret")

func signTestToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func testClaims(subject, name, role string, now time.Time) Claims {
	return Claims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "hangerworks",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func newTestVerifier(t *testing.T, now time.Time) *HMACVerifier {
	t.Helper()
	verifier, err := NewHMACVerifier(testSecret, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewHMACVerifier: %v", err)
	}
	return verifier
}

func TestVerifyTokenResolvesActor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier := newTestVerifier(t, now)

	token := signTestToken(t, testClaims("adm_1", "Dana", "sales_admin", now))
	actor, err := verifier.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if actor.ID != "adm_1" || actor.Name != "Dana" || actor.Role != domain.RoleSalesAdmin {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier := newTestVerifier(t, issued.Add(2*time.Hour))

	token := signTestToken(t, testClaims("adm_1", "Dana", "sales_admin", issued))
	if _, err := verifier.VerifyToken(token); err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyTokenRejectsIssuerMismatch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier := newTestVerifier(t, now)

	claims := testClaims("adm_1", "Dana", "sales_admin", now)
	claims.Issuer = "someone-else"
	if _, err := verifier.VerifyToken(signTestToken(t, claims)); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyTokenRejectsNotYetValid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier := newTestVerifier(t, now)

	claims := testClaims("adm_1", "Dana", "sales_admin", now)
	claims.NotBefore = jwt.NewNumericDate(now.Add(10 * time.Minute))
	if _, err := verifier.VerifyToken(signTestToken(t, claims)); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyTokenRejectsUnknownRole(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier := newTestVerifier(t, now)

	token := signTestToken(t, testClaims("adm_1", "Dana", "superuser", now))
	if _, err := verifier.VerifyToken(token); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier := newTestVerifier(t, now)

	claims := testClaims("adm_1", "Dana", "sales_admin", now)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := verifier.VerifyToken(signed); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestRequireAuthStoresActor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier := newTestVerifier(t, now)

	var got domain.Actor
	handler := RequireAuth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			t.Fatal("actor missing from context")
		}
		got = actor
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/orders/ord_1", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, testClaims("om_1", "Riley", "operations_manager", now)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if got.Role != domain.RoleOperationsManager {
		t.Fatalf("actor role = %s", got.Role)
	}
}

func TestRequireAuthRejectsMissingHeader(t *testing.T) {
	verifier := newTestVerifier(t, time.Now())

	handler := RequireAuth(verifier)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/orders/ord_1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRequireAuthEnforcesRoles(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier := newTestVerifier(t, now)

	handler := RequireAuth(verifier, domain.RoleSalesAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/pay_1/approve", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, testClaims("cus_1", "Sam", "customer", now)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/payments/pay_1/approve", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, testClaims("adm_1", "Dana", "sales_admin", now)))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}
