package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestRouterHealthz(t *testing.T) {
	now := time.Date(2024, 3, 20, 7, 0, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthBuildInfo("1.4.0", "abc123"),
		WithHealthClock(func() time.Time { return now }),
	)

	router := NewRouter(WithHealthHandlers(health))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "1.4.0" || resp["revision"] != "abc123" {
		t.Fatalf("unexpected health payload: %#v", resp)
	}
}

func TestRouterReadyzReportsFailingCheck(t *testing.T) {
	health := NewHealthHandlers(
		WithReadinessCheck("firestore", func(ctx context.Context) error { return nil }),
		WithReadinessCheck("pubsub", func(ctx context.Context) error { return errors.New("broker unreachable") }),
	)

	router := NewRouter(WithHealthHandlers(health))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Status != "unavailable" {
		t.Fatalf("unexpected status: %s", resp.Status)
	}
	if resp.Checks["firestore"] != "ok" || resp.Checks["pubsub"] != "broker unreachable" {
		t.Fatalf("unexpected checks: %#v", resp.Checks)
	}
}

func TestRouterUnknownRouteReturnsEnvelope(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["error"] != errorNotFoundCode {
		t.Fatalf("unexpected error code: %v", resp["error"])
	}
}

func TestRouterMountsRegistrars(t *testing.T) {
	var registered []string
	registrar := func(name string) RouteRegistrar {
		return func(r chi.Router) {
			registered = append(registered, name)
			r.Get("/", func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		}
	}

	router := NewRouter(
		WithCatalogRoutes(registrar("catalog")),
		WithOrderRoutes(registrar("orders")),
		WithPaymentRoutes(registrar("payments")),
	)

	if len(registered) != 3 {
		t.Fatalf("expected 3 registrars to run, got %d", len(registered))
	}

	for _, path := range []string{"/api/v1/catalog/", "/api/v1/orders/", "/api/v1/payments/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected 204 for %s, got %d", path, rr.Code)
		}
	}
}

func TestRouterUnmountedGroupReturnsNotImplemented(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected status 501, got %d", rr.Code)
	}
}
