package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hangerworks/api/internal/domain"
	"github.com/hangerworks/api/internal/services"
)

type stubCatalogService struct {
	materialsFn func(context.Context) ([]services.Material, error)
	productsFn  func(context.Context) ([]services.Product, error)
	estimateFn  func(context.Context, services.EstimateBreakdownCommand) (services.PriceBreakdown, error)
}

func (s *stubCatalogService) ListMaterials(ctx context.Context) ([]services.Material, error) {
	if s.materialsFn != nil {
		return s.materialsFn(ctx)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCatalogService) ListProducts(ctx context.Context) ([]services.Product, error) {
	if s.productsFn != nil {
		return s.productsFn(ctx)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCatalogService) EstimateBreakdown(ctx context.Context, cmd services.EstimateBreakdownCommand) (services.PriceBreakdown, error) {
	if s.estimateFn != nil {
		return s.estimateFn(ctx, cmd)
	}
	return services.PriceBreakdown{}, errors.New("not implemented")
}

func newCatalogRouter(service services.CatalogService) chi.Router {
	handler := NewCatalogHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/catalog", handler.Routes)
	return router
}

func TestCatalogHandlersListMaterials(t *testing.T) {
	now := time.Date(2024, 3, 18, 12, 0, 0, 0, time.UTC)
	service := &stubCatalogService{
		materialsFn: func(ctx context.Context) ([]services.Material, error) {
			return []services.Material{
				{ID: "mat-1", Name: "beech", UnitPriceKg: 42.5, IsAvailable: true, CreatedAt: now, UpdatedAt: now},
				{ID: "mat-2", Name: "walnut", UnitPriceKg: 88, IsAvailable: false, CreatedAt: now, UpdatedAt: now},
			}, nil
		},
	}

	req := withTestActor(httptest.NewRequest(http.MethodGet, "/catalog/materials", nil), domain.RoleSalesAdmin)
	rr := httptest.NewRecorder()
	newCatalogRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp struct {
		Materials []materialPayload `json:"materials"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Materials) != 2 {
		t.Fatalf("expected 2 materials, got %d", len(resp.Materials))
	}
	if resp.Materials[0].Name != "beech" || resp.Materials[0].UnitPriceKg != 42.5 {
		t.Fatalf("unexpected material payload: %#v", resp.Materials[0])
	}
}

func TestCatalogHandlersListProducts(t *testing.T) {
	now := time.Date(2024, 3, 18, 12, 0, 0, 0, time.UTC)
	service := &stubCatalogService{
		productsFn: func(ctx context.Context) ([]services.Product, error) {
			return []services.Product{
				{ID: "prod-1", Name: "Classic Hanger", WeightKg: 0.3, BasePrice: 18, IsPublished: true, CreatedAt: now, UpdatedAt: now},
			}, nil
		},
	}

	req := withTestActor(httptest.NewRequest(http.MethodGet, "/catalog/products", nil), domain.RoleCustomer)
	rr := httptest.NewRecorder()
	newCatalogRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp struct {
		Products []productPayload `json:"products"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Products) != 1 || resp.Products[0].ID != "prod-1" {
		t.Fatalf("unexpected products payload: %#v", resp.Products)
	}
}

func TestCatalogHandlersEstimateBreakdown(t *testing.T) {
	now := time.Date(2024, 3, 18, 12, 0, 0, 0, time.UTC)

	var captured services.EstimateBreakdownCommand
	service := &stubCatalogService{
		estimateFn: func(ctx context.Context, cmd services.EstimateBreakdownCommand) (services.PriceBreakdown, error) {
			captured = cmd
			return services.PriceBreakdown{
				WeightKg:       12,
				MaterialCost:   600,
				DeliveryFee:    100,
				DeliveryType:   domain.DeliveryLocal,
				VATRatePercent: 12,
				Subtotal:       700,
				VATAmount:      84,
				Total:          784,
				ComputedAt:     now,
			}, nil
		},
	}

	body := `{"product_id":"prod-1","quantity":40,"materials":{"beech":100},"delivery_fee":100,"delivery_type":"local"}`
	req := withTestActor(httptest.NewRequest(http.MethodPost, "/catalog/estimate", strings.NewReader(body)), domain.RoleCustomer)
	rr := httptest.NewRecorder()
	newCatalogRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "prod-1" || captured.Quantity != 40 {
		t.Fatalf("unexpected command: %#v", captured)
	}

	var resp struct {
		Breakdown breakdownPayload `json:"breakdown"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Breakdown.Total != 784 || resp.Breakdown.VATAmount != 84 {
		t.Fatalf("unexpected breakdown payload: %#v", resp.Breakdown)
	}
}

func TestCatalogHandlersEstimateUnknownProduct(t *testing.T) {
	service := &stubCatalogService{
		estimateFn: func(ctx context.Context, cmd services.EstimateBreakdownCommand) (services.PriceBreakdown, error) {
			return services.PriceBreakdown{}, services.ErrCatalogUnknownProduct
		},
	}

	body := `{"product_id":"prod-missing","quantity":1,"materials":{"beech":100}}`
	req := withTestActor(httptest.NewRequest(http.MethodPost, "/catalog/estimate", strings.NewReader(body)), domain.RoleCustomer)
	rr := httptest.NewRecorder()
	newCatalogRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error body: %v", err)
	}
	if resp["error"] != "unknown_product" {
		t.Fatalf("unexpected error code: %v", resp["error"])
	}
}
