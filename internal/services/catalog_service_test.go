package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hangerworks/api/internal/domain"
)

func floatRef(v float64) *float64 { return &v }

func newTestCatalogService(t *testing.T, catalog *stubCatalogRepo) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Catalog: catalog,
		Clock:   fixedClock(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	return svc
}

func TestEstimateBreakdownQuotesFromCatalog(t *testing.T) {
	catalog := &stubCatalogRepo{
		materials: []domain.Material{
			{ID: "mat_pp", Name: "Polypropylene", UnitPriceKg: 150, IsAvailable: true},
			{ID: "mat_abs", Name: "ABS", UnitPriceKg: 210, IsAvailable: true},
		},
		products: []domain.Product{
			{ID: "prod_std", Name: "Standard Hanger", WeightKg: 0.13, IsPublished: true},
		},
	}
	svc := newTestCatalogService(t, catalog)

	breakdown, err := svc.EstimateBreakdown(context.Background(), EstimateBreakdownCommand{
		ProductID:      "prod_std",
		Quantity:       40,
		Materials:      map[string]float64{"Polypropylene": 100},
		DeliveryFee:    1000,
		DeliveryType:   domain.DeliveryLocal,
		VATRatePercent: floatRef(12),
	})
	if err != nil {
		t.Fatalf("EstimateBreakdown: %v", err)
	}

	if got := domain.RoundedTo2(breakdown.WeightKg); got != 5.20 {
		t.Fatalf("weight = %v, want 5.20", got)
	}
	if got := domain.RoundedTo2(breakdown.MaterialCost); got != 780.00 {
		t.Fatalf("material cost = %v, want 780.00", got)
	}
	if got := domain.RoundedTo2(breakdown.Total); got != 1993.60 {
		t.Fatalf("total = %v, want 1993.60", got)
	}
	if breakdown.ComputedAt.IsZero() {
		t.Fatal("expected ComputedAt to be stamped")
	}
}

func TestEstimateBreakdownFlagsUnpricedMaterials(t *testing.T) {
	catalog := &stubCatalogRepo{
		materials: []domain.Material{
			{ID: "mat_pp", Name: "Polypropylene", UnitPriceKg: 150, IsAvailable: true},
		},
		products: []domain.Product{
			{ID: "prod_std", Name: "Standard Hanger", WeightKg: 0.25, IsPublished: true},
		},
	}
	svc := newTestCatalogService(t, catalog)

	breakdown, err := svc.EstimateBreakdown(context.Background(), EstimateBreakdownCommand{
		ProductID:   "prod_std",
		Quantity:    10,
		Materials:   map[string]float64{"Polypropylene": 60, "Recycled PET": 40},
		DeliveryFee: 0,
	})
	if err != nil {
		t.Fatalf("EstimateBreakdown: %v", err)
	}
	if len(breakdown.MissingMaterials) != 1 || breakdown.MissingMaterials[0] != "Recycled PET" {
		t.Fatalf("missing materials = %v, want [Recycled PET]", breakdown.MissingMaterials)
	}
}

func TestEstimateBreakdownUnknownProduct(t *testing.T) {
	svc := newTestCatalogService(t, &stubCatalogRepo{
		products: []domain.Product{{ID: "prod_std", WeightKg: 0.13}},
	})

	_, err := svc.EstimateBreakdown(context.Background(), EstimateBreakdownCommand{
		ProductID: "prod_missing",
		Quantity:  10,
		Materials: map[string]float64{"Polypropylene": 100},
	})
	if !errors.Is(err, ErrCatalogUnknownProduct) {
		t.Fatalf("err = %v, want ErrCatalogUnknownProduct", err)
	}
}

func TestEstimateBreakdownRejectsInvalidInput(t *testing.T) {
	svc := newTestCatalogService(t, &stubCatalogRepo{
		products: []domain.Product{{ID: "prod_std", WeightKg: 0.13}},
	})

	cases := []struct {
		name string
		cmd  EstimateBreakdownCommand
	}{
		{"blank product", EstimateBreakdownCommand{Quantity: 10, Materials: map[string]float64{"PP": 100}}},
		{"zero quantity", EstimateBreakdownCommand{ProductID: "prod_std", Materials: map[string]float64{"PP": 100}}},
		{"bad mix", EstimateBreakdownCommand{ProductID: "prod_std", Quantity: 10, Materials: map[string]float64{"PP": 40}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.EstimateBreakdown(context.Background(), tc.cmd); !errors.Is(err, ErrCatalogInvalidInput) {
				t.Fatalf("err = %v, want ErrCatalogInvalidInput", err)
			}
		})
	}
}

func TestCatalogListsPassThrough(t *testing.T) {
	catalog := &stubCatalogRepo{
		materials: []domain.Material{{ID: "mat_pp", Name: "Polypropylene"}},
		products:  []domain.Product{{ID: "prod_std", Name: "Standard Hanger"}},
	}
	svc := newTestCatalogService(t, catalog)

	materials, err := svc.ListMaterials(context.Background())
	if err != nil || len(materials) != 1 {
		t.Fatalf("ListMaterials = %v, %v", materials, err)
	}
	products, err := svc.ListProducts(context.Background())
	if err != nil || len(products) != 1 {
		t.Fatalf("ListProducts = %v, %v", products, err)
	}
}
