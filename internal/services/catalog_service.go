package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hangerworks/api/internal/domain"
	"github.com/hangerworks/api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput signals a quote request with invalid parameters.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogUnknownProduct indicates the product is not in the catalog.
	ErrCatalogUnknownProduct = errors.New("catalog: unknown product")
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogRepository
	Clock   func() time.Time
}

type catalogService struct {
	catalog repositories.CatalogRepository
	clock   func() time.Time
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &catalogService{
		catalog: deps.Catalog,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *catalogService) ListMaterials(ctx context.Context) ([]Material, error) {
	materials, err := s.catalog.ListMaterials(ctx)
	if err != nil {
		return nil, err
	}
	return materials, nil
}

func (s *catalogService) ListProducts(ctx context.Context) ([]Product, error) {
	products, err := s.catalog.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	return products, nil
}

// EstimateBreakdown quotes a breakdown from current catalog data without
// touching any order. Storefronts call this while the customer configures.
func (s *catalogService) EstimateBreakdown(ctx context.Context, cmd EstimateBreakdownCommand) (PriceBreakdown, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return PriceBreakdown{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return PriceBreakdown{}, fmt.Errorf("%w: quantity must be positive", ErrCatalogInvalidInput)
	}

	products, err := s.catalog.ListProducts(ctx)
	if err != nil {
		return PriceBreakdown{}, err
	}
	var weightKg float64
	found := false
	for _, product := range products {
		if product.ID == productID {
			weightKg = product.WeightKg * float64(cmd.Quantity)
			found = true
			break
		}
	}
	if !found {
		return PriceBreakdown{}, fmt.Errorf("%w: %q", ErrCatalogUnknownProduct, productID)
	}

	materials, err := s.catalog.ListMaterials(ctx)
	if err != nil {
		return PriceBreakdown{}, err
	}
	unitPrices := make(map[string]float64, len(materials))
	for _, material := range materials {
		unitPrices[material.Name] = material.UnitPriceKg
	}

	breakdown, err := domain.ComputeBreakdown(domain.BreakdownInput{
		WeightKg:       weightKg,
		Materials:      cmd.Materials,
		UnitPrices:     unitPrices,
		DeliveryFee:    cmd.DeliveryFee,
		DeliveryType:   cmd.DeliveryType,
		VATRatePercent: cmd.VATRatePercent,
		ComputedAt:     s.clock(),
	})
	if err != nil {
		return PriceBreakdown{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}
	return breakdown, nil
}
