package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hangerworks/api/internal/domain"
	"github.com/hangerworks/api/internal/platform/auth"
	"github.com/hangerworks/api/internal/platform/httpx"
	"github.com/hangerworks/api/internal/services"
)

type estimateBreakdownRequest struct {
	ProductID      string             `json:"product_id"`
	Quantity       int                `json:"quantity"`
	Materials      map[string]float64 `json:"materials"`
	DeliveryFee    float64            `json:"delivery_fee"`
	DeliveryType   string             `json:"delivery_type"`
	VATRatePercent *float64           `json:"vat_rate_percent"`
}

// CatalogHandlers exposes the material and product reference endpoints.
type CatalogHandlers struct {
	verifier auth.TokenVerifier
	catalog  services.CatalogService
}

// NewCatalogHandlers constructs a new CatalogHandlers instance.
func NewCatalogHandlers(verifier auth.TokenVerifier, catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{
		verifier: verifier,
		catalog:  catalog,
	}
}

// Routes registers the /catalog endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.verifier != nil {
		r.Use(auth.RequireAuth(h.verifier))
	}
	r.Get("/materials", h.listMaterials)
	r.Get("/products", h.listProducts)
	r.Post("/estimate", h.estimateBreakdown)
}

func (h *CatalogHandlers) listMaterials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireActor(ctx, w); !ok {
		return
	}

	materials, err := h.catalog.ListMaterials(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	payloads := make([]materialPayload, 0, len(materials))
	for _, material := range materials {
		payloads = append(payloads, buildMaterialPayload(material))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"materials": payloads})
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireActor(ctx, w); !ok {
		return
	}

	products, err := h.catalog.ListProducts(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	payloads := make([]productPayload, 0, len(products))
	for _, product := range products {
		payloads = append(payloads, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"products": payloads})
}

func (h *CatalogHandlers) estimateBreakdown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireActor(ctx, w); !ok {
		return
	}

	var req estimateBreakdownRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	breakdown, err := h.catalog.EstimateBreakdown(ctx, services.EstimateBreakdownCommand{
		ProductID:      strings.TrimSpace(req.ProductID),
		Quantity:       req.Quantity,
		Materials:      req.Materials,
		DeliveryFee:    req.DeliveryFee,
		DeliveryType:   domain.DeliveryType(strings.TrimSpace(req.DeliveryType)),
		VATRatePercent: req.VATRatePercent,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"breakdown": buildBreakdownPayload(breakdown)})
}

type materialPayload struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	UnitPriceKg float64 `json:"unit_price_kg"`
	IsAvailable bool    `json:"is_available"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type productPayload struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	WeightKg    float64 `json:"weight_kg"`
	BasePrice   float64 `json:"base_price"`
	IsPublished bool    `json:"is_published"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func buildMaterialPayload(material services.Material) materialPayload {
	return materialPayload{
		ID:          material.ID,
		Name:        material.Name,
		UnitPriceKg: material.UnitPriceKg,
		IsAvailable: material.IsAvailable,
		CreatedAt:   formatTime(material.CreatedAt),
		UpdatedAt:   formatTime(material.UpdatedAt),
	}
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:          product.ID,
		Name:        product.Name,
		Description: product.Description,
		WeightKg:    product.WeightKg,
		BasePrice:   product.BasePrice,
		IsPublished: product.IsPublished,
		CreatedAt:   formatTime(product.CreatedAt),
		UpdatedAt:   formatTime(product.UpdatedAt),
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogUnknownProduct):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_product", "product not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}
