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

type createOrderRequest struct {
	Quantity       int                `json:"quantity"`
	Materials      map[string]float64 `json:"materials"`
	ProductID      string             `json:"product_id"`
	DesignSnapshot map[string]any     `json:"design_snapshot"`
	DeliveryType   string             `json:"delivery_type"`
	DeliveryFee    float64            `json:"delivery_fee"`
}

type transitionOrderRequest struct {
	TargetStatus string  `json:"target_status"`
	TrackingLink *string `json:"tracking_link,omitempty"`
}

type updatePriceRequest struct {
	TotalPrice float64 `json:"total_price"`
}

type updateDeadlineRequest struct {
	Deadline string `json:"deadline"`
}

type updateBreakdownRequest struct {
	WeightKg     float64 `json:"weight_kg"`
	DeliveryFee  float64 `json:"delivery_fee"`
	DeliveryType string  `json:"delivery_type"`
	// Omitting the rate applies the configured default; zero is VAT-exempt.
	VATRatePercent *float64 `json:"vat_rate_percent"`
	Notes          string   `json:"notes"`
}

type updateTrackingRequest struct {
	TrackingLink string `json:"tracking_link"`
}

// OrderHandlers exposes the order lifecycle endpoints for authenticated actors.
type OrderHandlers struct {
	verifier auth.TokenVerifier
	orders   services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(verifier auth.TokenVerifier, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		verifier: verifier,
		orders:   orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.verifier != nil {
		r.Use(auth.RequireAuth(h.verifier))
	}
	r.Post("/", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/audit", h.listStatusAudit)
	r.Post("/{orderID}:transition", h.transitionStatus)
	r.Post("/{orderID}:sign", h.signContract)
	r.Put("/{orderID}/price", h.updatePrice)
	r.Put("/{orderID}/deadline", h.updateDeadline)
	r.Put("/{orderID}/breakdown", h.updateBreakdown)
	r.Put("/{orderID}/tracking", h.setTrackingLink)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		CustomerID:     actor.ID,
		Quantity:       req.Quantity,
		Materials:      req.Materials,
		ProductID:      strings.TrimSpace(req.ProductID),
		DesignSnapshot: req.DesignSnapshot,
		DeliveryType:   domain.DeliveryType(strings.TrimSpace(req.DeliveryType)),
		DeliveryFee:    req.DeliveryFee,
		Actor:          actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireActor(ctx, w); !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listStatusAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireActor(ctx, w); !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	entries, err := h.orders.ListStatusAudit(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payloads := make([]statusAuditPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, buildStatusAuditPayload(entry))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"entries": payloads})
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req transitionOrderRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	target := domain.OrderStatus(strings.TrimSpace(req.TargetStatus))
	if target == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "target_status is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: target,
		TrackingLink: cloneStringPointer(req.TrackingLink),
		Actor:        actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) signContract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.SignContract(ctx, services.SignContractCommand{
		OrderID: orderID,
		Actor:   actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updatePrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updatePriceRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdatePrice(ctx, services.UpdatePriceCommand{
		OrderID:    orderID,
		TotalPrice: req.TotalPrice,
		Actor:      actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateDeadline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateDeadlineRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	deadline, err := parseTimeParam(req.Deadline)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "deadline must be a valid RFC3339 timestamp", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateDeadline(ctx, services.UpdateDeadlineCommand{
		OrderID:  orderID,
		Deadline: deadline,
		Actor:    actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateBreakdown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateBreakdownRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateBreakdown(ctx, services.UpdateBreakdownCommand{
		OrderID:        orderID,
		WeightKg:       req.WeightKg,
		DeliveryFee:    req.DeliveryFee,
		DeliveryType:   domain.DeliveryType(strings.TrimSpace(req.DeliveryType)),
		VATRatePercent: req.VATRatePercent,
		Notes:          strings.TrimSpace(req.Notes),
		Actor:          actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) setTrackingLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateTrackingRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.SetTrackingLink(ctx, services.SetTrackingLinkCommand{
		OrderID:      orderID,
		TrackingLink: strings.TrimSpace(req.TrackingLink),
		Actor:        actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                 string             `json:"id"`
	OrderNumber        string             `json:"order_number"`
	CustomerID         string             `json:"customer_id"`
	Status             string             `json:"status"`
	Quantity           int                `json:"quantity"`
	TotalPrice         *float64           `json:"total_price,omitempty"`
	Deadline           string             `json:"deadline,omitempty"`
	Materials          map[string]float64 `json:"materials,omitempty"`
	PriceBreakdown     *breakdownPayload  `json:"price_breakdown,omitempty"`
	EstimatedBreakdown *breakdownPayload  `json:"estimated_breakdown,omitempty"`
	Contract           contractPayload    `json:"contract"`
	TrackingLink       *string            `json:"tracking_link,omitempty"`
	DesignSnapshot     map[string]any     `json:"design_snapshot,omitempty"`
	Revision           int64              `json:"revision"`
	CreatedAt          string             `json:"created_at"`
	UpdatedAt          string             `json:"updated_at"`
}

type breakdownPayload struct {
	WeightKg         float64  `json:"weight_kg"`
	MaterialCost     float64  `json:"material_cost"`
	DeliveryFee      float64  `json:"delivery_fee"`
	DeliveryType     string   `json:"delivery_type"`
	VATRatePercent   float64  `json:"vat_rate_percent"`
	Subtotal         float64  `json:"subtotal"`
	VATAmount        float64  `json:"vat_amount"`
	Total            float64  `json:"total"`
	Notes            string   `json:"notes,omitempty"`
	MissingMaterials []string `json:"missing_materials,omitempty"`
	ComputedAt       string   `json:"computed_at,omitempty"`
	ComputedBy       string   `json:"computed_by,omitempty"`
}

type contractPayload struct {
	SalesAdminSigned   bool           `json:"sales_admin_signed"`
	SalesAdminSignedAt string         `json:"sales_admin_signed_at,omitempty"`
	CustomerSigned     bool           `json:"customer_signed"`
	CustomerSignedAt   string         `json:"customer_signed_at,omitempty"`
	Payload            map[string]any `json:"payload,omitempty"`
}

type statusAuditPayload struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorID    string `json:"actor_id"`
	ActorName  string `json:"actor_name,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:           order.ID,
		OrderNumber:  order.OrderNumber,
		CustomerID:   order.CustomerID,
		Status:       string(order.Status),
		Quantity:     order.Quantity,
		TotalPrice:   order.TotalPrice,
		Materials:    order.Materials,
		Contract:     buildContractPayload(order.Contract),
		TrackingLink: cloneStringPointer(order.TrackingLink),
		Revision:     order.Revision,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
	}
	if order.Deadline != nil {
		payload.Deadline = formatTime(*order.Deadline)
	}
	if order.PriceBreakdown != nil {
		bd := buildBreakdownPayload(*order.PriceBreakdown)
		payload.PriceBreakdown = &bd
	}
	if order.EstimatedBreakdown != nil {
		bd := buildBreakdownPayload(*order.EstimatedBreakdown)
		payload.EstimatedBreakdown = &bd
	}
	if len(order.DesignSnapshot) > 0 {
		payload.DesignSnapshot = order.DesignSnapshot
	}
	return payload
}

func buildBreakdownPayload(bd services.PriceBreakdown) breakdownPayload {
	return breakdownPayload{
		WeightKg:         bd.WeightKg,
		MaterialCost:     bd.MaterialCost,
		DeliveryFee:      bd.DeliveryFee,
		DeliveryType:     string(bd.DeliveryType),
		VATRatePercent:   bd.VATRatePercent,
		Subtotal:         bd.Subtotal,
		VATAmount:        bd.VATAmount,
		Total:            bd.Total,
		Notes:            bd.Notes,
		MissingMaterials: bd.MissingMaterials,
		ComputedAt:       formatTime(bd.ComputedAt),
		ComputedBy:       bd.ComputedBy,
	}
}

func buildContractPayload(contract services.Contract) contractPayload {
	payload := contractPayload{
		SalesAdminSigned: contract.SalesAdminSigned,
		CustomerSigned:   contract.CustomerSigned,
		Payload:          contract.Payload,
	}
	if contract.SalesAdminSignedAt != nil {
		payload.SalesAdminSignedAt = formatTime(pointerTime(contract.SalesAdminSignedAt))
	}
	if contract.CustomerSignedAt != nil {
		payload.CustomerSignedAt = formatTime(pointerTime(contract.CustomerSignedAt))
	}
	return payload
}

func buildStatusAuditPayload(entry services.StatusAuditEntry) statusAuditPayload {
	return statusAuditPayload{
		ID:         entry.ID,
		OrderID:    entry.OrderID,
		FromStatus: string(entry.FromStatus),
		ToStatus:   string(entry.ToStatus),
		ActorID:    entry.ActorID,
		ActorName:  entry.ActorName,
		RecordedAt: formatTime(entry.RecordedAt),
	}
}

func requireActor(ctx context.Context, w http.ResponseWriter) (domain.Actor, bool) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.ID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return domain.Actor{}, false
	}
	return actor, true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderPermissionDenied):
		httpx.WriteError(ctx, w, httpx.NewError("permission_denied", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOrderTrackingLinkRequired):
		httpx.WriteError(ctx, w, httpx.NewError("tracking_link_required", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderContractOrder):
		httpx.WriteError(ctx, w, httpx.NewError("contract_order_violation", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
