package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hangerworks/api/internal/platform/auth"
	"github.com/hangerworks/api/internal/platform/httpx"
	"github.com/hangerworks/api/internal/services"
)

type submitPaymentRequest struct {
	OrderID              string  `json:"order_id"`
	Method               string  `json:"method"`
	Amount               float64 `json:"amount"`
	ProofReference       string  `json:"proof_reference"`
	TransactionReference *string `json:"transaction_reference,omitempty"`
	Notes                string  `json:"notes"`
}

type rejectPaymentRequest struct {
	Reason string `json:"reason"`
}

// PaymentHandlers exposes payment submission and verification endpoints.
type PaymentHandlers struct {
	verifier auth.TokenVerifier
	payments services.PaymentService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(verifier auth.TokenVerifier, payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{
		verifier: verifier,
		payments: payments,
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.verifier != nil {
		r.Use(auth.RequireAuth(h.verifier))
	}
	r.Post("/", h.submitPayment)
	r.Get("/orders/{orderID}/active", h.getActivePayment)
	r.Get("/orders/{orderID}/history", h.listHistory)
	r.Post("/{paymentID}:approve", h.approvePayment)
	r.Post("/{paymentID}:reject", h.rejectPayment)
	r.Get("/{paymentID}/proof-url", h.proofURL)
}

func (h *PaymentHandlers) submitPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	var req submitPaymentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	payment, err := h.payments.SubmitPayment(ctx, services.SubmitPaymentCommand{
		OrderID:              strings.TrimSpace(req.OrderID),
		Method:               strings.TrimSpace(req.Method),
		Amount:               req.Amount,
		ProofReference:       strings.TrimSpace(req.ProofReference),
		TransactionReference: cloneStringPointer(req.TransactionReference),
		Notes:                strings.TrimSpace(req.Notes),
		Actor:                actor,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, paymentResponse{Payment: buildPaymentPayload(payment)})
}

func (h *PaymentHandlers) getActivePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireActor(ctx, w); !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	payment, err := h.payments.GetActivePayment(ctx, orderID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}

func (h *PaymentHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireActor(ctx, w); !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	entries, err := h.payments.ListHistory(ctx, orderID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	payloads := make([]paymentHistoryPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, buildPaymentHistoryPayload(entry))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"entries": payloads})
}

func (h *PaymentHandlers) approvePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	if paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment id is required", http.StatusBadRequest))
		return
	}

	payment, err := h.payments.Approve(ctx, services.VerifyPaymentCommand{
		PaymentID: paymentID,
		Actor:     actor,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}

func (h *PaymentHandlers) rejectPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	if paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment id is required", http.StatusBadRequest))
		return
	}

	var req rejectPaymentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	entry, err := h.payments.Reject(ctx, services.RejectPaymentCommand{
		PaymentID: paymentID,
		Reason:    strings.TrimSpace(req.Reason),
		Actor:     actor,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"entry": buildPaymentHistoryPayload(entry)})
}

func (h *PaymentHandlers) proofURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireActor(ctx, w); !ok {
		return
	}

	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	if paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment id is required", http.StatusBadRequest))
		return
	}

	url, err := h.payments.ProofURL(ctx, paymentID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"url": url})
}

type paymentResponse struct {
	Payment paymentPayload `json:"payment"`
}

type paymentPayload struct {
	ID                   string  `json:"id"`
	OrderID              string  `json:"order_id"`
	Method               string  `json:"method"`
	Status               string  `json:"status"`
	Amount               float64 `json:"amount"`
	ProofReference       string  `json:"proof_reference"`
	TransactionReference *string `json:"transaction_reference,omitempty"`
	SubmittedAt          string  `json:"submitted_at"`
	VerifiedAt           string  `json:"verified_at,omitempty"`
	VerifiedBy           *string `json:"verified_by,omitempty"`
	Notes                string  `json:"notes,omitempty"`
}

type paymentHistoryPayload struct {
	ID              string         `json:"id"`
	OrderID         string         `json:"order_id"`
	Action          string         `json:"action"`
	ResultingStatus string         `json:"resulting_status"`
	Snapshot        paymentPayload `json:"snapshot"`
	Reason          string         `json:"reason,omitempty"`
	ActorID         string         `json:"actor_id"`
	ActorName       string         `json:"actor_name,omitempty"`
	RecordedAt      string         `json:"recorded_at"`
}

func buildPaymentPayload(payment services.Payment) paymentPayload {
	payload := paymentPayload{
		ID:                   payment.ID,
		OrderID:              payment.OrderID,
		Method:               payment.Method,
		Status:               string(payment.Status),
		Amount:               payment.Amount,
		ProofReference:       payment.ProofReference,
		TransactionReference: cloneStringPointer(payment.TransactionReference),
		SubmittedAt:          formatTime(payment.SubmittedAt),
		VerifiedBy:           cloneStringPointer(payment.VerifiedBy),
		Notes:                payment.Notes,
	}
	if payment.VerifiedAt != nil {
		payload.VerifiedAt = formatTime(pointerTime(payment.VerifiedAt))
	}
	return payload
}

func buildPaymentHistoryPayload(entry services.PaymentHistoryEntry) paymentHistoryPayload {
	return paymentHistoryPayload{
		ID:              entry.ID,
		OrderID:         entry.OrderID,
		Action:          string(entry.Action),
		ResultingStatus: string(entry.ResultingStatus),
		Snapshot:        buildPaymentPayload(entry.Snapshot),
		Reason:          entry.Reason,
		ActorID:         entry.ActorID,
		ActorName:       entry.ActorName,
		RecordedAt:      formatTime(entry.RecordedAt),
	}
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentMissingReason):
		httpx.WriteError(ctx, w, httpx.NewError("rejection_reason_required", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNoActive):
		httpx.WriteError(ctx, w, httpx.NewError("no_active_payment", "no active payment for order", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentPermissionDenied):
		httpx.WriteError(ctx, w, httpx.NewError("permission_denied", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrPaymentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("payment_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}
