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

type stubPaymentService struct {
	submitFn   func(context.Context, services.SubmitPaymentCommand) (services.Payment, error)
	activeFn   func(context.Context, string) (services.Payment, error)
	approveFn  func(context.Context, services.VerifyPaymentCommand) (services.Payment, error)
	rejectFn   func(context.Context, services.RejectPaymentCommand) (services.PaymentHistoryEntry, error)
	historyFn  func(context.Context, string) ([]services.PaymentHistoryEntry, error)
	proofURLFn func(context.Context, string) (string, error)
}

func (s *stubPaymentService) SubmitPayment(ctx context.Context, cmd services.SubmitPaymentCommand) (services.Payment, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, cmd)
	}
	return services.Payment{}, errors.New("not implemented")
}

func (s *stubPaymentService) GetActivePayment(ctx context.Context, orderID string) (services.Payment, error) {
	if s.activeFn != nil {
		return s.activeFn(ctx, orderID)
	}
	return services.Payment{}, errors.New("not implemented")
}

func (s *stubPaymentService) Approve(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Payment, error) {
	if s.approveFn != nil {
		return s.approveFn(ctx, cmd)
	}
	return services.Payment{}, errors.New("not implemented")
}

func (s *stubPaymentService) Reject(ctx context.Context, cmd services.RejectPaymentCommand) (services.PaymentHistoryEntry, error) {
	if s.rejectFn != nil {
		return s.rejectFn(ctx, cmd)
	}
	return services.PaymentHistoryEntry{}, errors.New("not implemented")
}

func (s *stubPaymentService) ListHistory(ctx context.Context, orderID string) ([]services.PaymentHistoryEntry, error) {
	if s.historyFn != nil {
		return s.historyFn(ctx, orderID)
	}
	return nil, errors.New("not implemented")
}

func (s *stubPaymentService) ProofURL(ctx context.Context, paymentID string) (string, error) {
	if s.proofURLFn != nil {
		return s.proofURLFn(ctx, paymentID)
	}
	return "", errors.New("not implemented")
}

func testPayment(now time.Time) services.Payment {
	return services.Payment{
		ID:             "pay_1",
		OrderID:        "ord_123",
		Method:         "bank_transfer",
		Status:         domain.PaymentPendingVerification,
		Amount:         1500,
		ProofReference: "proofs/ord_123/pay_1.jpg",
		SubmittedAt:    now,
	}
}

func newPaymentRouter(service services.PaymentService) chi.Router {
	handler := NewPaymentHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)
	return router
}

func TestPaymentHandlersSubmitPayment(t *testing.T) {
	now := time.Date(2024, 3, 17, 8, 0, 0, 0, time.UTC)

	var captured services.SubmitPaymentCommand
	service := &stubPaymentService{
		submitFn: func(ctx context.Context, cmd services.SubmitPaymentCommand) (services.Payment, error) {
			captured = cmd
			return testPayment(now), nil
		},
	}

	body := `{"order_id":"ord_123","method":"bank_transfer","amount":1500,"proof_reference":"proofs/ord_123/pay_1.jpg","notes":"paid in full"}`
	req := withTestActor(httptest.NewRequest(http.MethodPost, "/payments/", strings.NewReader(body)), domain.RoleCustomer)
	rr := httptest.NewRecorder()
	newPaymentRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.Amount != 1500 {
		t.Fatalf("unexpected command: %#v", captured)
	}
	if captured.Actor.ID != "actor-1" {
		t.Fatalf("expected actor from context, got %#v", captured.Actor)
	}

	var resp paymentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Payment.ID != "pay_1" || resp.Payment.Status != string(domain.PaymentPendingVerification) {
		t.Fatalf("unexpected payment payload: %#v", resp.Payment)
	}
}

func TestPaymentHandlersSubmitConflict(t *testing.T) {
	service := &stubPaymentService{
		submitFn: func(ctx context.Context, cmd services.SubmitPaymentCommand) (services.Payment, error) {
			return services.Payment{}, services.ErrPaymentConflict
		},
	}

	body := `{"order_id":"ord_123","method":"bank_transfer","amount":1500,"proof_reference":"ref"}`
	req := withTestActor(httptest.NewRequest(http.MethodPost, "/payments/", strings.NewReader(body)), domain.RoleCustomer)
	rr := httptest.NewRecorder()
	newPaymentRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestPaymentHandlersGetActiveNoActive(t *testing.T) {
	service := &stubPaymentService{
		activeFn: func(ctx context.Context, orderID string) (services.Payment, error) {
			return services.Payment{}, services.ErrPaymentNoActive
		},
	}

	req := withTestActor(httptest.NewRequest(http.MethodGet, "/payments/orders/ord_123/active", nil), domain.RoleSalesAdmin)
	rr := httptest.NewRecorder()
	newPaymentRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error body: %v", err)
	}
	if resp["error"] != "no_active_payment" {
		t.Fatalf("unexpected error code: %v", resp["error"])
	}
}

func TestPaymentHandlersApprove(t *testing.T) {
	now := time.Date(2024, 3, 17, 9, 0, 0, 0, time.UTC)
	verifiedBy := "admin-1"

	var captured services.VerifyPaymentCommand
	service := &stubPaymentService{
		approveFn: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Payment, error) {
			captured = cmd
			payment := testPayment(now)
			payment.Status = domain.PaymentVerified
			payment.VerifiedAt = &now
			payment.VerifiedBy = &verifiedBy
			return payment, nil
		},
	}

	req := withTestActor(httptest.NewRequest(http.MethodPost, "/payments/pay_1:approve", nil), domain.RoleSalesAdmin)
	rr := httptest.NewRecorder()
	newPaymentRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PaymentID != "pay_1" {
		t.Fatalf("expected payment id pay_1, got %s", captured.PaymentID)
	}

	var resp paymentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Payment.Status != string(domain.PaymentVerified) {
		t.Fatalf("unexpected status: %s", resp.Payment.Status)
	}
	if resp.Payment.VerifiedBy == nil || *resp.Payment.VerifiedBy != "admin-1" {
		t.Fatalf("unexpected verified_by: %#v", resp.Payment.VerifiedBy)
	}
}

func TestPaymentHandlersRejectRequiresReason(t *testing.T) {
	service := &stubPaymentService{
		rejectFn: func(ctx context.Context, cmd services.RejectPaymentCommand) (services.PaymentHistoryEntry, error) {
			return services.PaymentHistoryEntry{}, services.ErrPaymentMissingReason
		},
	}

	body := `{"reason":""}`
	req := withTestActor(httptest.NewRequest(http.MethodPost, "/payments/pay_1:reject", strings.NewReader(body)), domain.RoleSalesAdmin)
	rr := httptest.NewRecorder()
	newPaymentRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error body: %v", err)
	}
	if resp["error"] != "rejection_reason_required" {
		t.Fatalf("unexpected error code: %v", resp["error"])
	}
}

func TestPaymentHandlersRejectRecordsHistory(t *testing.T) {
	now := time.Date(2024, 3, 17, 9, 30, 0, 0, time.UTC)

	var captured services.RejectPaymentCommand
	service := &stubPaymentService{
		rejectFn: func(ctx context.Context, cmd services.RejectPaymentCommand) (services.PaymentHistoryEntry, error) {
			captured = cmd
			snapshot := testPayment(now)
			snapshot.Status = domain.PaymentRejected
			return services.PaymentHistoryEntry{
				ID:              "hist-1",
				OrderID:         "ord_123",
				Action:          domain.PaymentActionRejected,
				ResultingStatus: domain.PaymentRejected,
				Snapshot:        snapshot,
				Reason:          cmd.Reason,
				ActorID:         cmd.Actor.ID,
				RecordedAt:      now,
			}, nil
		},
	}

	body := `{"reason":"proof image unreadable"}`
	req := withTestActor(httptest.NewRequest(http.MethodPost, "/payments/pay_1:reject", strings.NewReader(body)), domain.RoleSalesAdmin)
	rr := httptest.NewRecorder()
	newPaymentRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Reason != "proof image unreadable" {
		t.Fatalf("unexpected reason: %s", captured.Reason)
	}

	var resp struct {
		Entry paymentHistoryPayload `json:"entry"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Entry.Action != string(domain.PaymentActionRejected) {
		t.Fatalf("unexpected action: %s", resp.Entry.Action)
	}
	if resp.Entry.Snapshot.Status != string(domain.PaymentRejected) {
		t.Fatalf("unexpected snapshot status: %s", resp.Entry.Snapshot.Status)
	}
}

func TestPaymentHandlersListHistory(t *testing.T) {
	now := time.Date(2024, 3, 17, 10, 0, 0, 0, time.UTC)
	service := &stubPaymentService{
		historyFn: func(ctx context.Context, orderID string) ([]services.PaymentHistoryEntry, error) {
			return []services.PaymentHistoryEntry{
				{
					ID:              "hist-1",
					OrderID:         orderID,
					Action:          domain.PaymentActionApproved,
					ResultingStatus: domain.PaymentVerified,
					Snapshot:        testPayment(now),
					ActorID:         "admin-1",
					RecordedAt:      now,
				},
			}, nil
		},
	}

	req := withTestActor(httptest.NewRequest(http.MethodGet, "/payments/orders/ord_123/history", nil), domain.RoleSalesAdmin)
	rr := httptest.NewRecorder()
	newPaymentRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp struct {
		Entries []paymentHistoryPayload `json:"entries"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Action != string(domain.PaymentActionApproved) {
		t.Fatalf("unexpected history payload: %#v", resp.Entries)
	}
}

func TestPaymentHandlersProofURL(t *testing.T) {
	service := &stubPaymentService{
		proofURLFn: func(ctx context.Context, paymentID string) (string, error) {
			if paymentID != "pay_1" {
				t.Fatalf("unexpected payment id: %s", paymentID)
			}
			return "https://storage.example/signed", nil
		},
	}

	req := withTestActor(httptest.NewRequest(http.MethodGet, "/payments/pay_1/proof-url", nil), domain.RoleSalesAdmin)
	rr := httptest.NewRecorder()
	newPaymentRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["url"] != "https://storage.example/signed" {
		t.Fatalf("unexpected url: %s", resp["url"])
	}
}
