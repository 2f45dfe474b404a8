package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/hangerworks/api/internal/domain"
)

type stubPaymentRepo struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
	deleted  []string
}

func newStubPaymentRepo(payments ...domain.Payment) *stubPaymentRepo {
	repo := &stubPaymentRepo{payments: map[string]domain.Payment{}}
	for _, payment := range payments {
		repo.payments[payment.ID] = payment
	}
	return repo
}

func (s *stubPaymentRepo) Insert(_ context.Context, payment domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[payment.ID]; ok {
		return stubRepoError{conflict: true}
	}
	s.payments[payment.ID] = payment
	return nil
}

func (s *stubPaymentRepo) FindByID(_ context.Context, paymentID string) (domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[paymentID]
	if !ok {
		return domain.Payment{}, stubRepoError{notFound: true}
	}
	return payment, nil
}

func (s *stubPaymentRepo) FindActiveByOrder(_ context.Context, orderID string) (domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, payment := range s.payments {
		if payment.OrderID == orderID {
			return payment, nil
		}
	}
	return domain.Payment{}, stubRepoError{notFound: true}
}

func (s *stubPaymentRepo) MarkVerified(_ context.Context, paymentID string, verifiedAt time.Time, verifiedBy string) (domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[paymentID]
	if !ok {
		return domain.Payment{}, stubRepoError{notFound: true}
	}
	if payment.Status == domain.PaymentVerified {
		return domain.Payment{}, stubRepoError{conflict: true}
	}
	payment.Status = domain.PaymentVerified
	payment.VerifiedAt = &verifiedAt
	payment.VerifiedBy = &verifiedBy
	s.payments[paymentID] = payment
	return payment, nil
}

func (s *stubPaymentRepo) Delete(_ context.Context, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[paymentID]; !ok {
		return stubRepoError{notFound: true}
	}
	delete(s.payments, paymentID)
	s.deleted = append(s.deleted, paymentID)
	return nil
}

// lockingUnitOfWork serialises transaction bodies, mirroring the atomicity of
// the Firestore-backed unit of work.
type lockingUnitOfWork struct {
	mu sync.Mutex
}

func (u *lockingUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return fn(ctx)
}

type stubHistoryRepo struct {
	mu      sync.Mutex
	entries []domain.PaymentHistoryEntry
}

func (s *stubHistoryRepo) Append(_ context.Context, entry domain.PaymentHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubHistoryRepo) ListByOrder(_ context.Context, orderID string) ([]domain.PaymentHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PaymentHistoryEntry
	for _, entry := range s.entries {
		if entry.OrderID == orderID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type capturePaymentEvents struct {
	mu     sync.Mutex
	events []PaymentEvent
}

func (c *capturePaymentEvents) PublishPaymentEvent(_ context.Context, event PaymentEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

type captureNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

type notifyCall struct {
	CustomerID string
	TemplateID string
	Payload    map[string]any
}

func (c *captureNotifier) Notify(_ context.Context, customerID, templateID string, payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, notifyCall{CustomerID: customerID, TemplateID: templateID, Payload: payload})
	return c.err
}

func testPayment(id, orderID string, status domain.PaymentStatus) domain.Payment {
	return domain.Payment{
		ID:             id,
		OrderID:        orderID,
		Method:         "bank_transfer",
		Status:         status,
		Amount:         1993.60,
		ProofReference: "proofs/" + orderID + "/receipt.jpg",
		SubmittedAt:    time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func newTestPaymentService(t *testing.T, payments *stubPaymentRepo, history *stubHistoryRepo, orders *stubOrderRepo, audit *stubStatusAuditRepo, events *capturePaymentEvents, notifier *captureNotifier) PaymentService {
	t.Helper()
	svc, err := NewPaymentService(PaymentServiceDeps{
		Payments:    payments,
		History:     history,
		Orders:      orders,
		StatusAudit: audit,
		Clock:       fixedClock(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)),
		IDGenerator: sequentialIDs("ID"),
		Events:      events,
		Notifier:    notifier,
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	return svc
}

func TestSubmitPaymentMovesOrderToVerifying(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusWaitingForPayment))
	payments := newStubPaymentRepo()
	svc := newTestPaymentService(t, payments, &stubHistoryRepo{}, orders, &stubStatusAuditRepo{}, &capturePaymentEvents{}, &captureNotifier{})

	payment, err := svc.SubmitPayment(context.Background(), SubmitPaymentCommand{
		OrderID:        "ord_1",
		Method:         "bank_transfer",
		Amount:         1993.60,
		ProofReference: "proofs/ord_1/receipt.jpg",
		Actor:          Actor{ID: "cus_1", Role: domain.RoleCustomer},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if payment.Status != domain.PaymentPendingVerification {
		t.Fatalf("expected pending_verification, got %s", payment.Status)
	}

	order, _ := orders.FindByID(context.Background(), "ord_1")
	if order.Status != domain.StatusVerifyingPayment {
		t.Fatalf("expected order in verifying_payment, got %s", order.Status)
	}
}

func TestSubmitPaymentConflictsWithActivePayment(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusVerifyingPayment))
	payments := newStubPaymentRepo(testPayment("pay_1", "ord_1", domain.PaymentPendingVerification))
	svc := newTestPaymentService(t, payments, &stubHistoryRepo{}, orders, &stubStatusAuditRepo{}, &capturePaymentEvents{}, &captureNotifier{})

	_, err := svc.SubmitPayment(context.Background(), SubmitPaymentCommand{
		OrderID:        "ord_1",
		Method:         "bank_transfer",
		Amount:         100,
		ProofReference: "proofs/ord_1/second.jpg",
		Actor:          Actor{ID: "cus_1", Role: domain.RoleCustomer},
	})
	if !errors.Is(err, ErrPaymentConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestApproveForcesOrderIntoProduction(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusVerifyingPayment))
	payments := newStubPaymentRepo(testPayment("pay_1", "ord_1", domain.PaymentPendingVerification))
	history := &stubHistoryRepo{}
	events := &capturePaymentEvents{}
	svc := newTestPaymentService(t, payments, history, orders, &stubStatusAuditRepo{}, events, &captureNotifier{})

	payment, err := svc.Approve(context.Background(), VerifyPaymentCommand{
		PaymentID: "pay_1",
		Actor:     Actor{ID: "sa_1", Name: "Alex", Role: domain.RoleSalesAdmin},
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if payment.Status != domain.PaymentVerified {
		t.Fatalf("expected verified, got %s", payment.Status)
	}
	if payment.VerifiedBy == nil || *payment.VerifiedBy != "sa_1" {
		t.Fatalf("expected verifier recorded, got %v", payment.VerifiedBy)
	}

	order, _ := orders.FindByID(context.Background(), "ord_1")
	if order.Status != domain.StatusInProduction {
		t.Fatalf("expected in_production, got %s", order.Status)
	}

	if len(history.entries) != 1 {
		t.Fatalf("expected exactly one history entry, got %d", len(history.entries))
	}
	if history.entries[0].Action != domain.PaymentActionApproved {
		t.Fatalf("expected approved entry, got %s", history.entries[0].Action)
	}
}

func TestApproveTwiceVerifiesOnce(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusVerifyingPayment))
	payments := newStubPaymentRepo(testPayment("pay_1", "ord_1", domain.PaymentPendingVerification))
	history := &stubHistoryRepo{}
	svc := newTestPaymentService(t, payments, history, orders, &stubStatusAuditRepo{}, &capturePaymentEvents{}, &captureNotifier{})

	if _, err := svc.Approve(context.Background(), VerifyPaymentCommand{
		PaymentID: "pay_1",
		Actor:     Actor{ID: "sa_1", Role: domain.RoleSalesAdmin},
	}); err != nil {
		t.Fatalf("first approve: %v", err)
	}

	_, err := svc.Approve(context.Background(), VerifyPaymentCommand{
		PaymentID: "pay_1",
		Actor:     Actor{ID: "sa_1", Role: domain.RoleSalesAdmin},
	})
	if !errors.Is(err, ErrPaymentNoActive) {
		t.Fatalf("expected no active payment on second approve, got %v", err)
	}
	if len(history.entries) != 1 {
		t.Fatalf("expected history unchanged after double approve, got %d entries", len(history.entries))
	}
}

func TestApproveRequiresSalesAdmin(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusVerifyingPayment))
	payments := newStubPaymentRepo(testPayment("pay_1", "ord_1", domain.PaymentPendingVerification))
	svc := newTestPaymentService(t, payments, &stubHistoryRepo{}, orders, &stubStatusAuditRepo{}, &capturePaymentEvents{}, &captureNotifier{})

	for _, role := range []domain.Role{domain.RoleCustomer, domain.RoleOperationsManager, domain.RoleProduction} {
		_, err := svc.Approve(context.Background(), VerifyPaymentCommand{
			PaymentID: "pay_1",
			Actor:     Actor{ID: "x", Role: role},
		})
		if !errors.Is(err, ErrPaymentPermissionDenied) {
			t.Fatalf("role %s: expected permission denied, got %v", role, err)
		}
	}
}

func TestRejectRequiresReason(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusVerifyingPayment))
	payments := newStubPaymentRepo(testPayment("pay_1", "ord_1", domain.PaymentPendingVerification))
	svc := newTestPaymentService(t, payments, &stubHistoryRepo{}, orders, &stubStatusAuditRepo{}, &capturePaymentEvents{}, &captureNotifier{})

	for _, reason := range []string{"", "   ", "<script>alert(1)</script>"} {
		_, err := svc.Reject(context.Background(), RejectPaymentCommand{
			PaymentID: "pay_1",
			Reason:    reason,
			Actor:     Actor{ID: "sa_1", Role: domain.RoleSalesAdmin},
		})
		if !errors.Is(err, ErrPaymentMissingReason) {
			t.Fatalf("reason %q: expected missing reason, got %v", reason, err)
		}
	}
}

func TestRejectArchivesAndClearsActiveSlot(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusVerifyingPayment))
	payments := newStubPaymentRepo(testPayment("pay_1", "ord_1", domain.PaymentPendingVerification))
	history := &stubHistoryRepo{}
	notifier := &captureNotifier{}
	svc := newTestPaymentService(t, payments, history, orders, &stubStatusAuditRepo{}, &capturePaymentEvents{}, notifier)

	entry, err := svc.Reject(context.Background(), RejectPaymentCommand{
		PaymentID: "pay_1",
		Reason:    "blurry receipt",
		Actor:     Actor{ID: "sa_1", Name: "Alex", Role: domain.RoleSalesAdmin},
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if entry.Action != domain.PaymentActionRejected || entry.Reason != "blurry receipt" {
		t.Fatalf("unexpected history entry: %+v", entry)
	}
	if entry.Snapshot.Status != domain.PaymentRejected {
		t.Fatalf("expected rejected snapshot, got %s", entry.Snapshot.Status)
	}

	if _, err := payments.FindActiveByOrder(context.Background(), "ord_1"); err == nil {
		t.Fatal("expected active slot cleared")
	}

	// The order stays put; the customer resubmits from the same status.
	order, _ := orders.FindByID(context.Background(), "ord_1")
	if order.Status != domain.StatusVerifyingPayment {
		t.Fatalf("expected order status untouched, got %s", order.Status)
	}

	if len(notifier.calls) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.calls))
	}
	if notifier.calls[0].TemplateID != paymentRejectedTemplate {
		t.Fatalf("unexpected template %s", notifier.calls[0].TemplateID)
	}
	if notifier.calls[0].Payload["reason"] != "blurry receipt" {
		t.Fatalf("expected reason in payload, got %v", notifier.calls[0].Payload)
	}
}

func TestRejectTwiceSecondFailsCleanly(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusVerifyingPayment))
	payments := newStubPaymentRepo(testPayment("pay_1", "ord_1", domain.PaymentPendingVerification))
	history := &stubHistoryRepo{}
	notifier := &captureNotifier{}
	svc := newTestPaymentService(t, payments, history, orders, &stubStatusAuditRepo{}, &capturePaymentEvents{}, notifier)

	if _, err := svc.Reject(context.Background(), RejectPaymentCommand{
		PaymentID: "pay_1",
		Reason:    "blurry image",
		Actor:     Actor{ID: "sa_1", Role: domain.RoleSalesAdmin},
	}); err != nil {
		t.Fatalf("first reject: %v", err)
	}

	_, err := svc.Reject(context.Background(), RejectPaymentCommand{
		PaymentID: "pay_1",
		Reason:    "blurry image",
		Actor:     Actor{ID: "sa_2", Role: domain.RoleSalesAdmin},
	})
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected not found on second reject, got %v", err)
	}
	if len(history.entries) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history.entries))
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.calls))
	}
}

func TestRejectConcurrentVerdictsArchiveOnce(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusVerifyingPayment))
	payments := newStubPaymentRepo(testPayment("pay_1", "ord_1", domain.PaymentPendingVerification))
	history := &stubHistoryRepo{}
	notifier := &captureNotifier{}
	svc, err := NewPaymentService(PaymentServiceDeps{
		Payments:    payments,
		History:     history,
		Orders:      orders,
		StatusAudit: &stubStatusAuditRepo{},
		UnitOfWork:  &lockingUnitOfWork{},
		Clock:       fixedClock(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)),
		IDGenerator: sequentialIDs("ID"),
		Notifier:    notifier,
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reject(context.Background(), RejectPaymentCommand{
				PaymentID: "pay_1",
				Reason:    "blurry image",
				Actor:     Actor{ID: "sa_1", Role: domain.RoleSalesAdmin},
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var failures int
	for err := range results {
		if err != nil {
			if !errors.Is(err, ErrPaymentNotFound) {
				t.Fatalf("loser should fail with not found, got %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one losing verdict, got %d", failures)
	}
	if len(history.entries) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history.entries))
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.calls))
	}
}

func TestRejectSurvivesNotifierFailure(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusVerifyingPayment))
	payments := newStubPaymentRepo(testPayment("pay_1", "ord_1", domain.PaymentPendingVerification))
	notifier := &captureNotifier{err: errors.New("smtp down")}
	svc := newTestPaymentService(t, payments, &stubHistoryRepo{}, orders, &stubStatusAuditRepo{}, &capturePaymentEvents{}, notifier)

	if _, err := svc.Reject(context.Background(), RejectPaymentCommand{
		PaymentID: "pay_1",
		Reason:    "wrong amount",
		Actor:     Actor{ID: "sa_1", Role: domain.RoleSalesAdmin},
	}); err != nil {
		t.Fatalf("reject must not propagate notifier failure, got %v", err)
	}
}

func TestGetActivePaymentMapsMissing(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusWaitingForPayment))
	svc := newTestPaymentService(t, newStubPaymentRepo(), &stubHistoryRepo{}, orders, &stubStatusAuditRepo{}, &capturePaymentEvents{}, &captureNotifier{})

	_, err := svc.GetActivePayment(context.Background(), "ord_1")
	if !errors.Is(err, ErrPaymentNoActive) {
		t.Fatalf("expected no active payment, got %v", err)
	}
}
