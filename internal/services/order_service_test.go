package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/hangerworks/api/internal/domain"
	"github.com/hangerworks/api/internal/repositories"
)

type stubOrderRepo struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	patches  []repositories.OrderPatch
	findErr  error
	patchErr error
}

func newStubOrderRepo(orders ...domain.Order) *stubOrderRepo {
	repo := &stubOrderRepo{orders: map[string]domain.Order{}}
	for _, order := range orders {
		repo.orders[order.ID] = order
	}
	return repo
}

func (s *stubOrderRepo) Insert(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return stubRepoError{conflict: true}
	}
	s.orders[order.ID] = order
	return nil
}

func (s *stubOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return domain.Order{}, s.findErr
	}
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepoError{notFound: true}
	}
	return order, nil
}

func (s *stubOrderRepo) Patch(_ context.Context, orderID string, patch repositories.OrderPatch) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patchErr != nil {
		return domain.Order{}, s.patchErr
	}
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepoError{notFound: true}
	}
	s.patches = append(s.patches, patch)
	order.Revision++
	order.UpdatedAt = patch.UpdatedAt
	if patch.Status != nil {
		order.Status = *patch.Status
	}
	if patch.TrackingLink != nil {
		link := *patch.TrackingLink
		order.TrackingLink = &link
	}
	if patch.TotalPrice != nil {
		price := *patch.TotalPrice
		order.TotalPrice = &price
	}
	if patch.Deadline != nil {
		deadline := *patch.Deadline
		order.Deadline = &deadline
	}
	if patch.PriceBreakdown != nil {
		breakdown := *patch.PriceBreakdown
		order.PriceBreakdown = &breakdown
	}
	if patch.Contract != nil {
		order.Contract = *patch.Contract
	}
	s.orders[orderID] = order
	return order, nil
}

type stubStatusAuditRepo struct {
	mu      sync.Mutex
	entries []domain.StatusAuditEntry
}

func (s *stubStatusAuditRepo) Append(_ context.Context, entry domain.StatusAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubStatusAuditRepo) ListByOrder(_ context.Context, orderID string) ([]domain.StatusAuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StatusAuditEntry
	for _, entry := range s.entries {
		if entry.OrderID == orderID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type stubCatalogRepo struct {
	materials []domain.Material
	products  []domain.Product
	err       error
}

func (s *stubCatalogRepo) ListMaterials(context.Context) ([]domain.Material, error) {
	return s.materials, s.err
}

func (s *stubCatalogRepo) ListProducts(context.Context) ([]domain.Product, error) {
	return s.products, s.err
}

type stubCounterRepo struct {
	mu    sync.Mutex
	value int64
	calls []string
}

func (s *stubCounterRepo) Next(_ context.Context, counterID string, step int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, counterID)
	if step <= 0 {
		step = 1
	}
	s.value += step
	return s.value, nil
}

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs(prefix string) func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("%s%04d", prefix, n)
	}
}

func testOrder(id string, status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:          id,
		OrderNumber: "HW-2026-000001",
		CustomerID:  "cus_1",
		Status:      status,
		Quantity:    150,
		Materials:   map[string]float64{"Polypropylene": 100},
		Revision:    1,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestOrderService(t *testing.T, orders *stubOrderRepo, audit *stubStatusAuditRepo, catalog *stubCatalogRepo, events *captureOrderEvents) OrderService {
	t.Helper()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      orders,
		StatusAudit: audit,
		Catalog:     catalog,
		Counters:    &stubCounterRepo{},
		Clock:       fixedClock(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)),
		IDGenerator: sequentialIDs("ID"),
		Events:      events,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

func TestCreateOrderValidatesQuantityAndMaterials(t *testing.T) {
	svc := newTestOrderService(t, newStubOrderRepo(), &stubStatusAuditRepo{}, &stubCatalogRepo{}, &captureOrderEvents{})

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID: "cus_1",
		Quantity:   50,
		Materials:  map[string]float64{"Polypropylene": 100},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for low quantity, got %v", err)
	}

	_, err = svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID: "cus_1",
		Quantity:   200,
		Materials:  map[string]float64{"Polypropylene": 60, "Nylon": 30},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for bad material sum, got %v", err)
	}
}

func TestCreateOrderFreezesEstimatedBreakdown(t *testing.T) {
	orders := newStubOrderRepo()
	catalog := &stubCatalogRepo{
		materials: []domain.Material{{ID: "mat_pp", Name: "Polypropylene", UnitPriceKg: 150, IsAvailable: true}},
		products:  []domain.Product{{ID: "prod_std", Name: "Standard Hanger", WeightKg: 0.026, IsPublished: true}},
	}
	svc := newTestOrderService(t, orders, &stubStatusAuditRepo{}, catalog, &captureOrderEvents{})

	order, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID:  "cus_1",
		Quantity:    200,
		Materials:   map[string]float64{"Polypropylene": 100},
		ProductID:   "prod_std",
		DeliveryFee: 1000,
		Actor:       Actor{ID: "cus_1", Role: domain.RoleCustomer},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != domain.StatusForEvaluation {
		t.Fatalf("expected for_evaluation, got %s", order.Status)
	}
	if !strings.HasPrefix(order.OrderNumber, "HW-2026-") {
		t.Fatalf("unexpected order number %s", order.OrderNumber)
	}
	if order.EstimatedBreakdown == nil {
		t.Fatal("expected frozen estimated breakdown")
	}
	// 200 * 0.026 kg at 150/kg = 780, plus 1000 fee, 12% VAT.
	if got := domain.RoundedTo2(order.EstimatedBreakdown.Total); got != 1993.60 {
		t.Fatalf("expected estimate total 1993.60, got %.2f", got)
	}
	if order.PriceBreakdown != nil {
		t.Fatal("validated breakdown must stay empty at creation")
	}
}

func TestTransitionStatusDeniedForRestrictedRole(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusInProduction))
	svc := newTestOrderService(t, orders, &stubStatusAuditRepo{}, &stubCatalogRepo{}, &captureOrderEvents{})

	_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.StatusWaitingForPayment,
		Actor:        Actor{ID: "om_1", Role: domain.RoleOperationsManager},
	})
	if !errors.Is(err, ErrOrderPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if len(orders.patches) != 0 {
		t.Fatalf("expected no patch on denial, got %d", len(orders.patches))
	}
}

func TestTransitionStatusAppendsAuditAndPublishes(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusForEvaluation))
	audit := &stubStatusAuditRepo{}
	events := &captureOrderEvents{}
	svc := newTestOrderService(t, orders, audit, &stubCatalogRepo{}, events)

	order, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.StatusContractSigning,
		Actor:        Actor{ID: "sa_1", Name: "Alex", Role: domain.RoleSalesAdmin},
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if order.Status != domain.StatusContractSigning {
		t.Fatalf("expected contract_signing, got %s", order.Status)
	}
	if order.Revision != 2 {
		t.Fatalf("expected revision bump to 2, got %d", order.Revision)
	}

	if len(audit.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(audit.entries))
	}
	entry := audit.entries[0]
	if entry.FromStatus != domain.StatusForEvaluation || entry.ToStatus != domain.StatusContractSigning {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
	if entry.ActorID != "sa_1" {
		t.Fatalf("expected actor sa_1, got %s", entry.ActorID)
	}

	if len(events.events) != 1 || events.events[0].Type != orderEventStatusChanged {
		t.Fatalf("expected one status changed event, got %+v", events.events)
	}
	if events.events[0].PreviousStatus != domain.StatusForEvaluation {
		t.Fatalf("expected previous status in event, got %s", events.events[0].PreviousStatus)
	}
}

func TestTransitionToInTransitRequiresTrackingLink(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusWaitingForShipment))
	svc := newTestOrderService(t, orders, &stubStatusAuditRepo{}, &stubCatalogRepo{}, &captureOrderEvents{})

	_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.StatusInTransit,
		Actor:        Actor{ID: "om_1", Role: domain.RoleOperationsManager},
	})
	if !errors.Is(err, ErrOrderTrackingLinkRequired) {
		t.Fatalf("expected tracking link required, got %v", err)
	}

	_, err = svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.StatusInTransit,
		TrackingLink: valuePtr("not a link"),
		Actor:        Actor{ID: "om_1", Role: domain.RoleOperationsManager},
	})
	if !errors.Is(err, ErrOrderTrackingLinkRequired) {
		t.Fatalf("expected tracking link required for malformed link, got %v", err)
	}
}

func TestTransitionToInTransitCommitsStatusAndLinkAtomically(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusWaitingForShipment))
	svc := newTestOrderService(t, orders, &stubStatusAuditRepo{}, &stubCatalogRepo{}, &captureOrderEvents{})

	order, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.StatusInTransit,
		TrackingLink: valuePtr("https://carrier.example/track/123"),
		Actor:        Actor{ID: "om_1", Role: domain.RoleOperationsManager},
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if order.Status != domain.StatusInTransit {
		t.Fatalf("expected in_transit, got %s", order.Status)
	}
	if order.TrackingLink == nil || *order.TrackingLink != "https://carrier.example/track/123" {
		t.Fatalf("expected tracking link committed, got %v", order.TrackingLink)
	}
	if len(orders.patches) != 1 {
		t.Fatalf("expected single patch, got %d", len(orders.patches))
	}
	patch := orders.patches[0]
	if patch.Status == nil || patch.TrackingLink == nil {
		t.Fatal("status and tracking link must travel in the same patch")
	}
}

func TestUpdatePriceRejectsNonPositive(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusForEvaluation))
	svc := newTestOrderService(t, orders, &stubStatusAuditRepo{}, &stubCatalogRepo{}, &captureOrderEvents{})

	_, err := svc.UpdatePrice(context.Background(), UpdatePriceCommand{
		OrderID:    "ord_1",
		TotalPrice: 0,
		Actor:      Actor{ID: "sa_1", Role: domain.RoleSalesAdmin},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestUpdateBreakdownUsesCatalogPrices(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusForEvaluation))
	catalog := &stubCatalogRepo{
		materials: []domain.Material{{ID: "mat_pp", Name: "Polypropylene", UnitPriceKg: 150, IsAvailable: true}},
	}
	events := &captureOrderEvents{}
	svc := newTestOrderService(t, orders, &stubStatusAuditRepo{}, catalog, events)

	order, err := svc.UpdateBreakdown(context.Background(), UpdateBreakdownCommand{
		OrderID:     "ord_1",
		WeightKg:    5.2,
		DeliveryFee: 1000,
		Notes:       "standard quote",
		Actor:       Actor{ID: "sa_1", Role: domain.RoleSalesAdmin},
	})
	if err != nil {
		t.Fatalf("update breakdown: %v", err)
	}
	if order.PriceBreakdown == nil {
		t.Fatal("expected breakdown stored")
	}
	if got := domain.RoundedTo2(order.PriceBreakdown.Total); got != 1993.60 {
		t.Fatalf("expected total 1993.60, got %.2f", got)
	}
	if order.PriceBreakdown.VATRatePercent != domain.DefaultVATRatePercent {
		t.Fatalf("expected default VAT rate, got %.2f", order.PriceBreakdown.VATRatePercent)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventBreakdownUpdated {
		t.Fatalf("expected breakdown event, got %+v", events.events)
	}
}

func TestSignContractEnforcesOrdering(t *testing.T) {
	orders := newStubOrderRepo(testOrder("ord_1", domain.StatusContractSigning))
	svc := newTestOrderService(t, orders, &stubStatusAuditRepo{}, &stubCatalogRepo{}, &captureOrderEvents{})

	_, err := svc.SignContract(context.Background(), SignContractCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "cus_1", Role: domain.RoleCustomer},
	})
	if !errors.Is(err, ErrOrderContractOrder) {
		t.Fatalf("expected contract ordering error, got %v", err)
	}

	order, err := svc.SignContract(context.Background(), SignContractCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "sa_1", Role: domain.RoleSalesAdmin},
	})
	if err != nil {
		t.Fatalf("sales admin sign: %v", err)
	}
	if !order.Contract.SalesAdminSigned {
		t.Fatal("expected sales admin signature")
	}

	order, err = svc.SignContract(context.Background(), SignContractCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "cus_1", Role: domain.RoleCustomer},
	})
	if err != nil {
		t.Fatalf("customer sign: %v", err)
	}
	if !order.Contract.CustomerSigned {
		t.Fatal("expected customer signature")
	}
}

func TestTransitionStatusMapsMissingOrder(t *testing.T) {
	svc := newTestOrderService(t, newStubOrderRepo(), &stubStatusAuditRepo{}, &stubCatalogRepo{}, &captureOrderEvents{})

	_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_missing",
		TargetStatus: domain.StatusContractSigning,
		Actor:        Actor{ID: "sa_1", Role: domain.RoleSalesAdmin},
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
