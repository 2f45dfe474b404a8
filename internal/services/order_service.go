package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/hangerworks/api/internal/domain"
	"github.com/hangerworks/api/internal/repositories"
)

const (
	orderEventCreated          = "order.created"
	orderEventStatusChanged    = "order.status.changed"
	orderEventPriceUpdated     = "order.price.updated"
	orderEventDeadlineUpdated  = "order.deadline.updated"
	orderEventBreakdownUpdated = "order.breakdown.updated"
	orderEventTrackingUpdated  = "order.tracking.updated"
	orderEventContractSigned   = "order.contract.signed"

	orderIDPrefix       = "ord_"
	statusAuditIDPrefix = "aud_"

	minOrderQuantity = 100
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates concurrent-update conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderPermissionDenied indicates the actor's role may not perform the transition.
	ErrOrderPermissionDenied = errors.New("order: permission denied")
	// ErrOrderTrackingLinkRequired indicates an in-transit transition without a usable tracking link.
	ErrOrderTrackingLinkRequired = errors.New("order: tracking link required")
	// ErrOrderContractOrder indicates the customer tried to sign before the sales admin.
	ErrOrderContractOrder = errors.New("order: sales admin must sign the contract first")
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	Revision       int64
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	StatusAudit repositories.StatusAuditRepository
	Catalog     repositories.CatalogRepository
	Counters    repositories.CounterRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Sanitize    func(string) string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	statusAudit repositories.StatusAuditRepository
	catalog     repositories.CatalogRepository
	counters    repositories.CounterRepository
	unitOfWork  repositories.UnitOfWork
	clock       func() time.Time
	newID       func() string
	sanitize    func(string) string
	events      OrderEventPublisher
	logger      func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.StatusAudit == nil {
		return nil, errors.New("order service: status audit repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	sanitize := deps.Sanitize
	if sanitize == nil {
		policy := bluemonday.StrictPolicy()
		sanitize = func(value string) string {
			return strings.TrimSpace(policy.Sanitize(value))
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:      deps.Orders,
		statusAudit: deps.StatusAudit,
		catalog:     deps.Catalog,
		counters:    deps.Counters,
		unitOfWork:  unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
		events:   deps.Events,
		logger:   logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if cmd.Quantity < minOrderQuantity {
		return Order{}, fmt.Errorf("%w: quantity must be at least %d, got %d", ErrOrderInvalidInput, minOrderQuantity, cmd.Quantity)
	}
	if err := domain.ValidateMaterials(cmd.Materials); err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	now := s.now()

	order := Order{
		ID:             orderIDPrefix + s.newID(),
		CustomerID:     customerID,
		Status:         domain.StatusForEvaluation,
		Quantity:       cmd.Quantity,
		Materials:      maps.Clone(cmd.Materials),
		DesignSnapshot: cloneMap(cmd.DesignSnapshot),
		Revision:       1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if actor := strings.TrimSpace(cmd.Actor.ID); actor != "" {
		order.Audit.CreatedBy = valuePtr(actor)
		order.Audit.UpdatedBy = valuePtr(actor)
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}
	order.OrderNumber = number

	// The estimate is computed once from the catalog at submission time and
	// never recomputed, even when unit prices later change.
	if estimate, err := s.estimateBreakdown(ctx, cmd, now); err == nil {
		order.EstimatedBreakdown = &estimate
	} else {
		s.logger(ctx, "order.estimate.skipped", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: order.Status,
		Revision:      order.Revision,
		ActorID:       cmd.Actor.ID,
		OccurredAt:    now,
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := OrderStatus(strings.TrimSpace(string(cmd.TargetStatus)))
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	prevStatus := order.Status

	decision := DecideTransition(order.Status, target, cmd.Actor.Role)
	switch decision.Kind {
	case DecisionDenied:
		return Order{}, fmt.Errorf("%w: %s", ErrOrderPermissionDenied, decision.Reason)
	case DecisionNeedsInput:
		if decision.Input != InputTrackingLink {
			return Order{}, fmt.Errorf("%w: missing input %s", ErrOrderInvalidInput, decision.Input)
		}
	}

	now := s.now()
	patch := repositories.OrderPatch{
		Status:    &target,
		UpdatedBy: cmd.Actor.ID,
		UpdatedAt: now,
	}

	// in_transit commits status and tracking link as one patch so the order
	// never sits in transit without a link.
	if decision.Kind == DecisionNeedsInput {
		link, err := resolveTrackingLink(cmd.TrackingLink, order.TrackingLink)
		if err != nil {
			return Order{}, err
		}
		patch.TrackingLink = &link
	}

	var committed Order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		updated, err := s.orders.Patch(txCtx, orderID, patch)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		entry := StatusAuditEntry{
			ID:         statusAuditIDPrefix + s.newID(),
			OrderID:    orderID,
			FromStatus: prevStatus,
			ToStatus:   target,
			ActorID:    strings.TrimSpace(cmd.Actor.ID),
			ActorName:  strings.TrimSpace(cmd.Actor.Name),
			RecordedAt: now,
		}
		if err := s.statusAudit.Append(txCtx, entry); err != nil {
			return s.mapRepositoryError(err)
		}
		committed = updated
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        committed.ID,
		OrderNumber:    committed.OrderNumber,
		PreviousStatus: prevStatus,
		CurrentStatus:  committed.Status,
		Revision:       committed.Revision,
		ActorID:        cmd.Actor.ID,
		OccurredAt:     now,
	})

	return committed, nil
}

func (s *orderService) UpdatePrice(ctx context.Context, cmd UpdatePriceCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.TotalPrice <= 0 {
		return Order{}, fmt.Errorf("%w: total price must be positive", ErrOrderInvalidInput)
	}

	return s.patchAndPublish(ctx, orderID, repositories.OrderPatch{
		TotalPrice: valuePtr(cmd.TotalPrice),
		UpdatedBy:  cmd.Actor.ID,
		UpdatedAt:  s.now(),
	}, orderEventPriceUpdated, cmd.Actor)
}

func (s *orderService) UpdateDeadline(ctx context.Context, cmd UpdateDeadlineCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Deadline.IsZero() {
		return Order{}, fmt.Errorf("%w: deadline is required", ErrOrderInvalidInput)
	}

	deadline := cmd.Deadline.UTC()
	return s.patchAndPublish(ctx, orderID, repositories.OrderPatch{
		Deadline:  &deadline,
		UpdatedBy: cmd.Actor.ID,
		UpdatedAt: s.now(),
	}, orderEventDeadlineUpdated, cmd.Actor)
}

func (s *orderService) UpdateBreakdown(ctx context.Context, cmd UpdateBreakdownCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	unitPrices, err := s.unitPrices(ctx)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	breakdown, err := domain.ComputeBreakdown(domain.BreakdownInput{
		WeightKg:       cmd.WeightKg,
		Materials:      order.Materials,
		UnitPrices:     unitPrices,
		DeliveryFee:    cmd.DeliveryFee,
		DeliveryType:   cmd.DeliveryType,
		VATRatePercent: cmd.VATRatePercent,
		Notes:          s.sanitize(cmd.Notes),
		ComputedAt:     now,
		ComputedBy:     strings.TrimSpace(cmd.Actor.ID),
	})
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	return s.patchAndPublish(ctx, orderID, repositories.OrderPatch{
		PriceBreakdown: &breakdown,
		UpdatedBy:      cmd.Actor.ID,
		UpdatedAt:      now,
	}, orderEventBreakdownUpdated, cmd.Actor)
}

func (s *orderService) SetTrackingLink(ctx context.Context, cmd SetTrackingLinkCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	link, err := resolveTrackingLink(&cmd.TrackingLink, nil)
	if err != nil {
		return Order{}, err
	}

	return s.patchAndPublish(ctx, orderID, repositories.OrderPatch{
		TrackingLink: &link,
		UpdatedBy:    cmd.Actor.ID,
		UpdatedAt:    s.now(),
	}, orderEventTrackingUpdated, cmd.Actor)
}

func (s *orderService) SignContract(ctx context.Context, cmd SignContractCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.now()
	contract := order.Contract

	switch cmd.Actor.Role {
	case domain.RoleSalesAdmin:
		if contract.SalesAdminSigned {
			return order, nil
		}
		contract.SalesAdminSigned = true
		contract.SalesAdminSignedAt = &now
	case domain.RoleCustomer:
		if !contract.SalesAdminSigned {
			return Order{}, ErrOrderContractOrder
		}
		if contract.CustomerSigned {
			return order, nil
		}
		contract.CustomerSigned = true
		contract.CustomerSignedAt = &now
	default:
		return Order{}, fmt.Errorf("%w: role %s may not sign contracts", ErrOrderPermissionDenied, cmd.Actor.Role)
	}

	return s.patchAndPublish(ctx, orderID, repositories.OrderPatch{
		Contract:  &contract,
		UpdatedBy: cmd.Actor.ID,
		UpdatedAt: now,
	}, orderEventContractSigned, cmd.Actor)
}

func (s *orderService) ListStatusAudit(ctx context.Context, orderID string) ([]StatusAuditEntry, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	entries, err := s.statusAudit.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return entries, nil
}

func (s *orderService) patchAndPublish(ctx context.Context, orderID string, patch repositories.OrderPatch, eventType string, actor Actor) (Order, error) {
	var committed Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		updated, err := s.orders.Patch(txCtx, orderID, patch)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		committed = updated
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          eventType,
		OrderID:       committed.ID,
		OrderNumber:   committed.OrderNumber,
		CurrentStatus: committed.Status,
		Revision:      committed.Revision,
		ActorID:       actor.ID,
		OccurredAt:    patch.UpdatedAt,
	})

	return committed, nil
}

func (s *orderService) estimateBreakdown(ctx context.Context, cmd CreateOrderCommand, now time.Time) (PriceBreakdown, error) {
	if s.catalog == nil {
		return PriceBreakdown{}, errors.New("order service: catalog not configured")
	}

	products, err := s.catalog.ListProducts(ctx)
	if err != nil {
		return PriceBreakdown{}, s.mapRepositoryError(err)
	}
	var weightKg float64
	for _, product := range products {
		if product.ID == strings.TrimSpace(cmd.ProductID) {
			weightKg = product.WeightKg * float64(cmd.Quantity)
			break
		}
	}
	if weightKg <= 0 {
		return PriceBreakdown{}, fmt.Errorf("order service: unknown product %q", cmd.ProductID)
	}

	unitPrices, err := s.unitPrices(ctx)
	if err != nil {
		return PriceBreakdown{}, err
	}

	return domain.ComputeBreakdown(domain.BreakdownInput{
		WeightKg:     weightKg,
		Materials:    cmd.Materials,
		UnitPrices:   unitPrices,
		DeliveryFee:  cmd.DeliveryFee,
		DeliveryType: cmd.DeliveryType,
		ComputedAt:   now,
		ComputedBy:   strings.TrimSpace(cmd.Actor.ID),
	})
}

func (s *orderService) unitPrices(ctx context.Context) (map[string]float64, error) {
	if s.catalog == nil {
		return nil, errors.New("order service: catalog not configured")
	}
	materials, err := s.catalog.ListMaterials(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	prices := make(map[string]float64, len(materials))
	for _, material := range materials {
		prices[material.Name] = material.UnitPriceKg
	}
	return prices, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, fmt.Sprintf("orders:%04d", now.Year()), 1)
	if err != nil {
		return "", s.mapRepositoryError(err)
	}
	return fmt.Sprintf("HW-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}

func resolveTrackingLink(candidate *string, existing *string) (string, error) {
	link := ""
	if candidate != nil {
		link = strings.TrimSpace(*candidate)
	}
	if link == "" && existing != nil {
		link = strings.TrimSpace(*existing)
	}
	if link == "" {
		return "", ErrOrderTrackingLinkRequired
	}
	parsed, err := url.Parse(link)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("%w: %q is not a usable link", ErrOrderTrackingLinkRequired, link)
	}
	return link, nil
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func valuePtr[T any](v T) *T {
	return &v
}
