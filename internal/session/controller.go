package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	domain "github.com/hangerworks/api/internal/domain"
	"github.com/hangerworks/api/internal/platform/bus"
	"github.com/hangerworks/api/internal/services"
)

// Field identifies one independently editable order field.
type Field string

const (
	FieldStatus    Field = "status"
	FieldPrice     Field = "price"
	FieldDeadline  Field = "deadline"
	FieldBreakdown Field = "breakdown"
	FieldTracking  Field = "tracking"
)

// ErrSessionClosed is returned by edits against a closed controller.
var ErrSessionClosed = errors.New("session: closed")

// FieldState tracks one field's optimistic-edit bookkeeping.
type FieldState struct {
	// Saving is set while a commit for this field is in flight.
	Saving bool
	// Revision is the order revision at which the field was last applied.
	// Bus events at or below it are stale for this field and are dropped.
	Revision int64
}

// Snapshot is the controller's current view of the order and its payment.
type Snapshot struct {
	Order         domain.Order
	ActivePayment *domain.Payment
	History       []domain.PaymentHistoryEntry
	Fields        map[Field]FieldState
}

// ControllerDeps bundles collaborators for one order session.
type ControllerDeps struct {
	Orders   services.OrderService
	Payments services.PaymentService
	Bus      bus.Bus
	Actor    domain.Actor
	Logger   *zap.Logger
}

// Controller owns the live view behind one open order screen. All snapshot
// access is serialised through one mutex; bus handlers and edit commits both
// funnel through it, and a mounted guard keeps late arrivals from touching
// state after Close.
type Controller struct {
	orders   services.OrderService
	payments services.PaymentService
	bus      bus.Bus
	actor    domain.Actor
	logger   *zap.Logger

	mu       sync.Mutex
	mounted  bool
	orderID  string
	snapshot Snapshot
	subs     []bus.Subscription

	// lifeCancel tears down the controller-owned context that bus-driven
	// refetches run on; it outlives the Open call's request context.
	lifeCancel context.CancelFunc
}

// NewController constructs an unopened session controller.
func NewController(deps ControllerDeps) (*Controller, error) {
	if deps.Orders == nil {
		return nil, errors.New("session: order service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("session: payment service is required")
	}
	if deps.Bus == nil {
		return nil, errors.New("session: bus is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		orders:   deps.Orders,
		payments: deps.Payments,
		bus:      deps.Bus,
		actor:    deps.Actor,
		logger:   logger,
	}, nil
}

// Open adopts the server state for orderID and subscribes to change
// notifications. It must be called once before any edit.
func (c *Controller) Open(ctx context.Context, orderID string) (Snapshot, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Snapshot{}, errors.New("session: order id is required")
	}

	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{
		Order:  order,
		Fields: newFieldStates(order.Revision),
	}

	if payment, err := c.payments.GetActivePayment(ctx, orderID); err == nil {
		snapshot.ActivePayment = &payment
	} else if !errors.Is(err, services.ErrPaymentNoActive) {
		return Snapshot{}, err
	}

	history, err := c.payments.ListHistory(ctx, orderID)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot.History = history

	lifeCtx, lifeCancel := context.WithCancel(context.WithoutCancel(ctx))

	orderSub, err := c.bus.Subscribe(ctx, bus.TopicOrders, bus.Filter{EntityID: orderID}, c.handleOrderEvent)
	if err != nil {
		lifeCancel()
		return Snapshot{}, fmt.Errorf("session: subscribe orders: %w", err)
	}
	paymentSub, err := c.bus.Subscribe(ctx, bus.TopicPayments, bus.Filter{OrderID: orderID}, func(event bus.Event) {
		c.handlePaymentEvent(lifeCtx, event)
	})
	if err != nil {
		orderSub.Close()
		lifeCancel()
		return Snapshot{}, fmt.Errorf("session: subscribe payments: %w", err)
	}

	c.mu.Lock()
	c.mounted = true
	c.orderID = orderID
	c.snapshot = snapshot
	c.subs = []bus.Subscription{orderSub, paymentSub}
	c.lifeCancel = lifeCancel
	c.mu.Unlock()

	return snapshot, nil
}

// Close unsubscribes and drops the snapshot. Late bus events and commit
// completions after Close are discarded. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = false
	subs := c.subs
	c.subs = nil
	cancel := c.lifeCancel
	c.lifeCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, sub := range subs {
		sub.Close()
	}
}

// Current returns a copy of the live snapshot.
func (c *Controller) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSnapshot(c.snapshot)
}

// EditPrice optimistically sets the total price and commits it. On failure
// only the price field rolls back to the last server-confirmed value.
func (c *Controller) EditPrice(ctx context.Context, price float64) error {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	captured := c.snapshot.Order.TotalPrice
	c.snapshot.Order.TotalPrice = &price
	c.setSaving(FieldPrice, true)
	orderID := c.orderID
	c.mu.Unlock()

	order, err := c.orders.UpdatePrice(ctx, services.UpdatePriceCommand{
		OrderID:    orderID,
		TotalPrice: price,
		Actor:      c.actor,
	})
	return c.completeEdit(FieldPrice, order, err, func(s *Snapshot) {
		s.Order.TotalPrice = captured
	})
}

// EditDeadline optimistically sets the deadline and commits it.
func (c *Controller) EditDeadline(ctx context.Context, deadline time.Time) error {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	captured := c.snapshot.Order.Deadline
	value := deadline.UTC()
	c.snapshot.Order.Deadline = &value
	c.setSaving(FieldDeadline, true)
	orderID := c.orderID
	c.mu.Unlock()

	order, err := c.orders.UpdateDeadline(ctx, services.UpdateDeadlineCommand{
		OrderID:  orderID,
		Deadline: deadline,
		Actor:    c.actor,
	})
	return c.completeEdit(FieldDeadline, order, err, func(s *Snapshot) {
		s.Order.Deadline = captured
	})
}

// EditStatus optimistically sets the status and commits it through the
// transition policy. A tracking link may accompany in-transit moves.
func (c *Controller) EditStatus(ctx context.Context, target domain.OrderStatus, trackingLink *string) error {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	capturedStatus := c.snapshot.Order.Status
	capturedLink := c.snapshot.Order.TrackingLink
	c.snapshot.Order.Status = target
	if trackingLink != nil {
		link := *trackingLink
		c.snapshot.Order.TrackingLink = &link
	}
	c.setSaving(FieldStatus, true)
	orderID := c.orderID
	c.mu.Unlock()

	order, err := c.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: target,
		TrackingLink: trackingLink,
		Actor:        c.actor,
	})
	return c.completeEdit(FieldStatus, order, err, func(s *Snapshot) {
		s.Order.Status = capturedStatus
		s.Order.TrackingLink = capturedLink
	})
}

// EditBreakdown recomputes and commits the price breakdown.
func (c *Controller) EditBreakdown(ctx context.Context, cmd services.UpdateBreakdownCommand) error {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	captured := c.snapshot.Order.PriceBreakdown
	c.setSaving(FieldBreakdown, true)
	cmd.OrderID = c.orderID
	cmd.Actor = c.actor
	c.mu.Unlock()

	order, err := c.orders.UpdateBreakdown(ctx, cmd)
	return c.completeEdit(FieldBreakdown, order, err, func(s *Snapshot) {
		s.Order.PriceBreakdown = captured
	})
}

// EditTracking optimistically sets the tracking link and commits it.
func (c *Controller) EditTracking(ctx context.Context, link string) error {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	captured := c.snapshot.Order.TrackingLink
	c.snapshot.Order.TrackingLink = &link
	c.setSaving(FieldTracking, true)
	orderID := c.orderID
	c.mu.Unlock()

	order, err := c.orders.SetTrackingLink(ctx, services.SetTrackingLinkCommand{
		OrderID:      orderID,
		TrackingLink: link,
		Actor:        c.actor,
	})
	return c.completeEdit(FieldTracking, order, err, func(s *Snapshot) {
		s.Order.TrackingLink = captured
	})
}

// completeEdit applies the commit outcome under the mounted guard: a closed
// controller drops the completion entirely, success adopts the committed
// order, failure rolls back only the edited field.
func (c *Controller) completeEdit(field Field, order domain.Order, err error, rollback func(*Snapshot)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.mounted {
		return err
	}

	state := c.snapshot.Fields[field]
	state.Saving = false

	if err != nil {
		rollback(&c.snapshot)
		c.snapshot.Fields[field] = state
		return err
	}

	c.snapshot.Order = order
	state.Revision = order.Revision
	c.snapshot.Fields[field] = state
	// The commit confirmed the whole order document; older bus events for
	// any field are now stale.
	for f, st := range c.snapshot.Fields {
		if st.Revision < order.Revision {
			st.Revision = order.Revision
			c.snapshot.Fields[f] = st
		}
	}
	return nil
}

func (c *Controller) handleOrderEvent(event bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.mounted {
		return
	}
	if event.Type == bus.EventDelete {
		// Orders are never deleted; treat it as noise.
		return
	}
	if event.New == nil {
		return
	}
	if event.Revision != 0 && event.Revision <= c.snapshot.Order.Revision {
		// Stale: the snapshot already reflects a later commit.
		return
	}

	changed := changedKeys(event.Old, event.New)
	c.mergeOrderFields(event.New, changed, event.Revision)
}

func (c *Controller) handlePaymentEvent(ctx context.Context, event bus.Event) {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	orderID := c.orderID

	switch event.Type {
	case bus.EventInsert, bus.EventUpdate:
		payment := decodePaymentPayload(event.EntityID, orderID, event.New)
		c.snapshot.ActivePayment = &payment
		c.mu.Unlock()
	case bus.EventDelete:
		c.snapshot.ActivePayment = nil
		c.mu.Unlock()
		// A cleared slot means a verdict landed; pick up the archive entry.
		history, err := c.payments.ListHistory(ctx, orderID)
		if err != nil {
			c.logger.Warn("session: refetch payment history failed",
				zap.String("order", orderID), zap.Error(err))
			return
		}
		c.mu.Lock()
		if c.mounted {
			c.snapshot.History = history
		}
		c.mu.Unlock()
	default:
		c.mu.Unlock()
	}
}

// mergeOrderFields applies only the changed document keys so concurrent local
// edits to sibling fields survive remote updates.
func (c *Controller) mergeOrderFields(doc map[string]any, changed map[string]bool, revision int64) {
	order := &c.snapshot.Order

	apply := func(field Field, key string, fn func()) {
		if !changed[key] {
			return
		}
		state := c.snapshot.Fields[field]
		if revision != 0 && revision <= state.Revision {
			return
		}
		fn()
		if revision != 0 {
			state.Revision = revision
			c.snapshot.Fields[field] = state
		}
	}

	apply(FieldStatus, "status", func() {
		if v, ok := doc["status"].(string); ok {
			order.Status = domain.OrderStatus(v)
		}
	})
	apply(FieldPrice, "totalPrice", func() {
		if v, ok := asFloat(doc["totalPrice"]); ok {
			order.TotalPrice = &v
		}
	})
	apply(FieldDeadline, "deadline", func() {
		if v, ok := doc["deadline"].(time.Time); ok {
			utc := v.UTC()
			order.Deadline = &utc
		}
	})
	apply(FieldTracking, "trackingLink", func() {
		if v, ok := doc["trackingLink"].(string); ok {
			order.TrackingLink = &v
		}
	})
	apply(FieldBreakdown, "priceBreakdown", func() {
		if v, ok := doc["priceBreakdown"].(map[string]any); ok {
			breakdown := decodeBreakdownPayload(v)
			order.PriceBreakdown = &breakdown
		}
	})

	if changed["contract"] {
		if v, ok := doc["contract"].(map[string]any); ok {
			order.Contract = decodeContractPayload(v)
		}
	}
	if revision > order.Revision {
		order.Revision = revision
	}
	if v, ok := doc["updatedAt"].(time.Time); ok && changed["updatedAt"] {
		order.UpdatedAt = v.UTC()
	}
}

func (c *Controller) setSaving(field Field, saving bool) {
	state := c.snapshot.Fields[field]
	state.Saving = saving
	c.snapshot.Fields[field] = state
}

func newFieldStates(revision int64) map[Field]FieldState {
	fields := map[Field]FieldState{}
	for _, f := range []Field{FieldStatus, FieldPrice, FieldDeadline, FieldBreakdown, FieldTracking} {
		fields[f] = FieldState{Revision: revision}
	}
	return fields
}

func changedKeys(old, new map[string]any) map[string]bool {
	changed := map[string]bool{}
	if old == nil {
		for key := range new {
			changed[key] = true
		}
		return changed
	}
	for key, value := range new {
		if !reflect.DeepEqual(old[key], value) {
			changed[key] = true
		}
	}
	for key := range old {
		if _, ok := new[key]; !ok {
			changed[key] = true
		}
	}
	return changed
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	if s.ActivePayment != nil {
		payment := *s.ActivePayment
		out.ActivePayment = &payment
	}
	out.History = append([]domain.PaymentHistoryEntry(nil), s.History...)
	out.Fields = make(map[Field]FieldState, len(s.Fields))
	for field, state := range s.Fields {
		out.Fields[field] = state
	}
	return out
}

func decodePaymentPayload(paymentID, orderID string, doc map[string]any) domain.Payment {
	payment := domain.Payment{ID: paymentID, OrderID: orderID}
	if doc == nil {
		return payment
	}
	if v, ok := doc["method"].(string); ok {
		payment.Method = v
	}
	if v, ok := doc["status"].(string); ok {
		payment.Status = domain.PaymentStatus(v)
	}
	if v, ok := asFloat(doc["amount"]); ok {
		payment.Amount = v
	}
	if v, ok := doc["proofReference"].(string); ok {
		payment.ProofReference = v
	}
	if v, ok := doc["transactionReference"].(string); ok {
		payment.TransactionReference = &v
	}
	if v, ok := doc["submittedAt"].(time.Time); ok {
		payment.SubmittedAt = v.UTC()
	}
	if v, ok := doc["verifiedAt"].(time.Time); ok {
		utc := v.UTC()
		payment.VerifiedAt = &utc
	}
	if v, ok := doc["verifiedBy"].(string); ok {
		payment.VerifiedBy = &v
	}
	if v, ok := doc["notes"].(string); ok {
		payment.Notes = v
	}
	return payment
}

func decodeBreakdownPayload(doc map[string]any) domain.PriceBreakdown {
	var breakdown domain.PriceBreakdown
	if v, ok := asFloat(doc["weightKg"]); ok {
		breakdown.WeightKg = v
	}
	if v, ok := asFloat(doc["materialCost"]); ok {
		breakdown.MaterialCost = v
	}
	if v, ok := asFloat(doc["deliveryFee"]); ok {
		breakdown.DeliveryFee = v
	}
	if v, ok := doc["deliveryType"].(string); ok {
		breakdown.DeliveryType = domain.DeliveryType(v)
	}
	if v, ok := asFloat(doc["vatRatePercent"]); ok {
		breakdown.VATRatePercent = v
	}
	if v, ok := asFloat(doc["subtotal"]); ok {
		breakdown.Subtotal = v
	}
	if v, ok := asFloat(doc["vatAmount"]); ok {
		breakdown.VATAmount = v
	}
	if v, ok := asFloat(doc["total"]); ok {
		breakdown.Total = v
	}
	if v, ok := doc["notes"].(string); ok {
		breakdown.Notes = v
	}
	if v, ok := doc["computedAt"].(time.Time); ok {
		breakdown.ComputedAt = v.UTC()
	}
	if v, ok := doc["computedBy"].(string); ok {
		breakdown.ComputedBy = v
	}
	if raw, ok := doc["missingMaterials"].([]any); ok {
		for _, item := range raw {
			if name, ok := item.(string); ok {
				breakdown.MissingMaterials = append(breakdown.MissingMaterials, name)
			}
		}
	}
	return breakdown
}

func decodeContractPayload(doc map[string]any) domain.Contract {
	var contract domain.Contract
	if v, ok := doc["salesAdminSigned"].(bool); ok {
		contract.SalesAdminSigned = v
	}
	if v, ok := doc["salesAdminSignedAt"].(time.Time); ok {
		utc := v.UTC()
		contract.SalesAdminSignedAt = &utc
	}
	if v, ok := doc["customerSigned"].(bool); ok {
		contract.CustomerSigned = v
	}
	if v, ok := doc["customerSignedAt"].(time.Time); ok {
		utc := v.UTC()
		contract.CustomerSignedAt = &utc
	}
	if v, ok := doc["payload"].(map[string]any); ok {
		contract.Payload = v
	}
	return contract
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
