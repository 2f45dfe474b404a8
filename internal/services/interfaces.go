package services

import (
	"context"
	"time"

	domain "github.com/hangerworks/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Actor               = domain.Actor
	Role                = domain.Role
	Order               = domain.Order
	OrderStatus         = domain.OrderStatus
	Contract            = domain.Contract
	PriceBreakdown      = domain.PriceBreakdown
	BreakdownInput      = domain.BreakdownInput
	DeliveryType        = domain.DeliveryType
	Payment             = domain.Payment
	PaymentStatus       = domain.PaymentStatus
	PaymentHistoryEntry = domain.PaymentHistoryEntry
	StatusAuditEntry    = domain.StatusAuditEntry
	Material            = domain.Material
	Product             = domain.Product
)

// OrderService encapsulates the order lifecycle: creation at checkout, status
// transitions under the role policy, field updates, and contract signing.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	UpdatePrice(ctx context.Context, cmd UpdatePriceCommand) (Order, error)
	UpdateDeadline(ctx context.Context, cmd UpdateDeadlineCommand) (Order, error)
	UpdateBreakdown(ctx context.Context, cmd UpdateBreakdownCommand) (Order, error)
	SetTrackingLink(ctx context.Context, cmd SetTrackingLinkCommand) (Order, error)
	SignContract(ctx context.Context, cmd SignContractCommand) (Order, error)
	ListStatusAudit(ctx context.Context, orderID string) ([]StatusAuditEntry, error)
}

// PaymentService handles the manual verification workflow for customer payments.
type PaymentService interface {
	SubmitPayment(ctx context.Context, cmd SubmitPaymentCommand) (Payment, error)
	GetActivePayment(ctx context.Context, orderID string) (Payment, error)
	Approve(ctx context.Context, cmd VerifyPaymentCommand) (Payment, error)
	Reject(ctx context.Context, cmd RejectPaymentCommand) (PaymentHistoryEntry, error)
	ListHistory(ctx context.Context, orderID string) ([]PaymentHistoryEntry, error)
	ProofURL(ctx context.Context, paymentID string) (string, error)
}

// CatalogService exposes read-only material and product reference data.
type CatalogService interface {
	ListMaterials(ctx context.Context) ([]Material, error)
	ListProducts(ctx context.Context) ([]Product, error)
	EstimateBreakdown(ctx context.Context, cmd EstimateBreakdownCommand) (PriceBreakdown, error)
}

// CreateOrderCommand captures a checkout submission.
type CreateOrderCommand struct {
	CustomerID     string
	Quantity       int
	Materials      map[string]float64
	ProductID      string
	DesignSnapshot map[string]any
	DeliveryType   DeliveryType
	DeliveryFee    float64
	Actor          Actor
}

// OrderStatusTransitionCommand requests a policy-checked status change.
type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	// TrackingLink accompanies transitions into in_transit; committed
	// atomically with the status.
	TrackingLink *string
	Actor        Actor
}

// UpdatePriceCommand sets the validated total price.
type UpdatePriceCommand struct {
	OrderID    string
	TotalPrice float64
	Actor      Actor
}

// UpdateDeadlineCommand sets the production deadline.
type UpdateDeadlineCommand struct {
	OrderID  string
	Deadline time.Time
	Actor    Actor
}

// UpdateBreakdownCommand recomputes and stores the price breakdown from
// catalog unit prices.
type UpdateBreakdownCommand struct {
	OrderID      string
	WeightKg     float64
	DeliveryFee  float64
	DeliveryType DeliveryType
	// A nil VATRatePercent applies the default rate; an explicit zero
	// marks the order VAT-exempt.
	VATRatePercent *float64
	Notes          string
	Actor          Actor
}

// SetTrackingLinkCommand updates the tracking link on its own.
type SetTrackingLinkCommand struct {
	OrderID      string
	TrackingLink string
	Actor        Actor
}

// SignContractCommand records one party's signature.
type SignContractCommand struct {
	OrderID string
	Actor   Actor
}

// SubmitPaymentCommand files the customer's payment for verification.
type SubmitPaymentCommand struct {
	OrderID              string
	Method               string
	Amount               float64
	ProofReference       string
	TransactionReference *string
	Notes                string
	Actor                Actor
}

// VerifyPaymentCommand approves the active payment.
type VerifyPaymentCommand struct {
	PaymentID string
	Actor     Actor
}

// RejectPaymentCommand rejects the active payment with a mandatory reason.
type RejectPaymentCommand struct {
	PaymentID string
	Reason    string
	Actor     Actor
}

// EstimateBreakdownCommand quotes a breakdown without touching any order.
type EstimateBreakdownCommand struct {
	ProductID      string
	Quantity       int
	Materials      map[string]float64
	DeliveryFee    float64
	DeliveryType   DeliveryType
	VATRatePercent *float64
}
