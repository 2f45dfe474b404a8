package domain

import (
	"time"
)

// Role tags an authenticated actor with the back-office surface it belongs to.
type Role string

const (
	// RoleCustomer identifies the storefront customer who placed the order.
	RoleCustomer Role = "customer"
	// RoleSalesAdmin identifies sales back-office staff handling evaluation, pricing, and payments.
	RoleSalesAdmin Role = "sales_admin"
	// RoleOperationsManager identifies operations staff handling production and shipping.
	RoleOperationsManager Role = "operations_manager"
	// RoleProduction identifies assembly-floor staff; they never drive order status directly.
	RoleProduction Role = "production"
)

// Actor is the explicit identity passed into every state-changing operation.
// It is sourced from the session layer and never read from ambient state.
type Actor struct {
	ID   string
	Name string
	Role Role
}

// OrderStatus enumerates the order lifecycle states in canonical order.
type OrderStatus string

const (
	// StatusForEvaluation is the initial state after checkout submission.
	StatusForEvaluation OrderStatus = "for_evaluation"
	// StatusContractSigning indicates pricing is accepted and the contract awaits signatures.
	StatusContractSigning OrderStatus = "contract_signing"
	// StatusWaitingForPayment indicates the signed order awaits a customer payment.
	StatusWaitingForPayment OrderStatus = "waiting_for_payment"
	// StatusVerifyingPayment indicates a submitted payment awaits manual verification.
	StatusVerifyingPayment OrderStatus = "verifying_payment"
	// StatusInProduction indicates the order is on the assembly floor.
	StatusInProduction OrderStatus = "in_production"
	// StatusWaitingForShipment indicates production finished and the order awaits carrier handoff.
	StatusWaitingForShipment OrderStatus = "waiting_for_shipment"
	// StatusInTransit indicates the order shipped; requires a tracking link.
	StatusInTransit OrderStatus = "in_transit"
	// StatusCompleted is the successful terminal state.
	StatusCompleted OrderStatus = "completed"
	// StatusCancelled is the terminal state reachable from any non-terminal state.
	StatusCancelled OrderStatus = "cancelled"
)

// CanonicalStatusOrder lists the non-cancelled lifecycle states in progression order.
var CanonicalStatusOrder = []OrderStatus{
	StatusForEvaluation,
	StatusContractSigning,
	StatusWaitingForPayment,
	StatusVerifyingPayment,
	StatusInProduction,
	StatusWaitingForShipment,
	StatusInTransit,
	StatusCompleted,
}

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// StatusIndex returns the position of status in the canonical ordering, or -1
// for cancelled and unknown values.
func StatusIndex(status OrderStatus) int {
	for i, s := range CanonicalStatusOrder {
		if s == status {
			return i
		}
	}
	return -1
}

// DeliveryType labels a breakdown's delivery leg. Informational only; it never
// changes the arithmetic.
type DeliveryType string

const (
	// DeliveryLocal marks domestic delivery.
	DeliveryLocal DeliveryType = "local"
	// DeliveryInternational marks cross-border delivery.
	DeliveryInternational DeliveryType = "international"
)

// DefaultVATRatePercent is applied when a breakdown does not carry an explicit rate.
const DefaultVATRatePercent = 12.0

// PriceBreakdown decomposes an order total into material, delivery, and VAT
// components. Monetary fields hold full precision; rounding happens only in
// presentation payloads.
type PriceBreakdown struct {
	WeightKg         float64
	MaterialCost     float64
	DeliveryFee      float64
	DeliveryType     DeliveryType
	VATRatePercent   float64
	Subtotal         float64
	VATAmount        float64
	Total            float64
	Notes            string
	MissingMaterials []string
	ComputedAt       time.Time
	ComputedBy       string
}

// Contract tracks the two-party signature sub-state of an order. The customer
// may sign only after the sales admin has signed.
type Contract struct {
	SalesAdminSigned   bool
	SalesAdminSignedAt *time.Time
	CustomerSigned     bool
	CustomerSignedAt   *time.Time
	Payload            map[string]any
}

// OrderAudit records the actors responsible for creating/updating the order.
type OrderAudit struct {
	CreatedBy *string
	UpdatedBy *string
}

// Order is the aggregate the whole workflow revolves around. Orders are never
// deleted; they terminate by reaching completed or cancelled.
type Order struct {
	ID          string
	OrderNumber string
	CustomerID  string
	Status      OrderStatus
	Quantity    int

	// TotalPrice stays nil until a sales admin validates the breakdown.
	TotalPrice *float64
	Deadline   *time.Time

	// Materials maps material name to mix percentage; values sum to 100
	// within a 0.1 tolerance.
	Materials map[string]float64

	PriceBreakdown *PriceBreakdown
	// EstimatedBreakdown is produced once at checkout and never mutated.
	EstimatedBreakdown *PriceBreakdown

	Contract     Contract
	TrackingLink *string

	// DesignSnapshot is the frozen 3D configuration captured at checkout.
	DesignSnapshot map[string]any

	// Revision increases monotonically with every commit; session controllers
	// use it to discard stale bus events.
	Revision int64

	Audit     OrderAudit
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentStatus enumerates the verification states of a payment.
type PaymentStatus string

const (
	// PaymentPendingVerification indicates the payment awaits a verifier.
	PaymentPendingVerification PaymentStatus = "pending_verification"
	// PaymentVerified indicates a verifier approved the payment.
	PaymentVerified PaymentStatus = "verified"
	// PaymentRejected indicates a verifier rejected the payment.
	PaymentRejected PaymentStatus = "rejected"
)

// Payment is the single active payment attached to an order. A rejected
// payment is archived into history and removed from the active slot.
type Payment struct {
	ID                   string
	OrderID              string
	Method               string
	Status               PaymentStatus
	Amount               float64
	ProofReference       string
	TransactionReference *string
	SubmittedAt          time.Time
	VerifiedAt           *time.Time
	VerifiedBy           *string
	Notes                string
}

// PaymentAction enumerates terminal payment verdicts.
type PaymentAction string

const (
	// PaymentActionApproved records an approval verdict.
	PaymentActionApproved PaymentAction = "approved"
	// PaymentActionRejected records a rejection verdict.
	PaymentActionRejected PaymentAction = "rejected"
)

// PaymentHistoryEntry is an append-only record of a terminal payment action.
// Entries carry the full payment snapshot at verdict time and are never
// mutated or deleted.
type PaymentHistoryEntry struct {
	ID              string
	OrderID         string
	Action          PaymentAction
	ResultingStatus PaymentStatus
	Snapshot        Payment
	Reason          string
	ActorID         string
	ActorName       string
	RecordedAt      time.Time
}

// StatusAuditEntry records one committed status transition for an order.
// The trail is append-only and keyed by order id.
type StatusAuditEntry struct {
	ID         string
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	ActorID    string
	ActorName  string
	RecordedAt time.Time
}

// Material describes a catalog material with its per-kg unit price.
type Material struct {
	ID          string
	Name        string
	UnitPriceKg float64
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Product describes a configurable hanger model offered by the storefront.
type Product struct {
	ID          string
	Name        string
	Description string
	WeightKg    float64
	BasePrice   float64
	IsPublished bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
