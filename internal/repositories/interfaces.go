package repositories

import (
	"context"
	"time"

	domain "github.com/hangerworks/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Payments() PaymentRepository
	PaymentHistory() PaymentHistoryRepository
	StatusAudit() StatusAuditRepository
	Catalog() CatalogRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderPatch carries a partial order update. Nil fields are left untouched so
// concurrent edits to unrelated fields never clobber each other. Every applied
// patch bumps the order's revision.
type OrderPatch struct {
	Status         *domain.OrderStatus
	TrackingLink   *string
	TotalPrice     *float64
	Deadline       *time.Time
	PriceBreakdown *domain.PriceBreakdown
	Contract       *domain.Contract
	UpdatedBy      string
	UpdatedAt      time.Time
}

// IsEmpty reports whether the patch carries no field changes.
func (p OrderPatch) IsEmpty() bool {
	return p.Status == nil && p.TrackingLink == nil && p.TotalPrice == nil &&
		p.Deadline == nil && p.PriceBreakdown == nil && p.Contract == nil
}

// OrderRepository persists order aggregates. Orders are never deleted.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	Patch(ctx context.Context, orderID string, patch OrderPatch) (domain.Order, error)
}

// PaymentRepository manages the single active payment slot per order.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	FindActiveByOrder(ctx context.Context, orderID string) (domain.Payment, error)
	// MarkVerified conditionally flips the payment to verified; it fails with a
	// conflict when the payment is already verified, which is what makes
	// double-approval safe.
	MarkVerified(ctx context.Context, paymentID string, verifiedAt time.Time, verifiedBy string) (domain.Payment, error)
	// Delete clears the active slot. Callers archive the snapshot to history first.
	Delete(ctx context.Context, paymentID string) error
}

// PaymentHistoryRepository is the append-only log of terminal payment actions.
type PaymentHistoryRepository interface {
	Append(ctx context.Context, entry domain.PaymentHistoryEntry) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentHistoryEntry, error)
}

// StatusAuditRepository is the append-only order-status audit trail.
type StatusAuditRepository interface {
	Append(ctx context.Context, entry domain.StatusAuditEntry) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.StatusAuditEntry, error)
}

// CatalogRepository reads material and product reference data.
type CatalogRepository interface {
	ListMaterials(ctx context.Context) ([]domain.Material, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

// CounterRepository hands out monotonically increasing sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
