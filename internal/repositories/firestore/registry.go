package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hangerworks/api/internal/platform/firestore"
	"github.com/hangerworks/api/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind the
// repositories.Registry interface.
type Registry struct {
	provider *pfirestore.Provider

	orders         *OrderRepository
	payments       *PaymentRepository
	paymentHistory *PaymentHistoryRepository
	statusAudit    *StatusAuditRepository
	catalog        *CatalogRepository
	counters       *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs all repositories against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry: firestore provider is required")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("repository registry: %w", err)
	}
	payments, err := NewPaymentRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("repository registry: %w", err)
	}
	paymentHistory, err := NewPaymentHistoryRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("repository registry: %w", err)
	}
	statusAudit, err := NewStatusAuditRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("repository registry: %w", err)
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("repository registry: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("repository registry: %w", err)
	}

	return &Registry{
		provider:       provider,
		orders:         orders,
		payments:       payments,
		paymentHistory: paymentHistory,
		statusAudit:    statusAudit,
		catalog:        catalog,
		counters:       counters,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Payments returns the payment repository.
func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }

// PaymentHistory returns the payment history archive.
func (r *Registry) PaymentHistory() repositories.PaymentHistoryRepository { return r.paymentHistory }

// StatusAudit returns the status audit trail.
func (r *Registry) StatusAudit() repositories.StatusAuditRepository { return r.statusAudit }

// Catalog returns the catalog reader.
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// RunInTx executes fn inside a Firestore transaction. The transaction handle
// is bound to the context handed to fn, so repository reads and writes issued
// from fn join the transaction and commit atomically. Firestore requires all
// reads in a transaction to precede the first write; fn must order its
// repository calls accordingly.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("repository registry not initialised")
	}
	if fn == nil {
		return errors.New("repository registry: transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.WithTx(txCtx, tx))
	})
}
