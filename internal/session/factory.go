package session

import (
	"errors"

	"go.uber.org/zap"

	domain "github.com/hangerworks/api/internal/domain"
	"github.com/hangerworks/api/internal/platform/bus"
	"github.com/hangerworks/api/internal/services"
)

// FactoryDeps bundles the shared collaborators every session controller needs.
type FactoryDeps struct {
	Orders   services.OrderService
	Payments services.PaymentService
	Bus      bus.Bus
	Logger   *zap.Logger
}

// Factory builds per-actor session controllers over one shared change bus.
type Factory struct {
	orders   services.OrderService
	payments services.PaymentService
	bus      bus.Bus
	logger   *zap.Logger
}

// NewFactory validates the shared collaborators once so controller creation
// cannot fail later.
func NewFactory(deps FactoryDeps) (*Factory, error) {
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
	return &Factory{
		orders:   deps.Orders,
		payments: deps.Payments,
		bus:      deps.Bus,
		logger:   logger,
	}, nil
}

// Controller returns an unopened session controller acting on behalf of actor.
func (f *Factory) Controller(actor domain.Actor) (*Controller, error) {
	return NewController(ControllerDeps{
		Orders:   f.orders,
		Payments: f.payments,
		Bus:      f.bus,
		Actor:    actor,
		Logger:   f.logger,
	})
}
