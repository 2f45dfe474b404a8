package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hangerworks/api/internal/platform/bus"
	"github.com/hangerworks/api/internal/platform/config"
	"github.com/hangerworks/api/internal/repositories"
	"github.com/hangerworks/api/internal/services"
	"github.com/hangerworks/api/internal/session"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders   services.OrderService
	Payments services.PaymentService
	Catalog  services.CatalogService
}

// Infrastructure carries external collaborators the services publish through.
// Every field is optional; absent publishers degrade to no-ops inside the
// services.
type Infrastructure struct {
	OrderEvents   services.OrderEventPublisher
	PaymentEvents services.PaymentEventPublisher
	Notifier      services.Notifier
	Proofs        services.ProofSigner
	Bus           bus.Bus
	Logger        *zap.Logger
}

// Container wires repositories, services, and supporting infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	// Sessions builds live order-screen controllers; nil when no change bus
	// was supplied.
	Sessions *session.Factory
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// Firestore-backed registries, while tests can supply in-memory ones.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(reg, infra)
	if err != nil {
		return nil, err
	}

	var sessions *session.Factory
	if infra.Bus != nil {
		sessions, err = session.NewFactory(session.FactoryDeps{
			Orders:   svc.Orders,
			Payments: svc.Payments,
			Bus:      infra.Bus,
			Logger:   infra.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build session factory: %w", err)
		}
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Sessions:     sessions,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, infra Infrastructure) (Services, error) {
	var svc Services

	serviceLogger := eventLogger(infra.Logger)

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: reg.Catalog(),
		Clock:   time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      reg.Orders(),
		StatusAudit: reg.StatusAudit(),
		Catalog:     reg.Catalog(),
		Counters:    reg.Counters(),
		UnitOfWork:  reg,
		Clock:       time.Now,
		Events:      infra.OrderEvents,
		Logger:      serviceLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments:    reg.Payments(),
		History:     reg.PaymentHistory(),
		Orders:      reg.Orders(),
		StatusAudit: reg.StatusAudit(),
		UnitOfWork:  reg,
		Clock:       time.Now,
		Events:      infra.PaymentEvents,
		Notifier:    infra.Notifier,
		Proofs:      infra.Proofs,
		Logger:      serviceLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	return svc, nil
}

// eventLogger adapts a zap logger to the service layer's structured event
// callback. A nil logger yields a no-op.
func eventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		return nil
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}
