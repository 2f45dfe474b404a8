package session

import (
	"context"
	"testing"

	domain "github.com/hangerworks/api/internal/domain"
	"github.com/hangerworks/api/internal/platform/bus"
)

func TestFactoryRequiresCollaborators(t *testing.T) {
	orders := &stubOrderService{}
	payments := &stubPaymentService{}
	b := bus.NewMemoryBus()
	defer b.Close()

	cases := []struct {
		name string
		deps FactoryDeps
	}{
		{"missing orders", FactoryDeps{Payments: payments, Bus: b}},
		{"missing payments", FactoryDeps{Orders: orders, Bus: b}},
		{"missing bus", FactoryDeps{Orders: orders, Payments: payments}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewFactory(tc.deps); err == nil {
				t.Fatal("expected construction error")
			}
		})
	}
}

func TestFactoryControllersShareBus(t *testing.T) {
	orders := &stubOrderService{orders: map[string]domain.Order{"ord_1": sessionTestOrder("ord_1")}}
	payments := &stubPaymentService{}
	b := bus.NewMemoryBus()
	defer b.Close()

	factory, err := NewFactory(FactoryDeps{Orders: orders, Payments: payments, Bus: b})
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}

	c, err := factory.Controller(domain.Actor{ID: "adm_1", Name: "Dana", Role: domain.RoleSalesAdmin})
	if err != nil {
		t.Fatalf("Controller: %v", err)
	}
	defer c.Close()

	if _, err := c.Open(context.Background(), "ord_1"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	price := 2000.0
	b.Publish(bus.Event{
		Type:     bus.EventUpdate,
		Topic:    bus.TopicOrders,
		EntityID: "ord_1",
		Revision: 4,
		New:      map[string]any{"totalPrice": price, "revision": int64(4)},
	})

	snapshot := c.Current()
	if snapshot.Order.TotalPrice == nil || *snapshot.Order.TotalPrice != price {
		t.Fatalf("total price after bus update = %v", snapshot.Order.TotalPrice)
	}
}
