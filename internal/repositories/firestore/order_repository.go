package firestore

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hangerworks/api/internal/domain"
	pfirestore "github.com/hangerworks/api/internal/platform/firestore"
	"github.com/hangerworks/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order aggregates. Orders are append-and-update only;
// there is no delete path.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, base: base}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	if _, err := r.base.Create(ctx, orderID, encodeOrderDocument(order)); err != nil {
		return err
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(orderID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// Patch applies a partial update in a transaction, bumps the revision, and
// returns the committed order state. Touching only the named fields keeps
// concurrent edits to unrelated fields from clobbering each other.
func (r *OrderRepository) Patch(ctx context.Context, orderID string, patch repositories.OrderPatch) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if patch.IsEmpty() {
		return r.FindByID(ctx, orderID)
	}

	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	updatedAt := patch.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	var committed domain.Order
	txErr := r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(docRef)
		if err != nil {
			return pfirestore.WrapError("orders.patch", err)
		}
		doc, err := r.base.Decode(txCtx, snapshot)
		if err != nil {
			return err
		}

		updates := buildOrderUpdates(patch, updatedAt)
		if err := tx.Update(docRef, updates); err != nil {
			return pfirestore.WrapError("orders.patch", err)
		}

		committed = decodeOrderDocument(orderID, doc.Data, doc.CreateTime, doc.UpdateTime)
		applyOrderPatch(&committed, patch, updatedAt)
		return nil
	})
	if txErr != nil {
		return domain.Order{}, txErr
	}
	return committed, nil
}

func buildOrderUpdates(patch repositories.OrderPatch, updatedAt time.Time) []firestore.Update {
	updates := []firestore.Update{
		{Path: "revision", Value: firestore.Increment(1)},
		{Path: "updatedAt", Value: updatedAt},
	}
	if patch.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: string(*patch.Status)})
	}
	if patch.TrackingLink != nil {
		updates = append(updates, firestore.Update{Path: "trackingLink", Value: strings.TrimSpace(*patch.TrackingLink)})
	}
	if patch.TotalPrice != nil {
		updates = append(updates, firestore.Update{Path: "totalPrice", Value: *patch.TotalPrice})
	}
	if patch.Deadline != nil {
		updates = append(updates, firestore.Update{Path: "deadline", Value: patch.Deadline.UTC()})
	}
	if patch.PriceBreakdown != nil {
		updates = append(updates, firestore.Update{Path: "priceBreakdown", Value: encodeBreakdownDocument(patch.PriceBreakdown)})
	}
	if patch.Contract != nil {
		updates = append(updates, firestore.Update{Path: "contract", Value: encodeContractDocument(*patch.Contract)})
	}
	if updatedBy := strings.TrimSpace(patch.UpdatedBy); updatedBy != "" {
		updates = append(updates, firestore.Update{Path: "updatedBy", Value: updatedBy})
	}
	return updates
}

func applyOrderPatch(order *domain.Order, patch repositories.OrderPatch, updatedAt time.Time) {
	order.Revision++
	order.UpdatedAt = updatedAt
	if patch.Status != nil {
		order.Status = *patch.Status
	}
	if patch.TrackingLink != nil {
		link := strings.TrimSpace(*patch.TrackingLink)
		order.TrackingLink = &link
	}
	if patch.TotalPrice != nil {
		price := *patch.TotalPrice
		order.TotalPrice = &price
	}
	if patch.Deadline != nil {
		deadline := patch.Deadline.UTC()
		order.Deadline = &deadline
	}
	if patch.PriceBreakdown != nil {
		breakdown := *patch.PriceBreakdown
		order.PriceBreakdown = &breakdown
	}
	if patch.Contract != nil {
		order.Contract = *patch.Contract
	}
	if updatedBy := strings.TrimSpace(patch.UpdatedBy); updatedBy != "" {
		order.Audit.UpdatedBy = &updatedBy
	}
}

type orderDocument struct {
	OrderNumber        string             `firestore:"orderNumber"`
	CustomerID         string             `firestore:"customerId"`
	Status             string             `firestore:"status"`
	Quantity           int                `firestore:"quantity"`
	TotalPrice         *float64           `firestore:"totalPrice,omitempty"`
	Deadline           *time.Time         `firestore:"deadline,omitempty"`
	Materials          map[string]float64 `firestore:"materials"`
	PriceBreakdown     *breakdownDocument `firestore:"priceBreakdown,omitempty"`
	EstimatedBreakdown *breakdownDocument `firestore:"estimatedBreakdown,omitempty"`
	Contract           *contractDocument  `firestore:"contract,omitempty"`
	TrackingLink       *string            `firestore:"trackingLink,omitempty"`
	DesignSnapshot     map[string]any     `firestore:"designSnapshot,omitempty"`
	Revision           int64              `firestore:"revision"`
	CreatedBy          *string            `firestore:"createdBy,omitempty"`
	UpdatedBy          *string            `firestore:"updatedBy,omitempty"`
	CreatedAt          time.Time          `firestore:"createdAt"`
	UpdatedAt          time.Time          `firestore:"updatedAt"`
}

type breakdownDocument struct {
	WeightKg         float64   `firestore:"weightKg"`
	MaterialCost     float64   `firestore:"materialCost"`
	DeliveryFee      float64   `firestore:"deliveryFee"`
	DeliveryType     string    `firestore:"deliveryType"`
	VATRatePercent   float64   `firestore:"vatRatePercent"`
	Subtotal         float64   `firestore:"subtotal"`
	VATAmount        float64   `firestore:"vatAmount"`
	Total            float64   `firestore:"total"`
	Notes            string    `firestore:"notes,omitempty"`
	MissingMaterials []string  `firestore:"missingMaterials,omitempty"`
	ComputedAt       time.Time `firestore:"computedAt"`
	ComputedBy       string    `firestore:"computedBy,omitempty"`
}

type contractDocument struct {
	SalesAdminSigned   bool           `firestore:"salesAdminSigned"`
	SalesAdminSignedAt *time.Time     `firestore:"salesAdminSignedAt,omitempty"`
	CustomerSigned     bool           `firestore:"customerSigned"`
	CustomerSignedAt   *time.Time     `firestore:"customerSignedAt,omitempty"`
	Payload            map[string]any `firestore:"payload,omitempty"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:        strings.TrimSpace(order.OrderNumber),
		CustomerID:         strings.TrimSpace(order.CustomerID),
		Status:             string(order.Status),
		Quantity:           order.Quantity,
		TotalPrice:         cloneFloatPointer(order.TotalPrice),
		Deadline:           normalizeTimePointer(order.Deadline),
		Materials:          cloneFloatMap(order.Materials),
		PriceBreakdown:     encodeBreakdownDocument(order.PriceBreakdown),
		EstimatedBreakdown: encodeBreakdownDocument(order.EstimatedBreakdown),
		TrackingLink:       cloneStringPointer(order.TrackingLink),
		DesignSnapshot:     cloneAnyMap(order.DesignSnapshot),
		Revision:           order.Revision,
		CreatedBy:          cloneStringPointer(order.Audit.CreatedBy),
		UpdatedBy:          cloneStringPointer(order.Audit.UpdatedBy),
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
	}
	contract := encodeContractDocument(order.Contract)
	doc.Contract = &contract
	return doc
}

func encodeBreakdownDocument(breakdown *domain.PriceBreakdown) *breakdownDocument {
	if breakdown == nil {
		return nil
	}
	return &breakdownDocument{
		WeightKg:         breakdown.WeightKg,
		MaterialCost:     breakdown.MaterialCost,
		DeliveryFee:      breakdown.DeliveryFee,
		DeliveryType:     string(breakdown.DeliveryType),
		VATRatePercent:   breakdown.VATRatePercent,
		Subtotal:         breakdown.Subtotal,
		VATAmount:        breakdown.VATAmount,
		Total:            breakdown.Total,
		Notes:            strings.TrimSpace(breakdown.Notes),
		MissingMaterials: append([]string(nil), breakdown.MissingMaterials...),
		ComputedAt:       breakdown.ComputedAt.UTC(),
		ComputedBy:       strings.TrimSpace(breakdown.ComputedBy),
	}
}

func encodeContractDocument(contract domain.Contract) contractDocument {
	return contractDocument{
		SalesAdminSigned:   contract.SalesAdminSigned,
		SalesAdminSignedAt: normalizeTimePointer(contract.SalesAdminSignedAt),
		CustomerSigned:     contract.CustomerSigned,
		CustomerSignedAt:   normalizeTimePointer(contract.CustomerSignedAt),
		Payload:            cloneAnyMap(contract.Payload),
	}
}

func decodeOrderDocument(id string, doc orderDocument, createdAt, updatedAt time.Time) domain.Order {
	order := domain.Order{
		ID:                 strings.TrimSpace(id),
		OrderNumber:        strings.TrimSpace(doc.OrderNumber),
		CustomerID:         strings.TrimSpace(doc.CustomerID),
		Status:             domain.OrderStatus(strings.TrimSpace(doc.Status)),
		Quantity:           doc.Quantity,
		TotalPrice:         cloneFloatPointer(doc.TotalPrice),
		Deadline:           normalizeTimePointer(doc.Deadline),
		Materials:          cloneFloatMap(doc.Materials),
		PriceBreakdown:     decodeBreakdownDocument(doc.PriceBreakdown),
		EstimatedBreakdown: decodeBreakdownDocument(doc.EstimatedBreakdown),
		TrackingLink:       cloneStringPointer(doc.TrackingLink),
		DesignSnapshot:     cloneAnyMap(doc.DesignSnapshot),
		Revision:           doc.Revision,
		Audit: domain.OrderAudit{
			CreatedBy: cloneStringPointer(doc.CreatedBy),
			UpdatedBy: cloneStringPointer(doc.UpdatedBy),
		},
		CreatedAt: chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt: chooseTime(doc.UpdatedAt, updatedAt),
	}
	if doc.Contract != nil {
		order.Contract = domain.Contract{
			SalesAdminSigned:   doc.Contract.SalesAdminSigned,
			SalesAdminSignedAt: normalizeTimePointer(doc.Contract.SalesAdminSignedAt),
			CustomerSigned:     doc.Contract.CustomerSigned,
			CustomerSignedAt:   normalizeTimePointer(doc.Contract.CustomerSignedAt),
			Payload:            cloneAnyMap(doc.Contract.Payload),
		}
	}
	return order
}

func decodeBreakdownDocument(doc *breakdownDocument) *domain.PriceBreakdown {
	if doc == nil {
		return nil
	}
	return &domain.PriceBreakdown{
		WeightKg:         doc.WeightKg,
		MaterialCost:     doc.MaterialCost,
		DeliveryFee:      doc.DeliveryFee,
		DeliveryType:     domain.DeliveryType(strings.TrimSpace(doc.DeliveryType)),
		VATRatePercent:   doc.VATRatePercent,
		Subtotal:         doc.Subtotal,
		VATAmount:        doc.VATAmount,
		Total:            doc.Total,
		Notes:            strings.TrimSpace(doc.Notes),
		MissingMaterials: append([]string(nil), doc.MissingMaterials...),
		ComputedAt:       doc.ComputedAt.UTC(),
		ComputedBy:       strings.TrimSpace(doc.ComputedBy),
	}
}

func cloneFloatMap(src map[string]float64) map[string]float64 {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}

func cloneAnyMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}

func cloneFloatPointer(value *float64) *float64 {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func chooseTime(primary time.Time, fallback time.Time) time.Time {
	if !primary.IsZero() {
		return primary.UTC()
	}
	if !fallback.IsZero() {
		return fallback.UTC()
	}
	return time.Time{}
}

func normalizeTimePointer(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	ts := value.UTC()
	return &ts
}
