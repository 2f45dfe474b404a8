package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hangerworks/api/internal/domain"
	pfirestore "github.com/hangerworks/api/internal/platform/firestore"
)

const statusAuditCollection = "statusAudit"

// StatusAuditRepository is the append-only order-status audit trail.
type StatusAuditRepository struct {
	base *pfirestore.BaseRepository[statusAuditDocument]
}

// NewStatusAuditRepository constructs the Firestore-backed audit trail.
func NewStatusAuditRepository(provider *pfirestore.Provider) (*StatusAuditRepository, error) {
	if provider == nil {
		return nil, errors.New("status audit repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[statusAuditDocument](provider, statusAuditCollection, nil, nil)
	return &StatusAuditRepository{base: base}, nil
}

// Append stores a new audit entry.
func (r *StatusAuditRepository) Append(ctx context.Context, entry domain.StatusAuditEntry) error {
	if r == nil || r.base == nil {
		return errors.New("status audit repository not initialised")
	}
	entryID := strings.TrimSpace(entry.ID)
	if entryID == "" {
		return errors.New("status audit repository: entry id is required")
	}
	if strings.TrimSpace(entry.OrderID) == "" {
		return errors.New("status audit repository: order id is required")
	}
	if _, err := r.base.Create(ctx, entryID, encodeStatusAuditDocument(entry)); err != nil {
		return err
	}
	return nil
}

// ListByOrder returns the order's transitions, oldest first.
func (r *StatusAuditRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.StatusAuditEntry, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("status audit repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("status audit repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).
			OrderBy("recordedAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	entries := make([]domain.StatusAuditEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, decodeStatusAuditDocument(doc.ID, doc.Data))
	}
	return entries, nil
}

type statusAuditDocument struct {
	OrderID    string    `firestore:"orderId"`
	FromStatus string    `firestore:"fromStatus"`
	ToStatus   string    `firestore:"toStatus"`
	ActorID    string    `firestore:"actorId"`
	ActorName  string    `firestore:"actorName,omitempty"`
	RecordedAt time.Time `firestore:"recordedAt"`
}

func encodeStatusAuditDocument(entry domain.StatusAuditEntry) statusAuditDocument {
	return statusAuditDocument{
		OrderID:    strings.TrimSpace(entry.OrderID),
		FromStatus: string(entry.FromStatus),
		ToStatus:   string(entry.ToStatus),
		ActorID:    strings.TrimSpace(entry.ActorID),
		ActorName:  strings.TrimSpace(entry.ActorName),
		RecordedAt: entry.RecordedAt.UTC(),
	}
}

func decodeStatusAuditDocument(id string, doc statusAuditDocument) domain.StatusAuditEntry {
	return domain.StatusAuditEntry{
		ID:         strings.TrimSpace(id),
		OrderID:    strings.TrimSpace(doc.OrderID),
		FromStatus: domain.OrderStatus(strings.TrimSpace(doc.FromStatus)),
		ToStatus:   domain.OrderStatus(strings.TrimSpace(doc.ToStatus)),
		ActorID:    strings.TrimSpace(doc.ActorID),
		ActorName:  strings.TrimSpace(doc.ActorName),
		RecordedAt: doc.RecordedAt.UTC(),
	}
}
