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

const paymentHistoryCollection = "paymentHistory"

// PaymentHistoryRepository is the append-only archive of payment verdicts.
// Entries are created once and never updated.
type PaymentHistoryRepository struct {
	base *pfirestore.BaseRepository[paymentHistoryDocument]
}

// NewPaymentHistoryRepository constructs the Firestore-backed history archive.
func NewPaymentHistoryRepository(provider *pfirestore.Provider) (*PaymentHistoryRepository, error) {
	if provider == nil {
		return nil, errors.New("payment history repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[paymentHistoryDocument](provider, paymentHistoryCollection, nil, nil)
	return &PaymentHistoryRepository{base: base}, nil
}

// Append stores a new history entry. Duplicate IDs conflict.
func (r *PaymentHistoryRepository) Append(ctx context.Context, entry domain.PaymentHistoryEntry) error {
	if r == nil || r.base == nil {
		return errors.New("payment history repository not initialised")
	}
	entryID := strings.TrimSpace(entry.ID)
	if entryID == "" {
		return errors.New("payment history repository: entry id is required")
	}
	if strings.TrimSpace(entry.OrderID) == "" {
		return errors.New("payment history repository: order id is required")
	}
	if _, err := r.base.Create(ctx, entryID, encodePaymentHistoryDocument(entry)); err != nil {
		return err
	}
	return nil
}

// ListByOrder returns the order's verdict history, oldest first.
func (r *PaymentHistoryRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentHistoryEntry, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("payment history repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("payment history repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).
			OrderBy("recordedAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	entries := make([]domain.PaymentHistoryEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, decodePaymentHistoryDocument(doc.ID, doc.Data))
	}
	return entries, nil
}

type paymentHistoryDocument struct {
	OrderID         string          `firestore:"orderId"`
	Action          string          `firestore:"action"`
	ResultingStatus string          `firestore:"resultingStatus"`
	Snapshot        paymentDocument `firestore:"snapshot"`
	SnapshotID      string          `firestore:"snapshotId"`
	Reason          string          `firestore:"reason,omitempty"`
	ActorID         string          `firestore:"actorId"`
	ActorName       string          `firestore:"actorName,omitempty"`
	RecordedAt      time.Time       `firestore:"recordedAt"`
}

func encodePaymentHistoryDocument(entry domain.PaymentHistoryEntry) paymentHistoryDocument {
	return paymentHistoryDocument{
		OrderID:         strings.TrimSpace(entry.OrderID),
		Action:          string(entry.Action),
		ResultingStatus: string(entry.ResultingStatus),
		Snapshot:        encodePaymentDocument(entry.Snapshot),
		SnapshotID:      strings.TrimSpace(entry.Snapshot.ID),
		Reason:          strings.TrimSpace(entry.Reason),
		ActorID:         strings.TrimSpace(entry.ActorID),
		ActorName:       strings.TrimSpace(entry.ActorName),
		RecordedAt:      entry.RecordedAt.UTC(),
	}
}

func decodePaymentHistoryDocument(id string, doc paymentHistoryDocument) domain.PaymentHistoryEntry {
	return domain.PaymentHistoryEntry{
		ID:              strings.TrimSpace(id),
		OrderID:         strings.TrimSpace(doc.OrderID),
		Action:          domain.PaymentAction(strings.TrimSpace(doc.Action)),
		ResultingStatus: domain.PaymentStatus(strings.TrimSpace(doc.ResultingStatus)),
		Snapshot:        decodePaymentDocument(doc.SnapshotID, doc.Snapshot),
		Reason:          strings.TrimSpace(doc.Reason),
		ActorID:         strings.TrimSpace(doc.ActorID),
		ActorName:       strings.TrimSpace(doc.ActorName),
		RecordedAt:      doc.RecordedAt.UTC(),
	}
}
