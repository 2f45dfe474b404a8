package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hangerworks/api/internal/domain"
	pfirestore "github.com/hangerworks/api/internal/platform/firestore"
)

const paymentsCollection = "payments"

// PaymentRepository manages the single active payment slot per order. Archived
// verdicts live in payment history, not here.
type PaymentRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[paymentDocument]
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[paymentDocument](provider, paymentsCollection, nil, nil)
	return &PaymentRepository{provider: provider, base: base}, nil
}

// Insert stores a new payment. The caller guarantees the order has no other
// active payment.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.base == nil {
		return errors.New("payment repository not initialised")
	}
	paymentID := strings.TrimSpace(payment.ID)
	if paymentID == "" {
		return errors.New("payment repository: payment id is required")
	}
	if strings.TrimSpace(payment.OrderID) == "" {
		return errors.New("payment repository: order id is required")
	}
	if _, err := r.base.Create(ctx, paymentID, encodePaymentDocument(payment)); err != nil {
		return err
	}
	return nil
}

// FindByID fetches a single payment.
func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	if r == nil || r.base == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return domain.Payment{}, errors.New("payment repository: payment id is required")
	}
	doc, err := r.base.Get(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	return decodePaymentDocument(paymentID, doc.Data), nil
}

// FindActiveByOrder returns the order's current payment. The most recent
// submission wins should leftovers exist.
func (r *PaymentRepository) FindActiveByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	if r == nil || r.base == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Payment{}, errors.New("payment repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).
			OrderBy("submittedAt", firestore.Desc).
			Limit(1)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if len(docs) == 0 {
		return domain.Payment{}, pfirestore.WrapError("payments.find_active",
			status.Errorf(codes.NotFound, "no active payment for order %s", orderID))
	}
	return decodePaymentDocument(docs[0].ID, docs[0].Data), nil
}

// MarkVerified flips the payment to verified inside a transaction. An already
// verified payment yields a conflict, which makes double approval a no-op at
// the service layer.
func (r *PaymentRepository) MarkVerified(ctx context.Context, paymentID string, verifiedAt time.Time, verifiedBy string) (domain.Payment, error) {
	if r == nil || r.base == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return domain.Payment{}, errors.New("payment repository: payment id is required")
	}
	verifiedBy = strings.TrimSpace(verifiedBy)
	if verifiedBy == "" {
		return domain.Payment{}, errors.New("payment repository: verifier id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	verifiedAt = verifiedAt.UTC()

	updates := []firestore.Update{
		{Path: "status", Value: string(domain.PaymentVerified)},
		{Path: "verifiedAt", Value: verifiedAt},
		{Path: "verifiedBy", Value: verifiedBy},
	}

	// Inside an ambient transaction the caller has already read and checked
	// the payment; the reads-before-writes rule forbids another tx.Get here,
	// so only the stamp is buffered. The returned snapshot carries the
	// verification fields; the commit fails when the document is gone.
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		if err := tx.Update(docRef, updates); err != nil {
			return domain.Payment{}, pfirestore.WrapError("payments.mark_verified", err)
		}
		return domain.Payment{
			ID:         paymentID,
			Status:     domain.PaymentVerified,
			VerifiedAt: &verifiedAt,
			VerifiedBy: &verifiedBy,
		}, nil
	}

	var committed domain.Payment
	txErr := r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(docRef)
		if err != nil {
			return pfirestore.WrapError("payments.mark_verified", err)
		}
		doc, err := r.base.Decode(txCtx, snapshot)
		if err != nil {
			return err
		}
		if domain.PaymentStatus(doc.Data.Status) == domain.PaymentVerified {
			return pfirestore.WrapError("payments.mark_verified",
				status.Errorf(codes.FailedPrecondition, "payment %s already verified", paymentID))
		}

		if err := tx.Update(docRef, updates); err != nil {
			return pfirestore.WrapError("payments.mark_verified", err)
		}

		committed = decodePaymentDocument(paymentID, doc.Data)
		committed.Status = domain.PaymentVerified
		committed.VerifiedAt = &verifiedAt
		committed.VerifiedBy = &verifiedBy
		return nil
	})
	if txErr != nil {
		return domain.Payment{}, txErr
	}
	return committed, nil
}

// Delete clears the active slot after the snapshot has been archived. A
// missing payment fails the existence precondition with not-found, so a
// concurrent verdict that already consumed the slot surfaces as an error
// instead of a silent no-op.
func (r *PaymentRepository) Delete(ctx context.Context, paymentID string) error {
	if r == nil || r.base == nil {
		return errors.New("payment repository not initialised")
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return errors.New("payment repository: payment id is required")
	}
	return r.base.Delete(ctx, paymentID, firestore.Exists)
}

type paymentDocument struct {
	OrderID              string     `firestore:"orderId"`
	Method               string     `firestore:"method"`
	Status               string     `firestore:"status"`
	Amount               float64    `firestore:"amount"`
	ProofReference       string     `firestore:"proofReference"`
	TransactionReference *string    `firestore:"transactionReference,omitempty"`
	SubmittedAt          time.Time  `firestore:"submittedAt"`
	VerifiedAt           *time.Time `firestore:"verifiedAt,omitempty"`
	VerifiedBy           *string    `firestore:"verifiedBy,omitempty"`
	Notes                string     `firestore:"notes,omitempty"`
}

func encodePaymentDocument(payment domain.Payment) paymentDocument {
	return paymentDocument{
		OrderID:              strings.TrimSpace(payment.OrderID),
		Method:               strings.TrimSpace(payment.Method),
		Status:               string(payment.Status),
		Amount:               payment.Amount,
		ProofReference:       strings.TrimSpace(payment.ProofReference),
		TransactionReference: cloneStringPointer(payment.TransactionReference),
		SubmittedAt:          payment.SubmittedAt.UTC(),
		VerifiedAt:           normalizeTimePointer(payment.VerifiedAt),
		VerifiedBy:           cloneStringPointer(payment.VerifiedBy),
		Notes:                strings.TrimSpace(payment.Notes),
	}
}

func decodePaymentDocument(id string, doc paymentDocument) domain.Payment {
	return domain.Payment{
		ID:                   strings.TrimSpace(id),
		OrderID:              strings.TrimSpace(doc.OrderID),
		Method:               strings.TrimSpace(doc.Method),
		Status:               domain.PaymentStatus(strings.TrimSpace(doc.Status)),
		Amount:               doc.Amount,
		ProofReference:       strings.TrimSpace(doc.ProofReference),
		TransactionReference: cloneStringPointer(doc.TransactionReference),
		SubmittedAt:          doc.SubmittedAt.UTC(),
		VerifiedAt:           normalizeTimePointer(doc.VerifiedAt),
		VerifiedBy:           cloneStringPointer(doc.VerifiedBy),
		Notes:                strings.TrimSpace(doc.Notes),
	}
}
