package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/hangerworks/api/internal/domain"
	"github.com/hangerworks/api/internal/repositories"
)

const (
	paymentEventSubmitted = "payment.submitted"
	paymentEventApproved  = "payment.approved"
	paymentEventRejected  = "payment.rejected"

	paymentIDPrefix        = "pay_"
	paymentHistoryIDPrefix = "ph_"

	paymentRejectedTemplate = "payment_rejected"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the payment could not be located.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentConflict indicates a duplicate submission or concurrent update.
	ErrPaymentConflict = errors.New("payment: conflict")
	// ErrPaymentNoActive indicates no verifiable payment exists, including a
	// second approval of an already-verified payment.
	ErrPaymentNoActive = errors.New("payment: no active payment")
	// ErrPaymentMissingReason indicates a rejection without a reason.
	ErrPaymentMissingReason = errors.New("payment: rejection reason is required")
	// ErrPaymentPermissionDenied indicates the actor may not verify payments.
	ErrPaymentPermissionDenied = errors.New("payment: permission denied")
)

// PaymentEventPublisher publishes payment domain events for downstream consumers.
type PaymentEventPublisher interface {
	PublishPaymentEvent(ctx context.Context, event PaymentEvent) error
}

// PaymentEvent captures metadata for emitted payment domain events.
type PaymentEvent struct {
	Type       string
	PaymentID  string
	OrderID    string
	Status     PaymentStatus
	ActorID    string
	OccurredAt time.Time
}

// Notifier delivers customer-facing notifications. Call sites treat delivery
// as fire-and-forget; failures are logged, never propagated.
type Notifier interface {
	Notify(ctx context.Context, customerID string, templateID string, payload map[string]any) error
}

// ProofSigner mints short-lived download links for payment proof objects.
type ProofSigner interface {
	SignedURL(ctx context.Context, objectPath string) (string, error)
}

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Payments    repositories.PaymentRepository
	History     repositories.PaymentHistoryRepository
	Orders      repositories.OrderRepository
	StatusAudit repositories.StatusAuditRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Sanitize    func(string) string
	Events      PaymentEventPublisher
	Notifier    Notifier
	Proofs      ProofSigner
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	payments    repositories.PaymentRepository
	history     repositories.PaymentHistoryRepository
	orders      repositories.OrderRepository
	statusAudit repositories.StatusAuditRepository
	unitOfWork  repositories.UnitOfWork
	clock       func() time.Time
	newID       func() string
	sanitize    func(string) string
	events      PaymentEventPublisher
	notifier    Notifier
	proofs      ProofSigner
	logger      func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.History == nil {
		return nil, errors.New("payment service: history repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	sanitize := deps.Sanitize
	if sanitize == nil {
		policy := bluemonday.StrictPolicy()
		sanitize = func(value string) string {
			return strings.TrimSpace(policy.Sanitize(value))
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		payments:    deps.Payments,
		history:     deps.History,
		orders:      deps.Orders,
		statusAudit: deps.StatusAudit,
		unitOfWork:  unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
		events:   deps.Events,
		notifier: deps.Notifier,
		proofs:   deps.Proofs,
		logger:   logger,
	}, nil
}

func (s *paymentService) SubmitPayment(ctx context.Context, cmd SubmitPaymentCommand) (Payment, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Payment{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	method := strings.TrimSpace(cmd.Method)
	if method == "" {
		return Payment{}, fmt.Errorf("%w: payment method is required", ErrPaymentInvalidInput)
	}
	if cmd.Amount <= 0 {
		return Payment{}, fmt.Errorf("%w: amount must be positive", ErrPaymentInvalidInput)
	}
	proof := strings.TrimSpace(cmd.ProofReference)
	if proof == "" {
		return Payment{}, fmt.Errorf("%w: proof reference is required", ErrPaymentInvalidInput)
	}

	now := s.now()
	payment := Payment{
		ID:                   paymentIDPrefix + s.newID(),
		OrderID:              orderID,
		Method:               method,
		Status:               domain.PaymentPendingVerification,
		Amount:               cmd.Amount,
		ProofReference:       proof,
		TransactionReference: cmd.TransactionReference,
		SubmittedAt:          now,
		Notes:                s.sanitize(cmd.Notes),
	}

	// Reads precede writes inside the transaction: the single-active-slot
	// check and order patch read run first, then the insert and audit append.
	verifying := domain.StatusVerifyingPayment
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if existing, err := s.payments.FindActiveByOrder(txCtx, orderID); err == nil {
			return fmt.Errorf("%w: payment %s already awaits verification", ErrPaymentConflict, existing.ID)
		} else if mapped := s.mapRepositoryError(err); !errors.Is(mapped, ErrPaymentNotFound) {
			return mapped
		}

		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		if _, err := s.orders.Patch(txCtx, orderID, repositories.OrderPatch{
			Status:    &verifying,
			UpdatedBy: cmd.Actor.ID,
			UpdatedAt: now,
		}); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.payments.Insert(txCtx, payment); err != nil {
			return s.mapRepositoryError(err)
		}
		s.appendStatusAudit(txCtx, orderID, order.Status, verifying, cmd.Actor, now)
		return nil
	})
	if err != nil {
		return Payment{}, err
	}

	s.publishEvent(ctx, PaymentEvent{
		Type:       paymentEventSubmitted,
		PaymentID:  payment.ID,
		OrderID:    orderID,
		Status:     payment.Status,
		ActorID:    cmd.Actor.ID,
		OccurredAt: now,
	})

	return payment, nil
}

func (s *paymentService) GetActivePayment(ctx context.Context, orderID string) (Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Payment{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	payment, err := s.payments.FindActiveByOrder(ctx, orderID)
	if err != nil {
		if mapped := s.mapRepositoryError(err); errors.Is(mapped, ErrPaymentNotFound) {
			return Payment{}, fmt.Errorf("%w: order %s", ErrPaymentNoActive, orderID)
		} else {
			return Payment{}, mapped
		}
	}
	return payment, nil
}

// Approve verifies the active payment and forces the owning order into
// production. The order move is an engine side effect and deliberately skips
// the role transition policy. Calling Approve twice verifies once: the second
// call reads an already-verified payment and fails before writing.
func (s *paymentService) Approve(ctx context.Context, cmd VerifyPaymentCommand) (Payment, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return Payment{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}
	if cmd.Actor.Role != domain.RoleSalesAdmin {
		return Payment{}, fmt.Errorf("%w: role %s may not verify payments", ErrPaymentPermissionDenied, cmd.Actor.Role)
	}

	now := s.now()

	// Reads precede writes inside the transaction: payment and order are
	// fetched and checked up front, then the verified stamp, order advance,
	// history entry, and audit entry are buffered into one atomic commit. A
	// concurrent verdict that already consumed the payment fails the read.
	var verified Payment
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		payment, err := s.payments.FindByID(txCtx, paymentID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if payment.Status == domain.PaymentVerified {
			return fmt.Errorf("%w: payment %s already verified", ErrPaymentNoActive, paymentID)
		}

		order, err := s.orders.FindByID(txCtx, payment.OrderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		inProduction := domain.StatusInProduction
		if _, err := s.orders.Patch(txCtx, payment.OrderID, repositories.OrderPatch{
			Status:    &inProduction,
			UpdatedBy: cmd.Actor.ID,
			UpdatedAt: now,
		}); err != nil {
			return s.mapRepositoryError(err)
		}

		if _, err := s.payments.MarkVerified(txCtx, paymentID, now, cmd.Actor.ID); err != nil {
			mapped := s.mapRepositoryError(err)
			if errors.Is(mapped, ErrPaymentConflict) {
				return fmt.Errorf("%w: payment %s already verified", ErrPaymentNoActive, paymentID)
			}
			return mapped
		}

		payment.Status = domain.PaymentVerified
		payment.VerifiedAt = &now
		verifiedBy := cmd.Actor.ID
		payment.VerifiedBy = &verifiedBy

		s.appendStatusAudit(txCtx, payment.OrderID, order.Status, inProduction, cmd.Actor, now)

		entry := PaymentHistoryEntry{
			ID:              paymentHistoryIDPrefix + s.newID(),
			OrderID:         payment.OrderID,
			Action:          domain.PaymentActionApproved,
			ResultingStatus: domain.PaymentVerified,
			Snapshot:        payment,
			ActorID:         strings.TrimSpace(cmd.Actor.ID),
			ActorName:       strings.TrimSpace(cmd.Actor.Name),
			RecordedAt:      now,
		}
		if err := s.history.Append(txCtx, entry); err != nil {
			return s.mapRepositoryError(err)
		}

		verified = payment
		return nil
	})
	if err != nil {
		return Payment{}, err
	}

	s.publishEvent(ctx, PaymentEvent{
		Type:       paymentEventApproved,
		PaymentID:  verified.ID,
		OrderID:    verified.OrderID,
		Status:     verified.Status,
		ActorID:    cmd.Actor.ID,
		OccurredAt: now,
	})

	return verified, nil
}

// Reject archives the payment into history with the sanitised reason and
// clears the active slot. The order status is left untouched; the customer is
// notified on a best-effort side channel.
func (s *paymentService) Reject(ctx context.Context, cmd RejectPaymentCommand) (PaymentHistoryEntry, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return PaymentHistoryEntry{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}
	if cmd.Actor.Role != domain.RoleSalesAdmin {
		return PaymentHistoryEntry{}, fmt.Errorf("%w: role %s may not verify payments", ErrPaymentPermissionDenied, cmd.Actor.Role)
	}
	reason := s.sanitize(cmd.Reason)
	if reason == "" {
		return PaymentHistoryEntry{}, ErrPaymentMissingReason
	}

	now := s.now()

	// The payment is read inside the transaction so two concurrent verdicts
	// serialise: whichever commits second reads an already-cleared slot and
	// fails with not-found instead of archiving a second entry.
	var payment Payment
	var entry PaymentHistoryEntry
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.payments.FindByID(txCtx, paymentID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Status == domain.PaymentVerified {
			return fmt.Errorf("%w: payment %s is already verified", ErrPaymentConflict, paymentID)
		}

		snapshot := current
		snapshot.Status = domain.PaymentRejected

		entry = PaymentHistoryEntry{
			ID:              paymentHistoryIDPrefix + s.newID(),
			OrderID:         current.OrderID,
			Action:          domain.PaymentActionRejected,
			ResultingStatus: domain.PaymentRejected,
			Snapshot:        snapshot,
			Reason:          reason,
			ActorID:         strings.TrimSpace(cmd.Actor.ID),
			ActorName:       strings.TrimSpace(cmd.Actor.Name),
			RecordedAt:      now,
		}
		if err := s.history.Append(txCtx, entry); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.payments.Delete(txCtx, paymentID); err != nil {
			return s.mapRepositoryError(err)
		}

		payment = current
		return nil
	})
	if err != nil {
		return PaymentHistoryEntry{}, err
	}

	s.notifyRejection(ctx, payment, reason)

	s.publishEvent(ctx, PaymentEvent{
		Type:       paymentEventRejected,
		PaymentID:  payment.ID,
		OrderID:    payment.OrderID,
		Status:     domain.PaymentRejected,
		ActorID:    cmd.Actor.ID,
		OccurredAt: now,
	})

	return entry, nil
}

func (s *paymentService) ListHistory(ctx context.Context, orderID string) ([]PaymentHistoryEntry, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	entries, err := s.history.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return entries, nil
}

func (s *paymentService) ProofURL(ctx context.Context, paymentID string) (string, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return "", fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}
	if s.proofs == nil {
		return "", errors.New("payment service: proof signer not configured")
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return "", s.mapRepositoryError(err)
	}
	if payment.ProofReference == "" {
		return "", fmt.Errorf("%w: payment %s carries no proof", ErrPaymentInvalidInput, paymentID)
	}
	return s.proofs.SignedURL(ctx, payment.ProofReference)
}

func (s *paymentService) appendStatusAudit(ctx context.Context, orderID string, from, to OrderStatus, actor Actor, now time.Time) {
	if s.statusAudit == nil {
		return
	}
	entry := StatusAuditEntry{
		ID:         statusAuditIDPrefix + s.newID(),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    strings.TrimSpace(actor.ID),
		ActorName:  strings.TrimSpace(actor.Name),
		RecordedAt: now,
	}
	if err := s.statusAudit.Append(ctx, entry); err != nil {
		s.logger(ctx, "payment.status_audit.failed", map[string]any{
			"order": orderID,
			"to":    string(to),
			"error": err.Error(),
		})
	}
}

func (s *paymentService) notifyRejection(ctx context.Context, payment Payment, reason string) {
	if s.notifier == nil {
		return
	}
	order, err := s.orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		s.logger(ctx, "payment.notify.skipped", map[string]any{
			"payment": payment.ID,
			"error":   err.Error(),
		})
		return
	}
	payload := map[string]any{
		"orderNumber": order.OrderNumber,
		"paymentId":   payment.ID,
		"reason":      reason,
	}
	if err := s.notifier.Notify(ctx, order.CustomerID, paymentRejectedTemplate, payload); err != nil {
		s.logger(ctx, "payment.notify.failed", map[string]any{
			"payment":  payment.ID,
			"customer": order.CustomerID,
			"error":    err.Error(),
		})
	}
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPaymentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *paymentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *paymentService) now() time.Time {
	return s.clock()
}

func (s *paymentService) publishEvent(ctx context.Context, event PaymentEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishPaymentEvent(ctx, event); err != nil {
		s.logger(ctx, "payment.event.publish.failed", map[string]any{
			"type":    event.Type,
			"payment": event.PaymentID,
			"error":   err.Error(),
		})
	}
}
