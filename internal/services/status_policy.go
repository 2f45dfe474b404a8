package services

import (
	"fmt"
	"slices"
	"strings"

	domain "github.com/hangerworks/api/internal/domain"
)

// DecisionKind classifies a policy verdict.
type DecisionKind string

const (
	// DecisionAllowed means the transition may commit as-is.
	DecisionAllowed DecisionKind = "allowed"
	// DecisionNeedsInput means the transition may commit once the named
	// input accompanies it.
	DecisionNeedsInput DecisionKind = "needs_input"
	// DecisionDenied means the actor may not perform the transition.
	DecisionDenied DecisionKind = "denied"
)

// InputTrackingLink names the extra input required for in-transit transitions.
const InputTrackingLink = "tracking_link"

// Decision is the outcome of consulting the transition policy.
type Decision struct {
	Kind DecisionKind
	// Input names the required input when Kind is DecisionNeedsInput.
	Input string
	// Reason explains a denial.
	Reason string
}

// Allowed reports whether the transition may proceed without further input.
func (d Decision) Allowed() bool { return d.Kind == DecisionAllowed }

// DecideTransition evaluates whether role may move an order from current to
// target. It is a pure function over the three inputs; tracking-link presence
// is resolved by the caller when the verdict is DecisionNeedsInput.
func DecideTransition(current, target domain.OrderStatus, role domain.Role) Decision {
	current = domain.OrderStatus(strings.TrimSpace(string(current)))
	target = domain.OrderStatus(strings.TrimSpace(string(target)))

	if current.IsTerminal() {
		return Decision{Kind: DecisionDenied, Reason: fmt.Sprintf("order is %s and admits no further transitions", current)}
	}
	if !isKnownStatus(target) {
		return Decision{Kind: DecisionDenied, Reason: fmt.Sprintf("unknown target status %q", target)}
	}

	targets := AllowedTargets(current, role)
	if !slices.Contains(targets, target) {
		return Decision{Kind: DecisionDenied, Reason: fmt.Sprintf("role %s may not move order from %s to %s", role, current, target)}
	}

	if target == domain.StatusInTransit {
		return Decision{Kind: DecisionNeedsInput, Input: InputTrackingLink}
	}
	return Decision{Kind: DecisionAllowed}
}

// AllowedTargets returns the statuses role may select from current, in
// canonical order with cancelled last. Roles outside the back office get an
// empty list; their status changes arrive only through engine side effects.
func AllowedTargets(current domain.OrderStatus, role domain.Role) []domain.OrderStatus {
	if current.IsTerminal() {
		return nil
	}

	switch role {
	case domain.RoleSalesAdmin:
		// Sales admins keep the historical permissive behaviour: any status
		// from any status, including backwards corrections.
		targets := make([]domain.OrderStatus, 0, len(domain.CanonicalStatusOrder)+1)
		targets = append(targets, domain.CanonicalStatusOrder...)
		return append(targets, domain.StatusCancelled)
	case domain.RoleOperationsManager:
		// Operations owns the fulfilment tail. When the order has not yet
		// reached production they may pull it anywhere; afterwards they are
		// restricted to in_production and beyond.
		productionIdx := domain.StatusIndex(domain.StatusInProduction)
		currentIdx := domain.StatusIndex(current)
		start := productionIdx
		if currentIdx >= 0 && currentIdx < productionIdx {
			start = 0
		}
		targets := make([]domain.OrderStatus, 0, len(domain.CanonicalStatusOrder)+1)
		targets = append(targets, domain.CanonicalStatusOrder[start:]...)
		return append(targets, domain.StatusCancelled)
	default:
		return nil
	}
}

func isKnownStatus(status domain.OrderStatus) bool {
	if status == domain.StatusCancelled {
		return true
	}
	return domain.StatusIndex(status) >= 0
}
