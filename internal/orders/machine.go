package orders

import (
	"github.com/threadline/settlement-backend/internal/authz"
	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
)

// successors is the legal transition graph. Anything not listed is rejected.
var successors = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:   {enums.OrderStatusAccepted, enums.OrderStatusCanceled, enums.OrderStatusDisputed},
	enums.OrderStatusAccepted:  {enums.OrderStatusMaking, enums.OrderStatusCanceled, enums.OrderStatusDisputed},
	enums.OrderStatusMaking:    {enums.OrderStatusReady, enums.OrderStatusDisputed},
	enums.OrderStatusReady:     {enums.OrderStatusShipped, enums.OrderStatusDisputed},
	enums.OrderStatusShipped:   {enums.OrderStatusDelivered, enums.OrderStatusDisputed},
	enums.OrderStatusDelivered: {enums.OrderStatusCompleted, enums.OrderStatusDisputed},
	enums.OrderStatusDisputed:  {enums.OrderStatusCompleted, enums.OrderStatusCanceled},
}

// inProduction are the states after which a plain cancellation is refused.
var inProduction = map[enums.OrderStatus]bool{
	enums.OrderStatusMaking:    true,
	enums.OrderStatusReady:     true,
	enums.OrderStatusShipped:   true,
	enums.OrderStatusDelivered: true,
}

// Successors lists the states reachable from status in one step.
func Successors(status enums.OrderStatus) []enums.OrderStatus {
	next := successors[status]
	out := make([]enums.OrderStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from → to is an edge of the graph.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range successors[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition validates the edge and whether actor may take it.
func checkTransition(order *models.Order, target enums.OrderStatus, actor authz.Actor) error {
	from := order.Status
	if target == enums.OrderStatusCanceled && inProduction[from] {
		return pkgerrors.New(pkgerrors.CodeCancellationNotAllowed, "order already in production").
			WithDetails(map[string]any{"status": from})
	}
	if !CanTransition(from, target) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "status transition not allowed").
			WithDetails(map[string]any{"from": from, "to": target, "allowed": Successors(from)})
	}

	if from == enums.OrderStatusDisputed {
		if !actor.IsAdmin() {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only an admin can resolve a dispute")
		}
		return nil
	}

	switch target {
	case enums.OrderStatusAccepted, enums.OrderStatusMaking, enums.OrderStatusReady,
		enums.OrderStatusShipped, enums.OrderStatusDelivered:
		if actor.IsAdmin() || authz.IsSellerOf(actor, order.SellerID) {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can move the order to "+target.String())
	case enums.OrderStatusCompleted:
		if actor.IsAdmin() || authz.IsBuyerOf(actor, order.BuyerID) {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can complete the order")
	default:
		return authz.RequireParty(actor, order.BuyerID, order.SellerID)
	}
}

// releasesStock reports whether entering canceled from from returns the
// order's reservation. A dispute only releases when production never started.
func releasesStock(order *models.Order, from enums.OrderStatus) bool {
	switch from {
	case enums.OrderStatusPending, enums.OrderStatusAccepted:
		return true
	case enums.OrderStatusDisputed:
		return order.ProductionStartedAt == nil
	default:
		return false
	}
}
