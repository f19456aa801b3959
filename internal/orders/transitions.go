package orders

import (
	"fmt"
	"time"

	"github.com/tradewell/marketplace-backend/pkg/db/models"
	"github.com/tradewell/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
)

// TransitionRequest asks for one order status change. PaymentConfirmed is the
// explicit flag that lets a cash order be marked paid on completion.
type TransitionRequest struct {
	Target           enums.OrderStatus
	PaymentConfirmed bool
	DeliveryDate     *time.Time
}

// validateTransition checks the full rule set for a requested transition.
// It is called twice per transition: once up front and once again after the
// order and group rows are locked, so a race between check and lock can never
// apply a stale rule.
func validateTransition(order *models.Order, group *models.OrderGroup, req TransitionRequest, now time.Time) error {
	if req.Target == order.Status {
		return pkgerrors.New(pkgerrors.CodeAlreadyInState, fmt.Sprintf("order is already %s", order.Status))
	}

	switch req.Target {
	case enums.OrderStatusProcessing:
		if order.Status != enums.OrderStatusPending {
			return invalidTransition(order.Status, req.Target)
		}
		if err := requireDigitalPaid(group); err != nil {
			return err
		}

	case enums.OrderStatusShipped:
		if order.Status != enums.OrderStatusProcessing {
			return invalidTransition(order.Status, req.Target)
		}
		if group.FulfillmentMethod != enums.FulfillmentMethodDelivery {
			return invalidTransition(order.Status, req.Target)
		}
		if err := requireDigitalPaid(group); err != nil {
			return err
		}
		if req.DeliveryDate == nil {
			return pkgerrors.New(pkgerrors.CodeInvalidDeliveryDate, "delivery date is required")
		}
		if req.DeliveryDate.Before(now) {
			return pkgerrors.New(pkgerrors.CodeInvalidDeliveryDate, "delivery date must not be in the past")
		}

	case enums.OrderStatusCompleted:
		wantSource := enums.OrderStatusShipped
		if group.FulfillmentMethod == enums.FulfillmentMethodPickup {
			wantSource = enums.OrderStatusProcessing
		}
		if order.Status != wantSource {
			return invalidTransition(order.Status, req.Target)
		}
		if err := requireDigitalPaid(group); err != nil {
			return err
		}
		if group.PaymentMethod == enums.PaymentMethodCash && !order.IsPaid && !req.PaymentConfirmed {
			return pkgerrors.New(pkgerrors.CodeInvalidPaymentStatus, "cash order must be confirmed paid to complete")
		}

	case enums.OrderStatusCancelled:
		if order.Status != enums.OrderStatusPending && order.Status != enums.OrderStatusProcessing {
			return invalidTransition(order.Status, req.Target)
		}

	default:
		return invalidTransition(order.Status, req.Target)
	}
	return nil
}

func requireDigitalPaid(group *models.OrderGroup) error {
	if group.PaymentMethod == enums.PaymentMethodDigital && !group.IsPaid {
		return pkgerrors.New(pkgerrors.CodeInvalidPaymentStatus, "digital order group is not paid")
	}
	return nil
}

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("cannot transition from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from, "to": to})
}
