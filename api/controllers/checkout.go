package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/tradewell/marketplace-backend/api/middleware"
	"github.com/tradewell/marketplace-backend/api/responses"
	"github.com/tradewell/marketplace-backend/api/validators"
	"github.com/tradewell/marketplace-backend/internal/checkout"
	"github.com/tradewell/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
	"github.com/tradewell/marketplace-backend/pkg/logger"
)

type checkoutService interface {
	Checkout(ctx context.Context, userID uuid.UUID, input checkout.Input) (*models.OrderGroup, error)
}

type checkoutRequest struct {
	FulfillmentMethod string `json:"fulfillmentMethod" validate:"required"`
	PaymentMethod     string `json:"paymentMethod" validate:"required"`
	ShippingAddressID string `json:"shippingAddressId" validate:"omitempty,uuid4"`
}

// Checkout converts the caller's cart into an order group. Field-level
// validation of the method enums happens inside the orchestrator so errors
// aggregate into one response.
func Checkout(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		var body checkoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := checkout.Input{
			FulfillmentMethod: body.FulfillmentMethod,
			PaymentMethod:     body.PaymentMethod,
		}
		if body.ShippingAddressID != "" {
			addressID, err := uuid.Parse(body.ShippingAddressID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address id"))
				return
			}
			input.ShippingAddressID = addressID
		}

		group, err := svc.Checkout(ctx, actor.UserID, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, group)
	}
}
