package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tradewell/marketplace-backend/api/middleware"
	"github.com/tradewell/marketplace-backend/api/responses"
	"github.com/tradewell/marketplace-backend/api/validators"
	"github.com/tradewell/marketplace-backend/internal/payments"
	"github.com/tradewell/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
	"github.com/tradewell/marketplace-backend/pkg/logger"
)

type paymentsService interface {
	Initialize(ctx context.Context, userID, groupID uuid.UUID) (*payments.InitializeResult, error)
	Verify(ctx context.Context, reference string) (*models.Payment, error)
}

type initializePaymentRequest struct {
	OrderGroupID string `json:"orderGroupId" validate:"required,uuid4"`
}

// PaymentInitialize opens a hosted checkout session for a pending digital
// order group.
func PaymentInitialize(svc paymentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		var body initializePaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		groupID, err := uuid.Parse(body.OrderGroupID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order group id"))
			return
		}

		result, err := svc.Initialize(ctx, actor.UserID, groupID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// PaymentVerify is the polling fallback for the asynchronous verification
// task; both paths run the same idempotent routine.
func PaymentVerify(svc paymentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if _, ok := middleware.ActorFromContext(ctx); !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		reference := strings.TrimSpace(chi.URLParam(r, "reference"))
		if reference == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required"))
			return
		}

		payment, err := svc.Verify(ctx, reference)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}
