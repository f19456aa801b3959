package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradewell/marketplace-backend/api/middleware"
	"github.com/tradewell/marketplace-backend/api/responses"
	"github.com/tradewell/marketplace-backend/api/validators"
	"github.com/tradewell/marketplace-backend/internal/cart"
	"github.com/tradewell/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
	"github.com/tradewell/marketplace-backend/pkg/logger"
)

type cartRepository interface {
	SetItem(ctx context.Context, userID, productID uuid.UUID, quantity int) error
	DecrementItem(ctx context.Context, userID, productID uuid.UUID, by int) error
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) error
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.CartItem, error)
}

type cartValidator interface {
	Validate(ctx context.Context, userID uuid.UUID) (*cart.Report, error)
}

type cartItemRequest struct {
	ProductID string `json:"productId" validate:"required,uuid4"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type cartLineResponse struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
	AddedAt     time.Time       `json:"addedAt"`
}

type cartResponse struct {
	Items []cartLineResponse `json:"items"`
	Total decimal.Decimal    `json:"total"`
}

// CartFetch returns the caller's cart with line totals.
func CartFetch(repo cartRepository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		items, err := repo.ListForUser(ctx, actor.UserID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, buildCartResponse(items))
	}
}

// CartSetItem upserts a line at the requested quantity.
func CartSetItem(repo cartRepository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		var body cartItemRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		productID, err := uuid.Parse(body.ProductID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		if err := repo.SetItem(ctx, actor.UserID, productID, body.Quantity); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		items, err := repo.ListForUser(ctx, actor.UserID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, buildCartResponse(items))
	}
}

// CartRemoveItem drops a product from the cart entirely.
func CartRemoveItem(repo cartRepository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		productID, err := parseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := repo.RemoveItem(ctx, actor.UserID, productID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// CartValidate returns the advisory availability report for the caller's
// cart. Stock reads here are unlocked; checkout re-checks under row locks.
func CartValidate(validator cartValidator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		report, err := validator.Validate(ctx, actor.UserID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func buildCartResponse(items []models.CartItem) cartResponse {
	lines := make([]cartLineResponse, 0, len(items))
	total := decimal.Zero
	for _, item := range items {
		line := cartLineResponse{
			ProductID: item.ProductID.String(),
			Quantity:  item.Quantity,
			AddedAt:   item.CreatedAt,
		}
		if item.Product != nil {
			line.ProductName = item.Product.Name
			line.UnitPrice = item.Product.Price
			line.LineTotal = item.Product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
			total = total.Add(line.LineTotal)
		}
		lines = append(lines, line)
	}
	return cartResponse{Items: lines, Total: total}
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}
