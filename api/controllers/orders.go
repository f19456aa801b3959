package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tradewell/marketplace-backend/api/middleware"
	"github.com/tradewell/marketplace-backend/api/responses"
	"github.com/tradewell/marketplace-backend/api/validators"
	"github.com/tradewell/marketplace-backend/internal/orders"
	"github.com/tradewell/marketplace-backend/pkg/db/models"
	"github.com/tradewell/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
	"github.com/tradewell/marketplace-backend/pkg/logger"
	"github.com/tradewell/marketplace-backend/pkg/pagination"
	"github.com/tradewell/marketplace-backend/pkg/visibility"
)

type ordersService interface {
	Transition(ctx context.Context, actor visibility.Actor, orderID uuid.UUID, req orders.TransitionRequest) (*models.Order, error)
	CancelGroupForCustomer(ctx context.Context, actor visibility.Actor, groupID uuid.UUID) (*models.OrderGroup, error)
	CancelPendingForCustomer(ctx context.Context, actor visibility.Actor, userID uuid.UUID) (int, error)
	CancelPendingForShop(ctx context.Context, actor visibility.Actor, shopID uuid.UUID) (int, error)
}

type ordersReader interface {
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindGroupByID(ctx context.Context, groupID uuid.UUID) (*models.OrderGroup, error)
	FindShop(ctx context.Context, shopID uuid.UUID) (*models.Shop, error)
	ListGroupsForUser(ctx context.Context, userID uuid.UUID, page pagination.Params) ([]models.OrderGroup, string, error)
	ListForShop(ctx context.Context, shopID uuid.UUID, page pagination.Params) ([]models.Order, string, error)
}

func pageParams(r *http.Request) pagination.Params {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return pagination.Params{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	}
}

type transitionRequest struct {
	Status           string `json:"status" validate:"required"`
	PaymentConfirmed bool   `json:"paymentConfirmed"`
	DeliveryDate     string `json:"deliveryDate" validate:"omitempty"`
}

// OrderTransition moves an order to the requested status. Permission is
// enforced by the service against the shop owning the order.
func OrderTransition(svc ordersService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body transitionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		target, err := enums.ParseOrderStatus(body.Status)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target status"))
			return
		}
		req := orders.TransitionRequest{
			Target:           target,
			PaymentConfirmed: body.PaymentConfirmed,
		}
		if body.DeliveryDate != "" {
			deliveryDate, err := time.Parse(time.RFC3339, body.DeliveryDate)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInvalidDeliveryDate, err, "delivery date must be RFC3339"))
				return
			}
			req.DeliveryDate = &deliveryDate
		}

		order, err := svc.Transition(ctx, actor, orderID, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// OrderDetail returns one order after an ownership check against its group.
func OrderDetail(repo ordersReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		group, err := repo.FindGroupByID(ctx, order.GroupID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := visibility.EnsureCanReadGroup(actor, group); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// OrderGroupDetail returns a group with orders, items, and payment state.
func OrderGroupDetail(repo ordersReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		groupID, err := parseUUIDParam(r, "groupId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		group, err := repo.FindGroupByID(ctx, groupID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := visibility.EnsureCanReadGroup(actor, group); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, group)
	}
}

// OrderGroupList returns the caller's order groups, newest first.
func OrderGroupList(repo ordersReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		groups, next, err := repo.ListGroupsForUser(ctx, actor.UserID, pageParams(r))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"groups": groups, "nextCursor": next})
	}
}

// ShopOrderList returns a shop's orders for staff and owners.
func ShopOrderList(repo ordersReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		shopID, err := parseUUIDParam(r, "shopId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		shop, err := repo.FindShop(ctx, shopID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !actor.ActsForShop(shop) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "not a member of this shop"))
			return
		}

		list, next, err := repo.ListForShop(ctx, shopID, pageParams(r))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"orders": list, "nextCursor": next})
	}
}

// OrderGroupCancel lets the buyer cancel a whole pending group inside the
// cancellation window.
func OrderGroupCancel(svc ordersService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		groupID, err := parseUUIDParam(r, "groupId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		group, err := svc.CancelGroupForCustomer(ctx, actor, groupID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, group)
	}
}

// CancelMyPendingOrders flips every pending order of the caller to cancelled.
func CancelMyPendingOrders(svc ordersService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		cancelled, err := svc.CancelPendingForCustomer(ctx, actor, actor.UserID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int{"cancelled": cancelled})
	}
}

// CancelShopPendingOrders bulk-cancels a shop's pending orders. The service
// requires the actor to own or staff the shop.
func CancelShopPendingOrders(svc ordersService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		shopID, err := parseUUIDParam(r, "shopId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		cancelled, err := svc.CancelPendingForShop(ctx, actor, shopID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int{"cancelled": cancelled})
	}
}
