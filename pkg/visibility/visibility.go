package visibility

import (
	"github.com/google/uuid"

	"github.com/tradewell/marketplace-backend/pkg/db/models"
	"github.com/tradewell/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
)

// Actor is the already-authenticated caller every capability check runs against.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
	// ShopID is set for shop staff and owners acting on behalf of a shop.
	ShopID uuid.UUID
}

// System returns the actor used by background jobs and workers.
func System() Actor {
	return Actor{Role: enums.ActorRoleSystem}
}

func (a Actor) isPrivileged() bool {
	return a.Role == enums.ActorRoleAdmin || a.Role == enums.ActorRoleSystem
}

// ActsForShop reports whether the actor manages the given shop.
func (a Actor) ActsForShop(shop *models.Shop) bool {
	if shop == nil {
		return false
	}
	if a.isPrivileged() {
		return true
	}
	if a.Role == enums.ActorRoleShopStaff && a.ShopID == shop.ID {
		return true
	}
	return shop.OwnerUserID == a.UserID
}

// EnsureCanManageOrder enforces that only the shop behind an order (or a
// privileged actor) may drive its status transitions.
func EnsureCanManageOrder(actor Actor, order *models.Order, shop *models.Shop) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if actor.isPrivileged() {
		return nil
	}
	if shop == nil || shop.ID != order.ShopID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "actor does not manage this order's shop")
	}
	if !actor.ActsForShop(shop) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "actor does not manage this order's shop")
	}
	return nil
}

// EnsureCanCancelGroup enforces that only the buyer who placed an order group
// (or a privileged actor) may cancel it.
func EnsureCanCancelGroup(actor Actor, group *models.OrderGroup) error {
	if group == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order group not found")
	}
	if actor.isPrivileged() {
		return nil
	}
	if group.UserID != actor.UserID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "order group belongs to another customer")
	}
	return nil
}

// EnsureCanCancelShopPending enforces that the actor owns or staffs the shop
// whose pending orders are being bulk-cancelled.
func EnsureCanCancelShopPending(actor Actor, shop *models.Shop) error {
	if shop == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")
	}
	if !actor.ActsForShop(shop) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "actor does not manage this shop")
	}
	return nil
}

// EnsureCanReadGroup allows the buyer, the involved shops, and privileged
// actors to read an order group.
func EnsureCanReadGroup(actor Actor, group *models.OrderGroup) error {
	if group == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order group not found")
	}
	if actor.isPrivileged() || group.UserID == actor.UserID {
		return nil
	}
	for _, order := range group.Orders {
		if actor.Role == enums.ActorRoleShopStaff && actor.ShopID == order.ShopID {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order group is not visible to this actor")
}
