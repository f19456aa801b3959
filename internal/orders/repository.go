package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradewell/marketplace-backend/pkg/db"
	"github.com/tradewell/marketplace-backend/pkg/db/models"
	"github.com/tradewell/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
	"github.com/tradewell/marketplace-backend/pkg/pagination"
)

// Repository owns reads and writes against orders and order_groups.
type Repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

// WithTx returns a repository bound to the given transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// LockOrder loads an order under FOR UPDATE. Callers lock the parent group
// first; the group row is the coarse mutex for every writer touching a
// group's orders, so order-row locks taken under it cannot form a cycle.
func (r *Repository) LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("id = ?", orderID).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// LockGroup loads an order group under FOR UPDATE.
func (r *Repository) LockGroup(ctx context.Context, groupID uuid.UUID) (*models.OrderGroup, error) {
	var group models.OrderGroup
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("id = ?", groupID).
		First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order group not found")
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// UpdateOrder applies the given column updates.
func (r *Repository) UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}

// UpdateGroup applies the given column updates.
func (r *Repository) UpdateGroup(ctx context.Context, groupID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderGroup{}).
		Where("id = ?", groupID).
		Updates(updates).Error
}

// SiblingOrders loads every order in the group, locked.
func (r *Repository) SiblingOrders(ctx context.Context, groupID uuid.UUID) ([]models.Order, error) {
	var siblings []models.Order
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("group_id = ?", groupID).
		Order("id ASC").
		Find(&siblings).Error
	return siblings, err
}

// FindShop loads the shop behind an order for capability checks.
func (r *Repository) FindShop(ctx context.Context, shopID uuid.UUID) (*models.Shop, error) {
	var shop models.Shop
	err := r.db.WithContext(ctx).First(&shop, "id = ?", shopID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")
	}
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

// FindByID loads an order with items and its parent group, unlocked.
func (r *Repository) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Group").
		First(&order, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindGroupByID loads a group with its orders and items, unlocked.
func (r *Repository) FindGroupByID(ctx context.Context, groupID uuid.UUID) (*models.OrderGroup, error) {
	var group models.OrderGroup
	err := r.db.WithContext(ctx).
		Preload("Orders").
		Preload("Orders.Items").
		Preload("Payment").
		First(&group, "id = ?", groupID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order group not found")
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// ListGroupsForUser lists the buyer's order groups, newest first, one
// cursor page at a time.
func (r *Repository) ListGroupsForUser(ctx context.Context, userID uuid.UUID, page pagination.Params) ([]models.OrderGroup, string, error) {
	cursor, err := pagination.ParseCursor(page.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(page.Limit)
	query := r.db.WithContext(ctx).
		Preload("Orders").
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(page.Limit))
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var groups []models.OrderGroup
	if err := query.Find(&groups).Error; err != nil {
		return nil, "", err
	}

	var next string
	if len(groups) > limit {
		groups = groups[:limit]
		last := groups[limit-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return groups, next, nil
}

// ListForShop lists a shop's orders, newest first, one cursor page at a time.
func (r *Repository) ListForShop(ctx context.Context, shopID uuid.UUID, page pagination.Params) ([]models.Order, string, error) {
	cursor, err := pagination.ParseCursor(page.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(page.Limit)
	query := r.db.WithContext(ctx).
		Preload("Items").
		Where("shop_id = ?", shopID).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(page.Limit))
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, "", err
	}

	var next string
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[limit-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return rows, next, nil
}

// GroupIDOf returns the parent group id without locking the order row. The
// group id is immutable, so the unlocked read is safe.
func (r *Repository) GroupIDOf(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Select("id", "group_id").
		First(&order, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return uuid.Nil, err
	}
	return order.GroupID, nil
}

// PendingGroupIDsForUser previews, without locks, the groups holding the
// user's PENDING orders, in ascending id order.
func (r *Repository) PendingGroupIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Distinct().
		Joins("JOIN order_groups ON order_groups.id = orders.group_id").
		Where("order_groups.user_id = ? AND orders.status = ?", userID, enums.OrderStatusPending).
		Order("orders.group_id ASC").
		Pluck("orders.group_id", &ids).Error
	return ids, err
}

// PendingGroupIDsForShop previews, without locks, the groups holding the
// shop's PENDING orders, in ascending id order.
func (r *Repository) PendingGroupIDsForShop(ctx context.Context, shopID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Distinct().
		Where("shop_id = ? AND status = ?", shopID, enums.OrderStatusPending).
		Order("group_id ASC").
		Pluck("group_id", &ids).Error
	return ids, err
}

// LockGroups locks the given groups in ascending id order, so every bulk
// path acquires group locks in the same sequence.
func (r *Repository) LockGroups(ctx context.Context, groupIDs []uuid.UUID) ([]models.OrderGroup, error) {
	var groups []models.OrderGroup
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("id IN ?", groupIDs).
		Order("id ASC").
		Find(&groups).Error
	return groups, err
}

// LockPendingInGroups locks the PENDING orders inside the given (already
// locked) groups. A non-nil shopID narrows to that shop's orders.
func (r *Repository) LockPendingInGroups(ctx context.Context, groupIDs []uuid.UUID, shopID uuid.UUID) ([]models.Order, error) {
	query := db.ForUpdate(r.db.WithContext(ctx)).
		Where("group_id IN ? AND status = ?", groupIDs, enums.OrderStatusPending)
	if shopID != uuid.Nil {
		query = query.Where("shop_id = ?", shopID)
	}
	var rows []models.Order
	err := query.Order("id ASC").Find(&rows).Error
	return rows, err
}

// FindStaleUnpaidGroups returns pending digital groups that were never paid
// and are older than the cutoff. Read without locks; the cancel path re-checks
// status under FOR UPDATE.
func (r *Repository) FindStaleUnpaidGroups(ctx context.Context, cutoff time.Time) ([]models.OrderGroup, error) {
	var groups []models.OrderGroup
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.OrderGroupStatusPending).
		Where("payment_method = ?", enums.PaymentMethodDigital).
		Where("is_paid = ?", false).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Find(&groups).Error
	return groups, err
}
