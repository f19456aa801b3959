package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tradewell/marketplace-backend/pkg/db/models"
)

// Repository owns the cart_items table. One row per (user, product); adding
// an existing product replaces the quantity.
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

// SetItem upserts the cart line for the product, replacing any prior quantity.
func (r *Repository) SetItem(ctx context.Context, userID, productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	item := models.CartItem{
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
		}).
		Create(&item).Error
}

// DecrementItem lowers the line quantity, removing the row when it reaches zero.
func (r *Repository) DecrementItem(ctx context.Context, userID, productID uuid.UUID, by int) error {
	if by <= 0 {
		return errors.New("decrement must be positive")
	}
	var item models.CartItem
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		First(&item).Error
	if err != nil {
		return err
	}
	if item.Quantity <= by {
		return r.db.WithContext(ctx).Delete(&models.CartItem{}, "id = ?", item.ID).Error
	}
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", item.ID).
		Update("quantity", item.Quantity-by).Error
}

// RemoveItem deletes the cart line for the product if present.
func (r *Repository) RemoveItem(ctx context.Context, userID, productID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Delete(&models.CartItem{}, "user_id = ? AND product_id = ?", userID, productID).Error
}

// ListForUser loads the user's cart lines with product and ledger attached,
// in stable insertion order.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.CartItem, error) {
	var items []models.CartItem
	err := r.db.WithContext(ctx).
		Preload("Product").
		Preload("Product.Ledger").
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// DeleteForUser purges the whole cart. Checkout calls this inside its
// transaction after orders are created.
func (r *Repository) DeleteForUser(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Delete(&models.CartItem{}, "user_id = ?", userID).Error
}
