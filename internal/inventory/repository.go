package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradewell/marketplace-backend/pkg/db"
	"github.com/tradewell/marketplace-backend/pkg/db/models"
)

// Repository owns reads and writes against stock_ledgers.
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

// Get loads a single ledger row without locking.
func (r *Repository) Get(ctx context.Context, productID uuid.UUID) (*models.StockLedger, error) {
	var ledger models.StockLedger
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		First(&ledger).Error
	if err != nil {
		return nil, err
	}
	return &ledger, nil
}

// LockForUpdate acquires row locks on the ledgers for the given products in
// ascending product-id order, so concurrent transactions always lock in the
// same sequence. Products without a ledger row are absent from the result.
func (r *Repository) LockForUpdate(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]*models.StockLedger, error) {
	if len(productIDs) == 0 {
		return map[uuid.UUID]*models.StockLedger{}, nil
	}

	sorted := make([]uuid.UUID, len(productIDs))
	copy(sorted, productIDs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})

	var rows []models.StockLedger
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("product_id IN ?", sorted).
		Order("product_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	ledgers := make(map[uuid.UUID]*models.StockLedger, len(rows))
	for i := range rows {
		ledgers[rows[i].ProductID] = &rows[i]
	}
	return ledgers, nil
}

// SetStock writes the new stock level and records who changed it.
func (r *Repository) SetStock(ctx context.Context, productID uuid.UUID, stock int, actor string) error {
	return r.db.WithContext(ctx).
		Model(&models.StockLedger{}).
		Where("product_id = ?", productID).
		Updates(map[string]any{
			"stock":           stock,
			"last_updated_by": actor,
			"updated_at":      time.Now(),
		}).Error
}
