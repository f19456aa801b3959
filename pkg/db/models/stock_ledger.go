package models

import (
	"time"

	"github.com/google/uuid"
)

// StockLedger is the authoritative stock counter for a product and the unit
// of pessimistic locking. It is mutated only through the inventory service.
type StockLedger struct {
	ProductID     uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	Stock         int       `gorm:"column:stock;not null;default:0"`
	LastUpdatedBy string    `gorm:"column:last_updated_by;not null;default:''"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
