package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderItem is an immutable snapshot of a product at checkout time, so later
// product edits or deletion never corrupt historical orders. RestockedAt
// guards the cancellation compensation against double-crediting stock.
type OrderItem struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID            uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID          *uuid.UUID      `gorm:"column:product_id;type:uuid"`
	ProductName        string          `gorm:"column:product_name;not null"`
	ProductDescription string          `gorm:"column:product_description;not null;default:''"`
	Quantity           int             `gorm:"column:quantity;not null"`
	Price              decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	RestockedAt        *time.Time      `gorm:"column:restocked_at"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate assigns the ID client-side so sqlite and postgres behave alike.
func (m *OrderItem) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
