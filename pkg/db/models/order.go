package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradewell/marketplace-backend/pkg/enums"
)

// Order is the fulfillment unit scoped to one shop within an order group.
// Status moves only through the order state machine; payment and fulfillment
// method are read from the parent group.
type Order struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	GroupID      uuid.UUID         `gorm:"column:group_id;type:uuid;not null;index"`
	ShopID       uuid.UUID         `gorm:"column:shop_id;type:uuid;not null;index"`
	Status       enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	TotalAmount  decimal.Decimal   `gorm:"column:total_amount;type:numeric(12,2);not null"`
	IsPaid       bool              `gorm:"column:is_paid;not null;default:false"`
	IsDelivered  bool              `gorm:"column:is_delivered;not null;default:false"`
	IsPickedUp   bool              `gorm:"column:is_picked_up;not null;default:false"`
	DeliveryDate *time.Time        `gorm:"column:delivery_date"`
	PaidAt       *time.Time        `gorm:"column:paid_at"`
	ProcessingAt *time.Time        `gorm:"column:processing_at"`
	ShippedAt    *time.Time        `gorm:"column:shipped_at"`
	CompletedAt  *time.Time        `gorm:"column:completed_at"`
	CancelledAt  *time.Time        `gorm:"column:cancelled_at"`
	Items        []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Group        *OrderGroup       `gorm:"foreignKey:GroupID"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the ID client-side so sqlite and postgres behave alike.
func (m *Order) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
