package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradewell/marketplace-backend/pkg/enums"
	"github.com/tradewell/marketplace-backend/pkg/types"
)

// OrderGroup is one checkout transaction for one customer. Its status is a
// deterministic aggregate of its child orders except at creation and on
// direct group-cancel.
type OrderGroup struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	UserID            uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	ShippingAddress   types.AddressSnapshot   `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	FulfillmentMethod enums.FulfillmentMethod `gorm:"column:fulfillment_method;type:text;not null"`
	PaymentMethod     enums.PaymentMethod     `gorm:"column:payment_method;type:text;not null"`
	Status            enums.OrderGroupStatus  `gorm:"column:status;type:text;not null;default:'pending'"`
	TotalAmount       decimal.Decimal         `gorm:"column:total_amount;type:numeric(12,2);not null"`
	IsPaid            bool                    `gorm:"column:is_paid;not null;default:false"`
	Orders            []Order                 `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
	Payment           *Payment                `gorm:"foreignKey:OrderGroupID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	CancelledAt       *time.Time              `gorm:"column:cancelled_at"`
}

// BeforeCreate assigns the ID client-side so sqlite and postgres behave alike.
func (m *OrderGroup) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
