package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Payment tracks the digital settlement of an order group against the hosted
// gateway. Amount is stored in minor units. The reference rotates while the
// payment is unverified and freezes once verified.
type Payment struct {
	ID              uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderGroupID    uuid.UUID  `gorm:"column:order_group_id;type:uuid;not null;uniqueIndex"`
	Reference       string     `gorm:"column:reference;not null;uniqueIndex"`
	Amount          int64      `gorm:"column:amount;not null"`
	Verified        bool       `gorm:"column:verified;not null;default:false"`
	PaidAt          *time.Time `gorm:"column:paid_at"`
	RefundRequested bool       `gorm:"column:refund_requested;not null;default:false"`
	Refunded        bool       `gorm:"column:refunded;not null;default:false"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the ID client-side so sqlite and postgres behave alike.
func (m *Payment) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
