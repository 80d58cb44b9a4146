package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Offer is one supplier's listing of a product: its own price and its own
// stock counter. AvailableQty is the shared resource the commit engine
// decrements, always through a conditional update, never read-then-write.
type Offer struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ProductID    uuid.UUID       `gorm:"column:product_id;type:uuid;not null;index"`
	SupplierID   uuid.UUID       `gorm:"column:supplier_id;type:uuid;not null;index"`
	Price        decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	AvailableQty int             `gorm:"column:available_qty;not null;default:0"`
	Product      *Product        `gorm:"foreignKey:ProductID"`
	Supplier     *Supplier       `gorm:"foreignKey:SupplierID"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Offer) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
