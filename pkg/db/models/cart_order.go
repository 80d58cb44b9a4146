package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/agoralabs/mercado-backend/pkg/enums"
)

// CartOrder is the aggregate root of the cart-to-order lifecycle. While the
// status is `cart` the record is freely mutable through the ledger; once
// placed, everything but the status is frozen.
//
// SubtotalAmount, ShippingCost and TotalAmount are derived values. They are
// recomputed inside every mutator and re-derived on read; they are never an
// independent source of truth.
type CartOrder struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID           *uuid.UUID            `gorm:"column:owner_id;type:uuid;index"`
	Status            enums.OrderStatus     `gorm:"column:status;type:text;not null;default:'cart'"`
	OrderNumber       *string               `gorm:"column:order_number;uniqueIndex"`
	ShippingMethod    *enums.ShippingMethod `gorm:"column:shipping_method;type:text"`
	ShippingCost      decimal.Decimal       `gorm:"column:shipping_cost;type:numeric(12,2);not null;default:0"`
	ShippingAddressID *uuid.UUID            `gorm:"column:shipping_address_id;type:uuid"`
	ContactPhoneID    *uuid.UUID            `gorm:"column:contact_phone_id;type:uuid"`
	PaymentMethod     *enums.PaymentMethod  `gorm:"column:payment_method;type:text"`
	CouponCode        *string               `gorm:"column:coupon_code"`
	CouponDiscount    decimal.Decimal       `gorm:"column:coupon_discount;type:numeric(12,2);not null;default:0"`
	VATNumber         *string               `gorm:"column:vat_number"`
	BusinessName      *string               `gorm:"column:business_name"`
	SubtotalAmount    decimal.Decimal       `gorm:"column:subtotal_amount;type:numeric(12,2);not null;default:0"`
	TotalAmount       decimal.Decimal       `gorm:"column:total_amount;type:numeric(12,2);not null;default:0"`
	PlacedAt          *time.Time            `gorm:"column:placed_at"`
	Items             []LineItem            `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *CartOrder) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// IsFrozen reports whether ledger and checkout mutations are still allowed.
func (c *CartOrder) IsFrozen() bool {
	return c.Status != enums.OrderStatusCart
}
