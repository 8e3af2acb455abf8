package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/trgnguyen/remarket-backend/pkg/enums"
)

// Order is the buyer-facing purchase event grouping items from one or more
// sellers under a single payment transaction and shipping address.
// Orders are never deleted; cancellation is a terminal state.
type Order struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderCode         int64               `gorm:"column:order_code;not null;uniqueIndex:ux_orders_order_code"`
	BuyerID           uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null"`
	ShippingAddressID uuid.UUID           `gorm:"column:shipping_address_id;type:uuid;not null"`
	Currency          string              `gorm:"column:currency;type:text;not null;default:'VND'"`
	TotalAmount       int64               `gorm:"column:total_amount;not null"`
	TotalShippingFee  int64               `gorm:"column:total_shipping_fee;not null;default:0"`
	TotalPlatformFee  int64               `gorm:"column:total_platform_fee;not null;default:0"`
	PaymentStatus     enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'unpaid'"`
	PaymentIntentRef  *string             `gorm:"column:payment_intent_ref"`
	PaidAt            *time.Time          `gorm:"column:paid_at"`
	DeliveredAt       *time.Time          `gorm:"column:delivered_at"`
	CanceledAt        *time.Time          `gorm:"column:canceled_at"`
	Items             []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
