package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trgnguyen/remarket-backend/pkg/enums"
)

// OrderItem is the atomic unit of sale: one product from one seller within an
// order. Each item runs its own fulfillment state machine and owns exactly one
// escrow record once the parent order is paid. FeePercentage is fixed at order
// creation and never recalculated.
type OrderItem struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index:ix_order_items_order"`
	ProductID     uuid.UUID             `gorm:"column:product_id;type:uuid;not null"`
	SellerID      uuid.UUID             `gorm:"column:seller_id;type:uuid;not null;index:ix_order_items_seller_status,priority:1"`
	BuyerID       uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null"`
	Price         int64                 `gorm:"column:price;not null"`
	PlatformFee   int64                 `gorm:"column:platform_fee;not null"`
	FeePercentage decimal.Decimal       `gorm:"column:fee_percentage;type:numeric(5,2);not null"`
	Status        enums.OrderItemStatus `gorm:"column:status;type:order_item_status;not null;default:'pending';index:ix_order_items_status;index:ix_order_items_seller_status,priority:2"`
	Notes         *string               `gorm:"column:notes"`
	Escrow        *EscrowRecord         `gorm:"foreignKey:OrderItemID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// SellerProceeds is the amount the seller receives when escrow releases.
func (o OrderItem) SellerProceeds() int64 {
	return o.Price - o.PlatformFee
}
