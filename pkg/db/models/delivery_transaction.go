package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryTransaction is the immutable proof record created when a shipper
// hands an item to the buyer. Its creation is the trigger for escrow release.
type DeliveryTransaction struct {
	ID                      uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderItemID             uuid.UUID `gorm:"column:order_item_id;type:uuid;not null;uniqueIndex:ux_delivery_transactions_item"`
	ShipperID               uuid.UUID `gorm:"column:shipper_id;type:uuid;not null"`
	PhotoURLs               []string  `gorm:"column:photo_urls;type:jsonb;serializer:json;not null"`
	BuyerProtectionEligible bool      `gorm:"column:buyer_protection_eligible;not null;default:true"`
	DeliveredAt             time.Time `gorm:"column:delivered_at;not null"`
	CreatedAt               time.Time `gorm:"column:created_at;autoCreateTime"`
}
