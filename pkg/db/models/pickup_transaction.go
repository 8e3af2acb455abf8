package models

import (
	"time"

	"github.com/google/uuid"
)

// PickupTransaction is the immutable proof-of-custody record created when a
// shipper collects an item from the seller. Creation requires QR verification
// and at least one package photo; the row is never updated afterwards.
type PickupTransaction struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderItemID uuid.UUID `gorm:"column:order_item_id;type:uuid;not null;uniqueIndex:ux_pickup_transactions_item"`
	ShipperID   uuid.UUID `gorm:"column:shipper_id;type:uuid;not null"`
	QRVerified  bool      `gorm:"column:qr_verified;not null"`
	PhotoURLs   []string  `gorm:"column:photo_urls;type:jsonb;serializer:json;not null"`
	PickedUpAt  time.Time `gorm:"column:picked_up_at;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}
