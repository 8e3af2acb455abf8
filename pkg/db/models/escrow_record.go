package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/trgnguyen/remarket-backend/pkg/enums"
)

// EscrowRecord holds the seller's proceeds for one order item until a release
// condition is met. Funds move out of holding exactly once; the terminal
// transition happens through a conditional update so concurrent triggers
// cannot both win.
type EscrowRecord struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderItemID   uuid.UUID                 `gorm:"column:order_item_id;type:uuid;not null;uniqueIndex:ux_escrow_records_item"`
	Status        enums.EscrowStatus        `gorm:"column:status;type:escrow_status;not null;default:'holding';index:ix_escrow_records_status"`
	HeldAmount    int64                     `gorm:"column:held_amount;not null"`
	ReleaseReason enums.EscrowReleaseReason `gorm:"column:release_reason"`
	Notes         *string                   `gorm:"column:notes"`
	ReleasedAt    *time.Time                `gorm:"column:released_at"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
