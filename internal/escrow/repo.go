package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trgnguyen/remarket-backend/pkg/db/models"
	"github.com/trgnguyen/remarket-backend/pkg/enums"
)

// Repository exposes escrow ledger persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateRecords(ctx context.Context, records []models.EscrowRecord) error
	FindByOrderItem(ctx context.Context, orderItemID uuid.UUID) (*models.EscrowRecord, error)
	ClaimTransition(ctx context.Context, orderItemID uuid.UUID, to enums.EscrowStatus, reason enums.EscrowReleaseReason, notes *string) (int64, error)
	ListHoldingDeliveredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.EscrowRecord, error)
	ListHoldingWithUnpaidOrder(ctx context.Context, limit int) ([]models.EscrowRecord, error)
	CountByOrderItems(ctx context.Context, orderItemIDs []uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an escrow repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateRecords(ctx context.Context, records []models.EscrowRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&records).Error
}

func (r *repository) FindByOrderItem(ctx context.Context, orderItemID uuid.UUID) (*models.EscrowRecord, error) {
	var record models.EscrowRecord
	err := r.db.WithContext(ctx).
		Where("order_item_id = ?", orderItemID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ClaimTransition moves a record out of holding with a single conditional
// update. Concurrent claimants race on the WHERE clause; exactly one sees a
// row affected and the loser gets zero without touching the winner's state.
func (r *repository) ClaimTransition(ctx context.Context, orderItemID uuid.UUID, to enums.EscrowStatus, reason enums.EscrowReleaseReason, notes *string) (int64, error) {
	if to == enums.EscrowStatusHolding {
		return 0, errors.New("cannot transition back to holding")
	}
	updates := map[string]any{
		"status":         to,
		"release_reason": reason,
		"released_at":    time.Now().UTC(),
	}
	if notes != nil {
		updates["notes"] = *notes
	}
	result := r.db.WithContext(ctx).
		Model(&models.EscrowRecord{}).
		Where("order_item_id = ? AND status = ?", orderItemID, enums.EscrowStatusHolding).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// ListHoldingDeliveredBefore finds records still holding for items already
// delivered past the grace window; the release sweep drains these.
func (r *repository) ListHoldingDeliveredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.EscrowRecord, error) {
	var rows []models.EscrowRecord
	err := r.db.WithContext(ctx).
		Joins("JOIN delivery_transactions dt ON dt.order_item_id = escrow_records.order_item_id").
		Where("escrow_records.status = ? AND dt.delivered_at < ?", enums.EscrowStatusHolding, cutoff).
		Order("dt.delivered_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListHoldingWithUnpaidOrder finds records holding funds for orders that never
// reached paid. These should not exist; the safety sweep voids them.
func (r *repository) ListHoldingWithUnpaidOrder(ctx context.Context, limit int) ([]models.EscrowRecord, error) {
	var rows []models.EscrowRecord
	err := r.db.WithContext(ctx).
		Joins("JOIN order_items oi ON oi.id = escrow_records.order_item_id").
		Joins("JOIN orders o ON o.id = oi.order_id").
		Where("escrow_records.status = ? AND o.payment_status <> ?", enums.EscrowStatusHolding, enums.PaymentStatusPaid).
		Order("escrow_records.created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) CountByOrderItems(ctx context.Context, orderItemIDs []uuid.UUID) (int64, error) {
	if len(orderItemIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EscrowRecord{}).
		Where("order_item_id IN ?", orderItemIDs).
		Count(&count).Error
	return count, err
}
