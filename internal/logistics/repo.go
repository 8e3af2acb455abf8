package logistics

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trgnguyen/remarket-backend/pkg/db/models"
)

// Repository persists the immutable proof-of-custody records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreatePickup(ctx context.Context, record *models.PickupTransaction) error
	CreateDelivery(ctx context.Context, record *models.DeliveryTransaction) error
	FindPickupByItem(ctx context.Context, orderItemID uuid.UUID) (*models.PickupTransaction, error)
	FindDeliveryByItem(ctx context.Context, orderItemID uuid.UUID) (*models.DeliveryTransaction, error)
	ListDeliveriesByItems(ctx context.Context, orderItemIDs []uuid.UUID) ([]models.DeliveryTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a logistics repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreatePickup(ctx context.Context, record *models.PickupTransaction) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) CreateDelivery(ctx context.Context, record *models.DeliveryTransaction) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindPickupByItem(ctx context.Context, orderItemID uuid.UUID) (*models.PickupTransaction, error) {
	var record models.PickupTransaction
	err := r.db.WithContext(ctx).
		Where("order_item_id = ?", orderItemID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindDeliveryByItem(ctx context.Context, orderItemID uuid.UUID) (*models.DeliveryTransaction, error) {
	var record models.DeliveryTransaction
	err := r.db.WithContext(ctx).
		Where("order_item_id = ?", orderItemID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListDeliveriesByItems(ctx context.Context, orderItemIDs []uuid.UUID) ([]models.DeliveryTransaction, error) {
	if len(orderItemIDs) == 0 {
		return nil, nil
	}
	var rows []models.DeliveryTransaction
	err := r.db.WithContext(ctx).
		Where("order_item_id IN ?", orderItemIDs).
		Find(&rows).Error
	return rows, err
}
