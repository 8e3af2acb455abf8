package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trgnguyen/remarket-backend/pkg/db/models"
	"github.com/trgnguyen/remarket-backend/pkg/enums"
	"github.com/trgnguyen/remarket-backend/pkg/pagination"
)

// Repository exposes order aggregate persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItems(ctx context.Context, items []models.OrderItem) error

	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByOrderCode(ctx context.Context, orderCode int64) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindItemByID(ctx context.Context, id uuid.UUID) (*models.OrderItem, error)
	FindItemByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.OrderItem, error)

	ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.Order, error)
	ListItemsBySeller(ctx context.Context, sellerID uuid.UUID, status *enums.OrderItemStatus, params pagination.Params) ([]models.OrderItem, error)
	ListItemsByStatus(ctx context.Context, status enums.OrderItemStatus, limit int) ([]models.OrderItem, error)
	ListUnpaidCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	ListStaleItems(ctx context.Context, statuses []enums.OrderItemStatus, cutoff time.Time, limit int) ([]models.OrderItem, error)

	MarkPaid(ctx context.Context, orderID uuid.UUID, paidAt time.Time, intentRef string) (int64, error)
	MarkCanceled(ctx context.Context, orderID uuid.UUID, canceledAt time.Time) error
	MarkDeliveredIfComplete(ctx context.Context, orderID uuid.UUID, deliveredAt time.Time) (int64, error)
	TransitionItem(ctx context.Context, itemID uuid.UUID, from, to enums.OrderItemStatus) (int64, error)
	TransitionItemsByOrder(ctx context.Context, orderID uuid.UUID, from, to enums.OrderItemStatus) (int64, error)
	SetItemNotes(ctx context.Context, itemID uuid.UUID, notes string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit("Items").Create(order).Error
}

func (r *repository) CreateOrderItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Items.Escrow").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByOrderCode(ctx context.Context, orderCode int64) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_code = ?", orderCode).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	var items []models.OrderItem
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", id).
		Order("created_at ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

func (r *repository) FindItemByID(ctx context.Context, id uuid.UUID) (*models.OrderItem, error) {
	var item models.OrderItem
	err := r.db.WithContext(ctx).
		Preload("Escrow").
		Where("id = ?", id).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindItemByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.OrderItem, error) {
	var item models.OrderItem
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Preload("Items").
		Where("buyer_id = ?", buyerID)
	query, err := applyCursor(query, params)
	if err != nil {
		return nil, err
	}
	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListItemsBySeller(ctx context.Context, sellerID uuid.UUID, status *enums.OrderItemStatus, params pagination.Params) ([]models.OrderItem, error) {
	query := r.db.WithContext(ctx).
		Preload("Escrow").
		Where("seller_id = ?", sellerID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	query, err := applyCursor(query, params)
	if err != nil {
		return nil, err
	}
	var rows []models.OrderItem
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListItemsByStatus(ctx context.Context, status enums.OrderItemStatus, limit int) ([]models.OrderItem, error) {
	var rows []models.OrderItem
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListUnpaidCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND created_at < ?", enums.PaymentStatusUnpaid, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListStaleItems(ctx context.Context, statuses []enums.OrderItemStatus, cutoff time.Time, limit int) ([]models.OrderItem, error) {
	var rows []models.OrderItem
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkPaid stamps paidAt only while the order is still unpaid, so duplicate
// gateway callbacks cannot double-process.
func (r *repository) MarkPaid(ctx context.Context, orderID uuid.UUID, paidAt time.Time, intentRef string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, enums.PaymentStatusUnpaid).
		Updates(map[string]any{
			"payment_status":     enums.PaymentStatusPaid,
			"paid_at":            paidAt,
			"payment_intent_ref": intentRef,
		})
	return result.RowsAffected, result.Error
}

func (r *repository) MarkCanceled(ctx context.Context, orderID uuid.UUID, canceledAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"payment_status": enums.PaymentStatusCanceled,
			"canceled_at":    canceledAt,
		}).Error
}

// MarkDeliveredIfComplete stamps the order-level delivered_at once every item
// has reached delivered. The stamp is write-once; later calls affect no rows.
func (r *repository) MarkDeliveredIfComplete(ctx context.Context, orderID uuid.UUID, deliveredAt time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND delivered_at IS NULL", orderID).
		Where("NOT EXISTS (SELECT 1 FROM order_items WHERE order_items.order_id = ? AND order_items.status <> ?)",
			orderID, enums.OrderItemStatusDelivered).
		Update("delivered_at", deliveredAt)
	return result.RowsAffected, result.Error
}

// TransitionItem performs a guarded status update. Zero rows affected means
// the item was not in the expected source state.
func (r *repository) TransitionItem(ctx context.Context, itemID uuid.UUID, from, to enums.OrderItemStatus) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id = ? AND status = ?", itemID, from).
		Update("status", to)
	return result.RowsAffected, result.Error
}

func (r *repository) TransitionItemsByOrder(ctx context.Context, orderID uuid.UUID, from, to enums.OrderItemStatus) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Update("status", to)
	return result.RowsAffected, result.Error
}

func (r *repository) SetItemNotes(ctx context.Context, itemID uuid.UUID, notes string) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id = ?", itemID).
		Update("notes", notes).Error
}

func applyCursor(query *gorm.DB, params pagination.Params) (*gorm.DB, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where(
			"(created_at, id) < (?, ?)",
			cursor.CreatedAt, cursor.ID,
		)
	}
	return query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)), nil
}
