package admin

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trgnguyen/remarket-backend/pkg/enums"
	"github.com/trgnguyen/remarket-backend/pkg/pagination"
)

// TransactionRow is the flattened escrow view the oversight screens consume.
type TransactionRow struct {
	EscrowID      uuid.UUID                 `json:"escrow_id"`
	OrderItemID   uuid.UUID                 `json:"order_item_id"`
	OrderID       uuid.UUID                 `json:"order_id"`
	OrderCode     int64                     `json:"order_code"`
	SellerID      uuid.UUID                 `json:"seller_id"`
	BuyerID       uuid.UUID                 `json:"buyer_id"`
	HeldAmount    int64                     `json:"held_amount"`
	EscrowStatus  enums.EscrowStatus        `json:"escrow_status"`
	ItemStatus    enums.OrderItemStatus     `json:"item_status"`
	ReleaseReason enums.EscrowReleaseReason `json:"release_reason,omitempty"`
	Notes         *string                   `json:"notes,omitempty"`
	ReleasedAt    *time.Time                `json:"released_at,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
}

// TransactionFilter narrows the oversight listing.
type TransactionFilter struct {
	EscrowStatus *enums.EscrowStatus
	SellerID     *uuid.UUID
	Params       pagination.Params
}

// Repository exposes the read-side queries for admin oversight. It never
// mutates the state machine.
type Repository interface {
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]TransactionRow, error)
	ListProblemTransactions(ctx context.Context, deliveredBefore time.Time, limit int) ([]TransactionRow, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an admin read repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

const transactionSelect = `
	escrow_records.id AS escrow_id,
	escrow_records.order_item_id AS order_item_id,
	order_items.order_id AS order_id,
	orders.order_code AS order_code,
	order_items.seller_id AS seller_id,
	order_items.buyer_id AS buyer_id,
	escrow_records.held_amount AS held_amount,
	escrow_records.status AS escrow_status,
	order_items.status AS item_status,
	escrow_records.release_reason AS release_reason,
	escrow_records.notes AS notes,
	escrow_records.released_at AS released_at,
	escrow_records.created_at AS created_at`

func (r *repository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("escrow_records").
		Select(transactionSelect).
		Joins("JOIN order_items ON order_items.id = escrow_records.order_item_id").
		Joins("JOIN orders ON orders.id = order_items.order_id")
}

func (r *repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]TransactionRow, error) {
	query := r.baseQuery(ctx)
	if filter.EscrowStatus != nil {
		query = query.Where("escrow_records.status = ?", *filter.EscrowStatus)
	}
	if filter.SellerID != nil {
		query = query.Where("order_items.seller_id = ?", *filter.SellerID)
	}

	cursor, err := pagination.ParseCursor(filter.Params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where(
			"(escrow_records.created_at, escrow_records.id) < (?, ?)",
			cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []TransactionRow
	err = query.
		Order("escrow_records.created_at DESC").
		Order("escrow_records.id DESC").
		Limit(pagination.LimitWithBuffer(filter.Params.Limit)).
		Scan(&rows).Error
	return rows, err
}

// ListProblemTransactions surfaces money stuck in holding: items already in a
// terminal state without a released escrow, or deliveries past the grace
// window that the sweep has not caught yet.
func (r *repository) ListProblemTransactions(ctx context.Context, deliveredBefore time.Time, limit int) ([]TransactionRow, error) {
	var rows []TransactionRow
	err := r.baseQuery(ctx).
		Joins("LEFT JOIN delivery_transactions dt ON dt.order_item_id = escrow_records.order_item_id").
		Where("escrow_records.status = ?", enums.EscrowStatusHolding).
		Where(
			"order_items.status IN ? OR (order_items.status = ? AND dt.delivered_at < ?)",
			[]enums.OrderItemStatus{
				enums.OrderItemStatusExpired,
				enums.OrderItemStatusCanceled,
				enums.OrderItemStatusRefunded,
			},
			enums.OrderItemStatusDelivered,
			deliveredBefore,
		).
		Order("escrow_records.created_at ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
