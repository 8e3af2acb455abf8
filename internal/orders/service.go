package orders

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/trgnguyen/remarket-backend/pkg/db/models"
	"github.com/trgnguyen/remarket-backend/pkg/enums"
	pkgerrors "github.com/trgnguyen/remarket-backend/pkg/errors"
	"github.com/trgnguyen/remarket-backend/pkg/outbox"
	"github.com/trgnguyen/remarket-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// EscrowRefunder moves an item's held funds to refunded when a cancellation
// or dispute resolves against the seller.
type EscrowRefunder interface {
	RefundTx(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID, reason enums.EscrowReleaseReason, notes *string, actor *outbox.ActorRef) error
}

// Service defines the order aggregate operations.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*OrderDetail, error)
	GetDetail(ctx context.Context, orderID uuid.UUID) (*OrderDetail, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]OrderDetail, error)
	ListItemsForSeller(ctx context.Context, sellerID uuid.UUID, status *enums.OrderItemStatus, params pagination.Params) ([]ItemSummary, error)
	Cancel(ctx context.Context, input CancelOrderInput) error
	RequestPickup(ctx context.Context, input RequestPickupInput) error
	ExpireUnpaid(ctx context.Context, olderThan time.Duration, batch int) (int, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	escrow EscrowRefunder
	feePct decimal.Decimal
}

// OrderCreatedEvent is emitted when a checkout submission persists.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderCode   int64     `json:"order_code"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	TotalAmount int64     `json:"total_amount"`
	ItemCount   int       `json:"item_count"`
}

// OrderCanceledEvent is emitted on buyer/seller cancellation.
type OrderCanceledEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderCode   int64           `json:"order_code"`
	ActorRole   enums.ActorRole `json:"actor_role"`
	ItemCount   int             `json:"item_count"`
	WasRefunded bool            `json:"was_refunded"`
}

// OrderExpiredEvent is emitted when the payment-window sweep cancels an order.
type OrderExpiredEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	OrderCode int64     `json:"order_code"`
}

// NewService builds an order service with the required dependencies.
func NewService(repo Repository, tx txRunner, publisher outboxPublisher, escrow EscrowRefunder, feePercentage string) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if escrow == nil {
		return nil, fmt.Errorf("escrow refunder required")
	}
	feePct, err := decimal.NewFromString(feePercentage)
	if err != nil {
		return nil, fmt.Errorf("invalid fee percentage %q: %w", feePercentage, err)
	}
	if feePct.IsNegative() || feePct.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("fee percentage %s out of range", feePct)
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: publisher,
		escrow: escrow,
		feePct: feePct,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*OrderDetail, error) {
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one line")
	}
	for _, line := range input.Lines {
		if line.Price <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line price must be positive")
		}
	}
	if input.ShippingFee < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping fee cannot be negative")
	}

	order := &models.Order{
		ID:                uuid.New(),
		OrderCode:         nextOrderCode(),
		BuyerID:           input.BuyerID,
		ShippingAddressID: input.ShippingAddressID,
		Currency:          "VND",
		TotalShippingFee:  input.ShippingFee,
		PaymentStatus:     enums.PaymentStatusUnpaid,
	}

	items := make([]models.OrderItem, 0, len(input.Lines))
	hundred := decimal.NewFromInt(100)
	for _, line := range input.Lines {
		fee := decimal.NewFromInt(line.Price).Mul(s.feePct).Div(hundred).Floor().IntPart()
		items = append(items, models.OrderItem{
			ID:            uuid.New(),
			OrderID:       order.ID,
			ProductID:     line.ProductID,
			SellerID:      line.SellerID,
			BuyerID:       input.BuyerID,
			Price:         line.Price,
			PlatformFee:   fee,
			FeePercentage: s.feePct,
			Status:        enums.OrderItemStatusPending,
		})
		order.TotalAmount += line.Price
		order.TotalPlatformFee += fee
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating order")
		}
		if err := txRepo.CreateOrderItems(ctx, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating order items")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: OrderCreatedEvent{
				OrderID:     order.ID,
				OrderCode:   order.OrderCode,
				BuyerID:     order.BuyerID,
				TotalAmount: order.TotalAmount,
				ItemCount:   len(items),
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}

	order.Items = items
	return detailFromModel(order), nil
}

func (s *service) GetDetail(ctx context.Context, orderID uuid.UUID) (*OrderDetail, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	return detailFromModel(order), nil
}

func (s *service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]OrderDetail, error) {
	rows, err := s.repo.ListByBuyer(ctx, buyerID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing buyer orders")
	}
	details := make([]OrderDetail, 0, len(rows))
	for i := range rows {
		details = append(details, *detailFromModel(&rows[i]))
	}
	return details, nil
}

func (s *service) ListItemsForSeller(ctx context.Context, sellerID uuid.UUID, status *enums.OrderItemStatus, params pagination.Params) ([]ItemSummary, error) {
	if status != nil && !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	rows, err := s.repo.ListItemsBySeller(ctx, sellerID, status, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing seller items")
	}
	summaries := make([]ItemSummary, 0, len(rows))
	for _, item := range rows {
		summary := ItemSummary{
			ID:          item.ID,
			ProductID:   item.ProductID,
			SellerID:    item.SellerID,
			Price:       item.Price,
			PlatformFee: item.PlatformFee,
			Status:      item.Status,
			Notes:       item.Notes,
		}
		if item.Escrow != nil {
			status := item.Escrow.Status
			summary.EscrowStatus = &status
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// cancelableStatuses are the pre-shipment states a cancellation may act on.
var cancelableStatuses = map[enums.OrderItemStatus]bool{
	enums.OrderItemStatusPending:        true,
	enums.OrderItemStatusPaid:           true,
	enums.OrderItemStatusProcessing:     true,
	enums.OrderItemStatusAwaitingPickup: true,
}

func (s *service) Cancel(ctx context.Context, input CancelOrderInput) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		order, err := txRepo.FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
		}
		if order.CanceledAt != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already canceled")
		}
		for _, item := range order.Items {
			if !cancelableStatuses[item.Status] {
				return pkgerrors.New(pkgerrors.CodeStateConflict,
					fmt.Sprintf("item %s is %s and can no longer be canceled", item.ID, item.Status))
			}
		}

		wasPaid := order.PaymentStatus == enums.PaymentStatusPaid
		actor := &outbox.ActorRef{UserID: input.ActorUserID, Role: input.ActorRole.String()}
		for _, item := range order.Items {
			affected, err := txRepo.TransitionItem(ctx, item.ID, item.Status, enums.OrderItemStatusCanceled)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "canceling item")
			}
			if affected == 0 {
				return pkgerrors.New(pkgerrors.CodeConflict, "item changed concurrently")
			}
			if input.Notes != nil && *input.Notes != "" {
				if err := txRepo.SetItemNotes(ctx, item.ID, *input.Notes); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording cancellation notes")
				}
			}
			if wasPaid {
				if err := s.escrow.RefundTx(ctx, tx, item.ID, enums.EscrowReleaseReasonCancel, input.Notes, actor); err != nil {
					return err
				}
			}
		}

		if err := txRepo.MarkCanceled(ctx, order.ID, time.Now().UTC()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking order canceled")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCanceled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.ActorUserID, Role: input.ActorRole.String()},
			Data: OrderCanceledEvent{
				OrderID:     order.ID,
				OrderCode:   order.OrderCode,
				ActorRole:   input.ActorRole,
				ItemCount:   len(order.Items),
				WasRefunded: wasPaid,
			},
			Version: 1,
		})
	})
}

func (s *service) RequestPickup(ctx context.Context, input RequestPickupInput) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		item, err := txRepo.FindItemByIDForUpdate(ctx, input.OrderItemID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order item")
		}
		if item.OrderID != input.OrderID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}
		if item.SellerID != input.SellerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "item belongs to another seller")
		}
		if !CanTransition(item.Status, enums.OrderItemStatusAwaitingPickup) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("pickup cannot be requested while item is %s", item.Status))
		}
		affected, err := txRepo.TransitionItem(ctx, item.ID, item.Status, enums.OrderItemStatusAwaitingPickup)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "requesting pickup")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "item changed concurrently")
		}
		return nil
	})
}

// ExpireUnpaid cancels orders whose payment window elapsed. Each order is its
// own transaction so one failure does not block the rest of the sweep.
func (s *service) ExpireUnpaid(ctx context.Context, olderThan time.Duration, batch int) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	stale, err := s.repo.ListUnpaidCreatedBefore(ctx, cutoff, batch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing unpaid orders")
	}

	expired := 0
	for _, order := range stale {
		order := order
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			txRepo := s.repo.WithTx(tx)
			if _, err := txRepo.TransitionItemsByOrder(ctx, order.ID, enums.OrderItemStatusPending, enums.OrderItemStatusExpired); err != nil {
				return err
			}
			if err := txRepo.MarkCanceled(ctx, order.ID, time.Now().UTC()); err != nil {
				return err
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderExpired,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Data:          OrderExpiredEvent{OrderID: order.ID, OrderCode: order.OrderCode},
				Version:       1,
			})
		})
		if err != nil {
			return expired, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "expiring order")
		}
		expired++
	}
	return expired, nil
}

// nextOrderCode produces the numeric code the payment gateway echoes back in
// its callback. Millisecond timestamp plus a random tail keeps collisions out
// of a single instance; the unique index catches the rest.
func nextOrderCode() int64 {
	return time.Now().UnixMilli()*1000 + rand.Int63n(1000)
}
