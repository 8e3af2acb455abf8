package logistics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/trgnguyen/remarket-backend/internal/orders"
	"github.com/trgnguyen/remarket-backend/pkg/db/models"
	"github.com/trgnguyen/remarket-backend/pkg/enums"
	pkgerrors "github.com/trgnguyen/remarket-backend/pkg/errors"
	"github.com/trgnguyen/remarket-backend/pkg/logger"
	"github.com/trgnguyen/remarket-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// EscrowReleaser claims the escrow release when delivery proof lands.
type EscrowReleaser interface {
	ReleaseTx(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID, reason enums.EscrowReleaseReason, notes *string, actor *outbox.ActorRef) error
}

// IssueQRInput asks for a pickup QR token for a seller's item.
type IssueQRInput struct {
	OrderItemID uuid.UUID
	SellerID    uuid.UUID
}

// ConfirmPickupInput carries the shipper's pickup proof.
type ConfirmPickupInput struct {
	OrderItemID uuid.UUID
	ShipperID   uuid.UUID
	QRToken     string
	PhotoURLs   []string
}

// DispatchInput moves one warehouse item out for delivery.
type DispatchInput struct {
	OrderItemID uuid.UUID
	ShipperID   uuid.UUID
}

// ConfirmDeliveryInput carries the shipper's delivery proof.
type ConfirmDeliveryInput struct {
	OrderItemID uuid.UUID
	ShipperID   uuid.UUID
	PhotoURLs   []string
}

// QueueItem is one row in a shipper's role-scoped queue.
type QueueItem struct {
	OrderItemID uuid.UUID             `json:"order_item_id"`
	OrderID     uuid.UUID             `json:"order_id"`
	SellerID    uuid.UUID             `json:"seller_id"`
	BuyerID     uuid.UUID             `json:"buyer_id"`
	Status      enums.OrderItemStatus `json:"status"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// DispatchFailure reports one item a bulk dispatch could not move.
type DispatchFailure struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	Reason      string    `json:"reason"`
}

// BulkDispatchReport is the partial-success summary of a dispatch-all run.
type BulkDispatchReport struct {
	Dispatched []uuid.UUID       `json:"dispatched"`
	Failures   []DispatchFailure `json:"failures"`
}

// ItemPickedUpEvent is emitted when custody passes from seller to shipper.
type ItemPickedUpEvent struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	ShipperID   uuid.UUID `json:"shipper_id"`
	PickedUpAt  time.Time `json:"picked_up_at"`
	PhotoCount  int       `json:"photo_count"`
}

// ItemDispatchedEvent is emitted when an item leaves the warehouse.
type ItemDispatchedEvent struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	ShipperID   uuid.UUID `json:"shipper_id"`
}

// ItemDeliveredEvent is emitted when custody passes to the buyer.
type ItemDeliveredEvent struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	ShipperID   uuid.UUID `json:"shipper_id"`
	DeliveredAt time.Time `json:"delivered_at"`
	PhotoCount  int       `json:"photo_count"`
}

// queueableStatuses are the only statuses a shipper may query by.
var queueableStatuses = map[enums.OrderItemStatus]bool{
	enums.OrderItemStatusAwaitingPickup: true,
	enums.OrderItemStatusInWarehouse:    true,
	enums.OrderItemStatusOutForDelivery: true,
}

// Service drives the physical handoff pipeline. Every custody transition is
// gated behind a proof artifact; shippers never set status directly.
type Service interface {
	Queue(ctx context.Context, status enums.OrderItemStatus, limit int) ([]QueueItem, error)
	IssuePickupQR(ctx context.Context, input IssueQRInput) (string, error)
	ConfirmPickup(ctx context.Context, input ConfirmPickupInput) error
	Dispatch(ctx context.Context, input DispatchInput) error
	DispatchAll(ctx context.Context, shipperID uuid.UUID) (*BulkDispatchReport, error)
	ConfirmDelivery(ctx context.Context, input ConfirmDeliveryInput) error
	ExpireStale(ctx context.Context, inactivityWindow time.Duration, batch int) (int, error)
}

type service struct {
	repo       Repository
	ordersRepo orders.Repository
	tx         txRunner
	outbox     outboxPublisher
	escrow     EscrowReleaser
	qr         *QRIssuer
	logg       *logger.Logger

	minPickupPhotos   int
	minDeliveryPhotos int
}

// ServiceParams configure the logistics service.
type ServiceParams struct {
	Repository        Repository
	OrdersRepository  orders.Repository
	Tx                txRunner
	Outbox            outboxPublisher
	Escrow            EscrowReleaser
	QRIssuer          *QRIssuer
	Logger            *logger.Logger
	MinPickupPhotos   int
	MinDeliveryPhotos int
}

// NewService builds the logistics service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("logistics repository required")
	}
	if params.OrdersRepository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow releaser required")
	}
	if params.QRIssuer == nil {
		return nil, fmt.Errorf("qr issuer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	minPickup := params.MinPickupPhotos
	if minPickup <= 0 {
		minPickup = 1
	}
	minDelivery := params.MinDeliveryPhotos
	if minDelivery <= 0 {
		minDelivery = 1
	}
	return &service{
		repo:              params.Repository,
		ordersRepo:        params.OrdersRepository,
		tx:                params.Tx,
		outbox:            params.Outbox,
		escrow:            params.Escrow,
		qr:                params.QRIssuer,
		logg:              params.Logger,
		minPickupPhotos:   minPickup,
		minDeliveryPhotos: minDelivery,
	}, nil
}

func (s *service) Queue(ctx context.Context, status enums.OrderItemStatus, limit int) ([]QueueItem, error) {
	if !queueableStatuses[status] {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("status %s is not a shipper queue", status))
	}
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	rows, err := s.ordersRepo.ListItemsByStatus(ctx, status, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing queue items")
	}
	queue := make([]QueueItem, 0, len(rows))
	for _, item := range rows {
		queue = append(queue, QueueItem{
			OrderItemID: item.ID,
			OrderID:     item.OrderID,
			SellerID:    item.SellerID,
			BuyerID:     item.BuyerID,
			Status:      item.Status,
			UpdatedAt:   item.UpdatedAt,
		})
	}
	return queue, nil
}

func (s *service) IssuePickupQR(ctx context.Context, input IssueQRInput) (string, error) {
	item, err := s.ordersRepo.FindItemByID(ctx, input.OrderItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order item")
	}
	if item.SellerID != input.SellerID {
		return "", pkgerrors.New(pkgerrors.CodeForbidden, "item belongs to another seller")
	}
	if item.Status != enums.OrderItemStatusAwaitingPickup {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("pickup QR is only available while awaiting pickup, item is %s", item.Status))
	}
	return s.qr.Mint(item.ID, item.SellerID, time.Now().UTC())
}

// ConfirmPickup validates both proof artifacts before any mutation, then
// creates the pickup record and advances the item in one transaction.
func (s *service) ConfirmPickup(ctx context.Context, input ConfirmPickupInput) error {
	if len(input.PhotoURLs) < s.minPickupPhotos {
		return pkgerrors.New(pkgerrors.CodePrecondition,
			fmt.Sprintf("pickup requires at least %d package photo(s)", s.minPickupPhotos))
	}
	claims, err := s.qr.Verify(input.QRToken)
	if err != nil {
		return err
	}
	if claims.OrderItemID != input.OrderItemID {
		return pkgerrors.New(pkgerrors.CodePrecondition, "pickup QR is for a different item")
	}

	pickedUpAt := time.Now().UTC()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txOrders := s.ordersRepo.WithTx(tx)
		item, err := txOrders.FindItemByIDForUpdate(ctx, input.OrderItemID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order item")
		}
		if item.SellerID != claims.SellerID {
			return pkgerrors.New(pkgerrors.CodePrecondition, "pickup QR seller mismatch")
		}
		if item.Status != enums.OrderItemStatusAwaitingPickup {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("item is %s, not awaiting pickup", item.Status))
		}

		affected, err := txOrders.TransitionItem(ctx, item.ID, enums.OrderItemStatusAwaitingPickup, enums.OrderItemStatusInWarehouse)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advancing item to warehouse")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "item changed concurrently")
		}

		record := &models.PickupTransaction{
			ID:          uuid.New(),
			OrderItemID: item.ID,
			ShipperID:   input.ShipperID,
			QRVerified:  true,
			PhotoURLs:   input.PhotoURLs,
			PickedUpAt:  pickedUpAt,
		}
		if err := s.repo.WithTx(tx).CreatePickup(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording pickup")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventItemPickedUp,
			AggregateType: enums.AggregateOrderItem,
			AggregateID:   item.ID,
			Actor:         &outbox.ActorRef{UserID: input.ShipperID, Role: enums.ActorRoleShipper.String()},
			Data: ItemPickedUpEvent{
				OrderItemID: item.ID,
				ShipperID:   input.ShipperID,
				PickedUpAt:  pickedUpAt,
				PhotoCount:  len(input.PhotoURLs),
			},
			Version: 1,
		})
	})
}

func (s *service) Dispatch(ctx context.Context, input DispatchInput) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.dispatchOne(ctx, tx, input.OrderItemID, input.ShipperID)
	})
}

func (s *service) dispatchOne(ctx context.Context, tx *gorm.DB, itemID, shipperID uuid.UUID) error {
	txOrders := s.ordersRepo.WithTx(tx)
	affected, err := txOrders.TransitionItem(ctx, itemID, enums.OrderItemStatusInWarehouse, enums.OrderItemStatusOutForDelivery)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "dispatching item")
	}
	if affected == 0 {
		item, err := txOrders.FindItemByID(ctx, itemID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order item")
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("item is %s, not in warehouse", item.Status))
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventItemDispatched,
		AggregateType: enums.AggregateOrderItem,
		AggregateID:   itemID,
		Actor:         &outbox.ActorRef{UserID: shipperID, Role: enums.ActorRoleShipper.String()},
		Data:          ItemDispatchedEvent{OrderItemID: itemID, ShipperID: shipperID},
		Version:       1,
	})
}

// DispatchAll drains the warehouse queue sequentially with per-item error
// isolation: each item runs in its own transaction, and a failure is recorded
// in the report rather than rolling back or stopping the run.
func (s *service) DispatchAll(ctx context.Context, shipperID uuid.UUID) (*BulkDispatchReport, error) {
	items, err := s.ordersRepo.ListItemsByStatus(ctx, enums.OrderItemStatusInWarehouse, 500)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing warehouse queue")
	}

	report := &BulkDispatchReport{}
	var combined error
	for _, item := range items {
		item := item
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.dispatchOne(ctx, tx, item.ID, shipperID)
		})
		if err != nil {
			combined = multierr.Append(combined, fmt.Errorf("item %s: %w", item.ID, err))
			report.Failures = append(report.Failures, DispatchFailure{
				OrderItemID: item.ID,
				Reason:      failureReason(err),
			})
			continue
		}
		report.Dispatched = append(report.Dispatched, item.ID)
	}
	if combined != nil {
		s.logg.Warn(s.logg.WithField(ctx, "failure_count", len(report.Failures)), "bulk dispatch completed with failures")
	}
	return report, nil
}

func failureReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return err.Error()
}

// ConfirmDelivery records the delivery proof, marks the item delivered, and
// claims the escrow release. If an admin release already won the claim the
// delivery still stands; the ledger stays exactly-once.
func (s *service) ConfirmDelivery(ctx context.Context, input ConfirmDeliveryInput) error {
	if len(input.PhotoURLs) < s.minDeliveryPhotos {
		return pkgerrors.New(pkgerrors.CodePrecondition,
			fmt.Sprintf("delivery requires at least %d photo(s)", s.minDeliveryPhotos))
	}

	deliveredAt := time.Now().UTC()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txOrders := s.ordersRepo.WithTx(tx)
		item, err := txOrders.FindItemByIDForUpdate(ctx, input.OrderItemID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order item")
		}
		if item.Status != enums.OrderItemStatusOutForDelivery {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("item is %s, not out for delivery", item.Status))
		}

		affected, err := txOrders.TransitionItem(ctx, item.ID, enums.OrderItemStatusOutForDelivery, enums.OrderItemStatusDelivered)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking item delivered")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "item changed concurrently")
		}

		record := &models.DeliveryTransaction{
			ID:                      uuid.New(),
			OrderItemID:             item.ID,
			ShipperID:               input.ShipperID,
			PhotoURLs:               input.PhotoURLs,
			BuyerProtectionEligible: true,
			DeliveredAt:             deliveredAt,
		}
		if err := s.repo.WithTx(tx).CreateDelivery(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording delivery")
		}

		// Stamp the order once its last item lands; earlier deliveries
		// leave the completeness check unsatisfied and affect no rows.
		if _, err := txOrders.MarkDeliveredIfComplete(ctx, item.OrderID, deliveredAt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stamping order delivery")
		}

		actor := &outbox.ActorRef{UserID: input.ShipperID, Role: enums.ActorRoleShipper.String()}
		err = s.escrow.ReleaseTx(ctx, tx, item.ID, enums.EscrowReleaseReasonDelivery, nil, actor)
		if err != nil {
			// An admin manual release may have already claimed the
			// record; the delivery proof is still valid.
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeConflict {
				return err
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventItemDelivered,
			AggregateType: enums.AggregateOrderItem,
			AggregateID:   item.ID,
			Actor:         actor,
			Data: ItemDeliveredEvent{
				OrderItemID: item.ID,
				ShipperID:   input.ShipperID,
				DeliveredAt: deliveredAt,
				PhotoCount:  len(input.PhotoURLs),
			},
			Version: 1,
		})
	})
}

// ExpireStale sweeps items with no logistics activity past the policy window
// into the expired terminal state. Escrow stays holding; those records show
// up in the admin problem queue for manual resolution.
func (s *service) ExpireStale(ctx context.Context, inactivityWindow time.Duration, batch int) (int, error) {
	cutoff := time.Now().UTC().Add(-inactivityWindow)
	statuses := []enums.OrderItemStatus{
		enums.OrderItemStatusAwaitingPickup,
		enums.OrderItemStatusInWarehouse,
		enums.OrderItemStatusOutForDelivery,
	}
	stale, err := s.ordersRepo.ListStaleItems(ctx, statuses, cutoff, batch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing stale items")
	}

	expired := 0
	for _, item := range stale {
		item := item
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			affected, err := s.ordersRepo.WithTx(tx).TransitionItem(ctx, item.ID, item.Status, enums.OrderItemStatusExpired)
			if err != nil {
				return err
			}
			if affected == 0 {
				return nil
			}
			expired++
			return nil
		})
		if err != nil {
			return expired, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "expiring stale item")
		}
	}
	return expired, nil
}
