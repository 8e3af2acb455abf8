package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trgnguyen/remarket-backend/pkg/db/models"
	"github.com/trgnguyen/remarket-backend/pkg/enums"
	pkgerrors "github.com/trgnguyen/remarket-backend/pkg/errors"
	"github.com/trgnguyen/remarket-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns the escrow ledger: funds enter holding when payment confirms
// and leave it exactly once.
type Service interface {
	CreateHoldingTx(ctx context.Context, tx *gorm.DB, items []models.OrderItem) error
	ReleaseTx(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID, reason enums.EscrowReleaseReason, notes *string, actor *outbox.ActorRef) error
	RefundTx(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID, reason enums.EscrowReleaseReason, notes *string, actor *outbox.ActorRef) error
	CancelTx(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID, notes *string) error
	GetByOrderItem(ctx context.Context, orderItemID uuid.UUID) (*models.EscrowRecord, error)
	ReleaseOverdue(ctx context.Context, graceWindow time.Duration, batch int) (int, error)
	CancelOrphaned(ctx context.Context, batch int) (int, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
}

// EscrowMovedEvent is emitted whenever a record leaves holding.
type EscrowMovedEvent struct {
	OrderItemID uuid.UUID                 `json:"order_item_id"`
	Status      enums.EscrowStatus        `json:"status"`
	Reason      enums.EscrowReleaseReason `json:"reason"`
	HeldAmount  int64                     `json:"held_amount"`
}

// NewService builds the escrow service.
func NewService(repo Repository, tx txRunner, publisher outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("escrow repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: publisher}, nil
}

// CreateHoldingTx fans out one holding record per paid item. heldAmount is the
// seller's proceeds, price minus the platform fee fixed at order creation.
func (s *service) CreateHoldingTx(ctx context.Context, tx *gorm.DB, items []models.OrderItem) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	itemIDs := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		itemIDs = append(itemIDs, item.ID)
	}
	existing, err := s.repo.WithTx(tx).CountByOrderItems(ctx, itemIDs)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking existing escrow records")
	}
	if existing > 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "escrow records already exist for these items")
	}

	records := make([]models.EscrowRecord, 0, len(items))
	for _, item := range items {
		records = append(records, models.EscrowRecord{
			ID:          uuid.New(),
			OrderItemID: item.ID,
			Status:      enums.EscrowStatusHolding,
			HeldAmount:  item.SellerProceeds(),
		})
	}
	if err := s.repo.WithTx(tx).CreateRecords(ctx, records); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating escrow records")
	}
	return nil
}

func (s *service) ReleaseTx(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID, reason enums.EscrowReleaseReason, notes *string, actor *outbox.ActorRef) error {
	return s.claim(ctx, tx, orderItemID, enums.EscrowStatusReleased, reason, notes, actor, enums.EventEscrowReleased)
}

func (s *service) RefundTx(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID, reason enums.EscrowReleaseReason, notes *string, actor *outbox.ActorRef) error {
	return s.claim(ctx, tx, orderItemID, enums.EscrowStatusRefunded, reason, notes, actor, enums.EventEscrowRefunded)
}

// CancelTx voids a record that should never have held funds. Only legal
// before payment capture, which the holding-only claim guard enforces.
func (s *service) CancelTx(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID, notes *string) error {
	return s.claim(ctx, tx, orderItemID, enums.EscrowStatusCanceled, enums.EscrowReleaseReasonCancel, notes, nil, enums.EventEscrowCanceled)
}

func (s *service) claim(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID, to enums.EscrowStatus, reason enums.EscrowReleaseReason, notes *string, actor *outbox.ActorRef, eventType enums.OutboxEventType) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	txRepo := s.repo.WithTx(tx)

	record, err := txRepo.FindByOrderItem(ctx, orderItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "escrow record not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading escrow record")
	}

	affected, err := txRepo.ClaimTransition(ctx, orderItemID, to, reason, notes)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claiming escrow transition")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("escrow for item %s already left holding", orderItemID))
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateEscrowRecord,
		AggregateID:   record.ID,
		Actor:         actor,
		Data: EscrowMovedEvent{
			OrderItemID: orderItemID,
			Status:      to,
			Reason:      reason,
			HeldAmount:  record.HeldAmount,
		},
		Version: 1,
	})
}

func (s *service) GetByOrderItem(ctx context.Context, orderItemID uuid.UUID) (*models.EscrowRecord, error) {
	record, err := s.repo.FindByOrderItem(ctx, orderItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "escrow record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading escrow record")
	}
	return record, nil
}

// ReleaseOverdue drains records still holding past the post-delivery grace
// window. Records are released in independent transactions; a conflict means
// another trigger won the claim and is not an error.
func (s *service) ReleaseOverdue(ctx context.Context, graceWindow time.Duration, batch int) (int, error) {
	cutoff := time.Now().UTC().Add(-graceWindow)
	overdue, err := s.repo.ListHoldingDeliveredBefore(ctx, cutoff, batch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing overdue escrow records")
	}

	released := 0
	var failures []string
	for _, record := range overdue {
		record := record
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.ReleaseTx(ctx, tx, record.OrderItemID, enums.EscrowReleaseReasonGraceSweep, nil, nil)
		})
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeConflict {
				continue
			}
			failures = append(failures, fmt.Sprintf("%s: %v", record.OrderItemID, err))
			continue
		}
		released++
	}
	if len(failures) > 0 {
		return released, pkgerrors.New(pkgerrors.CodeInternal,
			fmt.Sprintf("release sweep had failures: %s", strings.Join(failures, "; ")))
	}
	return released, nil
}

// CancelOrphaned voids holding records whose parent order never reached paid.
// Payment confirmation creates escrow in the same transaction that marks the
// order paid, so any such record is reconciliation damage to clean up.
func (s *service) CancelOrphaned(ctx context.Context, batch int) (int, error) {
	orphaned, err := s.repo.ListHoldingWithUnpaidOrder(ctx, batch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing orphaned escrow records")
	}

	notes := "voided: parent order not paid"
	canceled := 0
	var failures []string
	for _, record := range orphaned {
		record := record
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.CancelTx(ctx, tx, record.OrderItemID, &notes)
		})
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeConflict {
				continue
			}
			failures = append(failures, fmt.Sprintf("%s: %v", record.OrderItemID, err))
			continue
		}
		canceled++
	}
	if len(failures) > 0 {
		return canceled, pkgerrors.New(pkgerrors.CodeInternal,
			fmt.Sprintf("safety sweep had failures: %s", strings.Join(failures, "; ")))
	}
	return canceled, nil
}
