package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
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

// EscrowCreator fans out holding records once payment confirms.
type EscrowCreator interface {
	CreateHoldingTx(ctx context.Context, tx *gorm.DB, items []models.OrderItem) error
}

// ConfirmInput carries the gateway callback parameters. Cancel is a pure UI
// redirect signal from an abandoned checkout, never a payment failure.
type ConfirmInput struct {
	Code      string
	Status    string
	OrderCode string
	Amount    int64
	Cancel    bool
}

// ConfirmResult reports what the reconciliation did.
type ConfirmResult struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderCode   int64     `json:"order_code"`
	Paid        bool      `json:"paid"`
	AlreadyPaid bool      `json:"already_paid"`
	Canceled    bool      `json:"canceled"`
}

// OrderPaidEvent is emitted exactly once per order on the paid transition.
type OrderPaidEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderCode   int64     `json:"order_code"`
	TotalAmount int64     `json:"total_amount"`
	ItemCount   int       `json:"item_count"`
	PaidAt      time.Time `json:"paid_at"`
}

// Service reconciles gateway callbacks onto orders.
type Service interface {
	Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error)
}

type service struct {
	repo        orders.Repository
	tx          txRunner
	outbox      outboxPublisher
	escrow      EscrowCreator
	logg        *logger.Logger
	successCode string
}

// NewService builds the payment reconciliation service.
func NewService(repo orders.Repository, tx txRunner, publisher outboxPublisher, escrow EscrowCreator, logg *logger.Logger, successCode string) (Service, error) {
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
		return nil, fmt.Errorf("escrow creator required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if successCode == "" {
		successCode = "00"
	}
	return &service{
		repo:        repo,
		tx:          tx,
		outbox:      publisher,
		escrow:      escrow,
		logg:        logg,
		successCode: successCode,
	}, nil
}

// Confirm maps one gateway callback onto at most one paid transition. The
// orderCode is the idempotency key; replays after the first success return
// success without touching state.
func (s *service) Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error) {
	if input.Cancel {
		return &ConfirmResult{Canceled: true}, nil
	}

	orderCode, err := strconv.ParseInt(input.OrderCode, 10, 64)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeReconciliation, "malformed order code")
	}

	ctx = s.logg.WithField(ctx, "order_code", orderCode)

	order, err := s.repo.FindByOrderCode(ctx, orderCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Warn(ctx, "gateway callback for unknown order code")
			return nil, pkgerrors.New(pkgerrors.CodeReconciliation, "no order matches the callback")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order by code")
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	// Browser retries replay the confirm after the first success; answer
	// them idempotently.
	if order.PaymentStatus == enums.PaymentStatusPaid {
		return &ConfirmResult{
			OrderID:     order.ID,
			OrderCode:   order.OrderCode,
			Paid:        true,
			AlreadyPaid: true,
		}, nil
	}
	if order.CanceledAt != nil {
		return nil, pkgerrors.New(pkgerrors.CodeReconciliation, "order is no longer payable")
	}

	if input.Code != s.successCode {
		s.logg.Warn(s.logg.WithField(ctx, "gateway_code", input.Code), "gateway reported non-success code")
		return nil, pkgerrors.New(pkgerrors.CodeReconciliation, "gateway did not confirm payment")
	}
	if input.Amount > 0 && input.Amount != order.TotalAmount+order.TotalShippingFee {
		s.logg.Warn(s.logg.WithField(ctx, "callback_amount", input.Amount), "gateway amount mismatch")
		return nil, pkgerrors.New(pkgerrors.CodeReconciliation, "amount does not match the order")
	}

	paidAt := time.Now().UTC()
	result := &ConfirmResult{OrderID: order.ID, OrderCode: order.OrderCode}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		affected, err := txRepo.MarkPaid(ctx, order.ID, paidAt, input.Status)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking order paid")
		}
		if affected == 0 {
			// The guard loses to either a concurrent callback that already
			// marked the order paid or a concurrent cancel/expiry. Re-read
			// to tell them apart: only an actually-paid order gets the
			// idempotent success.
			current, err := txRepo.FindByID(ctx, order.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "re-reading order after lost guard")
			}
			if current.PaymentStatus != enums.PaymentStatusPaid {
				s.logg.Warn(s.logg.WithField(ctx, "payment_status", current.PaymentStatus.String()),
					"callback lost guard to concurrent cancellation")
				return pkgerrors.New(pkgerrors.CodeReconciliation, "order is no longer payable")
			}
			result.Paid = true
			result.AlreadyPaid = true
			return nil
		}

		if _, err := txRepo.TransitionItemsByOrder(ctx, order.ID, enums.OrderItemStatusPending, enums.OrderItemStatusPaid); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking items paid")
		}
		// paid -> processing is automatic; sellers see actionable items
		// immediately.
		if _, err := txRepo.TransitionItemsByOrder(ctx, order.ID, enums.OrderItemStatusPaid, enums.OrderItemStatusProcessing); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "moving items to processing")
		}

		if err := s.escrow.CreateHoldingTx(ctx, tx, order.Items); err != nil {
			return err
		}

		result.Paid = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: OrderPaidEvent{
				OrderID:     order.ID,
				OrderCode:   order.OrderCode,
				TotalAmount: order.TotalAmount,
				ItemCount:   len(order.Items),
				PaidAt:      paidAt,
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(ctx, "payment reconciled")
	return result, nil
}
