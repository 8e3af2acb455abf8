package admin

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trgnguyen/remarket-backend/internal/logistics"
	"github.com/trgnguyen/remarket-backend/internal/orders"
	"github.com/trgnguyen/remarket-backend/pkg/enums"
	pkgerrors "github.com/trgnguyen/remarket-backend/pkg/errors"
	"github.com/trgnguyen/remarket-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// EscrowResolver claims a manual release or a dispute refund on behalf of
// an admin.
type EscrowResolver interface {
	ReleaseTx(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID, reason enums.EscrowReleaseReason, notes *string, actor *outbox.ActorRef) error
	RefundTx(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID, reason enums.EscrowReleaseReason, notes *string, actor *outbox.ActorRef) error
}

// ReleaseEscrowInput is an admin manual release. Notes are mandatory: every
// manual override must leave an audit trail.
type ReleaseEscrowInput struct {
	OrderItemID uuid.UUID
	AdminUserID uuid.UUID
	Notes       string
}

// RefundEscrowInput resolves a buyer dispute in the buyer's favor. Notes are
// mandatory for the same audit reasons as manual releases.
type RefundEscrowInput struct {
	OrderItemID uuid.UUID
	AdminUserID uuid.UUID
	Notes       string
}

// TimelineEntry is one event in an order's chronological history.
type TimelineEntry struct {
	At     time.Time `json:"at"`
	Type   string    `json:"type"`
	Detail string    `json:"detail"`
}

// Service exposes the oversight read contracts plus the sanctioned
// mutations: manual escrow release and dispute refund.
type Service interface {
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]TransactionRow, error)
	ListProblemTransactions(ctx context.Context, graceWindow time.Duration, limit int) ([]TransactionRow, error)
	Timeline(ctx context.Context, orderID uuid.UUID) ([]TimelineEntry, error)
	ExportTransactionsCSV(ctx context.Context, filter TransactionFilter, w io.Writer) error
	ReleaseEscrow(ctx context.Context, input ReleaseEscrowInput) error
	RefundEscrow(ctx context.Context, input RefundEscrowInput) error
}

type service struct {
	repo       Repository
	ordersRepo orders.Repository
	logistics  logistics.Repository
	tx         txRunner
	escrow     EscrowResolver
}

// NewService builds the admin oversight service.
func NewService(repo Repository, ordersRepo orders.Repository, logisticsRepo logistics.Repository, tx txRunner, escrow EscrowResolver) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("admin repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if logisticsRepo == nil {
		return nil, fmt.Errorf("logistics repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if escrow == nil {
		return nil, fmt.Errorf("escrow resolver required")
	}
	return &service{
		repo:       repo,
		ordersRepo: ordersRepo,
		logistics:  logisticsRepo,
		tx:         tx,
		escrow:     escrow,
	}, nil
}

func (s *service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]TransactionRow, error) {
	rows, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing transactions")
	}
	return rows, nil
}

func (s *service) ListProblemTransactions(ctx context.Context, graceWindow time.Duration, limit int) ([]TransactionRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-graceWindow)
	rows, err := s.repo.ListProblemTransactions(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing problem transactions")
	}
	return rows, nil
}

// Timeline assembles an order's full history from the order row, its items,
// and the custody records, sorted chronologically.
func (s *service) Timeline(ctx context.Context, orderID uuid.UUID) ([]TimelineEntry, error) {
	order, err := s.ordersRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}

	entries := []TimelineEntry{{
		At:     order.CreatedAt,
		Type:   "order_created",
		Detail: fmt.Sprintf("order %d created with %d item(s), total %d %s", order.OrderCode, len(order.Items), order.TotalAmount, order.Currency),
	}}
	if order.PaidAt != nil {
		entries = append(entries, TimelineEntry{
			At:     *order.PaidAt,
			Type:   "order_paid",
			Detail: fmt.Sprintf("payment confirmed for order %d", order.OrderCode),
		})
	}
	if order.CanceledAt != nil {
		entries = append(entries, TimelineEntry{
			At:     *order.CanceledAt,
			Type:   "order_canceled",
			Detail: fmt.Sprintf("order %d canceled", order.OrderCode),
		})
	}

	itemIDs := make([]uuid.UUID, 0, len(order.Items))
	for _, item := range order.Items {
		itemIDs = append(itemIDs, item.ID)
		if item.Escrow != nil && item.Escrow.ReleasedAt != nil {
			entries = append(entries, TimelineEntry{
				At:   *item.Escrow.ReleasedAt,
				Type: "escrow_" + item.Escrow.Status.String(),
				Detail: fmt.Sprintf("escrow for item %s moved to %s (%s)",
					item.ID, item.Escrow.Status, item.Escrow.ReleaseReason),
			})
		}
	}

	for _, itemID := range itemIDs {
		pickup, err := s.logistics.FindPickupByItem(ctx, itemID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading pickup record")
		}
		if pickup != nil {
			entries = append(entries, TimelineEntry{
				At:     pickup.PickedUpAt,
				Type:   "item_picked_up",
				Detail: fmt.Sprintf("item %s picked up by shipper %s with %d photo(s)", itemID, pickup.ShipperID, len(pickup.PhotoURLs)),
			})
		}
	}

	deliveries, err := s.logistics.ListDeliveriesByItems(ctx, itemIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading delivery records")
	}
	for _, delivery := range deliveries {
		entries = append(entries, TimelineEntry{
			At:     delivery.DeliveredAt,
			Type:   "item_delivered",
			Detail: fmt.Sprintf("item %s delivered by shipper %s with %d photo(s)", delivery.OrderItemID, delivery.ShipperID, len(delivery.PhotoURLs)),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })
	return entries, nil
}

var csvHeader = []string{
	"escrow_id", "order_code", "order_item_id", "seller_id", "buyer_id",
	"held_amount", "escrow_status", "item_status", "release_reason", "released_at", "created_at",
}

// ExportTransactionsCSV streams the transaction listing as CSV.
func (s *service) ExportTransactionsCSV(ctx context.Context, filter TransactionFilter, w io.Writer) error {
	rows, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing transactions for export")
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing csv header")
	}
	for _, row := range rows {
		releasedAt := ""
		if row.ReleasedAt != nil {
			releasedAt = row.ReleasedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			row.EscrowID.String(),
			strconv.FormatInt(row.OrderCode, 10),
			row.OrderItemID.String(),
			row.SellerID.String(),
			row.BuyerID.String(),
			strconv.FormatInt(row.HeldAmount, 10),
			row.EscrowStatus.String(),
			row.ItemStatus.String(),
			row.ReleaseReason.String(),
			releasedAt,
			row.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing csv row")
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "flushing csv")
	}
	return nil
}

// ReleaseEscrow is the admin override path. It races the delivery trigger on
// the same claim; exactly one wins and the loser surfaces a conflict.
func (s *service) ReleaseEscrow(ctx context.Context, input ReleaseEscrowInput) error {
	notes := strings.TrimSpace(input.Notes)
	if notes == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "notes are required for a manual release")
	}
	actor := &outbox.ActorRef{UserID: input.AdminUserID, Role: enums.ActorRoleAdmin.String()}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.escrow.ReleaseTx(ctx, tx, input.OrderItemID, enums.EscrowReleaseReasonAdminManual, &notes, actor)
	})
}

// RefundEscrow resolves a dispute against the seller: held funds go back to
// the buyer. The item row stays in its terminal state; only the escrow record
// moves. Deliveries flagged ineligible for buyer protection cannot be
// disputed this way.
func (s *service) RefundEscrow(ctx context.Context, input RefundEscrowInput) error {
	notes := strings.TrimSpace(input.Notes)
	if notes == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "notes are required for a dispute refund")
	}

	delivery, err := s.logistics.FindDeliveryByItem(ctx, input.OrderItemID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading delivery record")
	}
	if delivery != nil && !delivery.BuyerProtectionEligible {
		return pkgerrors.New(pkgerrors.CodePrecondition, "delivery is not eligible for buyer protection")
	}

	actor := &outbox.ActorRef{UserID: input.AdminUserID, Role: enums.ActorRoleAdmin.String()}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.escrow.RefundTx(ctx, tx, input.OrderItemID, enums.EscrowReleaseReasonDispute, &notes, actor)
	})
}
