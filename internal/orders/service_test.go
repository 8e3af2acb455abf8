package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trgnguyen/remarket-backend/pkg/db/models"
	"github.com/trgnguyen/remarket-backend/pkg/enums"
	pkgerrors "github.com/trgnguyen/remarket-backend/pkg/errors"
	"github.com/trgnguyen/remarket-backend/pkg/outbox"
	"github.com/trgnguyen/remarket-backend/pkg/pagination"
)

type transitionCall struct {
	itemID   uuid.UUID
	from, to enums.OrderItemStatus
}

type stubOrdersRepo struct {
	order        *models.Order
	item         *models.OrderItem
	unpaidOrders []models.Order

	createdOrder *models.Order
	createdItems []models.OrderItem
	transitions  []transitionCall
	bulkCalls    []transitionCall
	canceledIDs  []uuid.UUID
	itemNotes    map[uuid.UUID]string

	transitionAffected *int64
}

func (s *stubOrdersRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubOrdersRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	s.createdOrder = order
	return nil
}

func (s *stubOrdersRepo) CreateOrderItems(ctx context.Context, items []models.OrderItem) error {
	s.createdItems = items
	return nil
}

func (s *stubOrdersRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if s.order == nil || s.order.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return s.order, nil
}

func (s *stubOrdersRepo) FindByOrderCode(ctx context.Context, orderCode int64) (*models.Order, error) {
	if s.order == nil || s.order.OrderCode != orderCode {
		return nil, gorm.ErrRecordNotFound
	}
	return s.order, nil
}

func (s *stubOrdersRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.FindByID(ctx, id)
}

func (s *stubOrdersRepo) FindItemByID(ctx context.Context, id uuid.UUID) (*models.OrderItem, error) {
	if s.item == nil || s.item.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return s.item, nil
}

func (s *stubOrdersRepo) FindItemByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.OrderItem, error) {
	return s.FindItemByID(ctx, id)
}

func (s *stubOrdersRepo) ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.Order, error) {
	panic("not implemented")
}

func (s *stubOrdersRepo) ListItemsBySeller(ctx context.Context, sellerID uuid.UUID, status *enums.OrderItemStatus, params pagination.Params) ([]models.OrderItem, error) {
	panic("not implemented")
}

func (s *stubOrdersRepo) ListItemsByStatus(ctx context.Context, status enums.OrderItemStatus, limit int) ([]models.OrderItem, error) {
	panic("not implemented")
}

func (s *stubOrdersRepo) ListUnpaidCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return s.unpaidOrders, nil
}

func (s *stubOrdersRepo) ListStaleItems(ctx context.Context, statuses []enums.OrderItemStatus, cutoff time.Time, limit int) ([]models.OrderItem, error) {
	panic("not implemented")
}

func (s *stubOrdersRepo) MarkPaid(ctx context.Context, orderID uuid.UUID, paidAt time.Time, intentRef string) (int64, error) {
	panic("not implemented")
}

func (s *stubOrdersRepo) MarkCanceled(ctx context.Context, orderID uuid.UUID, canceledAt time.Time) error {
	s.canceledIDs = append(s.canceledIDs, orderID)
	return nil
}

func (s *stubOrdersRepo) TransitionItem(ctx context.Context, itemID uuid.UUID, from, to enums.OrderItemStatus) (int64, error) {
	s.transitions = append(s.transitions, transitionCall{itemID: itemID, from: from, to: to})
	if s.transitionAffected != nil {
		return *s.transitionAffected, nil
	}
	return 1, nil
}

func (s *stubOrdersRepo) TransitionItemsByOrder(ctx context.Context, orderID uuid.UUID, from, to enums.OrderItemStatus) (int64, error) {
	s.bulkCalls = append(s.bulkCalls, transitionCall{itemID: orderID, from: from, to: to})
	return 1, nil
}

func (s *stubOrdersRepo) MarkDeliveredIfComplete(ctx context.Context, orderID uuid.UUID, deliveredAt time.Time) (int64, error) {
	panic("not implemented")
}

func (s *stubOrdersRepo) SetItemNotes(ctx context.Context, itemID uuid.UUID, notes string) error {
	if s.itemNotes == nil {
		s.itemNotes = map[uuid.UUID]string{}
	}
	s.itemNotes[itemID] = notes
	return nil
}

type stubOutboxPublisher struct {
	events []outbox.DomainEvent
	err    error
}

func (s *stubOutboxPublisher) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type refundCall struct {
	orderItemID uuid.UUID
	reason      enums.EscrowReleaseReason
	notes       *string
	actor       *outbox.ActorRef
}

type stubEscrowRefunder struct {
	calls []refundCall
	err   error
}

func (s *stubEscrowRefunder) RefundTx(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID, reason enums.EscrowReleaseReason, notes *string, actor *outbox.ActorRef) error {
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, refundCall{orderItemID: orderItemID, reason: reason, notes: notes, actor: actor})
	return nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected typed error with code %s got %v", code, err)
	}
	if typed.Code() != code {
		t.Fatalf("expected code %s got %s", code, typed.Code())
	}
}

func newTestService(t *testing.T, repo *stubOrdersRepo, publisher *stubOutboxPublisher, escrow *stubEscrowRefunder) Service {
	t.Helper()
	svc, err := NewService(repo, stubTxRunner{}, publisher, escrow, "5.00")
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}
	return svc
}

func TestCreateComputesFeesAndTotals(t *testing.T) {
	repo := &stubOrdersRepo{}
	publisher := &stubOutboxPublisher{}
	svc := newTestService(t, repo, publisher, &stubEscrowRefunder{})

	buyerID := uuid.New()
	detail, err := svc.Create(context.Background(), CreateOrderInput{
		BuyerID:           buyerID,
		ShippingAddressID: uuid.New(),
		ShippingFee:       30000,
		Lines: []OrderLineInput{
			{ProductID: uuid.New(), SellerID: uuid.New(), Price: 100000},
			{ProductID: uuid.New(), SellerID: uuid.New(), Price: 33333},
		},
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}

	if detail.TotalAmount != 133333 {
		t.Fatalf("expected total 133333 got %d", detail.TotalAmount)
	}
	// 5% fees floor to whole dong: 5000 and 1666.
	if detail.TotalPlatformFee != 6666 {
		t.Fatalf("expected platform fee 6666 got %d", detail.TotalPlatformFee)
	}
	if detail.TotalShippingFee != 30000 {
		t.Fatalf("expected shipping fee 30000 got %d", detail.TotalShippingFee)
	}
	if detail.Currency != "VND" {
		t.Fatalf("expected VND got %s", detail.Currency)
	}
	if detail.UniqueSellers != 2 || detail.TotalItems != 2 {
		t.Fatalf("expected 2 sellers and 2 items got %d/%d", detail.UniqueSellers, detail.TotalItems)
	}

	if len(repo.createdItems) != 2 {
		t.Fatalf("expected 2 persisted items got %d", len(repo.createdItems))
	}
	for _, item := range repo.createdItems {
		if item.Status != enums.OrderItemStatusPending {
			t.Fatalf("expected pending item got %s", item.Status)
		}
		if item.BuyerID != buyerID {
			t.Fatal("expected buyer propagated to items")
		}
	}
	if repo.createdItems[0].PlatformFee != 5000 || repo.createdItems[1].PlatformFee != 1666 {
		t.Fatalf("unexpected fees %d/%d", repo.createdItems[0].PlatformFee, repo.createdItems[1].PlatformFee)
	}

	if len(publisher.events) != 1 || publisher.events[0].EventType != enums.EventOrderCreated {
		t.Fatalf("expected one order.created event got %+v", publisher.events)
	}
	if repo.createdOrder.OrderCode == 0 {
		t.Fatal("expected order code to be assigned")
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(t, &stubOrdersRepo{}, &stubOutboxPublisher{}, &stubEscrowRefunder{})
	base := CreateOrderInput{
		BuyerID:           uuid.New(),
		ShippingAddressID: uuid.New(),
	}

	_, err := svc.Create(context.Background(), base)
	requireCode(t, err, pkgerrors.CodeValidation)

	withBadPrice := base
	withBadPrice.Lines = []OrderLineInput{{ProductID: uuid.New(), SellerID: uuid.New(), Price: 0}}
	_, err = svc.Create(context.Background(), withBadPrice)
	requireCode(t, err, pkgerrors.CodeValidation)

	withBadShipping := base
	withBadShipping.Lines = []OrderLineInput{{ProductID: uuid.New(), SellerID: uuid.New(), Price: 1000}}
	withBadShipping.ShippingFee = -1
	_, err = svc.Create(context.Background(), withBadShipping)
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestCancelRefundsPaidItems(t *testing.T) {
	orderID := uuid.New()
	itemA := models.OrderItem{ID: uuid.New(), OrderID: orderID, Status: enums.OrderItemStatusProcessing}
	itemB := models.OrderItem{ID: uuid.New(), OrderID: orderID, Status: enums.OrderItemStatusAwaitingPickup}
	repo := &stubOrdersRepo{
		order: &models.Order{
			ID:            orderID,
			OrderCode:     123,
			PaymentStatus: enums.PaymentStatusPaid,
			Items:         []models.OrderItem{itemA, itemB},
		},
	}
	publisher := &stubOutboxPublisher{}
	escrow := &stubEscrowRefunder{}
	svc := newTestService(t, repo, publisher, escrow)

	actorID := uuid.New()
	notes := "buyer changed their mind"
	err := svc.Cancel(context.Background(), CancelOrderInput{
		OrderID:     orderID,
		ActorUserID: actorID,
		ActorRole:   enums.ActorRoleBuyer,
		Notes:       &notes,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}

	if len(repo.transitions) != 2 {
		t.Fatalf("expected 2 item transitions got %d", len(repo.transitions))
	}
	for _, call := range repo.transitions {
		if call.to != enums.OrderItemStatusCanceled {
			t.Fatalf("expected canceled target got %s", call.to)
		}
	}
	if len(escrow.calls) != 2 {
		t.Fatalf("expected 2 refunds got %d", len(escrow.calls))
	}
	for _, call := range escrow.calls {
		if call.reason != enums.EscrowReleaseReasonCancel {
			t.Fatalf("expected cancellation reason got %s", call.reason)
		}
		if call.actor == nil || call.actor.UserID != actorID {
			t.Fatalf("expected cancel actor on refund got %+v", call.actor)
		}
	}
	if len(repo.itemNotes) != 2 {
		t.Fatalf("expected notes on both items got %d", len(repo.itemNotes))
	}
	for _, item := range []models.OrderItem{itemA, itemB} {
		if repo.itemNotes[item.ID] != notes {
			t.Fatalf("expected notes %q on item %s got %q", notes, item.ID, repo.itemNotes[item.ID])
		}
	}
	if len(repo.canceledIDs) != 1 || repo.canceledIDs[0] != orderID {
		t.Fatalf("expected order marked canceled got %v", repo.canceledIDs)
	}
	if len(publisher.events) != 1 || publisher.events[0].EventType != enums.EventOrderCanceled {
		t.Fatalf("expected one order.canceled event got %+v", publisher.events)
	}
	data, ok := publisher.events[0].Data.(OrderCanceledEvent)
	if !ok {
		t.Fatalf("unexpected event payload %T", publisher.events[0].Data)
	}
	if !data.WasRefunded {
		t.Fatal("expected refunded flag on paid cancellation")
	}
}

func TestCancelUnpaidSkipsRefund(t *testing.T) {
	orderID := uuid.New()
	repo := &stubOrdersRepo{
		order: &models.Order{
			ID:            orderID,
			PaymentStatus: enums.PaymentStatusUnpaid,
			Items: []models.OrderItem{
				{ID: uuid.New(), OrderID: orderID, Status: enums.OrderItemStatusPending},
			},
		},
	}
	escrow := &stubEscrowRefunder{}
	svc := newTestService(t, repo, &stubOutboxPublisher{}, escrow)

	err := svc.Cancel(context.Background(), CancelOrderInput{
		OrderID:     orderID,
		ActorUserID: uuid.New(),
		ActorRole:   enums.ActorRoleBuyer,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if len(escrow.calls) != 0 {
		t.Fatalf("unexpected refunds on unpaid order: %d", len(escrow.calls))
	}
}

func TestCancelRejectsShippedItems(t *testing.T) {
	orderID := uuid.New()
	repo := &stubOrdersRepo{
		order: &models.Order{
			ID:            orderID,
			PaymentStatus: enums.PaymentStatusPaid,
			Items: []models.OrderItem{
				{ID: uuid.New(), OrderID: orderID, Status: enums.OrderItemStatusProcessing},
				{ID: uuid.New(), OrderID: orderID, Status: enums.OrderItemStatusInWarehouse},
			},
		},
	}
	escrow := &stubEscrowRefunder{}
	svc := newTestService(t, repo, &stubOutboxPublisher{}, escrow)

	err := svc.Cancel(context.Background(), CancelOrderInput{
		OrderID:     orderID,
		ActorUserID: uuid.New(),
		ActorRole:   enums.ActorRoleBuyer,
	})
	requireCode(t, err, pkgerrors.CodeStateConflict)
	if len(repo.transitions) != 0 {
		t.Fatalf("expected no transitions got %d", len(repo.transitions))
	}
	if len(escrow.calls) != 0 {
		t.Fatalf("expected no refunds got %d", len(escrow.calls))
	}
}

func TestCancelAlreadyCanceled(t *testing.T) {
	orderID := uuid.New()
	canceledAt := time.Now().UTC()
	repo := &stubOrdersRepo{
		order: &models.Order{ID: orderID, CanceledAt: &canceledAt},
	}
	svc := newTestService(t, repo, &stubOutboxPublisher{}, &stubEscrowRefunder{})

	err := svc.Cancel(context.Background(), CancelOrderInput{
		OrderID:     orderID,
		ActorUserID: uuid.New(),
		ActorRole:   enums.ActorRoleAdmin,
	})
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestCancelConcurrentChange(t *testing.T) {
	orderID := uuid.New()
	zero := int64(0)
	repo := &stubOrdersRepo{
		order: &models.Order{
			ID:            orderID,
			PaymentStatus: enums.PaymentStatusPaid,
			Items: []models.OrderItem{
				{ID: uuid.New(), OrderID: orderID, Status: enums.OrderItemStatusProcessing},
			},
		},
		transitionAffected: &zero,
	}
	svc := newTestService(t, repo, &stubOutboxPublisher{}, &stubEscrowRefunder{})

	err := svc.Cancel(context.Background(), CancelOrderInput{
		OrderID:     orderID,
		ActorUserID: uuid.New(),
		ActorRole:   enums.ActorRoleBuyer,
	})
	requireCode(t, err, pkgerrors.CodeConflict)
}

func TestRequestPickupHappyPath(t *testing.T) {
	orderID := uuid.New()
	sellerID := uuid.New()
	item := &models.OrderItem{
		ID:       uuid.New(),
		OrderID:  orderID,
		SellerID: sellerID,
		Status:   enums.OrderItemStatusProcessing,
	}
	repo := &stubOrdersRepo{item: item}
	svc := newTestService(t, repo, &stubOutboxPublisher{}, &stubEscrowRefunder{})

	err := svc.RequestPickup(context.Background(), RequestPickupInput{
		OrderID:     orderID,
		OrderItemID: item.ID,
		SellerID:    sellerID,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if len(repo.transitions) != 1 {
		t.Fatalf("expected one transition got %d", len(repo.transitions))
	}
	if repo.transitions[0].to != enums.OrderItemStatusAwaitingPickup {
		t.Fatalf("expected awaiting_pickup got %s", repo.transitions[0].to)
	}
}

func TestRequestPickupOwnershipAndState(t *testing.T) {
	orderID := uuid.New()
	sellerID := uuid.New()
	item := &models.OrderItem{
		ID:       uuid.New(),
		OrderID:  orderID,
		SellerID: sellerID,
		Status:   enums.OrderItemStatusProcessing,
	}
	repo := &stubOrdersRepo{item: item}
	svc := newTestService(t, repo, &stubOutboxPublisher{}, &stubEscrowRefunder{})

	// Item from a different order must not leak its existence.
	err := svc.RequestPickup(context.Background(), RequestPickupInput{
		OrderID:     uuid.New(),
		OrderItemID: item.ID,
		SellerID:    sellerID,
	})
	requireCode(t, err, pkgerrors.CodeNotFound)

	err = svc.RequestPickup(context.Background(), RequestPickupInput{
		OrderID:     orderID,
		OrderItemID: item.ID,
		SellerID:    uuid.New(),
	})
	requireCode(t, err, pkgerrors.CodeForbidden)

	item.Status = enums.OrderItemStatusPending
	err = svc.RequestPickup(context.Background(), RequestPickupInput{
		OrderID:     orderID,
		OrderItemID: item.ID,
		SellerID:    sellerID,
	})
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestExpireUnpaidSweepsStaleOrders(t *testing.T) {
	repo := &stubOrdersRepo{
		unpaidOrders: []models.Order{
			{ID: uuid.New(), OrderCode: 1},
			{ID: uuid.New(), OrderCode: 2},
		},
	}
	publisher := &stubOutboxPublisher{}
	svc := newTestService(t, repo, publisher, &stubEscrowRefunder{})

	expired, err := svc.ExpireUnpaid(context.Background(), 30*time.Minute, 100)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if expired != 2 {
		t.Fatalf("expected 2 expired got %d", expired)
	}
	if len(repo.bulkCalls) != 2 {
		t.Fatalf("expected 2 bulk transitions got %d", len(repo.bulkCalls))
	}
	for _, call := range repo.bulkCalls {
		if call.from != enums.OrderItemStatusPending || call.to != enums.OrderItemStatusExpired {
			t.Fatalf("unexpected bulk transition %s -> %s", call.from, call.to)
		}
	}
	if len(repo.canceledIDs) != 2 {
		t.Fatalf("expected 2 canceled orders got %d", len(repo.canceledIDs))
	}
	for _, event := range publisher.events {
		if event.EventType != enums.EventOrderExpired {
			t.Fatalf("expected order.expired got %s", event.EventType)
		}
	}
}
