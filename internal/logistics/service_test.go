package logistics

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trgnguyen/remarket-backend/internal/orders"
	"github.com/trgnguyen/remarket-backend/pkg/config"
	"github.com/trgnguyen/remarket-backend/pkg/db/models"
	"github.com/trgnguyen/remarket-backend/pkg/enums"
	pkgerrors "github.com/trgnguyen/remarket-backend/pkg/errors"
	"github.com/trgnguyen/remarket-backend/pkg/logger"
	"github.com/trgnguyen/remarket-backend/pkg/outbox"
	"github.com/trgnguyen/remarket-backend/pkg/pagination"
)

type stubItemsRepo struct {
	items map[uuid.UUID]*models.OrderItem

	// stolen simulates a concurrent actor winning the guarded update: the
	// transition reports zero rows and the item shows its stolen status.
	stolen map[uuid.UUID]enums.OrderItemStatus

	deliveredOrders []uuid.UUID
}

func newStubItemsRepo(items ...*models.OrderItem) *stubItemsRepo {
	repo := &stubItemsRepo{items: map[uuid.UUID]*models.OrderItem{}}
	for _, item := range items {
		repo.items[item.ID] = item
	}
	return repo
}

func (s *stubItemsRepo) WithTx(tx *gorm.DB) orders.Repository { return s }

func (s *stubItemsRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	panic("not implemented")
}

func (s *stubItemsRepo) CreateOrderItems(ctx context.Context, items []models.OrderItem) error {
	panic("not implemented")
}

func (s *stubItemsRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	panic("not implemented")
}

func (s *stubItemsRepo) FindByOrderCode(ctx context.Context, orderCode int64) (*models.Order, error) {
	panic("not implemented")
}

func (s *stubItemsRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	panic("not implemented")
}

func (s *stubItemsRepo) FindItemByID(ctx context.Context, id uuid.UUID) (*models.OrderItem, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return item, nil
}

func (s *stubItemsRepo) FindItemByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.OrderItem, error) {
	return s.FindItemByID(ctx, id)
}

func (s *stubItemsRepo) ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.Order, error) {
	panic("not implemented")
}

func (s *stubItemsRepo) ListItemsBySeller(ctx context.Context, sellerID uuid.UUID, status *enums.OrderItemStatus, params pagination.Params) ([]models.OrderItem, error) {
	panic("not implemented")
}

func (s *stubItemsRepo) ListItemsByStatus(ctx context.Context, status enums.OrderItemStatus, limit int) ([]models.OrderItem, error) {
	var rows []models.OrderItem
	for _, item := range s.items {
		if item.Status == status {
			rows = append(rows, *item)
		}
	}
	return rows, nil
}

func (s *stubItemsRepo) ListUnpaidCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	panic("not implemented")
}

func (s *stubItemsRepo) ListStaleItems(ctx context.Context, statuses []enums.OrderItemStatus, cutoff time.Time, limit int) ([]models.OrderItem, error) {
	var rows []models.OrderItem
	allowed := map[enums.OrderItemStatus]bool{}
	for _, status := range statuses {
		allowed[status] = true
	}
	for _, item := range s.items {
		if allowed[item.Status] && item.UpdatedAt.Before(cutoff) {
			rows = append(rows, *item)
		}
	}
	return rows, nil
}

func (s *stubItemsRepo) MarkPaid(ctx context.Context, orderID uuid.UUID, paidAt time.Time, intentRef string) (int64, error) {
	panic("not implemented")
}

func (s *stubItemsRepo) MarkCanceled(ctx context.Context, orderID uuid.UUID, canceledAt time.Time) error {
	panic("not implemented")
}

// MarkDeliveredIfComplete mirrors the completeness predicate: the stamp only
// lands when every item of the order is delivered.
func (s *stubItemsRepo) MarkDeliveredIfComplete(ctx context.Context, orderID uuid.UUID, deliveredAt time.Time) (int64, error) {
	for _, item := range s.items {
		if item.OrderID == orderID && item.Status != enums.OrderItemStatusDelivered {
			return 0, nil
		}
	}
	s.deliveredOrders = append(s.deliveredOrders, orderID)
	return 1, nil
}

// TransitionItem mirrors the guarded UPDATE: it only succeeds when the item is
// still in the expected source state.
func (s *stubItemsRepo) TransitionItem(ctx context.Context, itemID uuid.UUID, from, to enums.OrderItemStatus) (int64, error) {
	if status, ok := s.stolen[itemID]; ok {
		s.items[itemID].Status = status
		return 0, nil
	}
	item, ok := s.items[itemID]
	if !ok || item.Status != from {
		return 0, nil
	}
	item.Status = to
	return 1, nil
}

func (s *stubItemsRepo) TransitionItemsByOrder(ctx context.Context, orderID uuid.UUID, from, to enums.OrderItemStatus) (int64, error) {
	panic("not implemented")
}

func (s *stubItemsRepo) SetItemNotes(ctx context.Context, itemID uuid.UUID, notes string) error {
	panic("not implemented")
}

type stubLogisticsRepo struct {
	pickups    []*models.PickupTransaction
	deliveries []*models.DeliveryTransaction
}

func (s *stubLogisticsRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubLogisticsRepo) CreatePickup(ctx context.Context, record *models.PickupTransaction) error {
	s.pickups = append(s.pickups, record)
	return nil
}

func (s *stubLogisticsRepo) CreateDelivery(ctx context.Context, record *models.DeliveryTransaction) error {
	s.deliveries = append(s.deliveries, record)
	return nil
}

func (s *stubLogisticsRepo) FindPickupByItem(ctx context.Context, orderItemID uuid.UUID) (*models.PickupTransaction, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubLogisticsRepo) FindDeliveryByItem(ctx context.Context, orderItemID uuid.UUID) (*models.DeliveryTransaction, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubLogisticsRepo) ListDeliveriesByItems(ctx context.Context, orderItemIDs []uuid.UUID) ([]models.DeliveryTransaction, error) {
	return nil, nil
}

type stubOutboxPublisher struct {
	events []outbox.DomainEvent
}

func (s *stubOutboxPublisher) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type releaseCall struct {
	orderItemID uuid.UUID
	reason      enums.EscrowReleaseReason
}

type stubEscrowReleaser struct {
	calls []releaseCall
	err   error
}

func (s *stubEscrowReleaser) ReleaseTx(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID, reason enums.EscrowReleaseReason, notes *string, actor *outbox.ActorRef) error {
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, releaseCall{orderItemID: orderItemID, reason: reason})
	return nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type harness struct {
	svc       Service
	items     *stubItemsRepo
	logistics *stubLogisticsRepo
	publisher *stubOutboxPublisher
	escrow    *stubEscrowReleaser
	qr        *QRIssuer
}

func newHarness(t *testing.T, items ...*models.OrderItem) *harness {
	t.Helper()

	qr, err := NewQRIssuer(config.JWTConfig{Secret: "test-secret", Issuer: "remarket"}, time.Hour)
	if err != nil {
		t.Fatalf("qr issuer failed: %v", err)
	}
	h := &harness{
		items:     newStubItemsRepo(items...),
		logistics: &stubLogisticsRepo{},
		publisher: &stubOutboxPublisher{},
		escrow:    &stubEscrowReleaser{},
		qr:        qr,
	}
	h.svc, err = NewService(ServiceParams{
		Repository:       h.logistics,
		OrdersRepository: h.items,
		Tx:               stubTxRunner{},
		Outbox:           h.publisher,
		Escrow:           h.escrow,
		QRIssuer:         qr,
		Logger:           logger.New(logger.Options{ServiceName: "logistics-test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}
	return h
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

func awaitingPickupItem(sellerID uuid.UUID) *models.OrderItem {
	return &models.OrderItem{
		ID:       uuid.New(),
		OrderID:  uuid.New(),
		SellerID: sellerID,
		BuyerID:  uuid.New(),
		Status:   enums.OrderItemStatusAwaitingPickup,
	}
}

func TestQueueRejectsNonQueueStatus(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Queue(context.Background(), enums.OrderItemStatusPending, 10)
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestIssuePickupQRGuards(t *testing.T) {
	sellerID := uuid.New()
	item := awaitingPickupItem(sellerID)
	h := newHarness(t, item)

	_, err := h.svc.IssuePickupQR(context.Background(), IssueQRInput{OrderItemID: item.ID, SellerID: uuid.New()})
	requireCode(t, err, pkgerrors.CodeForbidden)

	item.Status = enums.OrderItemStatusProcessing
	_, err = h.svc.IssuePickupQR(context.Background(), IssueQRInput{OrderItemID: item.ID, SellerID: sellerID})
	requireCode(t, err, pkgerrors.CodeStateConflict)

	item.Status = enums.OrderItemStatusAwaitingPickup
	token, err := h.svc.IssuePickupQR(context.Background(), IssueQRInput{OrderItemID: item.ID, SellerID: sellerID})
	if err != nil {
		t.Fatalf("expected token got %v", err)
	}
	claims, err := h.qr.Verify(token)
	if err != nil {
		t.Fatalf("expected valid token got %v", err)
	}
	if claims.OrderItemID != item.ID || claims.SellerID != sellerID {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestConfirmPickupRequiresPhoto(t *testing.T) {
	h := newHarness(t)
	err := h.svc.ConfirmPickup(context.Background(), ConfirmPickupInput{
		OrderItemID: uuid.New(),
		ShipperID:   uuid.New(),
		QRToken:     "irrelevant",
	})
	requireCode(t, err, pkgerrors.CodePrecondition)
}

func TestConfirmPickupRejectsForeignToken(t *testing.T) {
	sellerID := uuid.New()
	item := awaitingPickupItem(sellerID)
	h := newHarness(t, item)

	otherToken, err := h.qr.Mint(uuid.New(), sellerID, time.Now().UTC())
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	err = h.svc.ConfirmPickup(context.Background(), ConfirmPickupInput{
		OrderItemID: item.ID,
		ShipperID:   uuid.New(),
		QRToken:     otherToken,
		PhotoURLs:   []string{"https://cdn.example.com/p1.jpg"},
	})
	requireCode(t, err, pkgerrors.CodePrecondition)
	if item.Status != enums.OrderItemStatusAwaitingPickup {
		t.Fatalf("item must not move on rejected proof, got %s", item.Status)
	}
}

func TestConfirmPickupRejectsTamperedToken(t *testing.T) {
	sellerID := uuid.New()
	item := awaitingPickupItem(sellerID)
	h := newHarness(t, item)

	foreignIssuer, err := NewQRIssuer(config.JWTConfig{Secret: "other-secret", Issuer: "remarket"}, time.Hour)
	if err != nil {
		t.Fatalf("qr issuer failed: %v", err)
	}
	token, err := foreignIssuer.Mint(item.ID, sellerID, time.Now().UTC())
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	err = h.svc.ConfirmPickup(context.Background(), ConfirmPickupInput{
		OrderItemID: item.ID,
		ShipperID:   uuid.New(),
		QRToken:     token,
		PhotoURLs:   []string{"https://cdn.example.com/p1.jpg"},
	})
	requireCode(t, err, pkgerrors.CodePrecondition)
}

func TestConfirmPickupHappyPath(t *testing.T) {
	sellerID := uuid.New()
	shipperID := uuid.New()
	item := awaitingPickupItem(sellerID)
	h := newHarness(t, item)

	token, err := h.qr.Mint(item.ID, sellerID, time.Now().UTC())
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	err = h.svc.ConfirmPickup(context.Background(), ConfirmPickupInput{
		OrderItemID: item.ID,
		ShipperID:   shipperID,
		QRToken:     token,
		PhotoURLs:   []string{"https://cdn.example.com/p1.jpg", "https://cdn.example.com/p2.jpg"},
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}

	if item.Status != enums.OrderItemStatusInWarehouse {
		t.Fatalf("expected in_warehouse got %s", item.Status)
	}
	if len(h.logistics.pickups) != 1 {
		t.Fatalf("expected one pickup record got %d", len(h.logistics.pickups))
	}
	record := h.logistics.pickups[0]
	if !record.QRVerified || len(record.PhotoURLs) != 2 || record.ShipperID != shipperID {
		t.Fatalf("unexpected pickup record %+v", record)
	}
	if len(h.publisher.events) != 1 || h.publisher.events[0].EventType != enums.EventItemPickedUp {
		t.Fatalf("expected picked_up event got %+v", h.publisher.events)
	}
}

func TestDispatchRejectsWrongState(t *testing.T) {
	item := awaitingPickupItem(uuid.New())
	h := newHarness(t, item)

	err := h.svc.Dispatch(context.Background(), DispatchInput{OrderItemID: item.ID, ShipperID: uuid.New()})
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestDispatchAllPartialSuccess(t *testing.T) {
	ready := &models.OrderItem{ID: uuid.New(), Status: enums.OrderItemStatusInWarehouse}
	stolen := &models.OrderItem{ID: uuid.New(), Status: enums.OrderItemStatusInWarehouse}
	h := newHarness(t, ready, stolen)
	h.items.stolen = map[uuid.UUID]enums.OrderItemStatus{
		stolen.ID: enums.OrderItemStatusOutForDelivery,
	}

	report, err := h.svc.DispatchAll(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("expected report got %v", err)
	}
	if len(report.Dispatched) != 1 {
		t.Fatalf("expected 1 dispatched got %d", len(report.Dispatched))
	}
	if len(report.Failures) != 1 {
		t.Fatalf("expected 1 failure got %d", len(report.Failures))
	}
	if report.Failures[0].OrderItemID != stolen.ID {
		t.Fatalf("expected failure for stolen item got %s", report.Failures[0].OrderItemID)
	}
	if report.Failures[0].Reason == "" {
		t.Fatal("expected a human-readable failure reason")
	}
}

func TestConfirmDeliveryRequiresPhoto(t *testing.T) {
	h := newHarness(t)
	err := h.svc.ConfirmDelivery(context.Background(), ConfirmDeliveryInput{
		OrderItemID: uuid.New(),
		ShipperID:   uuid.New(),
	})
	requireCode(t, err, pkgerrors.CodePrecondition)
}

func TestConfirmDeliveryReleasesEscrow(t *testing.T) {
	shipperID := uuid.New()
	item := &models.OrderItem{ID: uuid.New(), OrderID: uuid.New(), Status: enums.OrderItemStatusOutForDelivery}
	h := newHarness(t, item)

	err := h.svc.ConfirmDelivery(context.Background(), ConfirmDeliveryInput{
		OrderItemID: item.ID,
		ShipperID:   shipperID,
		PhotoURLs:   []string{"https://cdn.example.com/d1.jpg"},
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}

	if item.Status != enums.OrderItemStatusDelivered {
		t.Fatalf("expected delivered got %s", item.Status)
	}
	if len(h.logistics.deliveries) != 1 {
		t.Fatalf("expected one delivery record got %d", len(h.logistics.deliveries))
	}
	if !h.logistics.deliveries[0].BuyerProtectionEligible {
		t.Fatal("expected buyer protection eligibility on proof record")
	}
	if len(h.escrow.calls) != 1 || h.escrow.calls[0].reason != enums.EscrowReleaseReasonDelivery {
		t.Fatalf("expected delivery release got %+v", h.escrow.calls)
	}
	if len(h.publisher.events) != 1 || h.publisher.events[0].EventType != enums.EventItemDelivered {
		t.Fatalf("expected delivered event got %+v", h.publisher.events)
	}
	if len(h.items.deliveredOrders) != 1 || h.items.deliveredOrders[0] != item.OrderID {
		t.Fatalf("expected order-level delivery stamp got %v", h.items.deliveredOrders)
	}
}

func TestConfirmDeliveryWaitsForSiblingItems(t *testing.T) {
	orderID := uuid.New()
	first := &models.OrderItem{ID: uuid.New(), OrderID: orderID, Status: enums.OrderItemStatusOutForDelivery}
	sibling := &models.OrderItem{ID: uuid.New(), OrderID: orderID, Status: enums.OrderItemStatusInWarehouse}
	h := newHarness(t, first, sibling)

	err := h.svc.ConfirmDelivery(context.Background(), ConfirmDeliveryInput{
		OrderItemID: first.ID,
		ShipperID:   uuid.New(),
		PhotoURLs:   []string{"https://cdn.example.com/d1.jpg"},
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if len(h.items.deliveredOrders) != 0 {
		t.Fatalf("order must not be stamped while a sibling is undelivered, got %v", h.items.deliveredOrders)
	}
}

func TestConfirmDeliveryToleratesLostEscrowClaim(t *testing.T) {
	item := &models.OrderItem{ID: uuid.New(), Status: enums.OrderItemStatusOutForDelivery}
	h := newHarness(t, item)
	h.escrow.err = pkgerrors.New(pkgerrors.CodeConflict, "escrow already left holding")

	err := h.svc.ConfirmDelivery(context.Background(), ConfirmDeliveryInput{
		OrderItemID: item.ID,
		ShipperID:   uuid.New(),
		PhotoURLs:   []string{"https://cdn.example.com/d1.jpg"},
	})
	if err != nil {
		t.Fatalf("delivery proof must survive a lost escrow claim, got %v", err)
	}
	if item.Status != enums.OrderItemStatusDelivered {
		t.Fatalf("expected delivered got %s", item.Status)
	}
	if len(h.publisher.events) != 1 {
		t.Fatalf("expected delivered event got %d", len(h.publisher.events))
	}
}

func TestConfirmDeliveryWrongState(t *testing.T) {
	item := &models.OrderItem{ID: uuid.New(), Status: enums.OrderItemStatusInWarehouse}
	h := newHarness(t, item)

	err := h.svc.ConfirmDelivery(context.Background(), ConfirmDeliveryInput{
		OrderItemID: item.ID,
		ShipperID:   uuid.New(),
		PhotoURLs:   []string{"https://cdn.example.com/d1.jpg"},
	})
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestExpireStaleSweep(t *testing.T) {
	old := time.Now().UTC().Add(-400 * time.Hour)
	stale := &models.OrderItem{ID: uuid.New(), Status: enums.OrderItemStatusAwaitingPickup, UpdatedAt: old}
	fresh := &models.OrderItem{ID: uuid.New(), Status: enums.OrderItemStatusInWarehouse, UpdatedAt: time.Now().UTC()}
	h := newHarness(t, stale, fresh)

	expired, err := h.svc.ExpireStale(context.Background(), 336*time.Hour, 100)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired got %d", expired)
	}
	if stale.Status != enums.OrderItemStatusExpired {
		t.Fatalf("expected expired got %s", stale.Status)
	}
	if fresh.Status != enums.OrderItemStatusInWarehouse {
		t.Fatalf("fresh item must be untouched, got %s", fresh.Status)
	}
}
