package escrow

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
)

type claimCall struct {
	orderItemID uuid.UUID
	to          enums.EscrowStatus
	reason      enums.EscrowReleaseReason
	notes       *string
}

type stubEscrowRepo struct {
	records  map[uuid.UUID]*models.EscrowRecord
	overdue  []models.EscrowRecord
	orphaned []models.EscrowRecord
	existing int64

	created []models.EscrowRecord
	claims  []claimCall

	claimAffected func(orderItemID uuid.UUID) int64
}

func newStubEscrowRepo() *stubEscrowRepo {
	return &stubEscrowRepo{records: map[uuid.UUID]*models.EscrowRecord{}}
}

func (s *stubEscrowRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubEscrowRepo) CreateRecords(ctx context.Context, records []models.EscrowRecord) error {
	s.created = append(s.created, records...)
	return nil
}

func (s *stubEscrowRepo) FindByOrderItem(ctx context.Context, orderItemID uuid.UUID) (*models.EscrowRecord, error) {
	record, ok := s.records[orderItemID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return record, nil
}

func (s *stubEscrowRepo) ClaimTransition(ctx context.Context, orderItemID uuid.UUID, to enums.EscrowStatus, reason enums.EscrowReleaseReason, notes *string) (int64, error) {
	s.claims = append(s.claims, claimCall{orderItemID: orderItemID, to: to, reason: reason, notes: notes})
	if s.claimAffected != nil {
		return s.claimAffected(orderItemID), nil
	}
	return 1, nil
}

func (s *stubEscrowRepo) ListHoldingDeliveredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.EscrowRecord, error) {
	return s.overdue, nil
}

func (s *stubEscrowRepo) ListHoldingWithUnpaidOrder(ctx context.Context, limit int) ([]models.EscrowRecord, error) {
	return s.orphaned, nil
}

func (s *stubEscrowRepo) CountByOrderItems(ctx context.Context, orderItemIDs []uuid.UUID) (int64, error) {
	return s.existing, nil
}

type stubOutboxPublisher struct {
	events []outbox.DomainEvent
}

func (s *stubOutboxPublisher) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
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

func TestCreateHoldingUsesSellerProceeds(t *testing.T) {
	repo := newStubEscrowRepo()
	publisher := &stubOutboxPublisher{}
	svc, err := NewService(repo, stubTxRunner{}, publisher)
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}

	items := []models.OrderItem{
		{ID: uuid.New(), Price: 100000, PlatformFee: 5000},
		{ID: uuid.New(), Price: 33333, PlatformFee: 1666},
	}
	if err := svc.CreateHoldingTx(context.Background(), &gorm.DB{}, items); err != nil {
		t.Fatalf("expected success got %v", err)
	}

	if len(repo.created) != 2 {
		t.Fatalf("expected 2 records got %d", len(repo.created))
	}
	if repo.created[0].HeldAmount != 95000 || repo.created[1].HeldAmount != 31667 {
		t.Fatalf("unexpected held amounts %d/%d", repo.created[0].HeldAmount, repo.created[1].HeldAmount)
	}
	for _, record := range repo.created {
		if record.Status != enums.EscrowStatusHolding {
			t.Fatalf("expected holding got %s", record.Status)
		}
	}
}

func TestCreateHoldingRejectsExistingRecords(t *testing.T) {
	repo := newStubEscrowRepo()
	repo.existing = 1
	svc, _ := NewService(repo, stubTxRunner{}, &stubOutboxPublisher{})

	items := []models.OrderItem{{ID: uuid.New(), Price: 100000, PlatformFee: 5000}}
	err := svc.CreateHoldingTx(context.Background(), &gorm.DB{}, items)
	requireCode(t, err, pkgerrors.CodeConflict)
	if len(repo.created) != 0 {
		t.Fatalf("expected no records created got %d", len(repo.created))
	}
}

func TestRefundCarriesReasonAndActor(t *testing.T) {
	itemID := uuid.New()
	repo := newStubEscrowRepo()
	repo.records[itemID] = &models.EscrowRecord{
		ID:          uuid.New(),
		OrderItemID: itemID,
		Status:      enums.EscrowStatusHolding,
		HeldAmount:  95000,
	}
	publisher := &stubOutboxPublisher{}
	svc, _ := NewService(repo, stubTxRunner{}, publisher)

	notes := "buyer dispute upheld"
	actor := &outbox.ActorRef{UserID: uuid.New(), Role: enums.ActorRoleAdmin.String()}
	err := svc.RefundTx(context.Background(), &gorm.DB{}, itemID, enums.EscrowReleaseReasonDispute, &notes, actor)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}

	if len(repo.claims) != 1 {
		t.Fatalf("expected one claim got %d", len(repo.claims))
	}
	claim := repo.claims[0]
	if claim.to != enums.EscrowStatusRefunded || claim.reason != enums.EscrowReleaseReasonDispute {
		t.Fatalf("unexpected claim %s/%s", claim.to, claim.reason)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected one event got %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.EventType != enums.EventEscrowRefunded {
		t.Fatalf("expected escrow.refunded got %s", event.EventType)
	}
	if event.Actor == nil || event.Actor.UserID != actor.UserID {
		t.Fatalf("expected actor on event got %+v", event.Actor)
	}
}

func TestReleaseEmitsMovedEvent(t *testing.T) {
	itemID := uuid.New()
	repo := newStubEscrowRepo()
	repo.records[itemID] = &models.EscrowRecord{
		ID:          uuid.New(),
		OrderItemID: itemID,
		Status:      enums.EscrowStatusHolding,
		HeldAmount:  95000,
	}
	publisher := &stubOutboxPublisher{}
	svc, _ := NewService(repo, stubTxRunner{}, publisher)

	actor := &outbox.ActorRef{UserID: uuid.New(), Role: enums.ActorRoleShipper.String()}
	err := svc.ReleaseTx(context.Background(), &gorm.DB{}, itemID, enums.EscrowReleaseReasonDelivery, nil, actor)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}

	if len(repo.claims) != 1 {
		t.Fatalf("expected one claim got %d", len(repo.claims))
	}
	claim := repo.claims[0]
	if claim.to != enums.EscrowStatusReleased || claim.reason != enums.EscrowReleaseReasonDelivery {
		t.Fatalf("unexpected claim %s/%s", claim.to, claim.reason)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("expected one event got %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.EventType != enums.EventEscrowReleased {
		t.Fatalf("expected escrow.released got %s", event.EventType)
	}
	data, ok := event.Data.(EscrowMovedEvent)
	if !ok {
		t.Fatalf("unexpected event payload %T", event.Data)
	}
	if data.HeldAmount != 95000 || data.Status != enums.EscrowStatusReleased {
		t.Fatalf("unexpected payload %+v", data)
	}
}

func TestClaimIsExactlyOnce(t *testing.T) {
	itemID := uuid.New()
	repo := newStubEscrowRepo()
	repo.records[itemID] = &models.EscrowRecord{
		ID:          uuid.New(),
		OrderItemID: itemID,
		Status:      enums.EscrowStatusReleased,
	}
	repo.claimAffected = func(uuid.UUID) int64 { return 0 }
	publisher := &stubOutboxPublisher{}
	svc, _ := NewService(repo, stubTxRunner{}, publisher)

	err := svc.RefundTx(context.Background(), &gorm.DB{}, itemID, enums.EscrowReleaseReasonCancel, nil, nil)
	requireCode(t, err, pkgerrors.CodeConflict)
	if len(publisher.events) != 0 {
		t.Fatalf("expected no events after lost claim got %d", len(publisher.events))
	}
}

func TestClaimUnknownRecord(t *testing.T) {
	repo := newStubEscrowRepo()
	svc, _ := NewService(repo, stubTxRunner{}, &stubOutboxPublisher{})

	err := svc.ReleaseTx(context.Background(), &gorm.DB{}, uuid.New(), enums.EscrowReleaseReasonAdminManual, nil, nil)
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestReleaseOverdueSkipsLostClaims(t *testing.T) {
	wonID := uuid.New()
	lostID := uuid.New()
	repo := newStubEscrowRepo()
	repo.records[wonID] = &models.EscrowRecord{ID: uuid.New(), OrderItemID: wonID, Status: enums.EscrowStatusHolding, HeldAmount: 100}
	repo.records[lostID] = &models.EscrowRecord{ID: uuid.New(), OrderItemID: lostID, Status: enums.EscrowStatusHolding, HeldAmount: 200}
	repo.overdue = []models.EscrowRecord{*repo.records[wonID], *repo.records[lostID]}
	repo.claimAffected = func(orderItemID uuid.UUID) int64 {
		if orderItemID == lostID {
			return 0
		}
		return 1
	}
	publisher := &stubOutboxPublisher{}
	svc, _ := NewService(repo, stubTxRunner{}, publisher)

	released, err := svc.ReleaseOverdue(context.Background(), 72*time.Hour, 50)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 release got %d", released)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected 1 event got %d", len(publisher.events))
	}
	for _, claim := range repo.claims {
		if claim.reason != enums.EscrowReleaseReasonGraceSweep {
			t.Fatalf("expected grace_sweep reason got %s", claim.reason)
		}
	}
}

func TestCancelOrphanedVoidsUnpaidHoldings(t *testing.T) {
	itemID := uuid.New()
	repo := newStubEscrowRepo()
	repo.records[itemID] = &models.EscrowRecord{ID: uuid.New(), OrderItemID: itemID, Status: enums.EscrowStatusHolding, HeldAmount: 95000}
	repo.orphaned = []models.EscrowRecord{*repo.records[itemID]}
	publisher := &stubOutboxPublisher{}
	svc, _ := NewService(repo, stubTxRunner{}, publisher)

	canceled, err := svc.CancelOrphaned(context.Background(), 50)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if canceled != 1 {
		t.Fatalf("expected 1 cancellation got %d", canceled)
	}
	if len(repo.claims) != 1 || repo.claims[0].to != enums.EscrowStatusCanceled {
		t.Fatalf("unexpected claims %+v", repo.claims)
	}
	if repo.claims[0].notes == nil || *repo.claims[0].notes == "" {
		t.Fatal("expected audit notes on voided record")
	}
	if len(publisher.events) != 1 || publisher.events[0].EventType != enums.EventEscrowCanceled {
		t.Fatalf("expected escrow.canceled event got %+v", publisher.events)
	}
}
