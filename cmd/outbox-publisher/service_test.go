package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trgnguyen/remarket-backend/pkg/config"
	"github.com/trgnguyen/remarket-backend/pkg/db/models"
	"github.com/trgnguyen/remarket-backend/pkg/enums"
	"github.com/trgnguyen/remarket-backend/pkg/logger"
)

type fakeDB struct{}

func (fakeDB) Ping(ctx context.Context) error { return nil }

func (fakeDB) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakePubSub struct{}

func (fakePubSub) Ping(ctx context.Context) error        { return nil }
func (fakePubSub) OrdersPublisher() *gcppubsub.Publisher { return nil }
func (fakePubSub) EscrowPublisher() *gcppubsub.Publisher { return nil }

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    map[uuid.UUID]string
}

func (f *fakeRepo) FetchUnpublishedTx(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	events := f.events
	f.events = nil
	return events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	if f.failed == nil {
		f.failed = map[uuid.UUID]string{}
	}
	f.failed[id] = err.Error()
	return nil
}

type fakeResult struct {
	err error
}

func (r fakeResult) Get(ctx context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "server-id", nil
}

type fakePublisher struct {
	messages []*gcppubsub.Message
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	return fakeResult{err: p.err}
}

func testEvent(aggregate enums.OutboxAggregateType, eventType enums.OutboxEventType) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: aggregate,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"hello":"world"}`),
		CreatedAt:     time.Now().UTC(),
	}
}

func newPublisherService(t *testing.T, repo *fakeRepo, resolver publisherResolver) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Config:     &config.Config{},
		Logger:     logger.New(logger.Options{ServiceName: "outbox-test", Output: io.Discard}),
		DB:         fakeDB{},
		PubSub:     fakePubSub{},
		Repository: repo,
		Resolver:   resolver,
	})
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}
	return svc
}

func TestProcessBatchRoutesByAggregate(t *testing.T) {
	ordersPub := &fakePublisher{}
	escrowPub := &fakePublisher{}
	resolver := func(aggregate enums.OutboxAggregateType) publisher {
		switch aggregate {
		case enums.AggregateOrder, enums.AggregateOrderItem:
			return ordersPub
		case enums.AggregateEscrowRecord:
			return escrowPub
		default:
			return nil
		}
	}

	orderEvent := testEvent(enums.AggregateOrder, enums.EventOrderPaid)
	itemEvent := testEvent(enums.AggregateOrderItem, enums.EventItemDelivered)
	escrowEvent := testEvent(enums.AggregateEscrowRecord, enums.EventEscrowReleased)
	repo := &fakeRepo{events: []models.OutboxEvent{orderEvent, itemEvent, escrowEvent}}

	svc := newPublisherService(t, repo, resolver)
	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to be processed")
	}

	if len(ordersPub.messages) != 2 {
		t.Fatalf("expected 2 order-topic messages got %d", len(ordersPub.messages))
	}
	if len(escrowPub.messages) != 1 {
		t.Fatalf("expected 1 escrow-topic message got %d", len(escrowPub.messages))
	}
	if len(repo.published) != 3 {
		t.Fatalf("expected 3 published marks got %d", len(repo.published))
	}

	msg := ordersPub.messages[0]
	if msg.Attributes["event_type"] != string(enums.EventOrderPaid) {
		t.Fatalf("unexpected event_type attribute %s", msg.Attributes["event_type"])
	}
	if msg.Attributes["aggregate_id"] != orderEvent.AggregateID.String() {
		t.Fatalf("unexpected aggregate_id attribute %s", msg.Attributes["aggregate_id"])
	}
	if string(msg.Data) != `{"hello":"world"}` {
		t.Fatalf("unexpected payload %s", msg.Data)
	}
}

func TestProcessBatchMarksUnroutableEventsFailed(t *testing.T) {
	event := testEvent("mystery", enums.EventOrderCreated)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	svc := newPublisherService(t, repo, func(enums.OutboxAggregateType) publisher { return nil })

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to be processed")
	}
	if len(repo.published) != 0 {
		t.Fatal("unroutable event must not be marked published")
	}
	if _, ok := repo.failed[event.ID]; !ok {
		t.Fatal("expected unroutable event marked failed")
	}
}

func TestProcessBatchContinuesPastPublishError(t *testing.T) {
	broken := &fakePublisher{err: errors.New("deadline exceeded")}
	healthy := &fakePublisher{}
	resolver := func(aggregate enums.OutboxAggregateType) publisher {
		if aggregate == enums.AggregateEscrowRecord {
			return healthy
		}
		return broken
	}

	failing := testEvent(enums.AggregateOrder, enums.EventOrderCreated)
	succeeding := testEvent(enums.AggregateEscrowRecord, enums.EventEscrowRefunded)
	repo := &fakeRepo{events: []models.OutboxEvent{failing, succeeding}}

	svc := newPublisherService(t, repo, resolver)
	if _, err := svc.processBatch(context.Background()); err != nil {
		t.Fatalf("processBatch: %v", err)
	}

	if _, ok := repo.failed[failing.ID]; !ok {
		t.Fatal("expected failing event marked failed")
	}
	if len(repo.published) != 1 || repo.published[0] != succeeding.ID {
		t.Fatalf("expected succeeding event published got %v", repo.published)
	}
}

func TestProcessBatchIdleReturnsFalse(t *testing.T) {
	repo := &fakeRepo{}
	svc := newPublisherService(t, repo, func(enums.OutboxAggregateType) publisher { return nil })

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if processed {
		t.Fatal("expected idle batch")
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	if err == nil {
		t.Fatal("expected constructor error")
	}
}
