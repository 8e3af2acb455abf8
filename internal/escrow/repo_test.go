package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/trgnguyen/remarket-backend/pkg/db/models"
	"github.com/trgnguyen/remarket-backend/pkg/enums"
)

func setupEscrowTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	escrowRecords := `
CREATE TABLE IF NOT EXISTS escrow_records (
  id TEXT PRIMARY KEY,
  order_item_id TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL DEFAULT 'holding',
  held_amount INTEGER NOT NULL,
  release_reason TEXT,
  notes TEXT,
  released_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	deliveries := `
CREATE TABLE IF NOT EXISTS delivery_transactions (
  id TEXT PRIMARY KEY,
  order_item_id TEXT NOT NULL UNIQUE,
  shipper_id TEXT NOT NULL,
  photo_urls TEXT NOT NULL,
  buyer_protection_eligible INTEGER NOT NULL DEFAULT 1,
  delivered_at DATETIME NOT NULL,
  created_at DATETIME
);`
	orders := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  payment_status TEXT NOT NULL DEFAULT 'unpaid'
);`
	orderItems := `
CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL
);`
	require.NoError(t, db.Exec(escrowRecords).Error)
	require.NoError(t, db.Exec(deliveries).Error)
	require.NoError(t, db.Exec(orders).Error)
	require.NoError(t, db.Exec(orderItems).Error)
	return db
}

func TestClaimTransitionWinsOnce(t *testing.T) {
	db := setupEscrowTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	itemID := uuid.New()
	require.NoError(t, repo.CreateRecords(ctx, []models.EscrowRecord{{
		ID:          uuid.New(),
		OrderItemID: itemID,
		Status:      enums.EscrowStatusHolding,
		HeldAmount:  95000,
	}}))

	affected, err := repo.ClaimTransition(ctx, itemID, enums.EscrowStatusReleased, enums.EscrowReleaseReasonDelivery, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	// The losing claimant sees zero rows and must not overwrite the winner.
	notes := "manual override"
	affected, err = repo.ClaimTransition(ctx, itemID, enums.EscrowStatusRefunded, enums.EscrowReleaseReasonAdminManual, &notes)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	record, err := repo.FindByOrderItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStatusReleased, record.Status)
	assert.Equal(t, enums.EscrowReleaseReasonDelivery, record.ReleaseReason)
	assert.Nil(t, record.Notes)
	require.NotNil(t, record.ReleasedAt)
}

func TestClaimTransitionRejectsHoldingTarget(t *testing.T) {
	db := setupEscrowTestDB(t)
	repo := NewRepository(db)

	_, err := repo.ClaimTransition(context.Background(), uuid.New(), enums.EscrowStatusHolding, enums.EscrowReleaseReasonDelivery, nil)
	require.Error(t, err)
}

func TestListHoldingDeliveredBefore(t *testing.T) {
	db := setupEscrowTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	overdueItem := uuid.New()
	recentItem := uuid.New()
	require.NoError(t, repo.CreateRecords(ctx, []models.EscrowRecord{
		{ID: uuid.New(), OrderItemID: overdueItem, Status: enums.EscrowStatusHolding, HeldAmount: 100},
		{ID: uuid.New(), OrderItemID: recentItem, Status: enums.EscrowStatusHolding, HeldAmount: 200},
	}))

	now := time.Now().UTC()
	require.NoError(t, db.Create(&models.DeliveryTransaction{
		ID:          uuid.New(),
		OrderItemID: overdueItem,
		ShipperID:   uuid.New(),
		PhotoURLs:   []string{"https://cdn.example.com/a.jpg"},
		DeliveredAt: now.Add(-96 * time.Hour),
	}).Error)
	require.NoError(t, db.Create(&models.DeliveryTransaction{
		ID:          uuid.New(),
		OrderItemID: recentItem,
		ShipperID:   uuid.New(),
		PhotoURLs:   []string{"https://cdn.example.com/b.jpg"},
		DeliveredAt: now.Add(-time.Hour),
	}).Error)

	rows, err := repo.ListHoldingDeliveredBefore(ctx, now.Add(-72*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, overdueItem, rows[0].OrderItemID)
}

func TestListHoldingWithUnpaidOrder(t *testing.T) {
	db := setupEscrowTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	unpaidOrder := uuid.New()
	paidOrder := uuid.New()
	orphanItem := uuid.New()
	fundedItem := uuid.New()
	require.NoError(t, db.Exec(`INSERT INTO orders (id, payment_status) VALUES (?, 'unpaid'), (?, 'paid')`,
		unpaidOrder, paidOrder).Error)
	require.NoError(t, db.Exec(`INSERT INTO order_items (id, order_id) VALUES (?, ?), (?, ?)`,
		orphanItem, unpaidOrder, fundedItem, paidOrder).Error)

	require.NoError(t, repo.CreateRecords(ctx, []models.EscrowRecord{
		{ID: uuid.New(), OrderItemID: orphanItem, Status: enums.EscrowStatusHolding, HeldAmount: 100},
		{ID: uuid.New(), OrderItemID: fundedItem, Status: enums.EscrowStatusHolding, HeldAmount: 200},
	}))

	rows, err := repo.ListHoldingWithUnpaidOrder(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, orphanItem, rows[0].OrderItemID)
}
