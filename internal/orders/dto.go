package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/trgnguyen/remarket-backend/pkg/db/models"
	"github.com/trgnguyen/remarket-backend/pkg/enums"
)

// OrderLineInput is one cart line at checkout submission.
type OrderLineInput struct {
	ProductID uuid.UUID
	SellerID  uuid.UUID
	Price     int64
}

// CreateOrderInput captures a checkout submission.
type CreateOrderInput struct {
	BuyerID           uuid.UUID
	ShippingAddressID uuid.UUID
	ShippingFee       int64
	Lines             []OrderLineInput
}

// CancelOrderInput captures a buyer- or seller-initiated cancellation.
type CancelOrderInput struct {
	OrderID     uuid.UUID
	ActorUserID uuid.UUID
	ActorRole   enums.ActorRole
	Notes       *string
}

// RequestPickupInput moves a processing item into the pickup queue.
type RequestPickupInput struct {
	OrderID     uuid.UUID
	OrderItemID uuid.UUID
	SellerID    uuid.UUID
}

// ItemSummary is the per-item projection returned alongside the aggregate so
// clients can render item-level state even when the aggregate is mixed.
type ItemSummary struct {
	ID           uuid.UUID              `json:"id"`
	ProductID    uuid.UUID              `json:"product_id"`
	SellerID     uuid.UUID              `json:"seller_id"`
	Price        int64                  `json:"price"`
	PlatformFee  int64                  `json:"platform_fee"`
	Status       enums.OrderItemStatus  `json:"status"`
	EscrowStatus *enums.EscrowStatus    `json:"escrow_status,omitempty"`
	Notes        *string                `json:"notes,omitempty"`
}

// OrderDetail is the buyer/seller-facing order view.
type OrderDetail struct {
	ID               uuid.UUID         `json:"id"`
	OrderCode        int64             `json:"order_code"`
	BuyerID          uuid.UUID         `json:"buyer_id"`
	Currency         string            `json:"currency"`
	TotalAmount      int64             `json:"total_amount"`
	TotalShippingFee int64             `json:"total_shipping_fee"`
	TotalPlatformFee int64             `json:"total_platform_fee"`
	PaymentStatus    enums.PaymentStatus `json:"payment_status"`
	Status           enums.OrderStatus `json:"status"`
	UniqueSellers    int               `json:"unique_sellers"`
	TotalItems       int               `json:"total_items"`
	PaidAt           *time.Time        `json:"paid_at,omitempty"`
	CanceledAt       *time.Time        `json:"canceled_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	Items            []ItemSummary     `json:"items"`
}

func detailFromModel(order *models.Order) *OrderDetail {
	detail := &OrderDetail{
		ID:               order.ID,
		OrderCode:        order.OrderCode,
		BuyerID:          order.BuyerID,
		Currency:         order.Currency,
		TotalAmount:      order.TotalAmount,
		TotalShippingFee: order.TotalShippingFee,
		TotalPlatformFee: order.TotalPlatformFee,
		PaymentStatus:    order.PaymentStatus,
		Status:           DeriveAggregateStatus(order),
		TotalItems:       len(order.Items),
		PaidAt:           order.PaidAt,
		CanceledAt:       order.CanceledAt,
		CreatedAt:        order.CreatedAt,
	}

	sellers := map[uuid.UUID]struct{}{}
	for _, item := range order.Items {
		sellers[item.SellerID] = struct{}{}
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
		detail.Items = append(detail.Items, summary)
	}
	detail.UniqueSellers = len(sellers)
	return detail
}
