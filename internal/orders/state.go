package orders

import (
	"github.com/trgnguyen/remarket-backend/pkg/db/models"
	"github.com/trgnguyen/remarket-backend/pkg/enums"
)

// transitions lists every legal fulfillment edge. The success path is strictly
// monotonic; the terminal failure states are reachable from any pre-delivery
// state.
var transitions = map[enums.OrderItemStatus][]enums.OrderItemStatus{
	enums.OrderItemStatusPending: {
		enums.OrderItemStatusPaid,
		enums.OrderItemStatusCanceled,
		enums.OrderItemStatusExpired,
	},
	enums.OrderItemStatusPaid: {
		enums.OrderItemStatusProcessing,
		enums.OrderItemStatusCanceled,
		enums.OrderItemStatusRefunded,
		enums.OrderItemStatusExpired,
	},
	enums.OrderItemStatusProcessing: {
		enums.OrderItemStatusAwaitingPickup,
		enums.OrderItemStatusCanceled,
		enums.OrderItemStatusRefunded,
		enums.OrderItemStatusExpired,
	},
	enums.OrderItemStatusAwaitingPickup: {
		enums.OrderItemStatusInWarehouse,
		enums.OrderItemStatusCanceled,
		enums.OrderItemStatusRefunded,
		enums.OrderItemStatusExpired,
	},
	enums.OrderItemStatusInWarehouse: {
		enums.OrderItemStatusOutForDelivery,
		enums.OrderItemStatusRefunded,
		enums.OrderItemStatusExpired,
	},
	enums.OrderItemStatusOutForDelivery: {
		enums.OrderItemStatusDelivered,
		enums.OrderItemStatusRefunded,
		enums.OrderItemStatusExpired,
	},
}

// CanTransition reports whether moving from one fulfillment status to another
// is a legal edge.
func CanTransition(from, to enums.OrderItemStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// aggregateByItemStatus maps a uniform item status onto the buyer-facing
// aggregate view. Paid collapses into processing because the paid->processing
// hop is automatic.
var aggregateByItemStatus = map[enums.OrderItemStatus]enums.OrderStatus{
	enums.OrderItemStatusPending:        enums.OrderStatusPendingPayment,
	enums.OrderItemStatusPaid:           enums.OrderStatusProcessing,
	enums.OrderItemStatusProcessing:     enums.OrderStatusProcessing,
	enums.OrderItemStatusAwaitingPickup: enums.OrderStatusAwaitingPickup,
	enums.OrderItemStatusInWarehouse:    enums.OrderStatusInWarehouse,
	enums.OrderItemStatusOutForDelivery: enums.OrderStatusOutForDelivery,
	enums.OrderItemStatusDelivered:      enums.OrderStatusDelivered,
	enums.OrderItemStatusCanceled:       enums.OrderStatusCanceled,
	enums.OrderItemStatusRefunded:       enums.OrderStatusRefunded,
	enums.OrderItemStatusExpired:        enums.OrderStatusExpired,
}

// DeriveAggregateStatus computes the order-level status from its items. The
// value is never stored; when items disagree the order reports Mixed and
// clients fall back to per-item summaries.
func DeriveAggregateStatus(order *models.Order) enums.OrderStatus {
	if order == nil || len(order.Items) == 0 {
		return enums.OrderStatusPendingPayment
	}
	if order.PaymentStatus == enums.PaymentStatusUnpaid {
		return enums.OrderStatusPendingPayment
	}

	first := order.Items[0].Status
	for _, item := range order.Items[1:] {
		if item.Status != first {
			return enums.OrderStatusMixed
		}
	}
	if mapped, ok := aggregateByItemStatus[first]; ok {
		return mapped
	}
	return enums.OrderStatusMixed
}
