package enums

import "fmt"

// OrderItemStatus tracks the fulfillment lifecycle of a single order item.
type OrderItemStatus string

const (
	OrderItemStatusPending        OrderItemStatus = "pending"
	OrderItemStatusPaid           OrderItemStatus = "paid"
	OrderItemStatusProcessing     OrderItemStatus = "processing"
	OrderItemStatusAwaitingPickup OrderItemStatus = "awaiting_pickup"
	OrderItemStatusInWarehouse    OrderItemStatus = "in_warehouse"
	OrderItemStatusOutForDelivery OrderItemStatus = "out_for_delivery"
	OrderItemStatusDelivered      OrderItemStatus = "delivered"
	OrderItemStatusCanceled       OrderItemStatus = "canceled"
	OrderItemStatusRefunded       OrderItemStatus = "refunded"
	OrderItemStatusExpired        OrderItemStatus = "expired"
)

var validOrderItemStatuses = []OrderItemStatus{
	OrderItemStatusPending,
	OrderItemStatusPaid,
	OrderItemStatusProcessing,
	OrderItemStatusAwaitingPickup,
	OrderItemStatusInWarehouse,
	OrderItemStatusOutForDelivery,
	OrderItemStatusDelivered,
	OrderItemStatusCanceled,
	OrderItemStatusRefunded,
	OrderItemStatusExpired,
}

// String implements fmt.Stringer.
func (o OrderItemStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderItemStatus.
func (o OrderItemStatus) IsValid() bool {
	for _, candidate := range validOrderItemStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further status transition is permitted.
func (o OrderItemStatus) IsTerminal() bool {
	switch o {
	case OrderItemStatusDelivered, OrderItemStatusCanceled, OrderItemStatusRefunded, OrderItemStatusExpired:
		return true
	default:
		return false
	}
}

// ParseOrderItemStatus converts raw input into an OrderItemStatus.
func ParseOrderItemStatus(value string) (OrderItemStatus, error) {
	for _, candidate := range validOrderItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order item status %q", value)
}
