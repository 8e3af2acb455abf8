package enums

import "fmt"

// OrderStatus is the aggregate view of an order, derived from its items.
// It is never stored; Mixed is reported when the items disagree.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusAwaitingPickup OrderStatus = "awaiting_pickup"
	OrderStatusInWarehouse    OrderStatus = "in_warehouse"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCanceled       OrderStatus = "canceled"
	OrderStatusRefunded       OrderStatus = "refunded"
	OrderStatusExpired        OrderStatus = "expired"
	OrderStatusMixed          OrderStatus = "mixed"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusProcessing,
	OrderStatusAwaitingPickup,
	OrderStatusInWarehouse,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCanceled,
	OrderStatusRefunded,
	OrderStatusExpired,
	OrderStatusMixed,
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
