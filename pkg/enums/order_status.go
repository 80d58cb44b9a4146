package enums

import "fmt"

// OrderStatus tracks the cart-to-order lifecycle of an aggregate.
//
// A record starts as a mutable cart and, once placed, only ever moves
// forward through the remaining statuses.
type OrderStatus string

const (
	OrderStatusCart      OrderStatus = "cart"
	OrderStatusOrdered   OrderStatus = "ordered"
	OrderStatusReviewed  OrderStatus = "reviewed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCompleted OrderStatus = "completed"
)

var orderStatusSequence = []OrderStatus{
	OrderStatusCart,
	OrderStatusOrdered,
	OrderStatusReviewed,
	OrderStatusShipped,
	OrderStatusCompleted,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	return s.Rank() >= 0
}

// Rank returns the position of the status in the lifecycle sequence,
// or -1 for unknown values. Transitions are permitted only towards a
// strictly higher rank.
func (s OrderStatus) Rank() int {
	for i, candidate := range orderStatusSequence {
		if candidate == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range orderStatusSequence {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
