package enums

import "fmt"

// ShippingMethod describes how an order reaches the buyer.
type ShippingMethod string

const (
	ShippingMethodDelivery    ShippingMethod = "delivery"
	ShippingMethodStorePickup ShippingMethod = "store_pickup"
)

var validShippingMethods = []ShippingMethod{
	ShippingMethodDelivery,
	ShippingMethodStorePickup,
}

// String implements fmt.Stringer.
func (m ShippingMethod) String() string {
	return string(m)
}

// IsValid reports whether the value is a known ShippingMethod.
func (m ShippingMethod) IsValid() bool {
	for _, candidate := range validShippingMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseShippingMethod converts raw input into a ShippingMethod.
func ParseShippingMethod(value string) (ShippingMethod, error) {
	for _, candidate := range validShippingMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipping method %q", value)
}
