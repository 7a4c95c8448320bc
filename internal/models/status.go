package models

import (
	"encoding/json"
	"fmt"
)

// DiscountType is the closed set of voucher discount kinds.
type DiscountType string

const (
	DiscountFixed      DiscountType = "fixed"
	DiscountPercentage DiscountType = "percentage"
)

// Valid reports whether the value is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountFixed || t == DiscountPercentage
}

// UnmarshalJSON rejects unknown discount types at decode time.
func (t *DiscountType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := DiscountType(s)
	if !v.Valid() {
		return fmt.Errorf("unknown discount type %q", s)
	}
	*t = v
	return nil
}

// OrderStatus is the closed set of order states.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

// orderTransitions is the explicit transition table. Cancelled is
// reachable from every non-terminal state; delivered and cancelled are
// terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

// Valid reports whether the value is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal reports whether no further transitions are allowed.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0 && s.Valid()
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// UnmarshalJSON rejects unknown statuses at decode time.
func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v := OrderStatus(raw)
	if !v.Valid() {
		return fmt.Errorf("unknown order status %q", raw)
	}
	*s = v
	return nil
}

// ShippingMethod is the closed set of delivery options.
type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "standard"
	ShippingExpress  ShippingMethod = "express"
	ShippingStore    ShippingMethod = "store"
)

// shippingFees and shippingEstimates mirror the storefront's fixed
// delivery options.
var shippingFees = map[ShippingMethod]int64{
	ShippingStandard: 30000,
	ShippingExpress:  60000,
	ShippingStore:    0,
}

var shippingEstimates = map[ShippingMethod]string{
	ShippingStandard: "3-5 days",
	ShippingExpress:  "1-2 days",
	ShippingStore:    "same day",
}

// Valid reports whether the value is a known shipping method.
func (m ShippingMethod) Valid() bool {
	_, ok := shippingFees[m]
	return ok
}

// Fee returns the flat shipping fee for the method.
func (m ShippingMethod) Fee() int64 {
	return shippingFees[m]
}

// Estimate returns the delivery time estimate for display.
func (m ShippingMethod) Estimate() string {
	return shippingEstimates[m]
}

// UnmarshalJSON rejects unknown shipping methods at decode time.
func (m *ShippingMethod) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := ShippingMethod(s)
	if !v.Valid() {
		return fmt.Errorf("unknown shipping method %q", s)
	}
	*m = v
	return nil
}

// PaymentMethod is the closed set of accepted payment options. The
// method is recorded with the order; no charge is performed.
type PaymentMethod string

const (
	PaymentCOD     PaymentMethod = "cod"
	PaymentBank    PaymentMethod = "bank"
	PaymentEWallet PaymentMethod = "e-wallet"
	PaymentCard    PaymentMethod = "card"
	PaymentQR      PaymentMethod = "qr"
)

// Valid reports whether the value is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentBank, PaymentEWallet, PaymentCard, PaymentQR:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown payment methods at decode time.
func (m *PaymentMethod) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := PaymentMethod(s)
	if !v.Valid() {
		return fmt.Errorf("unknown payment method %q", s)
	}
	*m = v
	return nil
}
