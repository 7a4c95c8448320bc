package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from    OrderStatus
		to      OrderStatus
		allowed bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusConfirmed, StatusProcessing, true},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, true},

		{StatusPending, StatusShipped, false},
		{StatusPending, StatusDelivered, false},
		{StatusConfirmed, StatusShipped, false},
		{StatusShipped, StatusConfirmed, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestOrderStatusCancellableFromEveryNonTerminalState(t *testing.T) {
	for _, s := range []OrderStatus{StatusPending, StatusConfirmed, StatusProcessing, StatusShipped} {
		assert.True(t, s.CanTransitionTo(StatusCancelled), "%s should allow cancellation", s)
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusShipped.Terminal())
	assert.False(t, OrderStatus("bogus").Terminal())
}

func TestOrderStatusUnmarshalJSON(t *testing.T) {
	var s OrderStatus
	require.NoError(t, json.Unmarshal([]byte(`"confirmed"`), &s))
	assert.Equal(t, StatusConfirmed, s)

	assert.Error(t, json.Unmarshal([]byte(`"returned"`), &s))
	assert.Error(t, json.Unmarshal([]byte(`"Pending"`), &s))
}

func TestDiscountTypeUnmarshalJSON(t *testing.T) {
	var d DiscountType
	require.NoError(t, json.Unmarshal([]byte(`"percentage"`), &d))
	assert.Equal(t, DiscountPercentage, d)

	assert.Error(t, json.Unmarshal([]byte(`"bogo"`), &d))
}

func TestShippingMethodFees(t *testing.T) {
	assert.Equal(t, int64(30000), ShippingStandard.Fee())
	assert.Equal(t, int64(60000), ShippingExpress.Fee())
	assert.Equal(t, int64(0), ShippingStore.Fee())

	assert.Equal(t, "3-5 days", ShippingStandard.Estimate())
	assert.Equal(t, "same day", ShippingStore.Estimate())

	var m ShippingMethod
	assert.Error(t, json.Unmarshal([]byte(`"drone"`), &m))
}

func TestPaymentMethodValid(t *testing.T) {
	for _, m := range []PaymentMethod{PaymentCOD, PaymentBank, PaymentEWallet, PaymentCard, PaymentQR} {
		assert.True(t, m.Valid())
	}
	assert.False(t, PaymentMethod("cheque").Valid())

	var m PaymentMethod
	assert.Error(t, json.Unmarshal([]byte(`"cheque"`), &m))
}
