package services

import (
	"testing"
	"time"

	"github.com/modavn/storefront/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVoucher() *models.Voucher {
	return &models.Voucher{
		ID:        1,
		Code:      "SALE10",
		Type:      models.DiscountPercentage,
		Discount:  10,
		MinOrder:  0,
		StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC),
	}
}

func TestEvaluateVoucher_PercentageDiscount(t *testing.T) {
	v := testVoucher()

	// 10% of (90000 + 30000) = 12000
	amount, err := EvaluateVoucher(v, EvalInput{
		Subtotal:    90000,
		ShippingFee: 30000,
		UserID:      7,
		Now:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12000), amount)
}

func TestEvaluateVoucher_PercentageRoundsHalfUp(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		discount int64
		subtotal int64
		want     int64
	}{
		{"exact", 10, 120000, 12000},
		{"half rounds up", 15, 30, 5},     // 4.5 -> 5
		{"below half rounds down", 3, 10, 0}, // 0.3 -> 0
		{"above half rounds up", 7, 10, 1},   // 0.7 -> 1
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testVoucher()
			v.Discount = tt.discount

			amount, err := EvaluateVoucher(v, EvalInput{Subtotal: tt.subtotal, UserID: 7, Now: now})
			require.NoError(t, err)
			assert.Equal(t, tt.want, amount)
		})
	}
}

func TestEvaluateVoucher_FixedDiscount(t *testing.T) {
	v := testVoucher()
	v.Code = "FIX5K"
	v.Type = models.DiscountFixed
	v.Discount = 5000

	amount, err := EvaluateVoucher(v, EvalInput{
		Subtotal:    200000,
		ShippingFee: 30000,
		UserID:      7,
		Now:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), amount)
}

func TestEvaluateVoucher_BelowMinimumReportsShortfall(t *testing.T) {
	v := testVoucher()
	v.Code = "FIX5K"
	v.Type = models.DiscountFixed
	v.Discount = 5000
	v.MinOrder = 100000

	// subtotal 60000 + shipping 30000 = 90000, 10000 short
	_, err := EvaluateVoucher(v, EvalInput{
		Subtotal:    60000,
		ShippingFee: 30000,
		UserID:      7,
		Now:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})

	var verr *VoucherError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, VoucherBelowMinimum, verr.Reason)
	assert.Equal(t, int64(100000), verr.MinOrder)
	assert.Equal(t, int64(10000), verr.Shortfall)
}

func TestEvaluateVoucher_DateWindow(t *testing.T) {
	v := testVoucher()

	tests := []struct {
		name   string
		now    time.Time
		reason VoucherReason
	}{
		{"before start", time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC), VoucherNotYetValid},
		{"after end", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), VoucherExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EvaluateVoucher(v, EvalInput{Subtotal: 100000, UserID: 7, Now: tt.now})

			var verr *VoucherError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.reason, verr.Reason)
		})
	}
}

func TestEvaluateVoucher_BoundaryInstantsAreValid(t *testing.T) {
	v := testVoucher()

	for _, now := range []time.Time{v.StartDate, v.EndDate} {
		_, err := EvaluateVoucher(v, EvalInput{Subtotal: 100000, UserID: 7, Now: now})
		assert.NoError(t, err)
	}
}

func TestEvaluateVoucher_AllowList(t *testing.T) {
	v := testVoucher()
	v.UserIDs = []int64{1, 2, 3}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := EvaluateVoucher(v, EvalInput{Subtotal: 100000, UserID: 7, Now: now})
	var verr *VoucherError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, VoucherUnauthorized, verr.Reason)

	_, err = EvaluateVoucher(v, EvalInput{Subtotal: 100000, UserID: 2, Now: now})
	assert.NoError(t, err)
}

func TestEvaluateVoucher_AlreadyUsed(t *testing.T) {
	v := testVoucher()
	v.UsedBy = []int64{7}

	_, err := EvaluateVoucher(v, EvalInput{
		Subtotal: 100000,
		UserID:   7,
		Now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})

	var verr *VoucherError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, VoucherAlreadyUsed, verr.Reason)
}

func TestEvaluateVoucher_ReEvaluationIsStable(t *testing.T) {
	v := testVoucher()
	in := EvalInput{
		Subtotal:    90000,
		ShippingFee: 30000,
		UserID:      7,
		Now:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	first, err := EvaluateVoucher(v, in)
	require.NoError(t, err)
	second, err := EvaluateVoucher(v, in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Empty(t, v.UsedBy, "evaluation must not consume the voucher")
}
