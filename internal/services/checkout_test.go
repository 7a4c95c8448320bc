package services

import (
	"testing"

	"github.com/modavn/storefront/internal/models"
	"github.com/stretchr/testify/assert"
)

func validAddress() models.Address {
	return models.Address{
		Name:     "Nguyen Van A",
		Phone:    "0901234567",
		Email:    "a@example.com",
		Province: "Ho Chi Minh",
		District: "District 1",
		Ward:     "Ben Nghe",
		Address:  "12 Le Loi",
	}
}

func TestValidateShippingAddress_Valid(t *testing.T) {
	assert.Empty(t, ValidateShippingAddress(validAddress()))
}

func TestValidateShippingAddress(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Address)
		field  string
	}{
		{"missing name", func(a *models.Address) { a.Name = "  " }, "name"},
		{"missing phone", func(a *models.Address) { a.Phone = "" }, "phone"},
		{"short phone", func(a *models.Address) { a.Phone = "12345" }, "phone"},
		{"phone with letters", func(a *models.Address) { a.Phone = "09012345ab" }, "phone"},
		{"eleven digit phone", func(a *models.Address) { a.Phone = "09012345678" }, "phone"},
		{"missing email", func(a *models.Address) { a.Email = "" }, "email"},
		{"email without at", func(a *models.Address) { a.Email = "a.example.com" }, "email"},
		{"email without domain dot", func(a *models.Address) { a.Email = "a@example" }, "email"},
		{"missing province", func(a *models.Address) { a.Province = "" }, "province"},
		{"missing district", func(a *models.Address) { a.District = "" }, "district"},
		{"missing ward", func(a *models.Address) { a.Ward = "" }, "ward"},
		{"missing street", func(a *models.Address) { a.Address = "" }, "address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAddress()
			tt.mutate(&a)

			fields := ValidateShippingAddress(a)
			assert.Contains(t, fields, tt.field)
			assert.Len(t, fields, 1)
		})
	}
}

func TestValidateShippingAddress_AccumulatesAllFields(t *testing.T) {
	fields := ValidateShippingAddress(models.Address{})
	assert.Len(t, fields, 7)
}

func TestSubtotal(t *testing.T) {
	items := []models.OrderLine{
		{Price: 150000, Quantity: 2},
		{Price: 99000, Quantity: 1},
	}
	assert.Equal(t, int64(399000), Subtotal(items))
	assert.Equal(t, int64(0), Subtotal(nil))
}

func TestOrderTotalArithmetic(t *testing.T) {
	items := []models.OrderLine{{Price: 120000, Quantity: 1}}
	subtotal := Subtotal(items)
	fee := models.ShippingStandard.Fee()

	v := testVoucher()
	discount := DiscountAmount(v, subtotal+fee)

	total := subtotal + fee - discount
	assert.Equal(t, int64(135000), total) // 120000 + 30000 - 15000
}
