package services

import (
	"testing"

	"github.com/modavn/storefront/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockProblems_ReportsEveryOffendingLine(t *testing.T) {
	items := []models.OrderLine{
		{ProductID: 1, Name: "Basic Tee", Size: "M", Quantity: 3},
		{ProductID: 1, Name: "Basic Tee", Size: "XL", Quantity: 1},
		{ProductID: 2, Name: "Hoodie", Size: "L", Quantity: 1},
		{ProductID: 3, Name: "Cap", Size: "M", Quantity: 1},
	}
	products := map[int64]*models.Product{
		1: {ID: 1, Name: "Basic Tee", Sizes: []models.SizeStock{{Size: "M", Stock: 2}, {Size: "L", Stock: 5}}},
		2: {ID: 2, Name: "Hoodie", Sizes: []models.SizeStock{{Size: "L", Stock: 4}}},
	}

	problems := StockProblems(items, products)

	require.Len(t, problems, 3)
	assert.Equal(t, "Basic Tee size M only has 2 left", problems[0])
	assert.Equal(t, "Basic Tee has no size XL", problems[1])
	assert.Equal(t, "cannot check stock for Cap", problems[2])
}

func TestStockProblems_CleanPass(t *testing.T) {
	items := []models.OrderLine{
		{ProductID: 1, Name: "Basic Tee", Size: "M", Quantity: 2},
	}
	products := map[int64]*models.Product{
		1: {ID: 1, Name: "Basic Tee", Sizes: []models.SizeStock{{Size: "M", Stock: 2}}},
	}

	assert.Empty(t, StockProblems(items, products))
}

func TestDecrementSizes(t *testing.T) {
	sizes := []models.SizeStock{
		{Size: "S", Stock: 3},
		{Size: "M", Stock: 5},
		{Size: "L", Stock: 1},
	}

	updated, aggregate := DecrementSizes(sizes, "M", 2)

	assert.Equal(t, 3, updated[1].Stock)
	assert.Equal(t, 7, aggregate)
	// input slice is untouched
	assert.Equal(t, 5, sizes[1].Stock)
}

func TestDecrementSizes_ClampsAtZero(t *testing.T) {
	sizes := []models.SizeStock{
		{Size: "M", Stock: 2},
		{Size: "L", Stock: 4},
	}

	updated, aggregate := DecrementSizes(sizes, "M", 5)

	assert.Equal(t, 0, updated[0].Stock)
	assert.Equal(t, 4, aggregate)
}

func TestDecrementSizes_UnknownSizeIsNoOp(t *testing.T) {
	sizes := []models.SizeStock{{Size: "M", Stock: 2}}

	updated, aggregate := DecrementSizes(sizes, "XL", 1)

	assert.Equal(t, sizes, updated)
	assert.Equal(t, 2, aggregate)
}
