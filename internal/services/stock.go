package services

import (
	"fmt"

	"github.com/modavn/storefront/internal/models"
)

// StockProblems runs the read-only pre-flight pass over order lines.
// Every line is checked before reporting, so the caller gets the full
// list of offending lines, not just the first. A nil product means the
// lookup failed for that line.
func StockProblems(items []models.OrderLine, products map[int64]*models.Product) []string {
	var problems []string
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok || product == nil {
			problems = append(problems, fmt.Sprintf("cannot check stock for %s", item.Name))
			continue
		}

		size := product.SizeFor(item.Size)
		if size == nil {
			problems = append(problems, fmt.Sprintf("%s has no size %s", product.Name, item.Size))
			continue
		}

		if size.Stock < item.Quantity {
			problems = append(problems, fmt.Sprintf("%s size %s only has %d left", product.Name, item.Size, size.Stock))
		}
	}
	return problems
}

// DecrementSizes returns a copy of sizes with the matching size's stock
// reduced by quantity (clamped at zero) and the recomputed aggregate.
// The aggregate is always the sum over all sizes, keeping the
// product-level invariant intact.
func DecrementSizes(sizes []models.SizeStock, size string, quantity int) ([]models.SizeStock, int) {
	updated := make([]models.SizeStock, len(sizes))
	copy(updated, sizes)

	aggregate := 0
	for i := range updated {
		if updated[i].Size == size {
			next := updated[i].Stock - quantity
			if next < 0 {
				next = 0
			}
			updated[i].Stock = next
		}
		aggregate += updated[i].Stock
	}
	return updated, aggregate
}
