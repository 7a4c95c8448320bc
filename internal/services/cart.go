package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/modavn/storefront/internal/db"
	"github.com/modavn/storefront/internal/metrics"
	"github.com/modavn/storefront/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CartService handles cart-line operations. Lines are keyed by
// (user, product, size); adding the same selection again raises the
// quantity instead of creating a second line.
type CartService struct {
	db       *db.DB
	metrics  *metrics.AppMetrics
	products *ProductService
}

// NewCartService creates a new cart service
func NewCartService(db *db.DB, metrics *metrics.AppMetrics, products *ProductService) *CartService {
	return &CartService{
		db:       db,
		metrics:  metrics,
		products: products,
	}
}

const cartColumns = "id, user_id, product_id, name, price, size, quantity, image_url, stock_snapshot, created_at, updated_at"

func scanCartLine(row interface{ Scan(...interface{}) error }) (*models.CartLine, error) {
	var line models.CartLine
	err := row.Scan(&line.ID, &line.UserID, &line.ProductID, &line.Name, &line.Price,
		&line.Size, &line.Quantity, &line.ImageURL, &line.StockSnapshot,
		&line.CreatedAt, &line.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// AddLine adds a product+size selection to the user's cart. The
// quantity is capped at the size's current stock; that cap is best
// effort, the checkout pre-flight is the authoritative check.
func (s *CartService) AddLine(ctx context.Context, userID int64, req models.AddToCartRequest) (*models.CartLine, error) {
	if req.Quantity < 1 {
		req.Quantity = 1
	}

	product, err := s.products.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	size := product.SizeFor(req.Size)
	if size == nil {
		return nil, fmt.Errorf("%s has no size %s", product.Name, req.Size)
	}
	if size.Stock < 1 {
		return nil, &StockError{Problems: []string{
			fmt.Sprintf("%s size %s only has %d left", product.Name, req.Size, size.Stock),
		}}
	}

	start := time.Now()
	checkQuery := "SELECT id, quantity FROM cart_lines WHERE user_id = ? AND product_id = ? AND size = ?"
	var existingID int64
	var existingQty int
	err = s.db.QueryRowContext(ctx, checkQuery, userID, req.ProductID, req.Size).Scan(&existingID, &existingQty)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_lines", checkQuery, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		quantity := req.Quantity
		if quantity > size.Stock {
			quantity = size.Stock
		}

		start = time.Now()
		insertQuery := "INSERT INTO cart_lines (user_id, product_id, name, price, size, quantity, image_url, stock_snapshot) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
		result, err := s.db.ExecContext(ctx, insertQuery, userID, product.ID, product.Name, product.Price, req.Size, quantity, product.ImageURL, size.Stock)
		s.metrics.RecordDBQuery(ctx, "INSERT", "cart_lines", insertQuery, start, err == nil)
		if err != nil {
			return nil, fmt.Errorf("failed to add cart line: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to get cart line ID: %w", err)
		}

		s.updateCartGauge(ctx, userID)
		return s.GetLine(ctx, userID, id)
	} else if err != nil {
		return nil, fmt.Errorf("failed to check cart line: %w", err)
	}

	quantity := existingQty + req.Quantity
	if quantity > size.Stock {
		quantity = size.Stock
	}

	start = time.Now()
	updateQuery := "UPDATE cart_lines SET quantity = ?, stock_snapshot = ? WHERE id = ?"
	_, err = s.db.ExecContext(ctx, updateQuery, quantity, size.Stock, existingID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "cart_lines", updateQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update cart line: %w", err)
	}

	s.updateCartGauge(ctx, userID)
	return s.GetLine(ctx, userID, existingID)
}

// GetLine returns a single cart line owned by the user.
func (s *CartService) GetLine(ctx context.Context, userID, lineID int64) (*models.CartLine, error) {
	start := time.Now()
	query := "SELECT " + cartColumns + " FROM cart_lines WHERE id = ? AND user_id = ?"
	line, err := scanCartLine(s.db.QueryRowContext(ctx, query, lineID, userID))
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_lines", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, ErrCartLineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart line: %w", err)
	}
	return line, nil
}

// UpdateQuantity changes a line's quantity, capped at the size's
// current stock.
func (s *CartService) UpdateQuantity(ctx context.Context, userID, lineID int64, quantity int) (*models.CartLine, error) {
	if quantity < 1 {
		quantity = 1
	}

	line, err := s.GetLine(ctx, userID, lineID)
	if err != nil {
		return nil, err
	}

	stock := line.StockSnapshot
	if product, err := s.products.GetProduct(ctx, line.ProductID); err == nil {
		if size := product.SizeFor(line.Size); size != nil {
			stock = size.Stock
		}
	}
	if quantity > stock {
		quantity = stock
	}
	if quantity < 1 {
		quantity = 1
	}

	start := time.Now()
	query := "UPDATE cart_lines SET quantity = ?, stock_snapshot = ? WHERE id = ? AND user_id = ?"
	_, err = s.db.ExecContext(ctx, query, quantity, stock, lineID, userID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "cart_lines", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update cart line: %w", err)
	}

	return s.GetLine(ctx, userID, lineID)
}

// DeleteLine removes a cart line. Deleting a line that is already gone
// is a no-op so the outbox can retry cleanup safely.
func (s *CartService) DeleteLine(ctx context.Context, userID, lineID int64) error {
	start := time.Now()
	query := "DELETE FROM cart_lines WHERE id = ? AND user_id = ?"
	_, err := s.db.ExecContext(ctx, query, lineID, userID)
	s.metrics.RecordDBQuery(ctx, "DELETE", "cart_lines", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to delete cart line: %w", err)
	}

	s.updateCartGauge(ctx, userID)
	return nil
}

// GetCart returns the user's cart lines with the running total.
func (s *CartService) GetCart(ctx context.Context, userID int64) (*models.CartResponse, error) {
	start := time.Now()
	query := "SELECT " + cartColumns + " FROM cart_lines WHERE user_id = ? ORDER BY created_at"
	rows, err := s.db.QueryContext(ctx, query, userID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_lines", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart lines: %w", err)
	}
	defer rows.Close()

	var items []models.CartLine
	var total int64
	for rows.Next() {
		line, err := scanCartLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart line: %w", err)
		}
		items = append(items, *line)
		total += line.Price * int64(line.Quantity)
	}

	return &models.CartResponse{Items: items, Total: total}, rows.Err()
}

func (s *CartService) updateCartGauge(ctx context.Context, userID int64) {
	start := time.Now()
	query := "SELECT COUNT(*) FROM cart_lines WHERE user_id = ?"
	var count int
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&count)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_lines", query, start, err == nil)
	if err != nil {
		log.Printf("[CART] Could not refresh cart gauge for user %d: %v", userID, err)
		return
	}

	s.metrics.CartItemsCount.Record(ctx, int64(count), metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("user_id", userID),
	})...))
}
