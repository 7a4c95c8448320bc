package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modavn/storefront/internal/db"
	"github.com/modavn/storefront/internal/events"
	"github.com/modavn/storefront/internal/metrics"
	"github.com/modavn/storefront/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	phonePattern = regexp.MustCompile(`^[0-9]{10}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// ValidateShippingAddress checks the contact and destination fields a
// checkout must carry. Returns one message per offending field.
func ValidateShippingAddress(a models.Address) map[string]string {
	fields := make(map[string]string)

	if strings.TrimSpace(a.Name) == "" {
		fields["name"] = "name is required"
	}
	if strings.TrimSpace(a.Phone) == "" {
		fields["phone"] = "phone is required"
	} else if !phonePattern.MatchString(strings.TrimSpace(a.Phone)) {
		fields["phone"] = "phone must be 10 digits"
	}
	if strings.TrimSpace(a.Email) == "" {
		fields["email"] = "email is required"
	} else if !emailPattern.MatchString(strings.TrimSpace(a.Email)) {
		fields["email"] = "email is invalid"
	}
	if a.Province == "" {
		fields["province"] = "province is required"
	}
	if a.District == "" {
		fields["district"] = "district is required"
	}
	if a.Ward == "" {
		fields["ward"] = "ward is required"
	}
	if strings.TrimSpace(a.Address) == "" {
		fields["address"] = "street address is required"
	}

	return fields
}

// Subtotal sums price times quantity over the order lines.
func Subtotal(items []models.OrderLine) int64 {
	var subtotal int64
	for _, item := range items {
		subtotal += item.Price * int64(item.Quantity)
	}
	return subtotal
}

// CheckoutService runs the order placement pipeline: validation,
// voucher evaluation, stock pre-flight, transactional reservation plus
// order insert, and outbox scheduling for the post-order side effects.
type CheckoutService struct {
	db       *db.DB
	metrics  *metrics.AppMetrics
	products *ProductService
	vouchers *VoucherService
	orders   *OrderService
	events   *events.Publisher
	now      func() time.Time
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(database *db.DB, m *metrics.AppMetrics, products *ProductService, vouchers *VoucherService, orders *OrderService, publisher *events.Publisher) *CheckoutService {
	return &CheckoutService{
		db:       database,
		metrics:  m,
		products: products,
		vouchers: vouchers,
		orders:   orders,
		events:   publisher,
		now:      time.Now,
	}
}

// PlaceOrder turns the selected cart lines into a persisted order.
// Re-submitting with the same idempotency key returns the order the
// first submission created.
func (s *CheckoutService) PlaceOrder(ctx context.Context, userID int64, req models.CheckoutRequest, idempotencyKey string) (*models.Order, error) {
	fields := ValidateShippingAddress(req.ShippingAddress)
	if !req.ShippingMethod.Valid() {
		fields["shipping_method"] = "unknown shipping method"
	}
	if !req.PaymentMethod.Valid() {
		fields["payment_method"] = "unknown payment method"
	}
	if len(req.CartLineIDs) == 0 {
		fields["cart_line_ids"] = "select at least one cart line"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	if idempotencyKey != "" {
		existing, err := s.orders.GetByIdempotencyKey(ctx, userID, idempotencyKey)
		if err == nil {
			log.Printf("[CHECKOUT] Replayed idempotency key %s for user %d: order %d", idempotencyKey, userID, existing.ID)
			return existing, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}

	items, err := s.loadCartLines(ctx, userID, req.CartLineIDs)
	if err != nil {
		return nil, err
	}

	subtotal := Subtotal(items)
	shippingFee := req.ShippingMethod.Fee()
	placedAt := s.now()

	var voucher *models.Voucher
	var discount int64
	if req.VoucherCode != "" {
		eval, err := s.vouchers.Evaluate(ctx, req.VoucherCode, EvalInput{
			Subtotal:    subtotal,
			ShippingFee: shippingFee,
			UserID:      userID,
			Now:         placedAt,
		})
		if err != nil {
			return nil, err
		}
		voucher = eval.Voucher
		discount = eval.DiscountAmount
	}

	// Pre-flight: a read-only pass that reports every offending line
	// before anything is written.
	products, err := s.loadProducts(ctx, items)
	if err != nil {
		return nil, err
	}
	if problems := StockProblems(items, products); len(problems) > 0 {
		s.metrics.StockConflicts.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName(nil)...))
		return nil, &StockError{Problems: problems}
	}

	order := &models.Order{
		UserID:          userID,
		IdempotencyKey:  idempotencyKey,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		ShippingMethod:  req.ShippingMethod,
		PaymentMethod:   req.PaymentMethod,
		Voucher:         voucher,
		Subtotal:        subtotal,
		ShippingFee:     shippingFee,
		Discount:        discount,
		Total:           subtotal + shippingFee - discount,
		Status:          models.StatusPending,
		StatusHistory: []models.StatusChange{
			{Status: models.StatusPending, Timestamp: placedAt, Note: "Order placed"},
		},
		CreatedAt: placedAt,
	}

	if err := s.reserveAndCreate(ctx, order); err != nil {
		// A concurrent submission with the same key can win the race
		// between the replay check and the insert.
		if idempotencyKey != "" && strings.Contains(err.Error(), "Duplicate entry") {
			return s.orders.GetByIdempotencyKey(ctx, userID, idempotencyKey)
		}
		return nil, err
	}

	log.Printf("[CHECKOUT] Order created: order_id=%d user_id=%d total=%d items=%d", order.ID, userID, order.Total, len(order.Items))

	s.events.OrderCreated(ctx, order)

	orderAttrs := s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("payment_method", string(order.PaymentMethod)),
		attribute.String("shipping_method", string(order.ShippingMethod)),
	})
	s.metrics.OrdersCreated.Add(ctx, 1, metric.WithAttributes(orderAttrs...))
	s.metrics.RevenueTotal.Add(ctx, order.Total, metric.WithAttributes(orderAttrs...))

	return order, nil
}

// loadCartLines fetches the selected cart lines and snapshots them
// into order lines. Every requested id must belong to the user.
func (s *CheckoutService) loadCartLines(ctx context.Context, userID int64, ids []int64) ([]models.OrderLine, error) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, userID)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	start := time.Now()
	query := fmt.Sprintf("SELECT id, product_id, name, price, size, quantity, image_url FROM cart_lines WHERE user_id = ? AND id IN (%s)",
		strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_lines", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart lines: %w", err)
	}
	defer rows.Close()

	found := make(map[int64]bool)
	var items []models.OrderLine
	for rows.Next() {
		var line models.OrderLine
		if err := rows.Scan(&line.CartLineID, &line.ProductID, &line.Name, &line.Price, &line.Size, &line.Quantity, &line.ImageURL); err != nil {
			return nil, fmt.Errorf("failed to scan cart line: %w", err)
		}
		found[line.CartLineID] = true
		items = append(items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if !found[id] {
			return nil, ErrCartLineNotFound
		}
	}
	return items, nil
}

// loadProducts fetches the products behind the order lines for the
// pre-flight pass. A missing product stays absent from the map and
// surfaces as a per-line problem.
func (s *CheckoutService) loadProducts(ctx context.Context, items []models.OrderLine) (map[int64]*models.Product, error) {
	seen := make(map[int64]bool)
	var placeholders []string
	var args []interface{}
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			placeholders = append(placeholders, "?")
			args = append(args, item.ProductID)
		}
	}

	start := time.Now()
	query := fmt.Sprintf("SELECT id, name, sizes, stock FROM products WHERE id IN (%s)", strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	defer rows.Close()

	products := make(map[int64]*models.Product)
	for rows.Next() {
		var p models.Product
		var sizesRaw []byte
		if err := rows.Scan(&p.ID, &p.Name, &sizesRaw, &p.Stock); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		if err := unmarshalJSONColumn(sizesRaw, &p.Sizes); err != nil {
			return nil, fmt.Errorf("failed to decode product sizes: %w", err)
		}
		products[p.ID] = &p
	}
	return products, rows.Err()
}

// reserveAndCreate is the single transaction at the center of the
// pipeline: it re-checks and decrements size stock under row locks,
// inserts the order, and persists the outbox tasks for the post-order
// side effects. Either all of it happens or none of it does.
func (s *CheckoutService) reserveAndCreate(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	byProduct := make(map[int64][]models.OrderLine)
	var productIDs []int64
	for _, item := range order.Items {
		if _, ok := byProduct[item.ProductID]; !ok {
			productIDs = append(productIDs, item.ProductID)
		}
		byProduct[item.ProductID] = append(byProduct[item.ProductID], item)
	}
	// Lock products in a stable order so concurrent checkouts cannot
	// deadlock each other.
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	var problems []string
	for _, productID := range productIDs {
		start := time.Now()
		query := "SELECT name, sizes FROM products WHERE id = ? FOR UPDATE"
		var name string
		var sizesRaw []byte
		err := tx.QueryRowContext(ctx, query, productID).Scan(&name, &sizesRaw)
		s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || err == sql.ErrNoRows)
		if err == sql.ErrNoRows {
			// Deleted between pre-flight and the locked re-read; report
			// it the way the pre-flight pass would.
			for _, item := range byProduct[productID] {
				problems = append(problems, fmt.Sprintf("cannot check stock for %s", item.Name))
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to lock product %d: %w", productID, err)
		}

		var sizes []models.SizeStock
		if err := unmarshalJSONColumn(sizesRaw, &sizes); err != nil {
			return fmt.Errorf("failed to decode product sizes: %w", err)
		}

		// Re-check under the lock; the pre-flight snapshot may be stale.
		snapshot := &models.Product{ID: productID, Name: name, Sizes: sizes}
		if lineProblems := StockProblems(byProduct[productID], map[int64]*models.Product{productID: snapshot}); len(lineProblems) > 0 {
			problems = append(problems, lineProblems...)
			continue
		}

		aggregate := 0
		for _, item := range byProduct[productID] {
			sizes, aggregate = DecrementSizes(sizes, item.Size, item.Quantity)
		}

		encoded, err := json.Marshal(sizes)
		if err != nil {
			return fmt.Errorf("failed to encode product sizes: %w", err)
		}

		start = time.Now()
		updateQuery := "UPDATE products SET sizes = ?, stock = ? WHERE id = ?"
		_, err = tx.ExecContext(ctx, updateQuery, encoded, aggregate, productID)
		s.metrics.RecordDBQuery(ctx, "UPDATE", "products", updateQuery, start, err == nil)
		if err != nil {
			return fmt.Errorf("failed to update product stock: %w", err)
		}
	}
	if len(problems) > 0 {
		s.metrics.StockConflicts.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName(nil)...))
		return &StockError{Problems: problems}
	}

	orderID, err := s.insertOrder(ctx, tx, order)
	if err != nil {
		return err
	}
	order.ID = orderID

	if err := s.insertOutboxTasks(ctx, tx, order); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	// The catalog cache still holds pre-checkout stock for these rows.
	s.products.forget(productIDs...)

	return nil
}

func (s *CheckoutService) insertOrder(ctx context.Context, tx *sql.Tx, order *models.Order) (int64, error) {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return 0, fmt.Errorf("failed to encode order items: %w", err)
	}
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return 0, fmt.Errorf("failed to encode shipping address: %w", err)
	}
	history, err := json.Marshal(order.StatusHistory)
	if err != nil {
		return 0, fmt.Errorf("failed to encode status history: %w", err)
	}
	var voucher interface{}
	if order.Voucher != nil {
		encoded, err := json.Marshal(order.Voucher)
		if err != nil {
			return 0, fmt.Errorf("failed to encode voucher snapshot: %w", err)
		}
		voucher = encoded
	}
	var idemKey interface{}
	if order.IdempotencyKey != "" {
		idemKey = order.IdempotencyKey
	}

	start := time.Now()
	// created_at is bound explicitly so the stored row, the returned
	// order and the status-history seed all carry the same instant.
	query := "INSERT INTO orders (user_id, idempotency_key, items, shipping_address, shipping_method, payment_method, voucher, subtotal, shipping_fee, discount, total, status, status_history, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	result, err := tx.ExecContext(ctx, query, order.UserID, idemKey, items, address,
		string(order.ShippingMethod), string(order.PaymentMethod), voucher,
		order.Subtotal, order.ShippingFee, order.Discount, order.Total,
		string(order.Status), history, order.CreatedAt)
	s.metrics.RecordDBQuery(ctx, "INSERT", "orders", query, start, err == nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create order: %w", err)
	}

	orderID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get order ID: %w", err)
	}
	return orderID, nil
}

// insertOutboxTasks persists the post-order side effects in the same
// transaction as the order itself: voucher consumption and cart
// cleanup survive a crash and are retried until confirmed.
func (s *CheckoutService) insertOutboxTasks(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	type task struct {
		kind    string
		payload interface{}
	}
	var tasks []task

	if order.Voucher != nil {
		tasks = append(tasks, task{TaskConsumeVoucher, ConsumeVoucherPayload{
			VoucherID: order.Voucher.ID,
			UserID:    order.UserID,
		}})
	}
	for _, item := range order.Items {
		tasks = append(tasks, task{TaskDeleteCartLine, DeleteCartLinePayload{
			CartLineID: item.CartLineID,
			UserID:     order.UserID,
		}})
	}

	query := "INSERT INTO outbox_tasks (id, order_id, kind, payload) VALUES (?, ?, ?, ?)"
	for _, t := range tasks {
		payload, err := json.Marshal(t.payload)
		if err != nil {
			return fmt.Errorf("failed to encode outbox payload: %w", err)
		}
		start := time.Now()
		_, err = tx.ExecContext(ctx, query, uuid.NewString(), order.ID, t.kind, payload)
		s.metrics.RecordDBQuery(ctx, "INSERT", "outbox_tasks", query, start, err == nil)
		if err != nil {
			return fmt.Errorf("failed to enqueue outbox task: %w", err)
		}
	}
	return nil
}
