package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/modavn/storefront/internal/db"
	"github.com/modavn/storefront/internal/events"
	"github.com/modavn/storefront/internal/metrics"
	"github.com/modavn/storefront/internal/models"
)

// OrderService handles order lookup and the admin-driven status
// machine. Order creation happens in CheckoutService.
type OrderService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	events  *events.Publisher
	now     func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(db *db.DB, metrics *metrics.AppMetrics, events *events.Publisher) *OrderService {
	return &OrderService{
		db:      db,
		metrics: metrics,
		events:  events,
		now:     time.Now,
	}
}

const orderColumns = "id, user_id, idempotency_key, items, shipping_address, shipping_method, payment_method, voucher, subtotal, shipping_fee, discount, total, status, status_history, needs_reconciliation, created_at, updated_at"

func scanOrder(row interface{ Scan(...interface{}) error }) (*models.Order, error) {
	var o models.Order
	var idemKey sql.NullString
	var shippingRaw, paymentRaw, statusRaw string
	var itemsRaw, addressRaw, voucherRaw, historyRaw []byte

	err := row.Scan(&o.ID, &o.UserID, &idemKey, &itemsRaw, &addressRaw,
		&shippingRaw, &paymentRaw, &voucherRaw, &o.Subtotal, &o.ShippingFee,
		&o.Discount, &o.Total, &statusRaw, &historyRaw,
		&o.NeedsReconciliation, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.IdempotencyKey = idemKey.String
	o.ShippingMethod = models.ShippingMethod(shippingRaw)
	o.PaymentMethod = models.PaymentMethod(paymentRaw)
	o.Status = models.OrderStatus(statusRaw)
	if err := json.Unmarshal(itemsRaw, &o.Items); err != nil {
		return nil, fmt.Errorf("failed to decode order items: %w", err)
	}
	if err := json.Unmarshal(addressRaw, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("failed to decode shipping address: %w", err)
	}
	if err := unmarshalJSONColumn(voucherRaw, &o.Voucher); err != nil {
		return nil, fmt.Errorf("failed to decode order voucher: %w", err)
	}
	if err := unmarshalJSONColumn(historyRaw, &o.StatusHistory); err != nil {
		return nil, fmt.Errorf("failed to decode status history: %w", err)
	}
	return &o, nil
}

// GetOrder returns an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	start := time.Now()
	query := "SELECT " + orderColumns + " FROM orders WHERE id = ?"
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, orderID))
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetByIdempotencyKey returns the order a previous submission with the
// same key created, if any.
func (s *OrderService) GetByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	start := time.Now()
	query := "SELECT " + orderColumns + " FROM orders WHERE user_id = ? AND idempotency_key = ?"
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, userID, key))
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by idempotency key: %w", err)
	}
	return order, nil
}

// ListUserOrders returns all orders for a user, newest first.
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	start := time.Now()
	query := "SELECT " + orderColumns + " FROM orders WHERE user_id = ? ORDER BY created_at DESC"
	rows, err := s.db.QueryContext(ctx, query, userID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	return orders, rows.Err()
}

// UpdateOrderStatus applies one admin-driven transition. The row is
// locked so concurrent admin actions serialize; the transition table
// rejects everything the state machine does not allow, and each applied
// transition appends to the status history.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, next models.OrderStatus, note string) (*models.Order, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("invalid status: %s", next)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	start := time.Now()
	query := "SELECT status, status_history FROM orders WHERE id = ? FOR UPDATE"
	var statusRaw string
	var historyRaw []byte
	err = tx.QueryRowContext(ctx, query, orderID).Scan(&statusRaw, &historyRaw)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil || err == sql.ErrNoRows)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	current := models.OrderStatus(statusRaw)
	if !current.CanTransitionTo(next) {
		return nil, &TransitionError{From: current, To: next}
	}

	var history []models.StatusChange
	if err := unmarshalJSONColumn(historyRaw, &history); err != nil {
		return nil, fmt.Errorf("failed to decode status history: %w", err)
	}

	changedAt := s.now()
	if note == "" {
		note = fmt.Sprintf("Status changed to %s", next)
	}
	history = append(history, models.StatusChange{Status: next, Timestamp: changedAt, Note: note})
	encoded, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to encode status history: %w", err)
	}

	start = time.Now()
	updateQuery := "UPDATE orders SET status = ?, status_history = ? WHERE id = ?"
	_, err = tx.ExecContext(ctx, updateQuery, string(next), encoded, orderID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "orders", updateQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("[ORDER] Order %d: %s -> %s", orderID, current, next)

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.events.OrderStatusChanged(ctx, order, current, changedAt)

	return order, nil
}

// MarkNeedsReconciliation flags an order whose post-creation side
// effects could not be confirmed. The order itself stands.
func (s *OrderService) MarkNeedsReconciliation(ctx context.Context, orderID int64) error {
	start := time.Now()
	query := "UPDATE orders SET needs_reconciliation = 1 WHERE id = ?"
	_, err := s.db.ExecContext(ctx, query, orderID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "orders", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to flag order %d for reconciliation: %w", orderID, err)
	}
	return nil
}
