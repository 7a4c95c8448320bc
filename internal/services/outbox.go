package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/modavn/storefront/internal/db"
	"github.com/modavn/storefront/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outbox task kinds. Tasks are written in the checkout transaction and
// drained here, so the post-order side effects are durable instead of
// best-effort.
const (
	TaskConsumeVoucher = "consume_voucher"
	TaskDeleteCartLine = "delete_cart_line"
)

// ConsumeVoucherPayload marks a voucher used by the ordering user.
type ConsumeVoucherPayload struct {
	VoucherID int64 `json:"voucher_id"`
	UserID    int64 `json:"user_id"`
}

// DeleteCartLinePayload removes an originating cart line after order
// placement.
type DeleteCartLinePayload struct {
	CartLineID int64 `json:"cart_line_id"`
	UserID     int64 `json:"user_id"`
}

// OutboxTask is one pending side effect.
type OutboxTask struct {
	ID       string
	OrderID  int64
	Kind     string
	Payload  []byte
	Attempts int
}

// OutboxWorker drains the outbox table on an interval. Every task is
// idempotent, so retrying after a crash or partial failure is safe. A
// task that exhausts the attempt budget is parked as failed and its
// order flagged needs_reconciliation.
type OutboxWorker struct {
	db          *db.DB
	metrics     *metrics.AppMetrics
	vouchers    *VoucherService
	cart        *CartService
	orders      *OrderService
	interval    time.Duration
	maxAttempts int
}

// NewOutboxWorker creates a new outbox worker
func NewOutboxWorker(database *db.DB, m *metrics.AppMetrics, vouchers *VoucherService, cart *CartService, orders *OrderService, interval time.Duration, maxAttempts int) *OutboxWorker {
	return &OutboxWorker{
		db:          database,
		metrics:     m,
		vouchers:    vouchers,
		cart:        cart,
		orders:      orders,
		interval:    interval,
		maxAttempts: maxAttempts,
	}
}

// Run processes pending tasks until the context is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	log.Printf("[OUTBOX] Worker started, interval=%s max_attempts=%d", w.interval, w.maxAttempts)
	for {
		select {
		case <-ctx.Done():
			log.Println("[OUTBOX] Worker stopped")
			return
		case <-ticker.C:
			if err := w.ProcessPending(ctx); err != nil {
				log.Printf("[OUTBOX] Drain pass failed: %v", err)
			}
		}
	}
}

// ProcessPending drains one batch of pending tasks.
func (w *OutboxWorker) ProcessPending(ctx context.Context) error {
	start := time.Now()
	query := "SELECT id, order_id, kind, payload, attempts FROM outbox_tasks WHERE status = 'pending' ORDER BY created_at LIMIT 50"
	rows, err := w.db.QueryContext(ctx, query)
	w.metrics.RecordDBQuery(ctx, "SELECT", "outbox_tasks", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to query outbox tasks: %w", err)
	}

	var tasks []OutboxTask
	for rows.Next() {
		var t OutboxTask
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Kind, &t.Payload, &t.Attempts); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan outbox task: %w", err)
		}
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, task := range tasks {
		w.processTask(ctx, task)
	}
	return nil
}

func (w *OutboxWorker) processTask(ctx context.Context, task OutboxTask) {
	operation := func() error {
		return w.execute(ctx, task)
	}
	// A few quick in-process retries before the task goes back to the
	// table for the next pass.
	policy := backoff.WithMaxRetries(backoff.WithContext(backoff.NewExponentialBackOff(), ctx), 3)
	err := backoff.Retry(operation, policy)

	if err == nil {
		w.finishTask(ctx, task, "done")
		log.Printf("[OUTBOX] Task %s (%s) for order %d done", task.ID, task.Kind, task.OrderID)
		return
	}

	attempts := task.Attempts + 1
	if attempts >= w.maxAttempts {
		w.finishTask(ctx, task, "failed")
		log.Printf("[OUTBOX] Task %s (%s) for order %d failed permanently after %d attempts: %v", task.ID, task.Kind, task.OrderID, attempts, err)
		if err := w.orders.MarkNeedsReconciliation(ctx, task.OrderID); err != nil {
			log.Printf("[OUTBOX] Could not flag order %d: %v", task.OrderID, err)
		}
		return
	}

	start := time.Now()
	query := "UPDATE outbox_tasks SET attempts = ? WHERE id = ?"
	if _, uerr := w.db.ExecContext(ctx, query, attempts, task.ID); uerr != nil {
		w.metrics.RecordDBQuery(ctx, "UPDATE", "outbox_tasks", query, start, false)
		log.Printf("[OUTBOX] Could not bump attempts for task %s: %v", task.ID, uerr)
	} else {
		w.metrics.RecordDBQuery(ctx, "UPDATE", "outbox_tasks", query, start, true)
	}
	log.Printf("[OUTBOX] Task %s (%s) for order %d failed (attempt %d/%d): %v", task.ID, task.Kind, task.OrderID, attempts, w.maxAttempts, err)
}

func (w *OutboxWorker) execute(ctx context.Context, task OutboxTask) error {
	switch task.Kind {
	case TaskConsumeVoucher:
		var payload ConsumeVoucherPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("bad payload: %w", err))
		}
		return w.vouchers.Consume(ctx, payload.VoucherID, payload.UserID)
	case TaskDeleteCartLine:
		var payload DeleteCartLinePayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("bad payload: %w", err))
		}
		return w.cart.DeleteLine(ctx, payload.UserID, payload.CartLineID)
	default:
		return backoff.Permanent(fmt.Errorf("unknown task kind %q", task.Kind))
	}
}

func (w *OutboxWorker) finishTask(ctx context.Context, task OutboxTask, status string) {
	start := time.Now()
	query := "UPDATE outbox_tasks SET status = ?, attempts = attempts + 1 WHERE id = ?"
	_, err := w.db.ExecContext(ctx, query, status, task.ID)
	w.metrics.RecordDBQuery(ctx, "UPDATE", "outbox_tasks", query, start, err == nil)
	if err != nil {
		log.Printf("[OUTBOX] Could not mark task %s %s: %v", task.ID, status, err)
		return
	}

	w.metrics.OutboxTasksDone.Add(ctx, 1, metric.WithAttributes(w.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("kind", task.Kind),
		attribute.String("outcome", status),
	})...))
}
