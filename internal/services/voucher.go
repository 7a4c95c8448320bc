package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modavn/storefront/internal/db"
	"github.com/modavn/storefront/internal/metrics"
	"github.com/modavn/storefront/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EvalInput carries the order context a voucher is evaluated against.
type EvalInput struct {
	Subtotal    int64
	ShippingFee int64
	UserID      int64
	Now         time.Time
}

// EvaluateVoucher runs the short-circuiting check sequence against an
// already-loaded voucher and returns the discount amount. It is pure:
// evaluation never consumes the voucher, so re-evaluating before
// submission yields the same result every time.
func EvaluateVoucher(v *models.Voucher, in EvalInput) (int64, error) {
	if !v.AllowedFor(in.UserID) {
		return 0, &VoucherError{Code: v.Code, Reason: VoucherUnauthorized}
	}

	if in.Now.Before(v.StartDate) {
		return 0, &VoucherError{Code: v.Code, Reason: VoucherNotYetValid}
	}
	if in.Now.After(v.EndDate) {
		return 0, &VoucherError{Code: v.Code, Reason: VoucherExpired}
	}

	orderTotal := in.Subtotal + in.ShippingFee
	if orderTotal < v.MinOrder {
		return 0, &VoucherError{
			Code:      v.Code,
			Reason:    VoucherBelowMinimum,
			MinOrder:  v.MinOrder,
			Shortfall: v.MinOrder - orderTotal,
		}
	}

	if v.UsedByUser(in.UserID) {
		return 0, &VoucherError{Code: v.Code, Reason: VoucherAlreadyUsed}
	}

	return DiscountAmount(v, orderTotal), nil
}

// DiscountAmount computes the discount for an order total that already
// passed the minimum-order check. Percentage discounts round half up
// on integer currency units.
func DiscountAmount(v *models.Voucher, orderTotal int64) int64 {
	if v.Type == models.DiscountFixed {
		return v.Discount
	}
	return (orderTotal*v.Discount + 50) / 100
}

// VoucherService handles voucher lookup, evaluation and consumption
type VoucherService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	now     func() time.Time
}

// NewVoucherService creates a new voucher service
func NewVoucherService(db *db.DB, metrics *metrics.AppMetrics) *VoucherService {
	return &VoucherService{
		db:      db,
		metrics: metrics,
		now:     time.Now,
	}
}

const voucherColumns = "id, code, type, discount, min_order, start_date, end_date, user_ids, used_by, created_at"

func scanVoucher(row interface{ Scan(...interface{}) error }) (*models.Voucher, error) {
	var v models.Voucher
	var typeRaw string
	var userIDsRaw, usedByRaw []byte
	err := row.Scan(&v.ID, &v.Code, &typeRaw, &v.Discount, &v.MinOrder,
		&v.StartDate, &v.EndDate, &userIDsRaw, &usedByRaw, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.Type = models.DiscountType(typeRaw)
	if err := unmarshalJSONColumn(userIDsRaw, &v.UserIDs); err != nil {
		return nil, fmt.Errorf("failed to decode voucher user_ids: %w", err)
	}
	if err := unmarshalJSONColumn(usedByRaw, &v.UsedBy); err != nil {
		return nil, fmt.Errorf("failed to decode voucher used_by: %w", err)
	}
	return &v, nil
}

// unmarshalJSONColumn decodes a nullable JSON column, leaving the
// target untouched for NULL.
func unmarshalJSONColumn(raw []byte, target interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}

// GetByCode returns the voucher with the given (case-normalized) code.
func (s *VoucherService) GetByCode(ctx context.Context, code string) (*models.Voucher, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	start := time.Now()
	query := "SELECT " + voucherColumns + " FROM vouchers WHERE code = ?"
	v, err := scanVoucher(s.db.QueryRowContext(ctx, query, code))
	s.metrics.RecordDBQuery(ctx, "SELECT", "vouchers", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, &VoucherError{Code: code, Reason: VoucherNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get voucher: %w", err)
	}
	return v, nil
}

// Evaluate checks whether the code applies to the prospective order
// and computes the discount. Read-only; consumption is deferred to the
// post-order outbox.
func (s *VoucherService) Evaluate(ctx context.Context, code string, in EvalInput) (*models.EvaluateVoucherResponse, error) {
	if in.Now.IsZero() {
		in.Now = s.now()
	}

	v, err := s.GetByCode(ctx, code)
	if err != nil {
		s.recordRejection(ctx, err)
		return nil, err
	}

	amount, err := EvaluateVoucher(v, in)
	if err != nil {
		s.recordRejection(ctx, err)
		return nil, err
	}

	s.metrics.VouchersApplied.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("voucher_type", string(v.Type)),
	})...))

	return &models.EvaluateVoucherResponse{Voucher: v, DiscountAmount: amount}, nil
}

func (s *VoucherService) recordRejection(ctx context.Context, err error) {
	reason := "error"
	if verr, ok := err.(*VoucherError); ok {
		reason = string(verr.Reason)
	}
	s.metrics.VoucherRejected.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("reason", reason),
	})...))
}

// Consume appends userID to the voucher's used_by list. The row is
// locked for the read-modify-write, and a user already present in the
// list makes the call a no-op, so consumption happens at most once per
// user however often the outbox retries.
func (s *VoucherService) Consume(ctx context.Context, voucherID, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	start := time.Now()
	query := "SELECT used_by FROM vouchers WHERE id = ? FOR UPDATE"
	var usedByRaw []byte
	err = tx.QueryRowContext(ctx, query, voucherID).Scan(&usedByRaw)
	s.metrics.RecordDBQuery(ctx, "SELECT", "vouchers", query, start, err == nil)
	if err == sql.ErrNoRows {
		return fmt.Errorf("voucher %d vanished before consumption", voucherID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock voucher: %w", err)
	}

	var usedBy []int64
	if err := unmarshalJSONColumn(usedByRaw, &usedBy); err != nil {
		return fmt.Errorf("failed to decode used_by: %w", err)
	}
	for _, id := range usedBy {
		if id == userID {
			return tx.Commit()
		}
	}

	usedBy = append(usedBy, userID)
	encoded, err := json.Marshal(usedBy)
	if err != nil {
		return fmt.Errorf("failed to encode used_by: %w", err)
	}

	start = time.Now()
	updateQuery := "UPDATE vouchers SET used_by = ? WHERE id = ?"
	_, err = tx.ExecContext(ctx, updateQuery, encoded, voucherID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "vouchers", updateQuery, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to update voucher usage: %w", err)
	}

	return tx.Commit()
}

// List returns all vouchers, newest first.
func (s *VoucherService) List(ctx context.Context) ([]models.Voucher, error) {
	start := time.Now()
	query := "SELECT " + voucherColumns + " FROM vouchers ORDER BY created_at DESC"
	rows, err := s.db.QueryContext(ctx, query)
	s.metrics.RecordDBQuery(ctx, "SELECT", "vouchers", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query vouchers: %w", err)
	}
	defer rows.Close()

	var vouchers []models.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan voucher: %w", err)
		}
		vouchers = append(vouchers, *v)
	}

	return vouchers, rows.Err()
}

// Create stores a new voucher. The code is normalized to uppercase.
func (s *VoucherService) Create(ctx context.Context, v *models.Voucher) (*models.Voucher, error) {
	if !v.Type.Valid() {
		return nil, fmt.Errorf("unknown discount type %q", v.Type)
	}
	if v.Type == models.DiscountPercentage && (v.Discount < 0 || v.Discount > 100) {
		return nil, fmt.Errorf("percentage discount must be between 0 and 100")
	}
	v.Code = strings.ToUpper(strings.TrimSpace(v.Code))
	if v.Code == "" {
		return nil, fmt.Errorf("voucher code is required")
	}

	userIDs, err := json.Marshal(v.UserIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode user_ids: %w", err)
	}
	usedBy, err := json.Marshal([]int64{})
	if err != nil {
		return nil, fmt.Errorf("failed to encode used_by: %w", err)
	}

	start := time.Now()
	query := "INSERT INTO vouchers (code, type, discount, min_order, start_date, end_date, user_ids, used_by) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	result, err := s.db.ExecContext(ctx, query, v.Code, string(v.Type), v.Discount, v.MinOrder, v.StartDate, v.EndDate, userIDs, usedBy)
	s.metrics.RecordDBQuery(ctx, "INSERT", "vouchers", query, start, err == nil)
	if err != nil {
		// MySQL error 1062
		if strings.Contains(err.Error(), "Duplicate entry") {
			return nil, ErrVoucherExists
		}
		return nil, fmt.Errorf("failed to create voucher: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get voucher ID: %w", err)
	}
	v.ID = id
	v.UsedBy = []int64{}
	v.CreatedAt = s.now()
	return v, nil
}

// Delete removes a voucher by id.
func (s *VoucherService) Delete(ctx context.Context, id int64) error {
	start := time.Now()
	query := "DELETE FROM vouchers WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "DELETE", "vouchers", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to delete voucher: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &VoucherError{Code: fmt.Sprintf("#%d", id), Reason: VoucherNotFound}
	}
	return nil
}
