package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/modavn/storefront/internal/models"
)

// Not-found sentinels, matched with errors.Is in the handlers.
var (
	ErrProductNotFound  = errors.New("product not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrCartLineNotFound = errors.New("cart line not found")
	ErrUserExists       = errors.New("user already exists")
	ErrVoucherExists    = errors.New("voucher code already exists")
)

// VoucherReason classifies why a voucher evaluation failed.
type VoucherReason string

const (
	VoucherNotFound     VoucherReason = "not_found"
	VoucherUnauthorized VoucherReason = "unauthorized"
	VoucherNotYetValid  VoucherReason = "not_yet_valid"
	VoucherExpired      VoucherReason = "expired"
	VoucherBelowMinimum VoucherReason = "below_minimum"
	VoucherAlreadyUsed  VoucherReason = "already_used"
)

// VoucherError reports a failed voucher evaluation. Shortfall is set
// only for below_minimum so the caller can tell the user how much is
// missing.
type VoucherError struct {
	Code      string
	Reason    VoucherReason
	MinOrder  int64
	Shortfall int64
}

func (e *VoucherError) Error() string {
	switch e.Reason {
	case VoucherNotFound:
		return fmt.Sprintf("voucher %s does not exist", e.Code)
	case VoucherUnauthorized:
		return fmt.Sprintf("voucher %s is not available for this user", e.Code)
	case VoucherNotYetValid:
		return fmt.Sprintf("voucher %s is not yet valid", e.Code)
	case VoucherExpired:
		return fmt.Sprintf("voucher %s has expired", e.Code)
	case VoucherBelowMinimum:
		return fmt.Sprintf("voucher %s requires a minimum order of %d, %d more needed", e.Code, e.MinOrder, e.Shortfall)
	case VoucherAlreadyUsed:
		return fmt.Sprintf("voucher %s was already used", e.Code)
	}
	return fmt.Sprintf("voucher %s rejected", e.Code)
}

// StockError accumulates every offending line of a failed pre-flight
// pass. The order is blocked as a whole.
type StockError struct {
	Problems []string
}

func (e *StockError) Error() string {
	return "insufficient stock: " + strings.Join(e.Problems, "; ")
}

// ValidationError reports missing or malformed checkout fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "invalid checkout input: " + strings.Join(parts, "; ")
}

// TransitionError reports an illegal order status transition.
type TransitionError struct {
	From models.OrderStatus
	To   models.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}
