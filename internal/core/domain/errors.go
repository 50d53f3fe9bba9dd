package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrAttributeMismatch    = errors.New("attribute mismatch")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrExpiredStock         = errors.New("expired stock")
	ErrNonZeroStockDeletion = errors.New("cannot delete inventory with quantity greater than 0")
	ErrNoAdjustmentNeeded   = errors.New("no adjustment needed")
	ErrConcurrencyConflict  = errors.New("concurrency conflict")
	ErrDuplicateRequest     = errors.New("duplicate request")

	// ErrInventoryNotFound matches ErrNotFound as well.
	ErrInventoryNotFound = fmt.Errorf("inventory %w", ErrNotFound)

	// ErrDuplicateLot is reported by stores when a write would create a second
	// row for an existing natural key.
	ErrDuplicateLot = errors.New("duplicate lot")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrValidation, "validation"},
	{ErrInventoryNotFound, "inventory_not_found"},
	{ErrNotFound, "not_found"},
	{ErrAttributeMismatch, "attribute_mismatch"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrExpiredStock, "expired_stock"},
	{ErrNonZeroStockDeletion, "non_zero_stock_deletion"},
	{ErrNoAdjustmentNeeded, "no_adjustment_needed"},
	{ErrConcurrencyConflict, "concurrency_conflict"},
	{ErrDuplicateRequest, "duplicate_request"},
	{ErrDuplicateLot, "duplicate_lot"},
}

// Kind names the taxonomy entry of err: "" for nil, "internal" when err
// matches none.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
