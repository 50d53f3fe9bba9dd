package domain

import "time"

// Filter selects inventory records. Zero-valued fields do not constrain.
type Filter struct {
	WarehouseID   string
	VariantID     string
	UnitID        string
	Batch         string
	Status        InventoryStatus
	ExpiresAfter  *time.Time
	ExpiresBefore *time.Time
	Spec          Specification
}

// Predicate folds the filter into a single store-level predicate.
func (f Filter) Predicate() Predicate {
	var ps []Predicate
	if f.WarehouseID != "" {
		ps = append(ps, Eq(FieldWarehouseID, f.WarehouseID))
	}
	if f.VariantID != "" {
		ps = append(ps, Eq(FieldVariantID, f.VariantID))
	}
	if f.UnitID != "" {
		ps = append(ps, Eq(FieldUnitID, f.UnitID))
	}
	if f.Batch != "" {
		ps = append(ps, Eq(FieldBatch, f.Batch))
	}
	if f.Status != "" {
		ps = append(ps, Eq(FieldStatus, f.Status))
	}
	if f.ExpiresAfter != nil {
		ps = append(ps, Gte(FieldExpirationDate, *f.ExpiresAfter))
	}
	if f.ExpiresBefore != nil {
		ps = append(ps, Lte(FieldExpirationDate, *f.ExpiresBefore))
	}
	if f.Spec != nil {
		ps = append(ps, f.Spec.Predicate())
	}
	return AllOf(ps...)
}

func (f Filter) Matches(rec InventoryRecord) bool {
	return Evaluate(f.Predicate(), rec)
}

type SortField string

const (
	// SortFEFO orders by expiration ascending with undated lots last, then
	// by creation time.
	SortFEFO           SortField = ""
	SortExpirationDate SortField = "expiration_date"
	SortQuantity       SortField = "quantity"
	SortCreatedAt      SortField = "created_at"
	SortUpdatedAt      SortField = "updated_at"
)

func (s SortField) Valid() bool {
	switch s {
	case SortFEFO, SortExpirationDate, SortQuantity, SortCreatedAt, SortUpdatedAt:
		return true
	}
	return false
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 1000
)

type PageRequest struct {
	Limit  int
	Offset int
	SortBy SortField
	Desc   bool
}

// Normalized clamps the limit and offset into usable bounds.
func (p PageRequest) Normalized() PageRequest {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	if !p.SortBy.Valid() {
		p.SortBy = SortFEFO
	}
	return p
}

type Page[T any] struct {
	Items []T
	Total int
}
