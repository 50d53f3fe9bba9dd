package service

import (
	"context"
	"fmt"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// Locate resolves the record a location addresses. Absence is nil, nil.
func (s *LedgerService) Locate(ctx context.Context, q LocateQuery) (*domain.InventoryRecord, error) {
	if err := s.validateCommand(q); err != nil {
		return nil, err
	}
	return s.repo.FindOne(ctx, domain.Filter{
		WarehouseID: q.WarehouseID,
		VariantID:   q.VariantID,
		UnitID:      q.UnitID,
		Status:      statusOrDefault(q.Status),
		Batch:       q.Batch,
	})
}

func (s *LedgerService) FindByID(ctx context.Context, id string) (domain.InventoryRecord, error) {
	if id == "" {
		return domain.InventoryRecord{}, fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	if rec == nil {
		return domain.InventoryRecord{}, fmt.Errorf("%w: id %s", domain.ErrInventoryNotFound, id)
	}
	return *rec, nil
}

func (s *LedgerService) FindPage(ctx context.Context, filter domain.Filter, page domain.PageRequest) (domain.Page[domain.InventoryRecord], error) {
	if page.SortBy != domain.SortFEFO && !page.SortBy.Valid() {
		return domain.Page[domain.InventoryRecord]{}, fmt.Errorf("%w: unknown sort field %q", domain.ErrValidation, page.SortBy)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return domain.Page[domain.InventoryRecord]{}, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, filter.Status)
	}
	return s.repo.FindPage(ctx, filter, page.Normalized())
}

// ExpiringSoon lists lots expiring within days, undated lots included. An
// empty warehouseID spans all warehouses.
func (s *LedgerService) ExpiringSoon(ctx context.Context, warehouseID string, days int, page domain.PageRequest) (domain.Page[domain.InventoryRecord], error) {
	if days < 0 {
		return domain.Page[domain.InventoryRecord]{}, fmt.Errorf("%w: days must not be negative", domain.ErrValidation)
	}
	if page.SortBy == domain.SortFEFO {
		page.SortBy = domain.SortExpirationDate
	}
	return s.FindPage(ctx, domain.Filter{
		WarehouseID: warehouseID,
		Spec:        domain.ExpiringWithin(days, s.now()),
	}, page)
}

// LowStock lists available lots holding at most threshold units.
func (s *LedgerService) LowStock(ctx context.Context, warehouseID string, threshold int, page domain.PageRequest) (domain.Page[domain.InventoryRecord], error) {
	if threshold < 0 {
		return domain.Page[domain.InventoryRecord]{}, fmt.Errorf("%w: threshold must not be negative", domain.ErrValidation)
	}
	if page.SortBy == domain.SortFEFO {
		page.SortBy = domain.SortQuantity
	}
	return s.FindPage(ctx, domain.Filter{
		WarehouseID: warehouseID,
		Spec:        domain.And(domain.Available(), domain.LowStock(threshold)),
	}, page)
}

// TotalQuantity sums every lot of a variant in a warehouse, optionally
// narrowed to one unit and status.
func (s *LedgerService) TotalQuantity(ctx context.Context, warehouseID, variantID, unitID string, status domain.InventoryStatus) (int, error) {
	if warehouseID == "" || variantID == "" {
		return 0, fmt.Errorf("%w: warehouse and variant are required", domain.ErrValidation)
	}
	recs, err := s.repo.FindAll(ctx, domain.Filter{
		WarehouseID: warehouseID,
		VariantID:   variantID,
		UnitID:      unitID,
		Status:      status,
	})
	if err != nil {
		return 0, err
	}

	total := 0
	for _, r := range recs {
		total += r.Quantity
	}
	return total, nil
}

// ListMovements returns the audit trail of a record, newest first. Movements
// outlive the record they describe.
func (s *LedgerService) ListMovements(ctx context.Context, recordID string, page domain.PageRequest) (domain.Page[domain.Movement], error) {
	if recordID == "" {
		return domain.Page[domain.Movement]{}, fmt.Errorf("%w: record id is required", domain.ErrValidation)
	}
	return s.repo.ListMovements(ctx, recordID, page.Normalized())
}
