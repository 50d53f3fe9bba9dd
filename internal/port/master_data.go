package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// Lookups return nil, nil for unknown ids.

type WarehouseLookup interface {
	FindWarehouse(ctx context.Context, id string) (*domain.Warehouse, error)
}

type VariantLookup interface {
	FindVariant(ctx context.Context, id string) (*domain.Variant, error)
}

type UnitLookup interface {
	FindUnit(ctx context.Context, id string) (*domain.Unit, error)
}

type Catalog interface {
	WarehouseLookup
	VariantLookup
	UnitLookup
}
