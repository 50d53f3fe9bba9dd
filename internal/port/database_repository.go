package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type InventoryReader interface {
	// FindByID returns nil, nil when the record does not exist
	FindByID(ctx context.Context, id string) (*domain.InventoryRecord, error)

	// FindOne returns the first match in FEFO order, or nil, nil
	FindOne(ctx context.Context, filter domain.Filter) (*domain.InventoryRecord, error)

	// FindAll returns every match in FEFO order
	FindAll(ctx context.Context, filter domain.Filter) ([]domain.InventoryRecord, error)

	// FindPage returns one page of matches and the total match count
	FindPage(ctx context.Context, filter domain.Filter, page domain.PageRequest) (domain.Page[domain.InventoryRecord], error)
}

// InventoryTx is the view of the store inside one transaction. Reads lock the
// rows they return until the transaction ends.
type InventoryTx interface {
	InventoryReader

	// Create inserts a new record, ErrDuplicateLot if its natural key is taken
	Create(ctx context.Context, rec domain.InventoryRecord) (domain.InventoryRecord, error)

	// Update writes rec if its version still matches, bumping the version;
	// ErrConcurrencyConflict otherwise
	Update(ctx context.Context, rec domain.InventoryRecord) (domain.InventoryRecord, error)

	// Delete removes the record if its version still matches
	Delete(ctx context.Context, id string, version int) error

	// AppendMovement writes an audit entry
	AppendMovement(ctx context.Context, m domain.Movement) error
}

type InventoryRepository interface {
	InventoryReader

	// RunInTx runs fn in a transaction, committing only if fn returns nil
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx InventoryTx) error) error

	// ListMovements returns the audit trail of one record, newest first
	ListMovements(ctx context.Context, recordID string, page domain.PageRequest) (domain.Page[domain.Movement], error)
}
