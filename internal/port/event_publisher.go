package port

import (
	"context"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type EventPublisher interface {
	Publish(ctx context.Context, event domain.LedgerEvent) error
	Close() error
}

// LedgerObserver receives operation outcomes for metrics.
type LedgerObserver interface {
	ObserveOperation(operation, outcome string, elapsed time.Duration)
	ObservePublish(eventType, outcome string)
}
