package publisher

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, event domain.LedgerEvent) error {
	p.logger.Info("ledger event",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("record_id", event.RecordID),
		zap.String("warehouse_id", event.WarehouseID),
		zap.String("variant_id", event.VariantID),
		zap.String("batch", event.Batch),
		zap.Int("quantity", event.Quantity),
		zap.Int("balance", event.Balance),
	)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
