package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/stock-ledger/internal/port"
)

// BatchGenerator synthesizes batch codes of the form
// BATCH-{YYYYMMDD}-{warehouse}-{variant}-{seq}. The sequence is scoped to
// the day, warehouse and variant, so codes never repeat.
type BatchGenerator struct {
	seq port.Sequencer
}

func NewBatchGenerator(seq port.Sequencer) *BatchGenerator {
	return &BatchGenerator{seq: seq}
}

func (g *BatchGenerator) Generate(ctx context.Context, warehouseID, variantID string, now time.Time) (string, error) {
	day := now.UTC().Format("20060102")

	n, err := g.seq.Next(ctx, fmt.Sprintf("batch:%s:%s:%s", day, warehouseID, variantID))
	if err != nil {
		return "", fmt.Errorf("next batch sequence: %w", err)
	}

	return fmt.Sprintf("BATCH-%s-%s-%s-%03d", day, warehouseID, variantID, n), nil
}
