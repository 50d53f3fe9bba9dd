package domain

import (
	"time"

	"github.com/google/uuid"
)

type MovementType string

const (
	MovementCheckIn       MovementType = "check_in"
	MovementCheckOut      MovementType = "check_out"
	MovementAdjust        MovementType = "adjust"
	MovementTransferOut   MovementType = "transfer_out"
	MovementTransferIn    MovementType = "transfer_in"
	MovementWriteOff      MovementType = "write_off"
	MovementPhysicalCount MovementType = "physical_count"
	MovementDelete        MovementType = "delete"
)

// Movement is the audit trail entry written with every ledger mutation.
type Movement struct {
	ID             string
	RecordID       string
	Type           MovementType
	WarehouseID    string
	VariantID      string
	UnitID         string
	Batch          string
	Status         InventoryStatus
	Delta          int
	QuantityBefore int
	QuantityAfter  int
	Reason         string
	Notes          string
	Reference      string // shared by both legs of a transfer
	Actor          string
	CreatedAt      time.Time
}

// NewMovement records the change from before to after on rec.
func NewMovement(typ MovementType, rec InventoryRecord, before int, actor string, now time.Time) Movement {
	return Movement{
		ID:             uuid.NewString(),
		RecordID:       rec.ID,
		Type:           typ,
		WarehouseID:    rec.WarehouseID,
		VariantID:      rec.VariantID,
		UnitID:         rec.UnitID,
		Batch:          rec.Batch,
		Status:         rec.Status,
		Delta:          rec.Quantity - before,
		QuantityBefore: before,
		QuantityAfter:  rec.Quantity,
		Actor:          actor,
		CreatedAt:      now,
	}
}
