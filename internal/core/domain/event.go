package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventCheckedIn   EventType = "InventoryCheckedIn"
	EventCheckedOut  EventType = "InventoryCheckedOut"
	EventAdjusted    EventType = "InventoryAdjusted"
	EventTransferred EventType = "InventoryTransferred"
	EventWrittenOff  EventType = "InventoryWrittenOff"
	EventCounted     EventType = "InventoryCounted"
	EventDeleted     EventType = "InventoryDeleted"
)

// LedgerEvent is published after a mutation commits.
type LedgerEvent struct {
	ID                string     `json:"id"`
	Type              EventType  `json:"type"`
	OccurredAt        time.Time  `json:"occurredAt"`
	RecordID          string     `json:"recordId"`
	WarehouseID       string     `json:"warehouseId"`
	TargetWarehouseID string     `json:"targetWarehouseId,omitempty"`
	TargetRecordID    string     `json:"targetRecordId,omitempty"`
	VariantID         string     `json:"variantId"`
	UnitID            string     `json:"unitId"`
	Batch             string     `json:"batch"`
	Status            string     `json:"status"`
	Quantity          int        `json:"quantity"`
	Balance           int        `json:"balance"`
	ExpirationDate    *time.Time `json:"expirationDate,omitempty"`
	Reason            string     `json:"reason,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	Actor             string     `json:"actor,omitempty"`
}

// NewLedgerEvent describes a change of quantity on rec.
func NewLedgerEvent(typ EventType, rec InventoryRecord, quantity int, now time.Time) LedgerEvent {
	return LedgerEvent{
		ID:             uuid.NewString(),
		Type:           typ,
		OccurredAt:     now,
		RecordID:       rec.ID,
		WarehouseID:    rec.WarehouseID,
		VariantID:      rec.VariantID,
		UnitID:         rec.UnitID,
		Batch:          rec.Batch,
		Status:         string(rec.Status),
		Quantity:       quantity,
		Balance:        rec.Quantity,
		ExpirationDate: rec.ExpirationDate,
	}
}

// AggregateKey partitions events so one lot's events stay ordered.
func (e LedgerEvent) AggregateKey() string {
	return e.WarehouseID + "-" + e.VariantID
}
