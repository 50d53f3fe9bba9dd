package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type InventoryStatus string

const (
	StatusAvailable   InventoryStatus = "available"
	StatusReserved    InventoryStatus = "reserved"
	StatusDamaged     InventoryStatus = "damaged"
	StatusQuarantined InventoryStatus = "quarantined"
	StatusExpired     InventoryStatus = "expired"
)

var knownStatuses = map[InventoryStatus]struct{}{
	StatusAvailable:   {},
	StatusReserved:    {},
	StatusDamaged:     {},
	StatusQuarantined: {},
	StatusExpired:     {},
}

// Valid reports whether s belongs to the closed status set.
func (s InventoryStatus) Valid() bool {
	_, ok := knownStatuses[s]
	return ok
}

// InventoryRecord is one row of on-hand stock for a lot.
type InventoryRecord struct {
	ID             string
	WarehouseID    string
	VariantID      string
	UnitID         string
	Batch          string
	Status         InventoryStatus
	Quantity       int
	ExpirationDate *time.Time
	Version        int // optimistic locking
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CreatedBy      string
	UpdatedBy      string
}

// NewInventoryRecord builds an unsaved record with a fresh id.
func NewInventoryRecord(key LocationKey, quantity int, expiration *time.Time, actor string, now time.Time) InventoryRecord {
	return InventoryRecord{
		ID:             uuid.NewString(),
		WarehouseID:    key.WarehouseID,
		VariantID:      key.VariantID,
		UnitID:         key.UnitID,
		Batch:          key.Batch,
		Status:         key.Status,
		Quantity:       quantity,
		ExpirationDate: expiration,
		CreatedAt:      now,
		UpdatedAt:      now,
		CreatedBy:      actor,
		UpdatedBy:      actor,
	}
}

// Key returns the natural key of the record.
func (r InventoryRecord) Key() LocationKey {
	return LocationKey{
		WarehouseID: r.WarehouseID,
		VariantID:   r.VariantID,
		UnitID:      r.UnitID,
		Batch:       r.Batch,
		Status:      r.Status,
	}
}

// ExpiresBefore reports whether the record expires strictly before t.
// Records without expiration never do.
func (r InventoryRecord) ExpiresBefore(t time.Time) bool {
	return r.ExpirationDate != nil && r.ExpirationDate.Before(t)
}

// Touch stamps the update audit fields.
func (r *InventoryRecord) Touch(actor string, now time.Time) {
	r.UpdatedAt = now
	if actor != "" {
		r.UpdatedBy = actor
	}
}

// LocationKey addresses a ledger row: (warehouse, variant, unit, batch, status).
type LocationKey struct {
	WarehouseID string
	VariantID   string
	UnitID      string
	Batch       string
	Status      InventoryStatus
}

// LockKey is the serialization scope for mutations. All lots of a variant in
// one warehouse share it, so lot resolution and creation cannot race.
func (k LocationKey) LockKey() string {
	return fmt.Sprintf("%s:%s", k.WarehouseID, k.VariantID)
}

func (k LocationKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", k.WarehouseID, k.VariantID, k.UnitID, k.Batch, k.Status)
}

// LaterOf returns the later of two optional timestamps.
func LaterOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}
