package handler

import (
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

// Request bodies shared by the HTTP and gRPC transports.

type CheckInRequest struct {
	RequestID      string     `json:"request_id"`
	WarehouseID    string     `json:"warehouse_id"`
	VariantID      string     `json:"variant_id"`
	UnitID         string     `json:"unit_id"`
	Quantity       int        `json:"quantity"`
	Status         string     `json:"status"`
	ExpirationDate *time.Time `json:"expiration_date"`
	Batch          string     `json:"batch"`
}

func (r CheckInRequest) command(actor string) service.CheckInCommand {
	return service.CheckInCommand{
		RequestID:      r.RequestID,
		Actor:          actor,
		WarehouseID:    r.WarehouseID,
		VariantID:      r.VariantID,
		UnitID:         r.UnitID,
		Quantity:       r.Quantity,
		Status:         domain.InventoryStatus(r.Status),
		ExpirationDate: r.ExpirationDate,
		Batch:          r.Batch,
	}
}

type CheckOutRequest struct {
	RequestID   string `json:"request_id"`
	WarehouseID string `json:"warehouse_id"`
	VariantID   string `json:"variant_id"`
	UnitID      string `json:"unit_id"`
	Quantity    int    `json:"quantity"`
	Status      string `json:"status"`
	Batch       string `json:"batch"`
}

func (r CheckOutRequest) command(actor string) service.CheckOutCommand {
	return service.CheckOutCommand{
		RequestID:   r.RequestID,
		Actor:       actor,
		WarehouseID: r.WarehouseID,
		VariantID:   r.VariantID,
		UnitID:      r.UnitID,
		Quantity:    r.Quantity,
		Status:      domain.InventoryStatus(r.Status),
		Batch:       r.Batch,
	}
}

type AdjustRequest struct {
	RequestID      string     `json:"request_id"`
	WarehouseID    string     `json:"warehouse_id"`
	VariantID      string     `json:"variant_id"`
	UnitID         string     `json:"unit_id"`
	Quantity       int        `json:"quantity"`
	Status         string     `json:"status"`
	Batch          string     `json:"batch"`
	ExpirationDate *time.Time `json:"expiration_date"`
}

func (r AdjustRequest) command(actor string) service.AdjustQuantityCommand {
	return service.AdjustQuantityCommand{
		RequestID:      r.RequestID,
		Actor:          actor,
		WarehouseID:    r.WarehouseID,
		VariantID:      r.VariantID,
		UnitID:         r.UnitID,
		Quantity:       r.Quantity,
		Status:         domain.InventoryStatus(r.Status),
		Batch:          r.Batch,
		ExpirationDate: r.ExpirationDate,
	}
}

type TransferRequest struct {
	RequestID         string     `json:"request_id"`
	SourceWarehouseID string     `json:"source_warehouse_id"`
	TargetWarehouseID string     `json:"target_warehouse_id"`
	VariantID         string     `json:"variant_id"`
	UnitID            string     `json:"unit_id"`
	Quantity          int        `json:"quantity"`
	Status            string     `json:"status"`
	ExpirationDate    *time.Time `json:"expiration_date"`
	Batch             string     `json:"batch"`
}

func (r TransferRequest) command(actor string) service.TransferCommand {
	return service.TransferCommand{
		RequestID:         r.RequestID,
		Actor:             actor,
		SourceWarehouseID: r.SourceWarehouseID,
		TargetWarehouseID: r.TargetWarehouseID,
		VariantID:         r.VariantID,
		UnitID:            r.UnitID,
		Quantity:          r.Quantity,
		Status:            domain.InventoryStatus(r.Status),
		ExpirationDate:    r.ExpirationDate,
		Batch:             r.Batch,
	}
}

type WriteOffRequest struct {
	RequestID   string `json:"request_id"`
	WarehouseID string `json:"warehouse_id"`
	VariantID   string `json:"variant_id"`
	UnitID      string `json:"unit_id"`
	Quantity    int    `json:"quantity"`
	Reason      string `json:"reason"`
	Notes       string `json:"notes"`
	Batch       string `json:"batch"`
}

func (r WriteOffRequest) command(actor string) service.WriteOffCommand {
	return service.WriteOffCommand{
		RequestID:   r.RequestID,
		Actor:       actor,
		WarehouseID: r.WarehouseID,
		VariantID:   r.VariantID,
		UnitID:      r.UnitID,
		Quantity:    r.Quantity,
		Reason:      r.Reason,
		Notes:       r.Notes,
		Batch:       r.Batch,
	}
}

type PhysicalCountRequest struct {
	RequestID     string `json:"request_id"`
	WarehouseID   string `json:"warehouse_id"`
	VariantID     string `json:"variant_id"`
	UnitID        string `json:"unit_id"`
	PhysicalCount int    `json:"physical_count"`
	Status        string `json:"status"`
	Batch         string `json:"batch"`
	Reason        string `json:"reason"`
	Notes         string `json:"notes"`
}

func (r PhysicalCountRequest) command(actor string) service.PhysicalCountCommand {
	return service.PhysicalCountCommand{
		RequestID:     r.RequestID,
		Actor:         actor,
		WarehouseID:   r.WarehouseID,
		VariantID:     r.VariantID,
		UnitID:        r.UnitID,
		PhysicalCount: r.PhysicalCount,
		Status:        domain.InventoryStatus(r.Status),
		Batch:         r.Batch,
		Reason:        r.Reason,
		Notes:         r.Notes,
	}
}

type RecordResponse struct {
	ID             string     `json:"id"`
	WarehouseID    string     `json:"warehouse_id"`
	VariantID      string     `json:"variant_id"`
	UnitID         string     `json:"unit_id"`
	Batch          string     `json:"batch"`
	Status         string     `json:"status"`
	Quantity       int        `json:"quantity"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	Version        int        `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CreatedBy      string     `json:"created_by,omitempty"`
	UpdatedBy      string     `json:"updated_by,omitempty"`
}

func toRecordResponse(rec domain.InventoryRecord) RecordResponse {
	return RecordResponse{
		ID:             rec.ID,
		WarehouseID:    rec.WarehouseID,
		VariantID:      rec.VariantID,
		UnitID:         rec.UnitID,
		Batch:          rec.Batch,
		Status:         string(rec.Status),
		Quantity:       rec.Quantity,
		ExpirationDate: rec.ExpirationDate,
		Version:        rec.Version,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		CreatedBy:      rec.CreatedBy,
		UpdatedBy:      rec.UpdatedBy,
	}
}

type TransferResponse struct {
	TransferID string         `json:"transfer_id"`
	Source     RecordResponse `json:"source"`
	Target     RecordResponse `json:"target"`
}

type MovementResponse struct {
	ID             string    `json:"id"`
	RecordID       string    `json:"record_id"`
	Type           string    `json:"type"`
	Delta          int       `json:"delta"`
	QuantityBefore int       `json:"quantity_before"`
	QuantityAfter  int       `json:"quantity_after"`
	Batch          string    `json:"batch"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	Reference      string    `json:"reference,omitempty"`
	Actor          string    `json:"actor,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toMovementResponse(m domain.Movement) MovementResponse {
	return MovementResponse{
		ID:             m.ID,
		RecordID:       m.RecordID,
		Type:           string(m.Type),
		Delta:          m.Delta,
		QuantityBefore: m.QuantityBefore,
		QuantityAfter:  m.QuantityAfter,
		Batch:          m.Batch,
		Status:         string(m.Status),
		Reason:         m.Reason,
		Notes:          m.Notes,
		Reference:      m.Reference,
		Actor:          m.Actor,
		CreatedAt:      m.CreatedAt,
	}
}

type PageResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func toRecordPage(p domain.Page[domain.InventoryRecord], req domain.PageRequest) PageResponse[RecordResponse] {
	items := make([]RecordResponse, 0, len(p.Items))
	for _, rec := range p.Items {
		items = append(items, toRecordResponse(rec))
	}
	req = req.Normalized()
	return PageResponse[RecordResponse]{Items: items, Total: p.Total, Limit: req.Limit, Offset: req.Offset}
}

func toMovementPage(p domain.Page[domain.Movement], req domain.PageRequest) PageResponse[MovementResponse] {
	items := make([]MovementResponse, 0, len(p.Items))
	for _, m := range p.Items {
		items = append(items, toMovementResponse(m))
	}
	req = req.Normalized()
	return PageResponse[MovementResponse]{Items: items, Total: p.Total, Limit: req.Limit, Offset: req.Offset}
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}
