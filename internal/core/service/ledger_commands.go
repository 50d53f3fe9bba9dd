package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// Every command may carry a RequestID for replay protection and an Actor
// recorded in the audit fields.

type CheckInCommand struct {
	RequestID      string
	Actor          string
	WarehouseID    string                 `validate:"required"`
	VariantID      string                 `validate:"required"`
	UnitID         string                 `validate:"required"`
	Quantity       int                    `validate:"gt=0"`
	Status         domain.InventoryStatus `validate:"omitempty,inventory_status"`
	ExpirationDate *time.Time
	Batch          string
}

type CheckOutCommand struct {
	RequestID   string
	Actor       string
	WarehouseID string                 `validate:"required"`
	VariantID   string                 `validate:"required"`
	UnitID      string                 `validate:"required"`
	Quantity    int                    `validate:"gt=0"`
	Status      domain.InventoryStatus `validate:"omitempty,inventory_status"`
	Batch       string
}

// AdjustQuantityCommand sets an absolute quantity. Batch, UnitID and
// ExpirationDate overwrite the stored values when they differ.
type AdjustQuantityCommand struct {
	RequestID      string
	Actor          string
	WarehouseID    string                 `validate:"required"`
	VariantID      string                 `validate:"required"`
	UnitID         string                 `validate:"required"`
	Quantity       int                    `validate:"gte=0"`
	Status         domain.InventoryStatus `validate:"omitempty,inventory_status"`
	Batch          string
	ExpirationDate *time.Time
}

type TransferCommand struct {
	RequestID         string
	Actor             string
	SourceWarehouseID string                 `validate:"required"`
	TargetWarehouseID string                 `validate:"required,nefield=SourceWarehouseID"`
	VariantID         string                 `validate:"required"`
	UnitID            string                 `validate:"required"`
	Quantity          int                    `validate:"gt=0"`
	Status            domain.InventoryStatus `validate:"omitempty,inventory_status"`
	ExpirationDate    *time.Time
	Batch             string // source lot; FEFO when empty
}

type WriteOffCommand struct {
	RequestID   string
	Actor       string
	WarehouseID string `validate:"required"`
	VariantID   string `validate:"required"`
	UnitID      string `validate:"required"`
	Quantity    int    `validate:"gt=0"`
	Reason      string `validate:"required"`
	Notes       string
	Batch       string
}

type PhysicalCountCommand struct {
	RequestID     string
	Actor         string
	WarehouseID   string                 `validate:"required"`
	VariantID     string                 `validate:"required"`
	UnitID        string                 `validate:"required"`
	PhysicalCount int                    `validate:"gte=0"`
	Status        domain.InventoryStatus `validate:"omitempty,inventory_status"`
	Batch         string
	Reason        string
	Notes         string
}

type DeleteCommand struct {
	RequestID string
	Actor     string
	ID        string `validate:"required"`
}

// LocateQuery addresses a candidate ledger row. Without a batch the
// first-expiring lot is returned.
type LocateQuery struct {
	WarehouseID string                 `validate:"required"`
	VariantID   string                 `validate:"required"`
	UnitID      string                 `validate:"required"`
	Status      domain.InventoryStatus `validate:"omitempty,inventory_status"`
	Batch       string
}

type TransferResult struct {
	TransferID string
	Source     domain.InventoryRecord
	Target     domain.InventoryRecord
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("inventory_status", func(fl validator.FieldLevel) bool {
		return domain.InventoryStatus(fl.Field().String()).Valid()
	})
	return v
}

// validateCommand runs the struct tags and folds failures into ErrValidation.
func (s *LedgerService) validateCommand(cmd any) error {
	if err := s.validate.Struct(cmd); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gt":
		return fe.Field() + " must be greater than " + fe.Param()
	case "gte":
		return fe.Field() + " must not be negative"
	case "nefield":
		return fe.Field() + " must differ from " + fe.Param()
	case "inventory_status":
		return fmt.Sprintf("%s %q is not a known status", fe.Field(), fe.Value())
	}
	return fe.Field() + " failed " + fe.Tag()
}

func statusOrDefault(s domain.InventoryStatus) domain.InventoryStatus {
	if s == "" {
		return domain.StatusAvailable
	}
	return s
}
