package domain

import "time"

type Field string

const (
	FieldWarehouseID    Field = "warehouse_id"
	FieldVariantID      Field = "variant_id"
	FieldUnitID         Field = "unit_id"
	FieldBatch          Field = "batch"
	FieldStatus         Field = "status"
	FieldQuantity       Field = "quantity"
	FieldExpirationDate Field = "expiration_date"
)

type Operator string

const (
	OpEq     Operator = "eq"
	OpLte    Operator = "lte"
	OpGte    Operator = "gte"
	OpIsNull Operator = "is_null"
	OpAnd    Operator = "and"
	OpOr     Operator = "or"
	OpNot    Operator = "not"
)

// Predicate is the store-level form of a Specification. Leaf predicates
// compare Field against Value; And/Or/Not combine Operands.
type Predicate struct {
	Op       Operator
	Field    Field
	Value    any
	Operands []Predicate
}

func Eq(f Field, v any) Predicate  { return Predicate{Op: OpEq, Field: f, Value: v} }
func Lte(f Field, v any) Predicate { return Predicate{Op: OpLte, Field: f, Value: v} }
func Gte(f Field, v any) Predicate { return Predicate{Op: OpGte, Field: f, Value: v} }
func IsNull(f Field) Predicate     { return Predicate{Op: OpIsNull, Field: f} }

func AllOf(ps ...Predicate) Predicate { return Predicate{Op: OpAnd, Operands: ps} }
func AnyOf(ps ...Predicate) Predicate { return Predicate{Op: OpOr, Operands: ps} }
func Negate(p Predicate) Predicate    { return Predicate{Op: OpNot, Operands: []Predicate{p}} }

// Specification is a composable rule over inventory records.
type Specification interface {
	IsSatisfiedBy(rec InventoryRecord) bool
	Predicate() Predicate
}

type expiringWithin struct {
	horizon time.Time
}

// ExpiringWithin matches records expiring within days of asOf. Records
// without an expiration date match as well.
func ExpiringWithin(days int, asOf time.Time) Specification {
	return expiringWithin{horizon: asOf.AddDate(0, 0, days)}
}

func (s expiringWithin) IsSatisfiedBy(rec InventoryRecord) bool {
	if rec.ExpirationDate == nil {
		return true
	}
	return !rec.ExpirationDate.After(s.horizon)
}

func (s expiringWithin) Predicate() Predicate {
	return AnyOf(IsNull(FieldExpirationDate), Lte(FieldExpirationDate, s.horizon))
}

type lowStock struct {
	threshold int
}

// LowStock matches records holding at most threshold units.
func LowStock(threshold int) Specification {
	return lowStock{threshold: threshold}
}

func (s lowStock) IsSatisfiedBy(rec InventoryRecord) bool { return rec.Quantity <= s.threshold }
func (s lowStock) Predicate() Predicate                   { return Lte(FieldQuantity, s.threshold) }

type available struct{}

func Available() Specification { return available{} }

func (available) IsSatisfiedBy(rec InventoryRecord) bool { return rec.Status == StatusAvailable }
func (available) Predicate() Predicate                   { return Eq(FieldStatus, StatusAvailable) }

type and struct{ specs []Specification }

func And(specs ...Specification) Specification { return and{specs: specs} }

func (s and) IsSatisfiedBy(rec InventoryRecord) bool {
	for _, spec := range s.specs {
		if !spec.IsSatisfiedBy(rec) {
			return false
		}
	}
	return true
}

func (s and) Predicate() Predicate {
	ps := make([]Predicate, 0, len(s.specs))
	for _, spec := range s.specs {
		ps = append(ps, spec.Predicate())
	}
	return AllOf(ps...)
}

type or struct{ specs []Specification }

func Or(specs ...Specification) Specification { return or{specs: specs} }

func (s or) IsSatisfiedBy(rec InventoryRecord) bool {
	for _, spec := range s.specs {
		if spec.IsSatisfiedBy(rec) {
			return true
		}
	}
	return false
}

func (s or) Predicate() Predicate {
	ps := make([]Predicate, 0, len(s.specs))
	for _, spec := range s.specs {
		ps = append(ps, spec.Predicate())
	}
	return AnyOf(ps...)
}

type not struct{ spec Specification }

func Not(spec Specification) Specification {
	if n, ok := spec.(not); ok {
		return n.spec
	}
	return not{spec: spec}
}

func (s not) IsSatisfiedBy(rec InventoryRecord) bool { return !s.spec.IsSatisfiedBy(rec) }
func (s not) Predicate() Predicate                   { return Negate(s.spec.Predicate()) }

// Evaluate applies a predicate to a record in memory. An empty And is true,
// an empty Or is false.
func Evaluate(p Predicate, rec InventoryRecord) bool {
	switch p.Op {
	case OpAnd:
		for _, op := range p.Operands {
			if !Evaluate(op, rec) {
				return false
			}
		}
		return true
	case OpOr:
		for _, op := range p.Operands {
			if Evaluate(op, rec) {
				return true
			}
		}
		return false
	case OpNot:
		return len(p.Operands) == 1 && !Evaluate(p.Operands[0], rec)
	case OpIsNull:
		return p.Field == FieldExpirationDate && rec.ExpirationDate == nil
	}

	switch p.Field {
	case FieldQuantity:
		v, ok := p.Value.(int)
		return ok && compareInt(p.Op, rec.Quantity, v)
	case FieldExpirationDate:
		v, ok := p.Value.(time.Time)
		if !ok || rec.ExpirationDate == nil {
			return false
		}
		return compareTime(p.Op, *rec.ExpirationDate, v)
	case FieldStatus:
		return p.Op == OpEq && string(rec.Status) == stringValue(p.Value)
	default:
		return p.Op == OpEq && fieldString(rec, p.Field) == stringValue(p.Value)
	}
}

func fieldString(rec InventoryRecord, f Field) string {
	switch f {
	case FieldWarehouseID:
		return rec.WarehouseID
	case FieldVariantID:
		return rec.VariantID
	case FieldUnitID:
		return rec.UnitID
	case FieldBatch:
		return rec.Batch
	}
	return ""
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case InventoryStatus:
		return string(t)
	}
	return ""
}

func compareInt(op Operator, a, b int) bool {
	switch op {
	case OpEq:
		return a == b
	case OpLte:
		return a <= b
	case OpGte:
		return a >= b
	}
	return false
}

func compareTime(op Operator, a, b time.Time) bool {
	switch op {
	case OpEq:
		return a.Equal(b)
	case OpLte:
		return !a.After(b)
	case OpGte:
		return !a.Before(b)
	}
	return false
}
