package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	mysqlDuplicateEntry   = 1062
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlockDetected = 1213
)

const recordColumns = `id, warehouse_id, variant_id, unit_id, batch, status, quantity,
	expiration_date, version, created_at, updated_at, created_by, updated_by`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MySQLRepository stores inventory records and their movements.
type MySQLRepository struct {
	mysqlReader
	db *sql.DB
}

func NewMySQLRepository(db *sql.DB) *MySQLRepository {
	return &MySQLRepository{mysqlReader: mysqlReader{q: db}, db: db}
}

// RunInTx commits only when fn returns nil. Lock waits and deadlocks surface
// as ErrConcurrencyConflict so the caller can retry.
func (m *MySQLRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.InventoryTx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{mysqlReader: mysqlReader{q: tx, forUpdate: true}, tx: tx}); err != nil {
		return translateMySQLError(err)
	}

	if err := tx.Commit(); err != nil {
		return translateMySQLError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (m *MySQLRepository) ListMovements(ctx context.Context, recordID string, page domain.PageRequest) (domain.Page[domain.Movement], error) {
	var out domain.Page[domain.Movement]

	if err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inventory_movements WHERE record_id = ?`, recordID,
	).Scan(&out.Total); err != nil {
		return out, fmt.Errorf("count movements: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, record_id, type, warehouse_id, variant_id, unit_id, batch, status,
			delta, quantity_before, quantity_after, reason, notes, reference, actor, created_at
		FROM inventory_movements
		WHERE record_id = ?
		ORDER BY seq DESC
		LIMIT ? OFFSET ?`,
		recordID, page.Limit, page.Offset,
	)
	if err != nil {
		return out, fmt.Errorf("query movements: %w", err)
	}
	defer rows.Close()

	out.Items = []domain.Movement{}
	for rows.Next() {
		var mv domain.Movement
		if err := rows.Scan(&mv.ID, &mv.RecordID, &mv.Type, &mv.WarehouseID, &mv.VariantID, &mv.UnitID,
			&mv.Batch, &mv.Status, &mv.Delta, &mv.QuantityBefore, &mv.QuantityAfter,
			&mv.Reason, &mv.Notes, &mv.Reference, &mv.Actor, &mv.CreatedAt); err != nil {
			return out, fmt.Errorf("scan movement: %w", err)
		}
		out.Items = append(out.Items, mv)
	}
	return out, rows.Err()
}

type mysqlTx struct {
	mysqlReader
	tx *sql.Tx
}

func (t *mysqlTx) Create(ctx context.Context, rec domain.InventoryRecord) (domain.InventoryRecord, error) {
	rec.Version = 1
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WarehouseID, rec.VariantID, rec.UnitID, rec.Batch, string(rec.Status), rec.Quantity,
		nullTime(rec.ExpirationDate), rec.Version, rec.CreatedAt, rec.UpdatedAt, rec.CreatedBy, rec.UpdatedBy,
	)
	if isDuplicateEntry(err) {
		return domain.InventoryRecord{}, fmt.Errorf("%w: %s", domain.ErrDuplicateLot, rec.Key())
	}
	if err != nil {
		return domain.InventoryRecord{}, fmt.Errorf("insert inventory record: %w", err)
	}
	return rec, nil
}

func (t *mysqlTx) Update(ctx context.Context, rec domain.InventoryRecord) (domain.InventoryRecord, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_records
		SET unit_id = ?, batch = ?, status = ?, quantity = ?, expiration_date = ?,
			updated_at = ?, updated_by = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		rec.UnitID, rec.Batch, string(rec.Status), rec.Quantity, nullTime(rec.ExpirationDate),
		rec.UpdatedAt, rec.UpdatedBy, rec.ID, rec.Version,
	)
	if isDuplicateEntry(err) {
		return domain.InventoryRecord{}, fmt.Errorf("%w: %s", domain.ErrDuplicateLot, rec.Key())
	}
	if err != nil {
		return domain.InventoryRecord{}, fmt.Errorf("update inventory record: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.InventoryRecord{}, fmt.Errorf("%w: record %s at version %d", domain.ErrConcurrencyConflict, rec.ID, rec.Version)
	}

	rec.Version++
	return rec, nil
}

func (t *mysqlTx) Delete(ctx context.Context, id string, version int) error {
	result, err := t.tx.ExecContext(ctx,
		`DELETE FROM inventory_records WHERE id = ? AND version = ?`, id, version)
	if err != nil {
		return fmt.Errorf("delete inventory record: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: record %s at version %d", domain.ErrConcurrencyConflict, id, version)
	}
	return nil
}

func (t *mysqlTx) AppendMovement(ctx context.Context, mv domain.Movement) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_movements (id, record_id, type, warehouse_id, variant_id, unit_id, batch, status,
			delta, quantity_before, quantity_after, reason, notes, reference, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mv.ID, mv.RecordID, string(mv.Type), mv.WarehouseID, mv.VariantID, mv.UnitID, mv.Batch, string(mv.Status),
		mv.Delta, mv.QuantityBefore, mv.QuantityAfter, mv.Reason, mv.Notes, mv.Reference, mv.Actor, mv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

// mysqlReader runs the read queries. Inside a transaction it locks the rows
// it returns.
type mysqlReader struct {
	q         queryer
	forUpdate bool
}

func (r mysqlReader) lockClause() string {
	if r.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func (r mysqlReader) FindByID(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	rec, err := scanRecord(r.q.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM inventory_records WHERE id = ?`+r.lockClause(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory record: %w", err)
	}
	return &rec, nil
}

func (r mysqlReader) FindOne(ctx context.Context, filter domain.Filter) (*domain.InventoryRecord, error) {
	recs, err := r.find(ctx, filter, domain.PageRequest{Limit: 1})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (r mysqlReader) FindAll(ctx context.Context, filter domain.Filter) ([]domain.InventoryRecord, error) {
	return r.find(ctx, filter, domain.PageRequest{})
}

func (r mysqlReader) FindPage(ctx context.Context, filter domain.Filter, page domain.PageRequest) (domain.Page[domain.InventoryRecord], error) {
	var out domain.Page[domain.InventoryRecord]
	page = page.Normalized()

	where, args, err := compilePredicate(filter.Predicate())
	if err != nil {
		return out, err
	}
	if err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inventory_records WHERE `+where, args...,
	).Scan(&out.Total); err != nil {
		return out, fmt.Errorf("count inventory records: %w", err)
	}

	out.Items, err = r.find(ctx, filter, page)
	return out, err
}

// find runs the filtered query; a zero Limit means unbounded.
func (r mysqlReader) find(ctx context.Context, filter domain.Filter, page domain.PageRequest) ([]domain.InventoryRecord, error) {
	where, args, err := compilePredicate(filter.Predicate())
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + recordColumns + ` FROM inventory_records WHERE ` + where + ` ORDER BY ` + orderClause(page)
	if page.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, page.Limit, page.Offset)
	}
	query += r.lockClause()

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query inventory records: %w", err)
	}
	defer rows.Close()

	recs := []domain.InventoryRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (domain.InventoryRecord, error) {
	var (
		rec    domain.InventoryRecord
		status string
		exp    sql.NullTime
	)
	err := s.Scan(&rec.ID, &rec.WarehouseID, &rec.VariantID, &rec.UnitID, &rec.Batch, &status, &rec.Quantity,
		&exp, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt, &rec.CreatedBy, &rec.UpdatedBy)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	rec.Status = domain.InventoryStatus(status)
	if exp.Valid {
		t := exp.Time
		rec.ExpirationDate = &t
	}
	return rec, nil
}

var columnByField = map[domain.Field]string{
	domain.FieldWarehouseID:    "warehouse_id",
	domain.FieldVariantID:      "variant_id",
	domain.FieldUnitID:         "unit_id",
	domain.FieldBatch:          "batch",
	domain.FieldStatus:         "status",
	domain.FieldQuantity:       "quantity",
	domain.FieldExpirationDate: "expiration_date",
}

var comparison = map[domain.Operator]string{
	domain.OpEq:  "=",
	domain.OpLte: "<=",
	domain.OpGte: ">=",
}

// compilePredicate renders p as a WHERE fragment with positional args.
// Comparisons on expiration_date never yield NULL, so NOT stays two-valued
// and agrees with domain.Evaluate.
func compilePredicate(p domain.Predicate) (string, []any, error) {
	switch p.Op {
	case domain.OpAnd, domain.OpOr:
		if len(p.Operands) == 0 {
			if p.Op == domain.OpAnd {
				return "1 = 1", nil, nil
			}
			return "1 = 0", nil, nil
		}
		joiner := " AND "
		if p.Op == domain.OpOr {
			joiner = " OR "
		}
		parts := make([]string, 0, len(p.Operands))
		var args []any
		for _, op := range p.Operands {
			sqlPart, opArgs, err := compilePredicate(op)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, "("+sqlPart+")")
			args = append(args, opArgs...)
		}
		return strings.Join(parts, joiner), args, nil

	case domain.OpNot:
		if len(p.Operands) != 1 {
			return "", nil, fmt.Errorf("%w: not takes one operand", domain.ErrValidation)
		}
		inner, args, err := compilePredicate(p.Operands[0])
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + inner + ")", args, nil
	}

	col, ok := columnByField[p.Field]
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown field %q", domain.ErrValidation, p.Field)
	}

	if p.Op == domain.OpIsNull {
		return col + " IS NULL", nil, nil
	}

	cmp, ok := comparison[p.Op]
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown operator %q", domain.ErrValidation, p.Op)
	}

	arg := p.Value
	if s, ok := arg.(domain.InventoryStatus); ok {
		arg = string(s)
	}
	if p.Field == domain.FieldExpirationDate {
		return col + " IS NOT NULL AND " + col + " " + cmp + " ?", []any{arg}, nil
	}
	return col + " " + cmp + " ?", []any{arg}, nil
}

func orderClause(page domain.PageRequest) string {
	dir := "ASC"
	if page.Desc {
		dir = "DESC"
	}
	switch page.SortBy {
	case domain.SortExpirationDate:
		return "expiration_date IS NULL, expiration_date " + dir + ", id ASC"
	case domain.SortQuantity:
		return "quantity " + dir + ", id ASC"
	case domain.SortCreatedAt:
		return "created_at " + dir + ", id ASC"
	case domain.SortUpdatedAt:
		return "updated_at " + dir + ", id ASC"
	default:
		return "expiration_date IS NULL, expiration_date ASC, created_at ASC, id ASC"
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

func translateMySQLError(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && (me.Number == mysqlDeadlockDetected || me.Number == mysqlLockWaitTimeout) {
		return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
	}
	return err
}
