package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

//go:embed migrations/schema.sql
var migrations embed.FS

// Migrate creates the ledger and master-data tables if they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	schema, err := migrations.ReadFile("migrations/schema.sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	for _, stmt := range strings.Split(string(schema), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// MySQLCatalog reads warehouse, variant and unit master data.
type MySQLCatalog struct {
	db *sql.DB
}

func NewMySQLCatalog(db *sql.DB) *MySQLCatalog {
	return &MySQLCatalog{db: db}
}

func (c *MySQLCatalog) FindWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	var (
		wh  domain.Warehouse
		exp sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT id, code, name, registration_expiration_date
		FROM warehouses WHERE id = ?`, id,
	).Scan(&wh.ID, &wh.Code, &wh.Name, &exp)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query warehouse: %w", err)
	}

	if exp.Valid {
		wh.RegistrationExpirationDate = exp.Time
	}
	return &wh, nil
}

func (c *MySQLCatalog) FindVariant(ctx context.Context, id string) (*domain.Variant, error) {
	var v domain.Variant
	err := c.db.QueryRowContext(ctx, `SELECT id, sku FROM variants WHERE id = ?`, id).Scan(&v.ID, &v.SKU)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query variant: %w", err)
	}
	return &v, nil
}

func (c *MySQLCatalog) FindUnit(ctx context.Context, id string) (*domain.Unit, error) {
	var u domain.Unit
	err := c.db.QueryRowContext(ctx, `SELECT id, name FROM units WHERE id = ?`, id).Scan(&u.ID, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query unit: %w", err)
	}
	return &u, nil
}

// SaveWarehouse inserts or replaces a warehouse. A zero registration
// expiration is stored as NULL.
func (c *MySQLCatalog) SaveWarehouse(ctx context.Context, wh domain.Warehouse) error {
	var exp sql.NullTime
	if !wh.RegistrationExpirationDate.IsZero() {
		exp = sql.NullTime{Time: wh.RegistrationExpirationDate, Valid: true}
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO warehouses (id, code, name, registration_expiration_date)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE code = VALUES(code), name = VALUES(name),
			registration_expiration_date = VALUES(registration_expiration_date)`,
		wh.ID, wh.Code, wh.Name, exp,
	)
	if err != nil {
		return fmt.Errorf("save warehouse: %w", err)
	}
	return nil
}

func (c *MySQLCatalog) SaveVariant(ctx context.Context, v domain.Variant) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO variants (id, sku) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE sku = VALUES(sku)`, v.ID, v.SKU)
	if err != nil {
		return fmt.Errorf("save variant: %w", err)
	}
	return nil
}

func (c *MySQLCatalog) SaveUnit(ctx context.Context, u domain.Unit) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO units (id, name) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name)`, u.ID, u.Name)
	if err != nil {
		return fmt.Errorf("save unit: %w", err)
	}
	return nil
}
