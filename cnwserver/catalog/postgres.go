package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CloudNativeWorks/cnw-license-server/cnwserver"
)

const (
	defaultProductsTable = "cnw_products"
	defaultLicensesTable = "cnw_licenses"
)

// validIdentifier matches safe PostgreSQL identifiers (letters, digits, underscores).
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresOption configures a PostgresCatalog.
type PostgresOption func(*PostgresCatalog)

// WithProductsTable sets the products table name. Default: "cnw_products".
func WithProductsTable(name string) PostgresOption {
	return func(c *PostgresCatalog) {
		c.productsTable = name
	}
}

// WithLicensesTable sets the licenses table name. Default: "cnw_licenses".
func WithLicensesTable(name string) PostgresOption {
	return func(c *PostgresCatalog) {
		c.licensesTable = name
	}
}

// PostgresCatalog reads products and licenses from PostgreSQL.
type PostgresCatalog struct {
	pool          *pgxpool.Pool
	productsTable string
	licensesTable string
}

// NewPostgresCatalog creates a PostgreSQL-backed catalog.
// It auto-creates the tables on initialization.
func NewPostgresCatalog(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresCatalog, error) {
	c := &PostgresCatalog{
		pool:          pool,
		productsTable: defaultProductsTable,
		licensesTable: defaultLicensesTable,
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, name := range []string{c.productsTable, c.licensesTable} {
		if !validIdentifier.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
		}
	}
	if c.pool == nil {
		return nil, errors.New("postgres pool is required")
	}
	if err := c.ensureTables(ctx); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return c, nil
}

func (c *PostgresCatalog) ensureTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id   BIGINT PRIMARY KEY,
			meta JSONB NOT NULL DEFAULT '{}'::jsonb
		);
		CREATE TABLE IF NOT EXISTS %s (
			id          BIGSERIAL PRIMARY KEY,
			product_id  BIGINT NOT NULL,
			license_key TEXT NOT NULL UNIQUE,
			status      TEXT NOT NULL DEFAULT 'active',
			expires_at  TIMESTAMPTZ
		);
	`, c.productsTable, c.licensesTable)
	_, err := c.pool.Exec(ctx, query)
	return err
}

func (c *PostgresCatalog) GetData(ctx context.Context, productID int64) (cnwserver.ProductMeta, error) {
	query := fmt.Sprintf(`SELECT meta FROM %s WHERE id = $1`, c.productsTable)

	var raw []byte
	err := c.pool.QueryRow(ctx, query, productID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	meta := cnwserver.ProductMeta{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode product meta: %w", err)
	}
	return meta, nil
}

func (c *PostgresCatalog) FindLicense(ctx context.Context, licenseKey string) (*cnwserver.License, error) {
	query := fmt.Sprintf(`
		SELECT id, product_id, license_key, status, expires_at
		FROM %s WHERE license_key = $1
	`, c.licensesTable)

	var (
		l       cnwserver.License
		expires *time.Time
	)
	err := c.pool.QueryRow(ctx, query, licenseKey).Scan(&l.ID, &l.ProductID, &l.LicenseKey, &l.Status, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find license: %w", err)
	}
	l.ExpiresAt = expires
	return &l, nil
}
