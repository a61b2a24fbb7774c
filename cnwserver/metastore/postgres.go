package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const defaultPostgresTable = "cnw_license_meta"

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTableName sets the PostgreSQL table name. Default: "cnw_license_meta".
func WithTableName(name string) PostgresOption {
	return func(s *PostgresStore) {
		s.tableName = name
	}
}

// PgxConn is the subset of *pgxpool.Pool used by PostgresStore.
type PgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL with one JSONB row per (license, key).
type PostgresStore struct {
	pool      PgxConn
	tableName string
}

// NewPostgresStore creates a new PostgreSQL-backed metadata store.
// It auto-creates the table on initialization.
func NewPostgresStore(ctx context.Context, pool PgxConn, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{
		pool:      pool,
		tableName: defaultPostgresTable,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := checkIdentifier(s.tableName); err != nil {
		return nil, fmt.Errorf("table name: %w", err)
	}
	if s.pool == nil {
		return nil, errors.New("postgres pool is required")
	}
	if err := s.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			license_id BIGINT NOT NULL,
			meta_key   TEXT NOT NULL,
			meta       JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (license_id, meta_key)
		);
	`, s.tableName)
	_, err := s.pool.Exec(ctx, query)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, licenseID int64, key string) (Metadata, error) {
	query := fmt.Sprintf(`SELECT meta FROM %s WHERE license_id = $1 AND meta_key = $2`, s.tableName)

	var raw []byte
	err := s.pool.QueryRow(ctx, query, licenseID, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Metadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}

	meta := Metadata{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

func (s *PostgresStore) Update(ctx context.Context, licenseID int64, key string, meta Metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (license_id, meta_key, meta, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (license_id, meta_key) DO UPDATE SET
			meta = EXCLUDED.meta,
			updated_at = EXCLUDED.updated_at
	`, s.tableName)

	if _, err := s.pool.Exec(ctx, query, licenseID, key, raw); err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close(_ context.Context) error {
	return nil // caller manages the pgxpool.Pool lifecycle
}
