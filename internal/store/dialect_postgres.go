package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &pgParamBuilder{}
}

func (d *PostgresDialect) SystemTablesSQL() []string {
	return pgSystemTablesSQL
}

func (d *PostgresDialect) CollectionSQL(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id         TEXT PRIMARY KEY,
    data       JSONB NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s (created_at)", table, table),
	}
}

func (d *PostgresDialect) TableExists(ctx context.Context, q Querier, tableName string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1 AND table_schema = current_schema())`,
		tableName,
	).Scan(&exists)
	return exists, err
}

func (d *PostgresDialect) JSONText(column, field string) string {
	return fmt.Sprintf("(%s->>'%s')", column, field)
}

func (d *PostgresDialect) JSONValue(placeholder string) string {
	return placeholder + "::jsonb"
}

func (d *PostgresDialect) JSONColumn(column string) string {
	return column + "::text"
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	errStr := err.Error()
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "duplicate key") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

var pgSystemTablesSQL = []string{
	`CREATE TABLE IF NOT EXISTS _models (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    fields     TEXT NOT NULL,
    compiled   TEXT NOT NULL,
    version    BIGINT NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS _roles (
    name        TEXT PRIMARY KEY,
    permissions TEXT NOT NULL,
    routes      TEXT NOT NULL,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS _api_tokens (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    role       TEXT NOT NULL,
    created_by TEXT NOT NULL DEFAULT '',
    expires_at TEXT NOT NULL,
    created_at TEXT NOT NULL
)`,
}
