package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) SystemTablesSQL() []string {
	return sqliteSystemTablesSQL
}

func (d *SQLiteDialect) CollectionSQL(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id         TEXT PRIMARY KEY,
    data       TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s (created_at)", table, table),
	}
}

func (d *SQLiteDialect) TableExists(ctx context.Context, q Querier, tableName string) (bool, error) {
	var name string
	err := q.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?1",
		tableName,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *SQLiteDialect) JSONText(column, field string) string {
	return fmt.Sprintf("json_extract(%s, '$.%s')", column, field)
}

func (d *SQLiteDialect) JSONValue(placeholder string) string {
	return placeholder
}

func (d *SQLiteDialect) JSONColumn(column string) string {
	return column
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- SQLite DDL ---

var sqliteSystemTablesSQL = []string{
	`CREATE TABLE IF NOT EXISTS _models (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    fields     TEXT NOT NULL,
    compiled   TEXT NOT NULL,
    version    INTEGER NOT NULL DEFAULT 1,
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
