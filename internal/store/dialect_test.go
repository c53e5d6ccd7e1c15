package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapError_PG_UniqueViolation(t *testing.T) {
	dialect := &PostgresDialect{}
	pgErr := &pgconn.PgError{
		Code:           "23505",
		Message:        "duplicate key value violates unique constraint \"idx_users_email\"",
		ConstraintName: "idx_users_email",
		Detail:         "Key (email)=(dup@test.com) already exists.",
	}
	wrapped := fmt.Errorf("exec: %w", pgErr)

	mapped := MapError(dialect, wrapped)

	if !errors.Is(mapped, ErrUniqueViolation) {
		t.Fatalf("expected ErrUniqueViolation, got: %v", mapped)
	}

	// Original pgconn.PgError should still be extractable
	var extracted *pgconn.PgError
	if !errors.As(mapped, &extracted) {
		t.Fatal("expected pgconn.PgError to still be extractable via errors.As")
	}
	if extracted.ConstraintName != "idx_users_email" {
		t.Fatalf("expected constraint name 'idx_users_email', got: %s", extracted.ConstraintName)
	}
}

func TestMapError_PG_OtherError(t *testing.T) {
	dialect := &PostgresDialect{}
	err := fmt.Errorf("some other error")
	mapped := MapError(dialect, err)
	if mapped != err {
		t.Fatalf("expected same error back, got: %v", mapped)
	}
}

func TestMapError_PG_Nil(t *testing.T) {
	dialect := &PostgresDialect{}
	mapped := MapError(dialect, nil)
	if mapped != nil {
		t.Fatalf("expected nil, got: %v", mapped)
	}
}

func TestMapError_SQLite_UniqueViolation(t *testing.T) {
	dialect := &SQLiteDialect{}
	err := fmt.Errorf("exec: %w", errors.New("constraint failed: UNIQUE constraint failed: _models.name (2067)"))
	mapped := MapError(dialect, err)
	if !errors.Is(mapped, ErrUniqueViolation) {
		t.Fatalf("expected ErrUniqueViolation, got: %v", mapped)
	}
}

func TestParamBuilders(t *testing.T) {
	pg := (&PostgresDialect{}).NewParamBuilder()
	if got := pg.Add("a") + "," + pg.Add(1); got != "$1,$2" {
		t.Fatalf("pg placeholders: %s", got)
	}
	lite := (&SQLiteDialect{}).NewParamBuilder()
	if got := lite.Add("a") + "," + lite.Add(1); got != "?1,?2" {
		t.Fatalf("sqlite placeholders: %s", got)
	}
	if len(lite.Params()) != 2 {
		t.Fatalf("expected 2 params, got %d", len(lite.Params()))
	}
}

func TestJSONText(t *testing.T) {
	if got := (&PostgresDialect{}).JSONText("data", "title"); got != "(data->>'title')" {
		t.Fatalf("pg JSONText: %s", got)
	}
	if got := (&SQLiteDialect{}).JSONText("data", "title"); got != "json_extract(data, '$.title')" {
		t.Fatalf("sqlite JSONText: %s", got)
	}
}
