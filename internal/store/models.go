package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"contentforge/internal/metadata"
)

// The Schema Store: persisted model definitions. Every write bumps version,
// which is what the registry compares against.

const modelColumns = "id, name, fields, compiled, version, created_at, updated_at"

// CreateModel inserts a new model definition with version 1.
func (s *Store) CreateModel(ctx context.Context, def *metadata.ModelDefinition) error {
	fields, compiled, err := encodeDefinition(def)
	if err != nil {
		return err
	}

	t, ts := s.timestamp()
	def.ID = ulid.Make().String()
	def.Name = strings.ToLower(def.Name)
	def.Version = 1
	def.CreatedAt, def.UpdatedAt = t, t

	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf("INSERT INTO _models (%s) VALUES (%s, %s, %s, %s, %s, %s, %s)", modelColumns,
		pb.Add(def.ID), pb.Add(def.Name), pb.Add(fields), pb.Add(compiled), pb.Add(def.Version), pb.Add(ts), pb.Add(ts))
	if _, err := s.DB.ExecContext(ctx, query, pb.Params()...); err != nil {
		return fmt.Errorf("insert model %s: %w", def.Name, s.Dialect.MapError(err))
	}
	return nil
}

// SaveModel replaces the name and fields of an existing model and bumps its version.
func (s *Store) SaveModel(ctx context.Context, def *metadata.ModelDefinition) error {
	fields, compiled, err := encodeDefinition(def)
	if err != nil {
		return err
	}

	t, ts := s.timestamp()
	def.Name = strings.ToLower(def.Name)

	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf("UPDATE _models SET name = %s, fields = %s, compiled = %s, version = version + 1, updated_at = %s WHERE id = %s",
		pb.Add(def.Name), pb.Add(fields), pb.Add(compiled), pb.Add(ts), pb.Add(def.ID))
	n, err := Exec(ctx, s.DB, query, pb.Params()...)
	if err != nil {
		return fmt.Errorf("update model %s: %w", def.Name, s.Dialect.MapError(err))
	}
	if n == 0 {
		return ErrNotFound
	}

	def.Version++
	def.UpdatedAt = t
	return nil
}

// GetModel returns a model by id.
func (s *Store) GetModel(ctx context.Context, id string) (*metadata.ModelDefinition, error) {
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf("SELECT %s FROM _models WHERE id = %s", modelColumns, pb.Add(id))
	return s.scanModel(s.DB.QueryRowContext(ctx, query, pb.Params()...))
}

// GetModelByName returns a model by name, case-insensitively.
func (s *Store) GetModelByName(ctx context.Context, name string) (*metadata.ModelDefinition, error) {
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf("SELECT %s FROM _models WHERE name = %s", modelColumns, pb.Add(strings.ToLower(name)))
	return s.scanModel(s.DB.QueryRowContext(ctx, query, pb.Params()...))
}

// ListModels returns every model ordered by name.
func (s *Store) ListModels(ctx context.Context) ([]*metadata.ModelDefinition, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM _models ORDER BY name", modelColumns))
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	models := []*metadata.ModelDefinition{}
	for rows.Next() {
		m, err := s.scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// DeleteModel removes a model definition. Its documents are kept.
func (s *Store) DeleteModel(ctx context.Context, id string) error {
	pb := s.Dialect.NewParamBuilder()
	n, err := Exec(ctx, s.DB, fmt.Sprintf("DELETE FROM _models WHERE id = %s", pb.Add(id)), pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete model %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ModelVersion returns the current version of a model.
func (s *Store) ModelVersion(ctx context.Context, name string) (int64, error) {
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf("SELECT version FROM _models WHERE name = %s", pb.Add(strings.ToLower(name)))
	var version int64
	err := s.DB.QueryRowContext(ctx, query, pb.Params()...).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("model version %s: %w", name, err)
	}
	return version, nil
}

// LookupVersion implements metadata.DefinitionSource.
func (s *Store) LookupVersion(ctx context.Context, name string) (int64, bool, error) {
	v, err := s.ModelVersion(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	return v, err == nil, err
}

// LookupModel implements metadata.DefinitionSource.
func (s *Store) LookupModel(ctx context.Context, name string) (*metadata.ModelDefinition, bool, error) {
	m, err := s.GetModelByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanModel(row rowScanner) (*metadata.ModelDefinition, error) {
	var (
		m                  metadata.ModelDefinition
		fields, compiled   string
		createdAt, updated string
	)
	err := row.Scan(&m.ID, &m.Name, &fields, &compiled, &m.Version, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan model: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &m.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of %s: %w", m.Name, err)
	}
	// A compiled list that does not decode is recompiled by the registry.
	if err := json.Unmarshal([]byte(compiled), &m.Compiled); err != nil {
		m.Compiled = nil
	}
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updated)
	return &m, nil
}

func encodeDefinition(def *metadata.ModelDefinition) (string, string, error) {
	fields, err := json.Marshal(def.Fields)
	if err != nil {
		return "", "", fmt.Errorf("encode fields: %w", err)
	}
	compiled, err := json.Marshal(def.Compiled)
	if err != nil {
		return "", "", fmt.Errorf("encode compiled fields: %w", err)
	}
	return string(fields), string(compiled), nil
}
