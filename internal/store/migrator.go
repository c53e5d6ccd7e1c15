package store

import (
	"context"
	"fmt"

	"contentforge/internal/metadata"
)

// Migrator manages the tables backing document collections.
type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// TableName returns the table holding a model's documents.
func TableName(model string) string {
	return "doc_" + metadata.CollectionName(model)
}

// EnsureCollection creates the collection table for model if needed.
func (m *Migrator) EnsureCollection(ctx context.Context, model string) error {
	if !metadata.IsIdentifier(model) {
		return fmt.Errorf("invalid collection name %q", model)
	}
	for _, stmt := range m.store.Dialect.CollectionSQL(TableName(model)) {
		if _, err := m.store.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create collection %s: %w", model, err)
		}
	}
	return nil
}

// CollectionExists reports whether model has a collection table.
func (m *Migrator) CollectionExists(ctx context.Context, model string) (bool, error) {
	return m.store.Dialect.TableExists(ctx, m.store.DB, TableName(model))
}

// RenameCollection moves the documents of oldName to newName. If newName
// already has a table the old one is left in place.
func (m *Migrator) RenameCollection(ctx context.Context, oldName, newName string) error {
	if !metadata.IsIdentifier(oldName) || !metadata.IsIdentifier(newName) {
		return fmt.Errorf("invalid collection rename %q -> %q", oldName, newName)
	}

	oldExists, err := m.CollectionExists(ctx, oldName)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", oldName, err)
	}
	newExists, err := m.CollectionExists(ctx, newName)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", newName, err)
	}

	if oldExists && !newExists {
		stmt := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", TableName(oldName), TableName(newName))
		if _, err := m.store.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rename collection %s: %w", oldName, err)
		}
	}
	return m.EnsureCollection(ctx, newName)
}
