package store

import (
	"context"
	"fmt"
)

// Bootstrap creates the system tables if they do not exist.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range s.Dialect.SystemTablesSQL() {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap system tables: %w", err)
		}
	}
	return nil
}
