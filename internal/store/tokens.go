package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// APIToken is the persisted record of an issued API token. The signed token
// itself is never stored; its id travels as the JWT jti.
type APIToken struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedBy string    `json:"createdBy"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateAPIToken records a new token and fills in its id and timestamps.
func (s *Store) CreateAPIToken(ctx context.Context, tok *APIToken, ttl time.Duration) error {
	now, ts := s.timestamp()
	tok.ID = uuid.New().String()
	tok.CreatedAt = now
	tok.ExpiresAt = now.Add(ttl)

	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf("INSERT INTO _api_tokens (id, name, role, created_by, expires_at, created_at) VALUES (%s, %s, %s, %s, %s, %s)",
		pb.Add(tok.ID), pb.Add(tok.Name), pb.Add(tok.Role), pb.Add(tok.CreatedBy),
		pb.Add(tok.ExpiresAt.Format(timeLayout)), pb.Add(ts))
	if _, err := s.DB.ExecContext(ctx, query, pb.Params()...); err != nil {
		return fmt.Errorf("insert api token: %w", err)
	}
	return nil
}

// ListAPITokens returns every token record, newest first.
func (s *Store) ListAPITokens(ctx context.Context) ([]APIToken, error) {
	rows, err := QueryRows(ctx, s.DB,
		"SELECT id, name, role, created_by, expires_at, created_at FROM _api_tokens ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list api tokens: %w", err)
	}

	tokens := make([]APIToken, 0, len(rows))
	for _, row := range rows {
		tokens = append(tokens, APIToken{
			ID:        fmt.Sprint(row["id"]),
			Name:      fmt.Sprint(row["name"]),
			Role:      fmt.Sprint(row["role"]),
			CreatedBy: fmt.Sprint(row["created_by"]),
			ExpiresAt: parseTime(row["expires_at"]),
			CreatedAt: parseTime(row["created_at"]),
		})
	}
	return tokens, nil
}

// APITokenExists reports whether id names a live, unexpired token.
func (s *Store) APITokenExists(ctx context.Context, id string) (bool, error) {
	_, now := s.timestamp()
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf("SELECT id FROM _api_tokens WHERE id = %s AND expires_at > %s", pb.Add(id), pb.Add(now))
	_, err := QueryRow(ctx, s.DB, query, pb.Params()...)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteAPIToken revokes a token.
func (s *Store) DeleteAPIToken(ctx context.Context, id string) error {
	pb := s.Dialect.NewParamBuilder()
	n, err := Exec(ctx, s.DB, fmt.Sprintf("DELETE FROM _api_tokens WHERE id = %s", pb.Add(id)), pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete api token: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
