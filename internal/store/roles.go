package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"contentforge/internal/rbac"
)

// ListRoles returns every persisted role. It implements rbac.RoleSource.
func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT name, permissions, routes FROM _roles ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// GetRole returns a persisted role by name.
func (s *Store) GetRole(ctx context.Context, name string) (rbac.Role, error) {
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf("SELECT name, permissions, routes FROM _roles WHERE name = %s", pb.Add(strings.ToLower(name)))
	return scanRole(s.DB.QueryRowContext(ctx, query, pb.Params()...))
}

// UpsertRole creates or replaces a role.
func (s *Store) UpsertRole(ctx context.Context, role rbac.Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	if role.Routes == nil {
		role.Routes = []string{}
	}
	routes, err := json.Marshal(role.Routes)
	if err != nil {
		return fmt.Errorf("encode routes: %w", err)
	}

	_, ts := s.timestamp()
	pb := s.Dialect.NewParamBuilder()
	name := pb.Add(strings.ToLower(role.Name))
	p, r, now := pb.Add(string(perms)), pb.Add(string(routes)), pb.Add(ts)
	query := fmt.Sprintf(`INSERT INTO _roles (name, permissions, routes, created_at, updated_at)
VALUES (%s, %s, %s, %s, %s)
ON CONFLICT (name) DO UPDATE SET permissions = EXCLUDED.permissions, routes = EXCLUDED.routes, updated_at = EXCLUDED.updated_at`,
		name, p, r, now, now)
	if _, err := s.DB.ExecContext(ctx, query, pb.Params()...); err != nil {
		return fmt.Errorf("upsert role %s: %w", role.Name, err)
	}
	return nil
}

// DeleteRole removes a persisted role.
func (s *Store) DeleteRole(ctx context.Context, name string) error {
	pb := s.Dialect.NewParamBuilder()
	n, err := Exec(ctx, s.DB, fmt.Sprintf("DELETE FROM _roles WHERE name = %s", pb.Add(strings.ToLower(name))), pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete role %s: %w", name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRole(row rowScanner) (rbac.Role, error) {
	var (
		r             rbac.Role
		perms, routes string
	)
	err := row.Scan(&r.Name, &perms, &routes)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, ErrNotFound
	}
	if err != nil {
		return rbac.Role{}, fmt.Errorf("scan role: %w", err)
	}
	if err := json.Unmarshal([]byte(perms), &r.Permissions); err != nil {
		return rbac.Role{}, fmt.Errorf("decode permissions of %s: %w", r.Name, err)
	}
	if err := json.Unmarshal([]byte(routes), &r.Routes); err != nil {
		return rbac.Role{}, fmt.Errorf("decode routes of %s: %w", r.Name, err)
	}
	return r, nil
}
