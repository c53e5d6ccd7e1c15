package metadata

import "strings"

// UserContext represents the authenticated caller, set by auth middleware.
type UserContext struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	// APIToken is set when the caller authenticated with a public API token.
	APIToken bool `json:"api_token,omitempty"`
}

// HasRole checks whether the user holds the given role (case-insensitive).
func (u *UserContext) HasRole(role string) bool {
	return u != nil && strings.EqualFold(u.Role, role)
}

// RoleName returns the normalized role, or "" for an anonymous caller.
func (u *UserContext) RoleName() string {
	if u == nil {
		return ""
	}
	return strings.ToLower(u.Role)
}
