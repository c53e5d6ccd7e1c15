package rbac

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	PermCreate = "create"
	PermRead   = "read"
	PermUpdate = "update"
	PermDelete = "delete"
)

const (
	RoleSuperadmin     = "superadmin"
	RoleContentManager = "contentmanager"
	RoleDemo           = "demo"
)

// Permissions holds the CRUD flags of a role. A nil entry is "unspecified",
// which matters for read: an unspecified read is granted.
type Permissions struct {
	Create *bool `json:"create,omitempty" yaml:"create,omitempty"`
	Read   *bool `json:"read,omitempty" yaml:"read,omitempty"`
	Update *bool `json:"update,omitempty" yaml:"update,omitempty"`
	Delete *bool `json:"delete,omitempty" yaml:"delete,omitempty"`
}

// Role is the persisted role document.
type Role struct {
	Name        string      `json:"name" yaml:"name"`
	Permissions Permissions `json:"permissions" yaml:"permissions"`
	Routes      []string    `json:"routes" yaml:"routes"`
}

// Table is a complete role and route-access configuration.
type Table struct {
	Routes map[string][]string `yaml:"routes"`
	Roles  []Role              `yaml:"roles"`
}

//go:embed defaults.yaml
var defaultsYAML []byte

// DefaultTable returns the built-in superadmin/contentmanager/demo table.
func DefaultTable() Table {
	t, err := parseTable(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("rbac: embedded defaults: %v", err))
	}
	return t
}

// LoadTable reads a role table from a YAML file.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read role table: %w", err)
	}
	t, err := parseTable(data)
	if err != nil {
		return Table{}, fmt.Errorf("parse role table %s: %w", path, err)
	}
	return t, nil
}

func parseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, err
	}
	if t.Routes == nil {
		t.Routes = map[string][]string{}
	}
	return t, nil
}

// Flag returns a pointer to b, for building Permissions literals.
func Flag(b bool) *bool {
	return &b
}

// IsBuiltIn reports whether name is one of the three built-in roles.
func IsBuiltIn(name string) bool {
	switch name {
	case RoleSuperadmin, RoleContentManager, RoleDemo:
		return true
	}
	return false
}
