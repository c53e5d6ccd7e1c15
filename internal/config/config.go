package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig        `mapstructure:"server"`
	Database       DatabaseConfig      `mapstructure:"database"`
	Artifacts      ArtifactsConfig     `mapstructure:"artifacts"`
	RBAC           RBACConfig          `mapstructure:"rbac"`
	ProtectedRole  ProtectedRoleConfig `mapstructure:"protected_role"`
	JWTSecret      string              `mapstructure:"jwt_secret"`
	AccessTokenTTL time.Duration       `mapstructure:"access_token_ttl"`
	APITokenSecret string              `mapstructure:"api_token_secret"`
	APITokenTTL    time.Duration       `mapstructure:"api_token_ttl"`

	// EventBufferSize is how many request and pipeline spans are kept in memory.
	EventBufferSize int `mapstructure:"event_buffer_size"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

// ArtifactsConfig locates the published model artifacts.
type ArtifactsConfig struct {
	Dir        string `mapstructure:"dir"`
	MarkerPath string `mapstructure:"marker_path"`
}

type RBACConfig struct {
	// DefaultsFile optionally replaces the embedded built-in role table.
	DefaultsFile string `mapstructure:"defaults_file"`
}

// ProtectedRoleConfig names the document field and value whose last holder
// may not be deleted or demoted.
type ProtectedRoleConfig struct {
	Field string `mapstructure:"field"`
	Value string `mapstructure:"value"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.IsSQLite() {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "contentforge")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("artifacts.dir", "./generated")
	v.SetDefault("artifacts.marker_path", "./generated/.needs-restart")
	v.SetDefault("rbac.defaults_file", "")
	v.SetDefault("protected_role.field", "userRole")
	v.SetDefault("protected_role.value", "superadmin")
	v.SetDefault("jwt_secret", "changeme-secret")
	v.SetDefault("access_token_ttl", "12h")
	v.SetDefault("api_token_secret", "changeme-api-secret")
	v.SetDefault("api_token_ttl", "8760h")
	v.SetDefault("event_buffer_size", 1000)
}

// Load reads app.yaml (if present) and environment overrides.
// Environment keys use underscores for nesting, e.g. DATABASE_DRIVER=sqlite.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../..")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
