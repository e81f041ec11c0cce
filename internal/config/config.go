// Package config loads cmd/authcore settings from an optional file and AUTHCORE_* environment
// variables using Viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MrEthical07/authcore/jwt"
)

// Store drivers accepted by STORE.
const (
	StoreMemory    = "memory"
	StoreMiniredis = "miniredis"
	StoreRedis     = "redis"
	StoreSQLite    = "sqlite"
	StorePostgres  = "postgres"
)

// Config holds service settings. Keys are the environment names without the AUTHCORE_
// prefix.
type Config struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string `mapstructure:"ADDR"`
	// BasePath prefixes every route, e.g. "/rest".
	BasePath string `mapstructure:"BASE_PATH"`
	// TrustForwarded takes the client IP from X-Forwarded-For.
	TrustForwarded bool `mapstructure:"TRUST_FORWARDED"`
	// TenantID is used for requests that carry no tenant.
	TenantID string `mapstructure:"TENANT_ID"`

	Store string `mapstructure:"STORE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	SQLiteFile string `mapstructure:"SQLITE_FILE"`

	PostgresHost     string `mapstructure:"POSTGRES_HOST"`
	PostgresPort     int    `mapstructure:"POSTGRES_PORT"`
	PostgresDB       string `mapstructure:"POSTGRES_DB"`
	PostgresUser     string `mapstructure:"POSTGRES_USER"`
	PostgresPassword string `mapstructure:"POSTGRES_PASSWORD"`
	PostgresSSLMode  string `mapstructure:"POSTGRES_SSLMODE"`

	AccessTTL  time.Duration `mapstructure:"ACCESS_TTL"`
	RefreshTTL time.Duration `mapstructure:"REFRESH_TTL"`
	Issuer     string        `mapstructure:"ISSUER"`
	Audience   string        `mapstructure:"AUDIENCE"`
	// SigningKey is base64 or PEM key material, or a path to a file holding it. Empty
	// generates an ephemeral key at startup.
	SigningKey   string `mapstructure:"SIGNING_KEY"`
	SigningKeyID string `mapstructure:"SIGNING_KEY_ID"`

	LoginThrottle bool `mapstructure:"LOGIN_THROTTLE"`
	Audit         bool `mapstructure:"AUDIT"`
	Metrics       bool `mapstructure:"METRICS"`

	LogLevel string `mapstructure:"LOG_LEVEL"`

	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var defaults = map[string]any{
	"ADDR":              ":8000",
	"BASE_PATH":         "/rest",
	"TRUST_FORWARDED":   false,
	"TENANT_ID":         "",
	"STORE":             StoreSQLite,
	"REDIS_ADDR":        "127.0.0.1:6379",
	"REDIS_PASSWORD":    "",
	"REDIS_DB":          0,
	"REDIS_PREFIX":      "authcore",
	"SQLITE_FILE":       "./data/backend.db",
	"POSTGRES_HOST":     "127.0.0.1",
	"POSTGRES_PORT":     5432,
	"POSTGRES_DB":       "stack",
	"POSTGRES_USER":     "postgres",
	"POSTGRES_PASSWORD": "test",
	"POSTGRES_SSLMODE":  "disable",
	"ACCESS_TTL":        "15m",
	"REFRESH_TTL":       "168h",
	"ISSUER":            "authcore",
	"AUDIENCE":          "",
	"SIGNING_KEY":       "",
	"SIGNING_KEY_ID":    "k1",
	"LOGIN_THROTTLE":    true,
	"AUDIT":             true,
	"METRICS":           true,
	"LOG_LEVEL":         "info",
	"SHUTDOWN_TIMEOUT":  "10s",
}

// Load reads file (when non-empty) and then the environment. Environment variables win.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUTHCORE")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values Load cannot coerce.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: ADDR must be set")
	}
	if c.BasePath != "" && !strings.HasPrefix(c.BasePath, "/") {
		return errors.New("config: BASE_PATH must start with /")
	}
	switch c.Store {
	case StoreMemory, StoreMiniredis, StoreRedis, StoreSQLite, StorePostgres:
	default:
		return fmt.Errorf("config: unknown STORE %q", c.Store)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: ACCESS_TTL and REFRESH_TTL must be > 0")
	}
	if c.AccessTTL > c.RefreshTTL {
		return errors.New("config: ACCESS_TTL must not exceed REFRESH_TTL")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return level, nil
}

// PostgresDSN renders the Postgres connection settings as a URL.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     "/" + c.PostgresDB,
		RawQuery: url.Values{"sslmode": []string{c.PostgresSSLMode}}.Encode(),
	}
	return u.String()
}

// SigningKeyBytes decodes SigningKey, reading it from a file first when it names one. Nil
// means no key was configured.
func (c *Config) SigningKeyBytes() ([]byte, error) {
	raw := strings.TrimSpace(c.SigningKey)
	if raw == "" {
		return nil, nil
	}
	if data, err := os.ReadFile(raw); err == nil {
		raw = strings.TrimSpace(string(data))
	}
	key, err := jwt.DecodeKeyMaterial(raw)
	if err != nil {
		return nil, fmt.Errorf("config: SIGNING_KEY: %w", err)
	}
	return key, nil
}
