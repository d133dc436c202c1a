package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Store backends.
const (
	StoreBackendSQLite = "sqlite"
	StoreBackendRedis  = "redis"
)

// Duration wraps time.Duration so YAML values like "30s" or "720h" parse.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Auth   AuthConfig        `yaml:"auth"`
	Store  StoreConfig       `yaml:"store"`
	Enrich EnrichConfig      `yaml:"enrich"`
	Gemini GeminiConfig      `yaml:"gemini"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Enrich.Validate(); err != nil {
		return err
	}
	return c.Gemini.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// CallerConfig maps one Bearer token onto a caller identity.
// Verified callers may spend enrichment quota; unverified callers only
// read the cache.
type CallerConfig struct {
	Token    string `yaml:"token"`
	CallerID string `yaml:"caller_id"`
	Verified bool   `yaml:"verified"`
}

// Validate validates a caller entry.
func (c *CallerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Token, validation.Required),
		validation.Field(&c.CallerID, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Callers must be non-empty.
type AuthConfig struct {
	Mode    string         `yaml:"mode"`
	Callers []CallerConfig `yaml:"callers"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && len(c.Callers) == 0 {
		return fmt.Errorf("auth: mode is %q but no callers are configured", AuthModeToken)
	}
	for i := range c.Callers {
		if err := c.Callers[i].Validate(); err != nil {
			return fmt.Errorf("auth: caller %d: %w", i, err)
		}
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// StoreConfig selects and configures the cache store backend.
type StoreConfig struct {
	Backend string       `yaml:"backend"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
	Redis   RedisConfig  `yaml:"redis"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = StoreBackendSQLite
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(StoreBackendSQLite, StoreBackendRedis)),
	); err != nil {
		return err
	}
	switch c.Backend {
	case StoreBackendSQLite:
		return c.SQLite.Validate()
	default:
		return c.Redis.Validate()
	}
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// Validate validates the Redis configuration.
func (c *RedisConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required),
	)
}

// EnrichConfig tunes cache freshness, lock, and quota policy. Zero values
// fall back to the store and orchestrator defaults.
type EnrichConfig struct {
	StaleAfter  Duration `yaml:"stale_after"`
	LockTTL     Duration `yaml:"lock_ttl"`
	MinuteLimit int      `yaml:"minute_limit"`
	DayLimit    int      `yaml:"day_limit"`
}

// Validate validates the enrichment configuration.
func (c *EnrichConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MinuteLimit, validation.Min(0)),
		validation.Field(&c.DayLimit, validation.Min(0)),
	)
}

// GeminiConfig holds AI provider configuration. APIKey is usually supplied
// via ${GEMINI_API_KEY} expansion in the YAML file.
type GeminiConfig struct {
	APIKey   string   `yaml:"api_key"`
	Model    string   `yaml:"model"`
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
}

// Validate validates the Gemini configuration.
func (c *GeminiConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.APIKey, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Store: StoreConfig{
			Backend: StoreBackendSQLite,
			SQLite: SQLiteConfig{
				Path: "./toolvault.db",
			},
		},
		Enrich: EnrichConfig{
			StaleAfter:  Duration(30 * 24 * time.Hour),
			LockTTL:     Duration(2 * time.Minute),
			MinuteLimit: 4,
			DayLimit:    50,
		},
	}
}
