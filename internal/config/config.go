package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the system-wide settings coordinator. Precedence:
// file > environment > defaults.
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	HTTP      HTTPConfig      `json:"http"`
	WebSocket WebSocketConfig `json:"websocket"`
	Auth      AuthConfig      `json:"auth"`
}

type DatabaseConfig struct {
	Path    string        `json:"path" env:"CLASSWATCH_DATABASE_PATH" envDefault:"./classwatch.db"`
	Timeout time.Duration `json:"timeout" env:"CLASSWATCH_DATABASE_TIMEOUT" envDefault:"30s"`
}

type HTTPConfig struct {
	Host         string        `json:"host" env:"CLASSWATCH_HTTP_HOST" envDefault:"0.0.0.0"`
	Port         int           `json:"port" env:"CLASSWATCH_HTTP_PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"CLASSWATCH_HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `json:"write_timeout" env:"CLASSWATCH_HTTP_WRITE_TIMEOUT" envDefault:"30s"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval" env:"CLASSWATCH_WEBSOCKET_PING_INTERVAL" envDefault:"30s"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"CLASSWATCH_WEBSOCKET_READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout time.Duration `json:"write_timeout" env:"CLASSWATCH_WEBSOCKET_WRITE_TIMEOUT" envDefault:"5s"`
}

type AuthConfig struct {
	// JWTSecret has no default: the server refuses to start without one.
	JWTSecret string        `json:"jwt_secret" env:"CLASSWATCH_JWT_SECRET"`
	TokenTTL  time.Duration `json:"token_ttl" env:"CLASSWATCH_TOKEN_TTL" envDefault:"12h"`

	// Bootstrap admin created at startup when no identities exist yet.
	BootstrapAdminLogin  string `json:"bootstrap_admin_login" env:"CLASSWATCH_BOOTSTRAP_ADMIN_LOGIN"`
	BootstrapAdminSecret string `json:"bootstrap_admin_secret" env:"CLASSWATCH_BOOTSTRAP_ADMIN_SECRET"`
}

// LoadFromEnv parses configuration from the environment over defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromFile overlays a JSON config file on top of cfg.
func LoadFromFile(cfg *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}
	return nil
}

// Load builds the effective configuration: defaults, then environment, then
// an optional JSON file.
func Load(filepath string) (*Config, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if filepath != "" {
		if err := LoadFromFile(cfg, filepath); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("JWT secret must be at least 16 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	return nil
}
