package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CLASSWATCH_JWT_SECRET", "a-long-enough-test-secret")
}

func TestLoadDefaults(t *testing.T) {
	validEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.Database.Path != "./classwatch.db" {
		t.Errorf("default database path = %s", cfg.Database.Path)
	}
	if cfg.WebSocket.PingInterval != 30*time.Second {
		t.Errorf("default ping interval = %s", cfg.WebSocket.PingInterval)
	}
	if cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("default token TTL = %s", cfg.Auth.TokenTTL)
	}
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	validEnv(t)
	t.Setenv("CLASSWATCH_HTTP_PORT", "9000")
	t.Setenv("CLASSWATCH_DATABASE_PATH", "/tmp/test.db")
	t.Setenv("CLASSWATCH_TOKEN_TTL", "1h")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.HTTP.Port)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("database path = %s", cfg.Database.Path)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("token TTL = %s, want 1h", cfg.Auth.TokenTTL)
	}
}

func TestFileOverridesEnvironment(t *testing.T) {
	validEnv(t)
	t.Setenv("CLASSWATCH_HTTP_PORT", "9000")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"http": {"port": 9100}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTP.Port != 9100 {
		t.Errorf("port = %d, want file value 9100", cfg.HTTP.Port)
	}
	// Untouched fields keep their env/default values.
	if cfg.HTTP.Host != "0.0.0.0" {
		t.Errorf("host = %s, want default", cfg.HTTP.Host)
	}
}

func TestLoadMissingFile(t *testing.T) {
	validEnv(t)

	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database:  DatabaseConfig{Path: "./test.db", Timeout: 30 * time.Second},
			HTTP:      HTTPConfig{Host: "0.0.0.0", Port: 8080, ReadTimeout: time.Second, WriteTimeout: time.Second},
			WebSocket: WebSocketConfig{PingInterval: time.Second, ReadTimeout: time.Second, WriteTimeout: time.Second},
			Auth:      AuthConfig{JWTSecret: "a-long-enough-test-secret", TokenTTL: time.Hour},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"empty database path", func(c *Config) { c.Database.Path = "" }, "database path"},
		{"zero port", func(c *Config) { c.HTTP.Port = 0 }, "port"},
		{"oversized port", func(c *Config) { c.HTTP.Port = 70000 }, "port"},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }, "host"},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "JWT secret"},
		{"zero token ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, "token TTL"},
		{"zero ping interval", func(c *Config) { c.WebSocket.PingInterval = 0 }, "WebSocket"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
