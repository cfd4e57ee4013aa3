package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 256, cfg.WebSocket.QueueSize)
	assert.Equal(t, "0.0.0.0:8000", cfg.HTTPAddr())
	assert.Less(t, cfg.WebSocket.PingPeriod(), cfg.WebSocket.PongWait)

	// The secret has no default.
	assert.Error(t, cfg.Validate())
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_port: 9000
database:
  driver: postgres
  postgres_host: db.internal
websocket:
  queue_size: 64
  pong_wait: 30s
auth:
  jwt_secret: from-file
`), 0o600))

	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("WS_QUEUE_SIZE", "128")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.PostgresHost)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 128, cfg.WebSocket.QueueSize)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "postgres://postgres:@db.internal:5432/textonly?sslmode=disable", cfg.PostgresDSN())
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"empty sqlite path", func(c *Config) { c.Database.SQLitePath = "" }, true},
		{"zero queue", func(c *Config) { c.WebSocket.QueueSize = 0 }, true},
		{"bad port", func(c *Config) { c.Port = 70000 }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"negative rate", func(c *Config) { c.WebSocket.RatePerSec = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = "secret"
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
