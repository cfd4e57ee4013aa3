// Package config loads server settings from defaults, an optional YAML file
// and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppName string `yaml:"app_name"`
	Env     string `yaml:"env"`
	Host    string `yaml:"http_host"`
	Port    int    `yaml:"http_port"`

	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Log       LogConfig       `yaml:"log"`

	CORSOrigins    []string `yaml:"cors_origins"`
	MetricsEnabled bool     `yaml:"metrics_enabled"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // sqlite | postgres
	SQLitePath string `yaml:"sqlite_path"`

	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     int    `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type WebSocketConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	WriteWait       time.Duration `yaml:"write_wait"`
	PongWait        time.Duration `yaml:"pong_wait"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	RatePerSec      float64       `yaml:"rate_per_sec"`
	RateBurst       int           `yaml:"rate_burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// Default returns a configuration usable for local development, apart from
// the JWT secret which must always be supplied.
func Default() *Config {
	return &Config{
		AppName: "textonly",
		Env:     "development",
		Host:    "0.0.0.0",
		Port:    8000,
		Database: DatabaseConfig{
			Driver:       "sqlite",
			SQLitePath:   "textonly.db",
			PostgresHost: "localhost",
			PostgresPort: 5432,
			PostgresUser: "postgres",
			PostgresDB:   "textonly",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		WebSocket: WebSocketConfig{
			QueueSize:       256,
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			MaxMessageBytes: 64 << 10,
			RatePerSec:      20,
			RateBurst:       40,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
		MetricsEnabled: true,
	}
}

// Load reads filename when non-empty, then applies environment overrides
// and validates the result.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.AppName = getEnv("APP_NAME", c.AppName)
	c.Env = getEnv("APP_ENV", c.Env)
	c.Host = getEnv("HTTP_HOST", c.Host)
	c.Port = getEnvAsInt("HTTP_PORT", c.Port)

	db := &c.Database
	db.Driver = getEnv("DB_DRIVER", db.Driver)
	db.SQLitePath = getEnv("SQLITE_PATH", db.SQLitePath)
	db.PostgresHost = getEnv("POSTGRES_HOST", db.PostgresHost)
	db.PostgresPort = getEnvAsInt("POSTGRES_PORT", db.PostgresPort)
	db.PostgresUser = getEnv("POSTGRES_USER", db.PostgresUser)
	db.PostgresPassword = getEnv("POSTGRES_PASSWORD", db.PostgresPassword)
	db.PostgresDB = getEnv("POSTGRES_DB", db.PostgresDB)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.TokenTTL = getEnvAsDuration("TOKEN_TTL", c.Auth.TokenTTL)

	ws := &c.WebSocket
	ws.QueueSize = getEnvAsInt("WS_QUEUE_SIZE", ws.QueueSize)
	ws.WriteWait = getEnvAsDuration("WS_WRITE_WAIT", ws.WriteWait)
	ws.PongWait = getEnvAsDuration("WS_PONG_WAIT", ws.PongWait)
	ws.MaxMessageBytes = int64(getEnvAsInt("WS_MAX_MESSAGE_BYTES", int(ws.MaxMessageBytes)))
	ws.RatePerSec = getEnvAsFloat("WS_RATE_PER_SEC", ws.RatePerSec)
	ws.RateBurst = getEnvAsInt("WS_RATE_BURST", ws.RateBurst)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	if cors := getEnv("CORS_ORIGINS", ""); cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		c.CORSOrigins = parts
	}
	c.MetricsEnabled = getEnvAsBool("METRICS_ENABLED", c.MetricsEnabled)
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("http_port %d out of range", c.Port)
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return errors.New("database.sqlite_path cannot be empty")
		}
	case "postgres":
		if c.Database.PostgresHost == "" || c.Database.PostgresDB == "" {
			return errors.New("database.postgres_host and postgres_db are required")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.WebSocket.QueueSize <= 0 {
		return errors.New("websocket.queue_size must be positive")
	}
	if c.WebSocket.WriteWait <= 0 || c.WebSocket.PongWait <= 0 {
		return errors.New("websocket write_wait and pong_wait must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return errors.New("websocket.max_message_bytes must be positive")
	}
	if c.WebSocket.RatePerSec < 0 || c.WebSocket.RateBurst < 0 {
		return errors.New("websocket rate limits cannot be negative")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PostgresDSN builds a connection URL from the postgres settings.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.PostgresUser, c.Database.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.Database.PostgresHost, c.Database.PostgresPort),
		Path:     c.Database.PostgresDB,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// PingPeriod is how often the server pings a connection; it must be shorter
// than PongWait.
func (w WebSocketConfig) PingPeriod() time.Duration {
	return w.PongWait * 9 / 10
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
