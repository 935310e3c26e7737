package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"carelink-backend/pkg/env"
)

// DefaultJWTSecret is only acceptable outside production
const DefaultJWTSecret = "super-secret-development-key"

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `ignored:"true"`
	Store     StoreConfig     `envconfig:"STORE"`
	Database  DatabaseConfig  `envconfig:"DB"`
	Redis     RedisConfig     `envconfig:"REDIS"`
	JWT       JWTConfig       `envconfig:"JWT"`
	WebSocket WebSocketConfig `envconfig:"WS"`
	Log       LogConfig       `envconfig:"LOG"`
	RateLimit RateLimitConfig `envconfig:"RATE_LIMIT"`
	Lockout   LockoutConfig   `envconfig:"LOCKOUT"`
	SeedUsers bool            `envconfig:"SEED_USERS" default:"true"`
}

// ServerConfig holds server configuration. Its variables are not prefixed.
type ServerConfig struct {
	Port           int      `envconfig:"PORT" default:"4000"`
	Environment    string   `envconfig:"ENV" default:"development"` // development, staging, production
	ServiceName    string   `envconfig:"SERVICE_NAME" default:"CareLink API"`
	Version        string   `envconfig:"SERVICE_VERSION" default:"1.0.0"`
	APIVersion     string   `envconfig:"API_VERSION" default:"v1"`
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
}

// StoreConfig selects the user directory backend (STORE_DRIVER)
type StoreConfig struct {
	Driver string `default:"memory"` // memory, postgres
}

// DatabaseConfig holds CockroachDB / Postgres configuration (DB_*)
type DatabaseConfig struct {
	Host           string `default:"localhost"`
	Port           int    `default:"26257"`
	User           string `default:"root"`
	Password       string
	Name           string        `default:"carelink"`
	SSLMode        string        `split_words:"true" default:"disable"`
	MaxConns       int32         `split_words:"true" default:"25"`
	MinConns       int32         `split_words:"true" default:"2"`
	ConnectRetries int           `split_words:"true" default:"5"`
	ConnectBackoff time.Duration `split_words:"true" default:"2s"`
}

// RedisConfig holds Redis configuration (REDIS_*)
type RedisConfig struct {
	Enabled  bool   `default:"false"`
	Host     string `default:"localhost"`
	Port     int    `default:"6379"`
	Password string
	DB       int           `default:"0"`
	PoolSize int           `split_words:"true" default:"10"`
	Timeout  time.Duration `default:"5s"`
}

// JWTConfig holds JWT configuration (JWT_*)
type JWTConfig struct {
	Secret string        `default:"super-secret-development-key"`
	Expiry time.Duration `default:"8h"`
}

// WebSocketConfig holds relay transport configuration (WS_*)
type WebSocketConfig struct {
	Path           string `default:"/ws"`
	MaxConnections int    `split_words:"true" default:"1000"`
}

// LogConfig holds logging configuration (LOG_*)
type LogConfig struct {
	Level    string `default:"info"`   // debug, info, warn, error
	Format   string `default:"json"`   // json, text
	Output   string `default:"stdout"` // stdout, file
	FilePath string `split_words:"true" default:"/logs/app.log"`
}

// RateLimitConfig limits requests per client on the auth endpoints (RATE_LIMIT_*)
type RateLimitConfig struct {
	Requests int           `default:"20"`
	Window   time.Duration `default:"1m"`
}

// LockoutConfig controls failed-login lockout (LOCKOUT_*). Only active with Redis.
type LockoutConfig struct {
	MaxAttempts int           `split_words:"true" default:"5"`
	Duration    time.Duration `default:"15m"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg.Server); err != nil {
		return nil, fmt.Errorf("failed to process server env: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	// Docker secrets take precedence over plain variables
	if err := env.LoadSecretFiles(map[string]*string{
		"JWT_SECRET":     &cfg.JWT.Secret,
		"DB_PASSWORD":    &cfg.Database.Password,
		"REDIS_PASSWORD": &cfg.Redis.Password,
	}); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" || c.JWT.Secret == DefaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}

	if c.JWT.Expiry <= 0 {
		return fmt.Errorf("JWT_EXPIRY must be positive")
	}

	switch c.Store.Driver {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	if c.WebSocket.MaxConnections <= 0 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be positive")
	}

	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// UsesDefaultSecret reports whether the development JWT secret is in use
func (c *Config) UsesDefaultSecret() bool {
	return c.JWT.Secret == DefaultJWTSecret
}

// DatabaseURL builds the pgx connection string
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// Addr returns the Redis host:port
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
