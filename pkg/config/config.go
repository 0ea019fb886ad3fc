// Package config provides configuration handling for convoflow.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Storage configuration (flows, secrets)
	Storage StorageConfig `json:"storage"`

	// Sessions configuration
	Sessions SessionsConfig `json:"sessions"`

	// Auth configuration
	Auth AuthConfig `json:"auth"`

	// Secrets vault configuration
	Secrets SecretsConfig `json:"secrets"`

	// Knowledge store configuration
	Knowledge KnowledgeConfig `json:"knowledge"`

	// Engine configuration
	Engine EngineConfig `json:"engine"`

	// Effects configuration (email, ticketing)
	Effects EffectsConfig `json:"effects"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string    `json:"host"`
	Port int       `json:"port"`
	TLS  TLSConfig `json:"tls"`
}

// TLSConfig contains TLS settings
type TLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	// Type of storage to use: "memory", "postgres" or "dynamodb"
	Type string `json:"type"`

	Postgres PostgresConfig `json:"postgres"`
	DynamoDB DynamoDBConfig `json:"dynamodb"`
}

// PostgresConfig contains PostgreSQL settings
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"ssl_mode"`
}

// DynamoDBConfig contains DynamoDB settings
type DynamoDBConfig struct {
	Region      string `json:"region"`
	Endpoint    string `json:"endpoint"`
	TablePrefix string `json:"table_prefix"`
}

// SessionsConfig contains session store settings
type SessionsConfig struct {
	// Type of session store: "memory" or "redis"
	Type string `json:"type"`

	Redis RedisConfig `json:"redis"`

	// TTLMinutes is how long an idle session survives
	TTLMinutes int `json:"ttl_minutes"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	// JWTSecret verifies bearer tokens issued by the external identity
	// service
	JWTSecret string `json:"jwt_secret"`
}

// SecretsConfig contains secret-vault settings
type SecretsConfig struct {
	// Passphrase derives the vault encryption key
	Passphrase string `json:"passphrase"`

	// Salt for key derivation, hex encoded
	Salt string `json:"salt"`
}

// KnowledgeConfig points at the external vector store
type KnowledgeConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// EngineConfig tunes flow execution
type EngineConfig struct {
	MaxSteps           int    `json:"max_steps"`
	HTTPTimeoutSeconds int    `json:"http_timeout_seconds"`
	ClarificationReply string `json:"clarification_reply"`
	FallbackReply      string `json:"fallback_reply"`
	DefaultProvider    string `json:"default_provider"`
	DefaultModel       string `json:"default_model"`
}

// EffectsConfig configures side-effect execution
type EffectsConfig struct {
	Email  EmailConfig  `json:"email"`
	Ticket TicketConfig `json:"ticket"`
}

// EmailConfig contains outbound SMTP settings
type EmailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

// TicketConfig points at the ticketing system webhook
type TicketConfig struct {
	WebhookURL     string `json:"webhook_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `json:"level"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Storage: StorageConfig{
			Type: "memory",
		},
		Sessions: SessionsConfig{
			Type:       "memory",
			TTLMinutes: 720,
		},
		Engine: EngineConfig{
			MaxSteps:        64,
			DefaultProvider: "openai",
			DefaultModel:    "gpt-4o-mini",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a JSON file, layered over the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// Load loads configuration from the given file if present, otherwise
// from defaults, and applies environment overrides either way. A .env
// file in the working directory is honored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadFromFile(path)
		}
	}

	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides settings from the environment. Secrets in
// particular should come from the environment in production.
func (c *Config) applyEnv() {
	if v := os.Getenv("CONVOFLOW_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("CONVOFLOW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("CONVOFLOW_STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("CONVOFLOW_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("CONVOFLOW_VAULT_PASSPHRASE"); v != "" {
		c.Secrets.Passphrase = v
	}
	if v := os.Getenv("CONVOFLOW_VAULT_SALT"); v != "" {
		c.Secrets.Salt = v
	}
	if v := os.Getenv("CONVOFLOW_REDIS_ADDR"); v != "" {
		c.Sessions.Redis.Addr = v
	}
	if v := os.Getenv("CONVOFLOW_KNOWLEDGE_URL"); v != "" {
		c.Knowledge.BaseURL = v
	}
	if v := os.Getenv("CONVOFLOW_KNOWLEDGE_API_KEY"); v != "" {
		c.Knowledge.APIKey = v
	}
	if v := os.Getenv("CONVOFLOW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
