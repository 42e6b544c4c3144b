// Package config loads server settings from an optional YAML file and the
// environment. Environment variables win over the file, and the file wins
// over Default.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/ggoodman/mcp-dispatch-go/mcp"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Config holds every setting of a dispatch server.
type Config struct {
	// Workers is the size of the blocking-handler pool. ENV: MCP_WORKERS
	Workers int `yaml:"workers" env:"MCP_WORKERS"`
	// QueueDepth bounds blocking calls waiting for a worker. ENV: MCP_QUEUE_DEPTH
	QueueDepth int `yaml:"queue_depth" env:"MCP_QUEUE_DEPTH"`
	// LogLevel is a protocol logging level. ENV: MCP_LOG_LEVEL
	LogLevel string `yaml:"log_level" env:"MCP_LOG_LEVEL"`
	// PageSize is the listing page size. ENV: MCP_PAGE_SIZE
	PageSize int `yaml:"page_size" env:"MCP_PAGE_SIZE"`
	// CallTimeout bounds every call; zero disables it. ENV: MCP_CALL_TIMEOUT
	CallTimeout time.Duration `yaml:"call_timeout" env:"MCP_CALL_TIMEOUT"`

	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
}

// StorageConfig selects where session mappings are persisted.
type StorageConfig struct {
	// Backend is "memory" or "redis". ENV: MCP_STORAGE
	Backend string `yaml:"backend" env:"MCP_STORAGE"`
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`
	// KeyPrefix for all Redis keys. ENV: MCP_SESSION_KEY_PREFIX
	KeyPrefix string `yaml:"key_prefix" env:"MCP_SESSION_KEY_PREFIX"`
	// SessionTTL expires saved sessions; zero keeps them. ENV: MCP_SESSION_TTL
	SessionTTL time.Duration `yaml:"session_ttl" env:"MCP_SESSION_TTL"`
	// MemoryItems bounds the in-memory backend. ENV: MCP_MEMORY_ITEMS
	MemoryItems int `yaml:"memory_items" env:"MCP_MEMORY_ITEMS"`
}

// AuthConfig configures the JWT capability checker. Leaving every key
// source empty disables it.
type AuthConfig struct {
	// JWTSecret is an HMAC key. ENV: MCP_JWT_SECRET
	JWTSecret string `yaml:"jwt_secret" env:"MCP_JWT_SECRET"`
	// JWKSURL is a key set endpoint. ENV: MCP_JWKS_URL
	JWKSURL string `yaml:"jwks_url" env:"MCP_JWKS_URL"`
	// Issuer, when set, is required in the iss claim. ENV: MCP_JWT_ISSUER
	Issuer string `yaml:"issuer" env:"MCP_JWT_ISSUER"`
	// Discover fetches the key set from the issuer's OpenID configuration.
	// ENV: MCP_OIDC_DISCOVERY
	Discover bool `yaml:"discover" env:"MCP_OIDC_DISCOVERY"`
	// SessionToken is the bearer token bound to the stdio session.
	// ENV: MCP_SESSION_TOKEN
	SessionToken string `yaml:"session_token" env:"MCP_SESSION_TOKEN"`
}

// Enabled reports whether a key source is configured.
func (a AuthConfig) Enabled() bool { return a.JWTSecret != "" || a.JWKSURL != "" || a.Discover }

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Workers:    4,
		QueueDepth: 64,
		LogLevel:   string(mcp.LoggingLevelInfo),
		PageSize:   50,
		Storage: StorageConfig{
			Backend:     StorageMemory,
			RedisAddr:   "localhost:6379",
			KeyPrefix:   "mcp:sessions:",
			MemoryItems: 10000,
		},
	}
}

// Load reads path (when non-empty) over Default, then applies the
// environment, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, errors.Wrap(err, "config: decode environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return errors.Wrapf(err, "config: parse %s", path)
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return errors.Newf("config: workers must be positive, got %d", c.Workers)
	}
	if c.QueueDepth < 0 {
		return errors.Newf("config: queue_depth must not be negative, got %d", c.QueueDepth)
	}
	if c.PageSize <= 0 {
		return errors.Newf("config: page_size must be positive, got %d", c.PageSize)
	}
	if c.CallTimeout < 0 {
		return errors.Newf("config: call_timeout must not be negative, got %s", c.CallTimeout)
	}
	if !mcp.IsValidLoggingLevel(mcp.LoggingLevel(c.LogLevel)) {
		return errors.Newf("config: unknown log_level %q", c.LogLevel)
	}
	switch c.Storage.Backend {
	case StorageMemory:
		if c.Storage.MemoryItems <= 0 {
			return errors.Newf("config: storage.memory_items must be positive, got %d", c.Storage.MemoryItems)
		}
	case StorageRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("config: storage.redis_addr is required for the redis backend")
		}
	default:
		return errors.Newf("config: unknown storage backend %q", c.Storage.Backend)
	}
	sources := 0
	for _, set := range []bool{c.Auth.JWTSecret != "", c.Auth.JWKSURL != "", c.Auth.Discover} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return errors.New("config: set only one of auth.jwt_secret, auth.jwks_url and auth.discover")
	}
	if c.Auth.Discover && c.Auth.Issuer == "" {
		return errors.New("config: auth.discover requires auth.issuer")
	}
	return nil
}
