package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the memory service.
// Environment variables are automatically parsed from the MEMORY_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Backend drivers; "auto" derives from the rest of the config.
	DBDriver    string `envconfig:"DB_DRIVER" default:"auto"`
	VectorStore string `envconfig:"VECTOR_STORE" default:"auto"`

	// Embedding provider
	EmbedProvider   string        `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedModel      string        `envconfig:"EMBED_MODEL" default:"mxbai-embed-large"`
	EmbedBaseURL    string        `envconfig:"EMBED_BASE_URL" default:""`
	EmbedAPIKey     string        `envconfig:"EMBED_API_KEY" default:""`
	EmbedDimensions int           `envconfig:"EMBED_DIMENSIONS" default:"1024"`
	EmbedMaxBatch   int           `envconfig:"EMBED_MAX_BATCH" default:"64"`
	EmbedTimeout    time.Duration `envconfig:"EMBED_TIMEOUT" default:"30s"`
	EmbedRetries    int           `envconfig:"EMBED_RETRIES" default:"3"`

	// Vector index
	WeaviateURL string `envconfig:"WEAVIATE_URL" default:"localhost:8080"`
	Collection  string `envconfig:"COLLECTION" default:"Memories"`
	ChromemPath string `envconfig:"CHROMEM_PATH" default:""`

	// Metadata store
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"memory_meta.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Maintenance
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"15m"`
	DecayInterval   time.Duration `envconfig:"DECAY_INTERVAL" default:"24h"`
	DecayFactor     float64       `envconfig:"DECAY_FACTOR" default:"0.95"`
	DecayMinAgeDays int           `envconfig:"DECAY_MIN_AGE_DAYS" default:"7"`
	MinImportance   float64       `envconfig:"MIN_IMPORTANCE" default:"0.1"`
	StaleMaxAccess  int64         `envconfig:"STALE_MAX_ACCESS" default:"0"`

	// Tool surface: one set of memory tools per profile. A profile named
	// "default" keeps the bare tool names; any other profile gets a
	// _<profile> suffix.
	Profiles []string `envconfig:"PROFILES" default:"default"`

	// MCP transport: stdio or http
	MCPTransport string `envconfig:"MCP_TRANSPORT" default:"stdio"`
	MCPPort      int    `envconfig:"MCP_PORT" default:"9090"`

	// Debug HTTP server (health, stats, metrics)
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`
}

// ResolveDefaults validates the config and derives DBDriver and VectorStore
// when set to "auto" or empty.
func (c *Config) ResolveDefaults() error {
	if c.DBDriver == "" || c.DBDriver == "auto" {
		if c.PostgresDSN != "" {
			c.DBDriver = "postgres"
		} else {
			c.DBDriver = "sqlite"
		}
	}
	if c.VectorStore == "" || c.VectorStore == "auto" {
		c.VectorStore = "weaviate"
	}

	allowedDB := map[string]bool{"sqlite": true, "postgres": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("DB_DRIVER=postgres requires POSTGRES_DSN")
	}

	allowedVec := map[string]bool{"weaviate": true, "chromem": true}
	if !allowedVec[c.VectorStore] {
		return fmt.Errorf("unsupported VECTOR_STORE: %s", c.VectorStore)
	}

	allowedEmbed := map[string]bool{"openrouter": true, "ollama": true}
	if !allowedEmbed[c.EmbedProvider] {
		return fmt.Errorf("unsupported EMBED_PROVIDER: %s", c.EmbedProvider)
	}
	// A missing openrouter credential is deliberately not rejected here:
	// the factory reports it so the process can degrade instead of exiting.
	if c.EmbedDimensions <= 0 {
		return fmt.Errorf("EMBED_DIMENSIONS must be positive, got %d", c.EmbedDimensions)
	}

	if c.MCPTransport != "stdio" && c.MCPTransport != "http" {
		return fmt.Errorf("unsupported MCP_TRANSPORT: %s", c.MCPTransport)
	}

	if c.DecayFactor <= 0 || c.DecayFactor > 1 {
		return fmt.Errorf("DECAY_FACTOR must be in (0, 1], got %v", c.DecayFactor)
	}

	if len(c.Profiles) == 0 {
		c.Profiles = []string{"default"}
	}
	seen := make(map[string]bool, len(c.Profiles))
	for i, p := range c.Profiles {
		p = strings.TrimSpace(p)
		if p == "" {
			return fmt.Errorf("PROFILES contains an empty profile name")
		}
		if seen[p] {
			return fmt.Errorf("PROFILES contains duplicate profile %q", p)
		}
		seen[p] = true
		c.Profiles[i] = p
	}
	return nil
}

// New creates a new Config by parsing environment variables.
// Environment variables should be prefixed with MEMORY_
// Example: MEMORY_EMBED_PROVIDER, MEMORY_HTTP_PORT
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("MEMORY", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Str("vector_store", cfg.VectorStore).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Strs("profiles", cfg.Profiles).
		Str("mcp_transport", cfg.MCPTransport).
		Int("http_port", cfg.HTTPPort).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	return &Config{
		Environment:     EnvTesting,
		DBDriver:        "sqlite",
		VectorStore:     "chromem",
		EmbedProvider:   "ollama",
		EmbedModel:      "mxbai-embed-large",
		EmbedDimensions: 8,
		EmbedMaxBatch:   16,
		EmbedTimeout:    5 * time.Second,
		EmbedRetries:    3,
		Collection:      "memories_test",
		SQLitePath:      ":memory:",
		CleanupInterval: 15 * time.Minute,
		DecayInterval:   24 * time.Hour,
		DecayFactor:     0.95,
		DecayMinAgeDays: 7,
		MinImportance:   0.1,
		Profiles:        []string{"default"},
		MCPTransport:    "stdio",
		MCPPort:         9090,
		HTTPPort:        8080,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// DecayMinAge converts DecayMinAgeDays into a duration.
func (c *Config) DecayMinAge() time.Duration {
	return time.Duration(c.DecayMinAgeDays) * 24 * time.Hour
}

// GetHTTPAddr returns the debug HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetMCPAddr returns the MCP HTTP transport address
func (c *Config) GetMCPAddr() string {
	return fmt.Sprintf(":%d", c.MCPPort)
}
