// Package config provides unified configuration for the kgquery service
// and its companion commands.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (KGQUERY_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for kgquery.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Backend       BackendConfig       `yaml:"backend"`
	Dataset       DatasetConfig       `yaml:"dataset"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Cache         CacheConfig         `yaml:"cache"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	MCP           MCPConfig           `yaml:"mcp"`
}

// ServerConfig holds HTTP server and request limit settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 180s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 1 MiB
	MaxQueryLength  int           `yaml:"max_query_length"` // default: 4096
	MaxDates        int           `yaml:"max_dates"`        // default: 60
}

// BackendConfig selects the generation backend used for classification
// and code synthesis. Provider "none" runs keyword rules and templates only.
type BackendConfig struct {
	Provider     string            `yaml:"provider"` // "openaicompat", "litellm" or "none", default: "none"
	URL          string            `yaml:"url"`
	APIKey       string            `yaml:"api_key"`
	APIKeyFile   string            `yaml:"api_key_file"`
	Model        string            `yaml:"model"`
	Timeout      time.Duration     `yaml:"timeout"` // default: 60s
	Temperature  float64           `yaml:"temperature"`
	MaxTokens    int               `yaml:"max_tokens"` // default: 2048
	ModelMapping map[string]string `yaml:"model_mapping"`
	Headers      map[string]string `yaml:"headers"`
}

// DatasetConfig locates the partition files and the graph schema.
type DatasetConfig struct {
	Path       string `yaml:"path"`        // default: "./data"
	SchemaFile string `yaml:"schema_file"` // optional, overrides the embedded schema
}

// SandboxConfig holds execution limits and backend selection.
type SandboxConfig struct {
	Backend        string           `yaml:"backend"` // "auto", "container", "process" or "remote"
	Python         string           `yaml:"python"`
	Image          string           `yaml:"image"`
	Docker         string           `yaml:"docker"`
	CPUs           string           `yaml:"cpus"`
	Timeout        time.Duration    `yaml:"timeout"`         // default: 30s
	MemoryLimitMB  int              `yaml:"memory_limit_mb"` // default: 512
	AllowedImports []string         `yaml:"allowed_imports"`
	MaxOutputBytes int              `yaml:"max_output_bytes"`
	RemoteURL      string           `yaml:"remote_url"`
	MaxConcurrent  int              `yaml:"max_concurrent"` // sandbox-server only, default: 4
	Kubernetes     KubernetesConfig `yaml:"kubernetes"`
}

// KubernetesConfig configures sandbox acquisition through SandboxClaims.
// When Template is set and RemoteURL is empty, the remote backend claims a
// sandbox pod per execution.
type KubernetesConfig struct {
	Template       string        `yaml:"template"`
	Namespace      string        `yaml:"namespace"`       // default: "default"
	AcquireTimeout time.Duration `yaml:"acquire_timeout"` // default: 60s
}

// CacheConfig holds the Redis response cache settings.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"` // default: "localhost:6379"
	Password     string        `yaml:"password"`
	PasswordFile string        `yaml:"password_file"`
	DB           int           `yaml:"db"`
	TTL          time.Duration `yaml:"ttl"` // default: 24h
}

// StorageConfig holds query history settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory", "postgres" or "none", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	DSNFile         string        `yaml:"dsn_file"`
	MaxConns        int32         `yaml:"max_conns"` // default: 25
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// AuthConfig holds authentication and rate limit settings.
type AuthConfig struct {
	Type      string          `yaml:"type"` // "none", "apikey" or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"`
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"`
	Subject     string `yaml:"subject" json:"subject"`
	TenantID    string `yaml:"tenant_id" json:"tenant_id"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
}

// JWTConfig configures bearer token validation against a JWKS endpoint.
type JWTConfig struct {
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	JWKSURL     string        `yaml:"jwks_url"`
	UserClaim   string        `yaml:"user_claim"`
	TenantClaim string        `yaml:"tenant_claim"`
	TierClaim   string        `yaml:"tier_claim"`
	ScopesClaim string        `yaml:"scopes_claim"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// RateLimitConfig sets requests per minute per service tier. Zero disables
// limiting for a tier.
type RateLimitConfig struct {
	DefaultRPM int            `yaml:"default_rpm"`
	Tiers      map[string]int `yaml:"tiers"`
}

// ObservabilityConfig holds monitoring and logging settings.
type ObservabilityConfig struct {
	Metrics   MetricsConfig `yaml:"metrics"`
	LogLevel  string        `yaml:"log_level"`  // default: "info"
	LogFormat string        `yaml:"log_format"` // "text" or "json", default: "text"
	Debug     string        `yaml:"debug"`      // comma-separated debug categories
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// MCPConfig holds settings for the MCP tool server.
type MCPConfig struct {
	Addr string `yaml:"addr"` // default: ":8090"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    180 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     1 << 20,
			MaxQueryLength:  4096,
			MaxDates:        60,
		},
		Backend: BackendConfig{
			Provider:  "none",
			Timeout:   60 * time.Second,
			MaxTokens: 2048,
		},
		Dataset: DatasetConfig{
			Path: "./data",
		},
		Sandbox: SandboxConfig{
			Backend:        "auto",
			Python:         "python3",
			Image:          "python:3.11-slim",
			Docker:         "docker",
			CPUs:           "0.5",
			Timeout:        30 * time.Second,
			MemoryLimitMB:  512,
			MaxOutputBytes: 10 << 20,
			MaxConcurrent:  4,
			Kubernetes: KubernetesConfig{
				Namespace:      "default",
				AcquireTimeout: 60 * time.Second,
			},
		},
		Cache: CacheConfig{
			Address: "localhost:6379",
			TTL:     24 * time.Hour,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			LogLevel:  "info",
			LogFormat: "text",
		},
		MCP: MCPConfig{
			Addr: ":8090",
		},
	}
}
