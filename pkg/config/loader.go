package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/kgquery/pkg/debug"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "KGQUERY_"

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, KGQUERY_CONFIG env, ./config.yaml, /etc/kgquery/config.yaml)
//  3. KGQUERY_* environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
		debug.Log("config", "loaded config file", "path", filePath)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. KGQUERY_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/kgquery/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv(EnvPrefix + "CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/kgquery/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
// Unknown keys are rejected so that typos do not pass silently.
func loadYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// envBinding maps one environment variable (without prefix) onto a field.
type envBinding struct {
	name string
	set  func(cfg *Config, v string) error
}

func stringVar(field func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*field(cfg) = v
		return nil
	}
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}
}

func boolVar(field func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(cfg) = b
		return nil
	}
}

func durationVar(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(cfg) = d
		return nil
	}
}

func listVar(field func(*Config) *[]string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		var items []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*field(cfg) = items
		return nil
	}
}

var envBindings = []envBinding{
	{"PORT", intVar(func(c *Config) *int { return &c.Server.Port })},
	{"MAX_QUERY_LENGTH", intVar(func(c *Config) *int { return &c.Server.MaxQueryLength })},
	{"SHUTDOWN_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout })},

	{"BACKEND_PROVIDER", stringVar(func(c *Config) *string { return &c.Backend.Provider })},
	{"BACKEND_URL", stringVar(func(c *Config) *string { return &c.Backend.URL })},
	{"BACKEND_API_KEY", stringVar(func(c *Config) *string { return &c.Backend.APIKey })},
	{"BACKEND_MODEL", stringVar(func(c *Config) *string { return &c.Backend.Model })},
	{"BACKEND_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Backend.Timeout })},

	{"DATASET_PATH", stringVar(func(c *Config) *string { return &c.Dataset.Path })},
	{"SCHEMA_FILE", stringVar(func(c *Config) *string { return &c.Dataset.SchemaFile })},

	{"SANDBOX_BACKEND", stringVar(func(c *Config) *string { return &c.Sandbox.Backend })},
	{"SANDBOX_PYTHON", stringVar(func(c *Config) *string { return &c.Sandbox.Python })},
	{"SANDBOX_IMAGE", stringVar(func(c *Config) *string { return &c.Sandbox.Image })},
	{"SANDBOX_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Sandbox.Timeout })},
	{"SANDBOX_MEMORY_MB", intVar(func(c *Config) *int { return &c.Sandbox.MemoryLimitMB })},
	{"SANDBOX_ALLOWED_IMPORTS", listVar(func(c *Config) *[]string { return &c.Sandbox.AllowedImports })},
	{"SANDBOX_URL", stringVar(func(c *Config) *string { return &c.Sandbox.RemoteURL })},
	{"SANDBOX_MAX_CONCURRENT", intVar(func(c *Config) *int { return &c.Sandbox.MaxConcurrent })},
	{"SANDBOX_TEMPLATE", stringVar(func(c *Config) *string { return &c.Sandbox.Kubernetes.Template })},
	{"SANDBOX_NAMESPACE", stringVar(func(c *Config) *string { return &c.Sandbox.Kubernetes.Namespace })},

	{"CACHE_ENABLED", boolVar(func(c *Config) *bool { return &c.Cache.Enabled })},
	{"CACHE_ADDRESS", stringVar(func(c *Config) *string { return &c.Cache.Address })},
	{"CACHE_PASSWORD", stringVar(func(c *Config) *string { return &c.Cache.Password })},
	{"CACHE_TTL", durationVar(func(c *Config) *time.Duration { return &c.Cache.TTL })},

	{"STORAGE", stringVar(func(c *Config) *string { return &c.Storage.Type })},
	{"STORAGE_SIZE", intVar(func(c *Config) *int { return &c.Storage.MaxSize })},
	{"POSTGRES_DSN", stringVar(func(c *Config) *string { return &c.Storage.Postgres.DSN })},
	{"POSTGRES_MIGRATE", boolVar(func(c *Config) *bool { return &c.Storage.Postgres.MigrateOnStart })},

	{"AUTH_TYPE", stringVar(func(c *Config) *string { return &c.Auth.Type })},
	{"JWT_ISSUER", stringVar(func(c *Config) *string { return &c.Auth.JWT.Issuer })},
	{"JWT_AUDIENCE", stringVar(func(c *Config) *string { return &c.Auth.JWT.Audience })},
	{"JWT_JWKS_URL", stringVar(func(c *Config) *string { return &c.Auth.JWT.JWKSURL })},
	{"RATE_LIMIT_RPM", intVar(func(c *Config) *int { return &c.Auth.RateLimit.DefaultRPM })},

	{"METRICS_ENABLED", boolVar(func(c *Config) *bool { return &c.Observability.Metrics.Enabled })},
	{"LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Observability.LogFormat })},

	{"MCP_ADDR", stringVar(func(c *Config) *string { return &c.MCP.Addr })},
}

// applyEnvOverrides maps KGQUERY_* environment variables onto config
// fields. Malformed values are reported together.
//
// KGQUERY_LOG_LEVEL and KGQUERY_DEBUG are read by pkg/debug directly.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := os.LookupEnv(EnvPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, b.name, v, err))
			continue
		}
		debug.Log("config", "env override", "var", EnvPrefix+b.name)
	}

	// KGQUERY_API_KEYS: JSON array of API key configs.
	if v := os.Getenv(EnvPrefix + "API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err != nil {
			errs = append(errs, err)
		} else if len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	return errors.Join(errs...)
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing %sAPI_KEYS: %w", EnvPrefix, err)
	}
	return keys, nil
}

type fileRef struct {
	name  string
	file  string
	value *string
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	refs := []fileRef{
		{"backend.api_key_file", cfg.Backend.APIKeyFile, &cfg.Backend.APIKey},
		{"cache.password_file", cfg.Cache.PasswordFile, &cfg.Cache.Password},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
	}
	for i := range cfg.Auth.APIKeys {
		key := &cfg.Auth.APIKeys[i]
		refs = append(refs, fileRef{fmt.Sprintf("auth.api_keys[%d].key_file", i), key.KeyFile, &key.Key})
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.value = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
