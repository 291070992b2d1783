package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

// writeTemp creates a file in a per-test directory and returns its path.
func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.MaxBodySize != 1<<20 {
		t.Errorf("server.max_body_size = %d, want %d", cfg.Server.MaxBodySize, 1<<20)
	}
	if cfg.Backend.Provider != "none" {
		t.Errorf("backend.provider = %q, want %q", cfg.Backend.Provider, "none")
	}
	if cfg.Dataset.Path != "./data" {
		t.Errorf("dataset.path = %q, want %q", cfg.Dataset.Path, "./data")
	}
	if cfg.Sandbox.Backend != "auto" || cfg.Sandbox.Timeout != 30*time.Second || cfg.Sandbox.MemoryLimitMB != 512 {
		t.Errorf("sandbox = %s/%s/%d, want auto/30s/512", cfg.Sandbox.Backend, cfg.Sandbox.Timeout, cfg.Sandbox.MemoryLimitMB)
	}
	if cfg.Cache.Enabled {
		t.Error("cache.enabled = true, want false")
	}
	if cfg.Storage.Type != "memory" || cfg.Storage.MaxSize != 10000 {
		t.Errorf("storage = %s/%d, want memory/10000", cfg.Storage.Type, cfg.Storage.MaxSize)
	}
	if cfg.Auth.Type != "none" {
		t.Errorf("auth.type = %q, want %q", cfg.Auth.Type, "none")
	}
	if !cfg.Observability.Metrics.Enabled || cfg.Observability.Metrics.Path != "/metrics" {
		t.Errorf("metrics = %v %q, want enabled /metrics", cfg.Observability.Metrics.Enabled, cfg.Observability.Metrics.Path)
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
server:
  port: 9090
  write_timeout: 5m
  max_dates: 24
backend:
  provider: litellm
  url: http://localhost:4000
  model: kg-coder
  temperature: 0.2
  model_mapping:
    kg-coder: ollama/qwen2.5-coder
dataset:
  path: /srv/graph
  schema_file: /srv/graph/schema.yaml
sandbox:
  backend: remote
  timeout: 45s
  memory_limit_mb: 1024
  allowed_imports: [json, math]
  kubernetes:
    template: kg-python
    namespace: sandboxes
cache:
  enabled: true
  address: redis:6379
  ttl: 1h
storage:
  type: postgres
  postgres:
    dsn: "postgres://kg:kg@db/kgquery"
    max_conns: 10
    max_conn_lifetime: 30m
    migrate_on_start: true
auth:
  type: apikey
  api_keys:
    - key: kgq-1
      subject: alice
      tenant_id: retail-eu
      service_tier: premium
  rate_limit:
    default_rpm: 60
    tiers:
      premium: 600
observability:
  log_format: json
mcp:
  addr: ":9100"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.WriteTimeout != 5*time.Minute || cfg.Server.MaxDates != 24 {
		t.Errorf("server = %d/%s/%d, want 9090/5m/24", cfg.Server.Port, cfg.Server.WriteTimeout, cfg.Server.MaxDates)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("server.read_timeout = %s, want default 30s", cfg.Server.ReadTimeout)
	}
	if cfg.Backend.Provider != "litellm" || cfg.Backend.Model != "kg-coder" || cfg.Backend.Temperature != 0.2 {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if got := cfg.Backend.ModelMapping["kg-coder"]; got != "ollama/qwen2.5-coder" {
		t.Errorf("backend.model_mapping[kg-coder] = %q", got)
	}
	if cfg.Dataset.SchemaFile != "/srv/graph/schema.yaml" {
		t.Errorf("dataset.schema_file = %q", cfg.Dataset.SchemaFile)
	}
	if cfg.Sandbox.Kubernetes.Template != "kg-python" || cfg.Sandbox.Kubernetes.Namespace != "sandboxes" {
		t.Errorf("sandbox.kubernetes = %+v", cfg.Sandbox.Kubernetes)
	}
	if cfg.Sandbox.Kubernetes.AcquireTimeout != 60*time.Second {
		t.Errorf("sandbox.kubernetes.acquire_timeout = %s, want default 60s", cfg.Sandbox.Kubernetes.AcquireTimeout)
	}
	if !slices.Equal(cfg.Sandbox.AllowedImports, []string{"json", "math"}) {
		t.Errorf("sandbox.allowed_imports = %v", cfg.Sandbox.AllowedImports)
	}
	if !cfg.Cache.Enabled || cfg.Cache.TTL != time.Hour {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Storage.Postgres.MaxConns != 10 || cfg.Storage.Postgres.MaxConnLifetime != 30*time.Minute || !cfg.Storage.Postgres.MigrateOnStart {
		t.Errorf("storage.postgres = %+v", cfg.Storage.Postgres)
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].TenantID != "retail-eu" {
		t.Errorf("auth.api_keys = %+v", cfg.Auth.APIKeys)
	}
	if cfg.Auth.RateLimit.DefaultRPM != 60 || cfg.Auth.RateLimit.Tiers["premium"] != 600 {
		t.Errorf("auth.rate_limit = %+v", cfg.Auth.RateLimit)
	}
	if cfg.Observability.LogFormat != "json" {
		t.Errorf("observability.log_format = %q", cfg.Observability.LogFormat)
	}
	if cfg.MCP.Addr != ":9100" {
		t.Errorf("mcp.addr = %q", cfg.MCP.Addr)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTemp(t, "config.yaml", "sandbox:\n  timout: 10s\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load succeeded, want error for unknown key")
	}
	if !strings.Contains(err.Error(), "timout") {
		t.Errorf("error = %v, want mention of the unknown key", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeTemp(t, "config.yaml", ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
server:
  port: 9090
backend:
  provider: openaicompat
  url: http://from-file:8000
`)

	t.Setenv("KGQUERY_PORT", "7070")
	t.Setenv("KGQUERY_BACKEND_URL", "http://from-env:8000")
	t.Setenv("KGQUERY_SANDBOX_TIMEOUT", "12s")
	t.Setenv("KGQUERY_SANDBOX_ALLOWED_IMPORTS", "json, statistics,,math")
	t.Setenv("KGQUERY_CACHE_ENABLED", "true")
	t.Setenv("KGQUERY_STORAGE", "none")
	t.Setenv("KGQUERY_API_KEYS", `[{"key":"kgq-env","subject":"ci","service_tier":"batch"}]`)
	t.Setenv("KGQUERY_AUTH_TYPE", "apikey")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("server.port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Backend.URL != "http://from-env:8000" {
		t.Errorf("backend.url = %q, want env value", cfg.Backend.URL)
	}
	if cfg.Sandbox.Timeout != 12*time.Second {
		t.Errorf("sandbox.timeout = %s, want 12s", cfg.Sandbox.Timeout)
	}
	if want := []string{"json", "statistics", "math"}; !slices.Equal(cfg.Sandbox.AllowedImports, want) {
		t.Errorf("sandbox.allowed_imports = %v, want %v", cfg.Sandbox.AllowedImports, want)
	}
	if !cfg.Cache.Enabled {
		t.Error("cache.enabled = false, want true")
	}
	if cfg.Storage.Type != "none" {
		t.Errorf("storage.type = %q, want %q", cfg.Storage.Type, "none")
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].ServiceTier != "batch" {
		t.Errorf("auth.api_keys = %+v", cfg.Auth.APIKeys)
	}
}

func TestEnvOverridesMalformed(t *testing.T) {
	t.Setenv("KGQUERY_CONFIG", writeTemp(t, "config.yaml", ""))
	t.Setenv("KGQUERY_PORT", "eighty")
	t.Setenv("KGQUERY_SANDBOX_TIMEOUT", "soon")

	_, err := Load("")
	if err == nil {
		t.Fatal("Load succeeded, want error")
	}
	for _, want := range []string{"KGQUERY_PORT", "KGQUERY_SANDBOX_TIMEOUT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestFileReferences(t *testing.T) {
	apiKey := writeTemp(t, "backend-key", "  sk-from-file  \n")
	password := writeTemp(t, "redis-pass", "hunter2\n")
	dsn := writeTemp(t, "dsn", "postgres://kg@db/kgquery\n")
	userKey := writeTemp(t, "user-key", "kgq-from-file")

	path := writeTemp(t, "config.yaml", `
backend:
  provider: openaicompat
  url: http://localhost:8000
  api_key_file: `+apiKey+`
cache:
  enabled: true
  password_file: `+password+`
storage:
  type: postgres
  postgres:
    dsn_file: `+dsn+`
auth:
  type: apikey
  api_keys:
    - key_file: `+userKey+`
      subject: alice
    - key: kgq-inline
      key_file: /does/not/exist
      subject: bob
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		field string
		got   string
		want  string
	}{
		{"backend.api_key", cfg.Backend.APIKey, "sk-from-file"},
		{"cache.password", cfg.Cache.Password, "hunter2"},
		{"storage.postgres.dsn", cfg.Storage.Postgres.DSN, "postgres://kg@db/kgquery"},
		{"auth.api_keys[0].key", cfg.Auth.APIKeys[0].Key, "kgq-from-file"},
		{"auth.api_keys[1].key", cfg.Auth.APIKeys[1].Key, "kgq-inline"},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("%s = %q, want %q", tc.field, tc.got, tc.want)
		}
	}
}

func TestFileReferenceMissing(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
backend:
  provider: openaicompat
  url: http://localhost:8000
  api_key_file: /does/not/exist
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "backend.api_key_file") {
		t.Errorf("Load error = %v, want backend.api_key_file failure", err)
	}
}

func TestFileDiscovery(t *testing.T) {
	t.Run("env var", func(t *testing.T) {
		t.Setenv("KGQUERY_CONFIG", writeTemp(t, "env.yaml", "server:\n  port: 7001\n"))
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Server.Port != 7001 {
			t.Errorf("server.port = %d, want 7001", cfg.Server.Port)
		}
	})

	t.Run("explicit path wins", func(t *testing.T) {
		t.Setenv("KGQUERY_CONFIG", writeTemp(t, "env.yaml", "server:\n  port: 7001\n"))
		cfg, err := Load(writeTemp(t, "explicit.yaml", "server:\n  port: 7002\n"))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Server.Port != 7002 {
			t.Errorf("server.port = %d, want 7002", cfg.Server.Port)
		}
	})

	t.Run("working directory", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 7003\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Chdir(dir)
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Server.Port != 7003 {
			t.Errorf("server.port = %d, want 7003", cfg.Server.Port)
		}
	})

	t.Run("missing explicit file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("Load succeeded, want error")
		}
	})
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown provider", func(c *Config) { c.Backend.Provider = "vllm" }, "backend.provider"},
		{"provider without url", func(c *Config) { c.Backend.Provider = "openaicompat" }, "backend.url"},
		{"temperature", func(c *Config) { c.Backend.Temperature = 3 }, "backend.temperature"},
		{"empty dataset", func(c *Config) { c.Dataset.Path = " " }, "dataset.path"},
		{"unknown sandbox", func(c *Config) { c.Sandbox.Backend = "wasm" }, "sandbox.backend"},
		{"remote without target", func(c *Config) { c.Sandbox.Backend = "remote" }, "sandbox.remote_url"},
		{"remote via kubernetes", func(c *Config) {
			c.Sandbox.Backend = "remote"
			c.Sandbox.Kubernetes.Template = "kg-python"
		}, ""},
		{"zero timeout", func(c *Config) { c.Sandbox.Timeout = 0 }, "sandbox.timeout"},
		{"zero memory", func(c *Config) { c.Sandbox.MemoryLimitMB = 0 }, "sandbox.memory_limit_mb"},
		{"cache without ttl", func(c *Config) {
			c.Cache.Enabled = true
			c.Cache.TTL = 0
		}, "cache.ttl"},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = "postgres" }, "storage.postgres.dsn"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "redis" }, "storage.type"},
		{"apikey without keys", func(c *Config) { c.Auth.Type = "apikey" }, "auth.api_keys"},
		{"apikey without subject", func(c *Config) {
			c.Auth.Type = "apikey"
			c.Auth.APIKeys = []APIKeyConfig{{Key: "kgq-1"}}
		}, "auth.api_keys[0]: subject"},
		{"jwt without jwks", func(c *Config) { c.Auth.Type = "jwt" }, "auth.jwt.jwks_url"},
		{"unknown auth", func(c *Config) { c.Auth.Type = "oauth" }, "auth.type"},
		{"log format", func(c *Config) { c.Observability.LogFormat = "xml" }, "observability.log_format"},
		{"metrics path", func(c *Config) { c.Observability.Metrics.Path = "metrics" }, "observability.metrics.path"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()

			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidationReportsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	cfg.Storage.Type = "redis"
	cfg.Auth.Type = "oauth"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"server.port", "storage.type", "auth.type"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
