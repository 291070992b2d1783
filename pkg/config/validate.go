package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported at once, each with its field path.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.MaxBodySize <= 0 {
		add("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize)
	}
	if c.Server.MaxDates < 0 {
		add("server.max_dates must be >= 0, got %d", c.Server.MaxDates)
	}

	switch c.Backend.Provider {
	case "none":
	case "openaicompat", "litellm":
		if c.Backend.URL == "" {
			add("backend.url is required when backend.provider is %q", c.Backend.Provider)
		}
		if c.Backend.Timeout <= 0 {
			add("backend.timeout must be > 0, got %s", c.Backend.Timeout)
		}
	default:
		add("backend.provider must be \"openaicompat\", \"litellm\" or \"none\", got %q", c.Backend.Provider)
	}
	if c.Backend.Temperature < 0 || c.Backend.Temperature > 2 {
		add("backend.temperature must be in 0..2, got %g", c.Backend.Temperature)
	}

	if strings.TrimSpace(c.Dataset.Path) == "" {
		add("dataset.path is required")
	}

	switch c.Sandbox.Backend {
	case "auto", "container", "process":
	case "remote":
		if c.Sandbox.RemoteURL == "" && c.Sandbox.Kubernetes.Template == "" {
			add("sandbox.remote_url or sandbox.kubernetes.template is required when sandbox.backend is \"remote\"")
		}
	default:
		add("sandbox.backend must be \"auto\", \"container\", \"process\" or \"remote\", got %q", c.Sandbox.Backend)
	}
	if c.Sandbox.Timeout <= 0 {
		add("sandbox.timeout must be > 0, got %s", c.Sandbox.Timeout)
	}
	if c.Sandbox.MemoryLimitMB <= 0 {
		add("sandbox.memory_limit_mb must be > 0, got %d", c.Sandbox.MemoryLimitMB)
	}
	if c.Sandbox.MaxConcurrent <= 0 {
		add("sandbox.max_concurrent must be > 0, got %d", c.Sandbox.MaxConcurrent)
	}

	if c.Cache.Enabled {
		if c.Cache.Address == "" {
			add("cache.address is required when cache.enabled is true")
		}
		if c.Cache.TTL <= 0 {
			add("cache.ttl must be > 0, got %s", c.Cache.TTL)
		}
	}

	switch c.Storage.Type {
	case "memory", "none":
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			add("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\"")
		}
	default:
		add("storage.type must be \"memory\", \"postgres\" or \"none\", got %q", c.Storage.Type)
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			add("auth.api_keys must not be empty when auth.type is \"apikey\"")
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				add("auth.api_keys[%d]: key or key_file is required", i)
			}
			if k.Subject == "" {
				add("auth.api_keys[%d]: subject is required", i)
			}
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" {
			add("auth.jwt.jwks_url is required when auth.type is \"jwt\"")
		}
	default:
		add("auth.type must be \"none\", \"apikey\" or \"jwt\", got %q", c.Auth.Type)
	}
	if c.Auth.RateLimit.DefaultRPM < 0 {
		add("auth.rate_limit.default_rpm must be >= 0, got %d", c.Auth.RateLimit.DefaultRPM)
	}

	switch c.Observability.LogFormat {
	case "text", "json":
	default:
		add("observability.log_format must be \"text\" or \"json\", got %q", c.Observability.LogFormat)
	}
	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		add("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path)
	}

	return errors.Join(errs...)
}
