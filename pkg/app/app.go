// Package app assembles a query engine and its collaborators from a loaded
// configuration. The server, the CLI and the MCP server share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/auth"
	"github.com/rhuss/kgquery/pkg/auth/apikey"
	"github.com/rhuss/kgquery/pkg/auth/jwt"
	"github.com/rhuss/kgquery/pkg/cache"
	"github.com/rhuss/kgquery/pkg/classify"
	"github.com/rhuss/kgquery/pkg/config"
	"github.com/rhuss/kgquery/pkg/debug"
	"github.com/rhuss/kgquery/pkg/engine"
	"github.com/rhuss/kgquery/pkg/provider"
	"github.com/rhuss/kgquery/pkg/provider/litellm"
	"github.com/rhuss/kgquery/pkg/provider/openaicompat"
	"github.com/rhuss/kgquery/pkg/sandbox"
	"github.com/rhuss/kgquery/pkg/sandbox/kubernetes"
	"github.com/rhuss/kgquery/pkg/schema"
	"github.com/rhuss/kgquery/pkg/storage/memory"
	"github.com/rhuss/kgquery/pkg/storage/postgres"
	"github.com/rhuss/kgquery/pkg/synth"
	"github.com/rhuss/kgquery/pkg/temporal"
	"github.com/rhuss/kgquery/pkg/transport"
)

// App holds a wired engine. Backend and Store are nil when disabled.
type App struct {
	Config     *config.Config
	Schema     *schema.Schema
	Extractor  *temporal.Extractor
	Classifier *classify.Classifier
	Backend    provider.Backend
	Executor   *sandbox.Executor
	Store      transport.QueryStore
	Engine     *engine.Engine

	closers []func() error
}

// InitLogging configures pkg/debug and the default slog logger.
func InitLogging(cfg config.ObservabilityConfig) {
	debug.Init(debug.Options{
		Categories: cfg.Debug,
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
	})
}

// LoadSchema returns the schema file named by cfg, or the embedded schema.
func LoadSchema(cfg config.DatasetConfig) (*schema.Schema, error) {
	if cfg.SchemaFile == "" {
		return schema.Default(), nil
	}
	s, err := schema.Load(cfg.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}
	return s, nil
}

// New builds every component named by cfg. On error, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.Schema, err = LoadSchema(cfg.Dataset); err != nil {
		return nil, err
	}

	backend, closeBackend, err := NewBackend(ctx, cfg.Backend, cfg.Cache)
	if err != nil {
		return nil, err
	}
	a.Backend = backend
	a.onClose(closeBackend)

	if a.Executor, err = NewExecutor(ctx, cfg.Sandbox); err != nil {
		return nil, err
	}

	store, closeStore, err := NewStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.onClose(closeStore)

	a.Extractor = temporal.New()
	classifierOpts := []classify.Option{}
	synthOpts := []synth.Option{}
	if backend != nil {
		classifierOpts = append(classifierOpts, classify.WithBackend(backend))
		synthOpts = append(synthOpts, synth.WithBackend(backend))
	}
	a.Classifier = classify.New(a.Schema, a.Extractor, classifierOpts...)

	a.Engine, err = engine.New(a.Executor, a.Store, engine.Config{
		DatasetPath:   cfg.Dataset.Path,
		Timeout:       cfg.Sandbox.Timeout,
		MemoryLimitMB: cfg.Sandbox.MemoryLimitMB,
		Validation: api.ValidationConfig{
			MaxQueryLength: cfg.Server.MaxQueryLength,
			MaxDates:       cfg.Server.MaxDates,
		},
	},
		engine.WithExtractor(a.Extractor),
		engine.WithClassifier(a.Classifier),
		engine.WithSynthesizer(synth.New(a.Schema, synthOpts...)),
	)
	if err != nil {
		return nil, err
	}

	slog.Info("engine ready",
		"dataset", cfg.Dataset.Path,
		"backend", cfg.Backend.Provider,
		"sandbox", a.Executor.Backend(),
		"storage", cfg.Storage.Type,
		"cache", cfg.Cache.Enabled,
	)
	return a, nil
}

func (a *App) onClose(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Close releases the store, cache and backend connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewBackend creates the configured generation backend, instrumented and
// optionally wrapped in the Redis response cache. Provider "none" returns
// a nil backend.
func NewBackend(ctx context.Context, cfg config.BackendConfig, cacheCfg config.CacheConfig) (provider.Backend, func() error, error) {
	var (
		b       provider.Backend
		closeFn func() error
	)
	switch cfg.Provider {
	case "none", "":
		return nil, nil, nil
	case "openaicompat":
		opts := openaicompat.Options{Model: cfg.Model, Headers: cfg.Headers}
		temperature := cfg.Temperature
		opts.Temperature = &temperature
		if cfg.MaxTokens > 0 {
			maxTokens := cfg.MaxTokens
			opts.MaxTokens = &maxTokens
		}
		client := openaicompat.NewClient(cfg.URL, cfg.APIKey, cfg.Timeout, opts)
		b, closeFn = client, client.Close
	case "litellm":
		lb, err := litellm.New(litellm.Config{
			BaseURL:      cfg.URL,
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			Timeout:      cfg.Timeout,
			ModelMapping: cfg.ModelMapping,
			Headers:      cfg.Headers,
		})
		if err != nil {
			return nil, nil, err
		}
		b, closeFn = lb, lb.Close
	default:
		return nil, nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}

	b = provider.Instrument(cfg.Provider, b)

	if !cacheCfg.Enabled {
		return b, closeFn, nil
	}

	cc := cache.Config{
		Address:   cacheCfg.Address,
		Password:  cacheCfg.Password,
		DB:        cacheCfg.DB,
		TTL:       cacheCfg.TTL,
		Namespace: cfg.Model,
	}
	cached := cache.Wrap(b, cache.NewClient(cc), cc)
	if err := cached.Ping(ctx); err != nil {
		slog.Warn("response cache unreachable, lookups will fall through", "address", cacheCfg.Address, "error", err)
	}
	return cached, func() error {
		return errors.Join(cached.Close(), closeFn())
	}, nil
}

// SandboxConfig converts the sandbox section into executor settings.
func SandboxConfig(cfg config.SandboxConfig) sandbox.Config {
	sc := sandbox.DefaultConfig()
	sc.Backend = cfg.Backend
	sc.Python = cfg.Python
	sc.Image = cfg.Image
	sc.Docker = cfg.Docker
	sc.CPUs = cfg.CPUs
	sc.Timeout = cfg.Timeout
	sc.MemoryLimitMB = cfg.MemoryLimitMB
	sc.MaxOutputBytes = cfg.MaxOutputBytes
	sc.RemoteURL = cfg.RemoteURL
	if len(cfg.AllowedImports) > 0 {
		sc.AllowedImports = cfg.AllowedImports
	}
	return sc
}

// NewExecutor selects the sandbox backend. A remote backend without a
// fixed URL claims sandbox pods through the Kubernetes acquirer.
func NewExecutor(ctx context.Context, cfg config.SandboxConfig) (*sandbox.Executor, error) {
	var acquirer sandbox.Acquirer
	if cfg.Backend == sandbox.BackendRemote && cfg.RemoteURL == "" && cfg.Kubernetes.Template != "" {
		ka, err := kubernetes.NewFromEnvironment(cfg.Kubernetes.Template, cfg.Kubernetes.Namespace, cfg.Kubernetes.AcquireTimeout)
		if err != nil {
			return nil, fmt.Errorf("sandbox acquirer: %w", err)
		}
		acquirer = ka
	}
	exec, err := sandbox.New(ctx, SandboxConfig(cfg), acquirer)
	if err != nil {
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}
	return exec, nil
}

// NewStore opens the query history store. Type "none" returns a nil store.
func NewStore(ctx context.Context, cfg config.StorageConfig) (transport.QueryStore, func() error, error) {
	switch cfg.Type {
	case "none":
		slog.Info("query history disabled")
		return nil, nil, nil
	case "memory", "":
		s := memory.New(cfg.MaxSize)
		return s, s.Close, nil
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MigrateOnStart:  cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// AuthMiddleware builds the authentication and rate limit middleware.
// Type "none" with no rate limit returns nil.
func AuthMiddleware(cfg config.AuthConfig, bypass []string) (func(http.Handler) http.Handler, error) {
	chain := &auth.Chain{DefaultDecision: auth.No}

	switch cfg.Type {
	case "none", "":
		chain.DefaultDecision = auth.Yes
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			id := auth.Identity{Subject: k.Subject, ServiceTier: k.ServiceTier}
			if k.TenantID != "" {
				id.Metadata = map[string]string{"tenant_id": k.TenantID}
			}
			entries = append(entries, apikey.RawKeyEntry{Key: k.Key, Identity: id})
		}
		authn := apikey.New(entries)
		if authn.Len() == 0 {
			return nil, errors.New("auth: no usable api keys")
		}
		chain.Authenticators = append(chain.Authenticators, authn)
	case "jwt":
		chain.Authenticators = append(chain.Authenticators, jwt.New(jwt.Config{
			Issuer:      cfg.JWT.Issuer,
			Audience:    cfg.JWT.Audience,
			JWKSURL:     cfg.JWT.JWKSURL,
			UserClaim:   cfg.JWT.UserClaim,
			TenantClaim: cfg.JWT.TenantClaim,
			TierClaim:   cfg.JWT.TierClaim,
			ScopesClaim: cfg.JWT.ScopesClaim,
			CacheTTL:    cfg.JWT.CacheTTL,
		}))
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}

	var limiter auth.RateLimiter
	if cfg.RateLimit.DefaultRPM > 0 || len(cfg.RateLimit.Tiers) > 0 {
		tiers := make(map[string]auth.TierConfig, len(cfg.RateLimit.Tiers))
		for name, rpm := range cfg.RateLimit.Tiers {
			tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
		}
		limiter = auth.NewInProcessLimiter(tiers, cfg.RateLimit.DefaultRPM)
	}

	if chain.DefaultDecision == auth.Yes && limiter == nil {
		return nil, nil
	}
	slog.Info("authentication enabled", "type", cfg.Type, "rate_limit", limiter != nil)
	return auth.Middleware(chain, limiter, bypass), nil
}
