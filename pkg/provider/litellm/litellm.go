package litellm

import (
	"context"
	"fmt"
	"time"

	"github.com/rhuss/kgquery/pkg/provider"
	"github.com/rhuss/kgquery/pkg/provider/openaicompat"
)

// Backend implements provider.Backend for LiteLLM proxy servers.
type Backend struct {
	cfg    Config
	client *openaicompat.Client
}

var _ provider.Backend = (*Backend)(nil)

// New creates a new Backend with the given configuration.
func New(cfg Config) (*Backend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("litellm: BaseURL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("litellm: Model is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	client := openaicompat.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout, openaicompat.Options{
		Model:   cfg.Model,
		Headers: cfg.Headers,
	})

	if len(cfg.ModelMapping) > 0 {
		mapping := cfg.ModelMapping
		client.ModelMapper = func(model string) string {
			if mapped, ok := mapping[model]; ok {
				return mapped
			}
			return model
		}
	}

	return &Backend{cfg: cfg, client: client}, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return "litellm"
}

// Generate sends prompt to the proxy and returns the reply text.
func (b *Backend) Generate(ctx context.Context, prompt string) (string, error) {
	return b.client.Generate(ctx, prompt)
}

// Ping checks that the proxy answers its models endpoint.
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.client.ListModels(ctx)
	return err
}

// Close releases backend resources.
func (b *Backend) Close() error {
	return b.client.Close()
}
