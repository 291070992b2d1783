package litellm

import "time"

// Config holds configuration for the LiteLLM adapter.
type Config struct {
	// BaseURL is the LiteLLM proxy URL (e.g., "http://localhost:4000").
	BaseURL string

	// APIKey for LiteLLM authentication (optional).
	APIKey string

	// Model is the logical model name sent with every request.
	Model string

	// Timeout for individual HTTP requests. Defaults to 120s.
	Timeout time.Duration

	// ModelMapping maps logical model names to LiteLLM model identifiers,
	// e.g. {"gpt-4.1": "azure/gpt-4.1"}. Unmapped names pass through.
	ModelMapping map[string]string

	// Headers are added to every request. Gateways in front of LiteLLM
	// often authenticate with a custom key header.
	Headers map[string]string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Model:   "azure/gpt-4.1",
		Timeout: 120 * time.Second,
	}
}
