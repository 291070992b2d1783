package provider

import (
	"context"
	"time"

	"github.com/rhuss/kgquery/pkg/debug"
	"github.com/rhuss/kgquery/pkg/observability"
)

// Backend turns prompt text into response text. Callers must tolerate both
// errors and unparsable replies.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// BackendFunc adapts an ordinary function to the Backend interface.
type BackendFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f(ctx, prompt).
func (f BackendFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type purposeKey struct{}

// WithPurpose tags ctx with the reason for a backend call ("classify",
// "synthesize"). The tag only feeds metrics and debug logs.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey{}, purpose)
}

// PurposeFrom returns the purpose tag of ctx, or "unknown".
func PurposeFrom(ctx context.Context) string {
	if p, ok := ctx.Value(purposeKey{}).(string); ok {
		return p
	}
	return "unknown"
}

// Instrument wraps b so every call is counted, timed and debug-logged under
// the given backend name.
func Instrument(name string, b Backend) Backend {
	return BackendFunc(func(ctx context.Context, prompt string) (string, error) {
		purpose := PurposeFrom(ctx)
		debug.Log("backend", "generate", "backend", name, "purpose", purpose, "prompt_bytes", len(prompt))
		debug.Trace("backend", "prompt", "text", prompt)

		start := time.Now()
		out, err := b.Generate(ctx, prompt)
		elapsed := time.Since(start)
		observability.ObserveBackend(name, purpose, elapsed, err)

		if err != nil {
			debug.Log("backend", "generate failed", "backend", name, "purpose", purpose, "error", err)
			return "", err
		}
		debug.Log("backend", "generate done", "backend", name, "purpose", purpose,
			"response_bytes", len(out), "elapsed_ms", elapsed.Milliseconds())
		debug.Trace("backend", "response", "text", out)
		return out, nil
	})
}
