package auth

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/debug"
	"github.com/rhuss/kgquery/pkg/observability"
	"github.com/rhuss/kgquery/pkg/storage"
	"github.com/rhuss/kgquery/pkg/transport"
)

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// Middleware creates HTTP middleware from an Chain and optional RateLimiter.
// It checks the bypass list, runs authentication, injects the identity and
// tenant into the request context, and enforces rate limits. Bypass entries
// ending in "/" match every path below them.
func Middleware(chain *Chain, limiter RateLimiter, bypassEndpoints []string) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(bypassEndpoints))
	var prefixes []string
	for _, ep := range bypassEndpoints {
		if strings.HasSuffix(ep, "/") {
			prefixes = append(prefixes, ep)
			continue
		}
		bypass[ep] = true
	}
	bypassed := func(path string) bool {
		if bypass[path] {
			return true
		}
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypassed(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			result := chain.Authenticate(r.Context(), r)
			if result.Decision != Yes || result.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="kgquery"`)
				transport.WriteErrorResponse(w, &api.APIError{
					Type:    api.ErrorTypeInvalidRequest,
					Code:    "unauthenticated",
					Message: "authentication required",
				}, http.StatusUnauthorized)
				return
			}

			if result.Identity.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
				return
			}

			debug.Log("transport", "authenticated", "subject", result.Identity.Subject, "tier", result.Identity.Tier(), "path", r.URL.Path)

			if limiter != nil {
				if err := limiter.Allow(r.Context(), result.Identity); err != nil {
					slog.Warn("rate limit exceeded",
						"subject", result.Identity.Subject,
						"tier", result.Identity.Tier(),
					)
					observability.RateLimitRejectedTotal.WithLabelValues(result.Identity.Tier()).Inc()
					var rlErr *RateLimitError
					if errors.As(err, &rlErr) {
						secs := int(math.Ceil(rlErr.RetryAfter.Seconds()))
						w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
					}
					transport.WriteAPIError(w, api.NewTooManyRequestsError("rate limit exceeded"))
					return
				}
			}

			ctx := WithIdentity(r.Context(), result.Identity)
			if tenantID := result.Identity.TenantID(); tenantID != "" {
				ctx = storage.WithTenant(ctx, tenantID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
