// Package jwt authenticates bearer tokens issued by an OIDC provider. Tokens
// must be RSA-signed by a key published at the configured JWKS endpoint.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rhuss/kgquery/pkg/auth"
	"github.com/rhuss/kgquery/pkg/debug"
)

// Config holds the JWT authenticator configuration. Claim names default to
// sub, tenant_id, service_tier and scope.
type Config struct {
	Issuer   string // not checked when empty
	Audience string // not checked when empty
	JWKSURL  string

	UserClaim   string
	TenantClaim string
	TierClaim   string
	// ScopesClaim may hold a space-separated string or a string array.
	ScopesClaim string

	// CacheTTL bounds how long a fetched key set is trusted. Default: 1h.
	CacheTTL time.Duration

	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	defaults := []struct {
		field *string
		value string
	}{
		{&c.UserClaim, "sub"},
		{&c.TenantClaim, "tenant_id"},
		{&c.TierClaim, "service_tier"},
		{&c.ScopesClaim, "scope"},
	}
	for _, d := range defaults {
		if *d.field == "" {
			*d.field = d.value
		}
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	config Config
	keys   *keySet
	parser *jwtlib.Parser
}

// New creates a JWT authenticator.
func New(cfg Config) *Authenticator {
	cfg.applyDefaults()

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwtlib.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}

	return &Authenticator{
		config: cfg,
		keys:   newKeySet(cfg.JWKSURL, cfg.HTTPClient, cfg.CacheTTL),
		parser: jwtlib.NewParser(opts...),
	}
}

// Authenticate abstains when the request carries no bearer token, votes No
// for any token that fails verification and Yes otherwise.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Result {
	raw, ok := auth.BearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if raw == "" {
		return reject(errors.New("empty bearer token"))
	}

	claims := jwtlib.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(token *jwtlib.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return a.keys.key(ctx, kid)
	})
	if err != nil {
		debug.Log("auth", "jwt rejected", "error", err)
		return reject(fmt.Errorf("invalid JWT: %w", err))
	}

	cs := claimSet(claims)
	subject := cs.str(a.config.UserClaim)
	if subject == "" {
		return reject(fmt.Errorf("JWT has no %q claim", a.config.UserClaim))
	}

	id := &auth.Identity{
		Subject:     subject,
		ServiceTier: cs.str(a.config.TierClaim),
		Scopes:      cs.list(a.config.ScopesClaim),
		Metadata:    map[string]string{},
	}
	if tenant := cs.str(a.config.TenantClaim); tenant != "" {
		id.Metadata["tenant_id"] = tenant
	}
	return auth.Result{Decision: auth.Yes, Identity: id}
}

func reject(err error) auth.Result {
	return auth.Result{Decision: auth.No, Err: err}
}

// claimSet reads loosely typed claim values.
type claimSet jwtlib.MapClaims

func (c claimSet) str(name string) string {
	s, _ := c[name].(string)
	return s
}

// list accepts "a b c" as well as ["a", "b", "c"]. Non-string array items
// are skipped.
func (c claimSet) list(name string) []string {
	var out []string
	switch v := c[name].(type) {
	case string:
		out = strings.Fields(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
