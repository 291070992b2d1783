package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultTier is the service tier of identities that carry none.
const DefaultTier = "default"

// Decision is an authenticator's vote on a request.
type Decision int

const (
	// Yes accepts the credentials and ends the chain.
	Yes Decision = iota
	// No rejects credentials that were present but invalid, ending the chain.
	No
	// Abstain passes to the next authenticator.
	Abstain
)

func (d Decision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Abstain:
		return "abstain"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// Result is the outcome of one authentication attempt. Identity is set for
// Yes, Err for No.
type Result struct {
	Decision Decision
	Identity *Identity
	Err      error
}

// Identity is an authenticated caller. Subject is never empty. The
// "tenant_id" metadata key scopes the caller's stored queries.
type Identity struct {
	Subject     string
	ServiceTier string // selects the rate limit
	Scopes      []string
	Metadata    map[string]string
}

// Tier returns the service tier, or DefaultTier when unset.
func (id *Identity) Tier() string {
	if id == nil || id.ServiceTier == "" {
		return DefaultTier
	}
	return id.ServiceTier
}

// TenantID returns the tenant identifier from metadata, or empty string.
func (id *Identity) TenantID() string {
	if id == nil || id.Metadata == nil {
		return ""
	}
	return id.Metadata["tenant_id"]
}

// Authenticator examines request credentials and returns a three-outcome vote.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

// BearerToken returns the token of a "Bearer" Authorization header. ok is
// false when the header is absent or uses another scheme; an empty token
// with ok true means the scheme was right but the token is missing.
func BearerToken(r *http.Request) (token string, ok bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Chain asks its authenticators in order until one votes Yes or No. When
// all abstain, DefaultDecision applies: Yes admits an anonymous caller.
type Chain struct {
	Authenticators  []Authenticator
	DefaultDecision Decision
}

// Authenticate runs the chain.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, authn := range c.Authenticators {
		if result := authn.Authenticate(ctx, r); result.Decision != Abstain {
			return result
		}
	}

	if c.DefaultDecision == Yes {
		return Result{
			Decision: Yes,
			Identity: &Identity{Subject: "anonymous", ServiceTier: DefaultTier},
		}
	}

	return Result{
		Decision: No,
		Err:      ErrUnauthenticated,
	}
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
