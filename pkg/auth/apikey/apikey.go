// Package apikey authenticates bearer tokens against a static set of keys.
// Keys are kept as SHA-256 hashes and compared in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/rhuss/kgquery/pkg/auth"
)

type keyEntry struct {
	hash     [32]byte
	identity auth.Identity
}

// RawKeyEntry is the configuration format for API keys.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

// Authenticator validates bearer tokens against a static key store.
type Authenticator struct {
	keys []keyEntry
}

// New creates an API key authenticator. Keys are hashed immediately and
// entries with an empty key or subject are skipped.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{}
	for i, e := range entries {
		if e.Key == "" || e.Identity.Subject == "" {
			slog.Warn("skipping api key entry without key or subject", "index", i)
			continue
		}
		a.keys = append(a.keys, keyEntry{
			hash:     sha256.Sum256([]byte(e.Key)),
			identity: e.Identity,
		})
	}
	return a
}

// Len returns the number of usable keys.
func (a *Authenticator) Len() int { return len(a.keys) }

// Authenticate abstains without a bearer token, votes No for an unknown
// or empty token and Yes for a known one.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	token, ok := auth.BearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if token == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	tokenHash := sha256.Sum256([]byte(token))
	match := -1
	for i, entry := range a.keys {
		// Every entry is compared so timing does not leak the match position.
		if subtle.ConstantTimeCompare(tokenHash[:], entry.hash[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	id := a.keys[match].identity
	if len(id.Metadata) > 0 {
		md := make(map[string]string, len(id.Metadata))
		for k, v := range id.Metadata {
			md[k] = v
		}
		id.Metadata = md
	}
	return auth.Result{Decision: auth.Yes, Identity: &id}
}
