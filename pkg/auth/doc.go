// Package auth authenticates callers of the query API.
//
// Authenticators form a chain with three-outcome voting: each returns Yes
// (identity found), No (credentials invalid) or Abstain (cannot handle the
// credentials). DefaultDecision settles requests every authenticator
// abstained on.
//
// The chain runs as HTTP middleware in front of the query endpoints. It
// also applies per-tier rate limits and puts the caller's tenant into the
// request context, which scopes the stored query history.
package auth
