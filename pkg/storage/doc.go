// Package storage holds what the query history adapters share: sentinel
// errors, tenant context helpers and the paging rules.
//
// Adapters (memory, postgres) implement transport.QueryStore, which is
// defined in pkg/transport/handler.go.
package storage
