// Package memory provides an in-memory implementation of transport.QueryStore
// for tests and single-instance deployments. Envelopes are lost when the
// process restarts. An optional size bound evicts the least recently used
// envelope.
package memory

import (
	"cmp"
	"container/list"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/debug"
	"github.com/rhuss/kgquery/pkg/storage"
	"github.com/rhuss/kgquery/pkg/transport"
)

type entry struct {
	env       *api.ResponseEnvelope
	tenantID  string
	deletedAt *time.Time
	lruElem   *list.Element
}

// Store is an in-memory QueryStore with optional LRU eviction.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	lruList *list.List // front = most recently used
	maxSize int        // 0 = unlimited
}

var _ transport.QueryStore = (*Store)(nil)

// New creates a store. With maxSize > 0 the least recently used envelope is
// evicted once the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// SaveEnvelope stores env under its ID.
func (s *Store) SaveEnvelope(ctx context.Context, env *api.ResponseEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[env.ID]; exists {
		return storage.ErrConflict
	}
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	s.entries[env.ID] = &entry{
		env:      env,
		tenantID: storage.TenantFrom(ctx),
		lruElem:  s.lruList.PushFront(env.ID),
	}
	return nil
}

// GetEnvelope returns a stored envelope and marks it recently used.
func (s *Store) GetEnvelope(ctx context.Context, id string) (*api.ResponseEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.visible(ctx, id)
	if err != nil {
		return nil, err
	}
	s.lruList.MoveToFront(e.lruElem)
	return e.env, nil
}

// DeleteEnvelope soft-deletes an envelope. Deleted envelopes still count
// against the size bound until evicted.
func (s *Store) DeleteEnvelope(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.visible(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	e.deletedAt = &now
	s.lruList.MoveToBack(e.lruElem)
	return nil
}

// visible returns the live entry for id in the caller's tenant.
// Must be called with s.mu held.
func (s *Store) visible(ctx context.Context, id string) (*entry, error) {
	e, ok := s.entries[id]
	if !ok || e.deletedAt != nil {
		return nil, storage.ErrNotFound
	}
	if !storage.InTenant(ctx, e.tenantID) {
		return nil, storage.ErrNotFound
	}
	return e, nil
}

// ListEnvelopes returns a page of envelopes ordered by creation time.
func (s *Store) ListEnvelopes(ctx context.Context, opts transport.ListOptions) (*api.EnvelopeList, error) {
	s.mu.Lock()
	var matches []*api.ResponseEnvelope
	for _, e := range s.entries {
		if e.deletedAt != nil || !storage.InTenant(ctx, e.tenantID) {
			continue
		}
		matches = append(matches, e.env)
	}
	s.mu.Unlock()

	asc := opts.Order == "asc"
	slices.SortFunc(matches, func(a, b *api.ResponseEnvelope) int {
		c := cmp.Compare(a.CreatedAt, b.CreatedAt)
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if asc {
			return c
		}
		return -c
	})

	switch {
	case opts.After != "":
		idx := slices.IndexFunc(matches, func(e *api.ResponseEnvelope) bool { return e.ID == opts.After })
		if idx < 0 {
			matches = nil
		} else {
			matches = matches[idx+1:]
		}
	case opts.Before != "":
		idx := slices.IndexFunc(matches, func(e *api.ResponseEnvelope) bool { return e.ID == opts.Before })
		if idx <= 0 {
			matches = nil
		} else {
			matches = matches[:idx]
		}
	}

	limit := storage.ClampLimit(opts.Limit)
	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}

	result := &api.EnvelopeList{Object: "list", Data: matches, HasMore: hasMore}
	if len(matches) > 0 {
		result.FirstID = matches[0].ID
		result.LastID = matches[len(matches)-1].ID
	}
	if result.Data == nil {
		result.Data = []*api.ResponseEnvelope{}
	}
	return result, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of entries held, including soft-deleted ones.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictOldest removes the least recently used entry.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
	debug.Log("storage", "evicted query", "id", id)
}
