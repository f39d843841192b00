// Package cache holds the independently fetched view caches the
// dashboard commands read from. A push event never carries the new
// state, only the fact that state changed, so the sync layer marks the
// dependent caches stale and the next read fetches fresh data.
//
// Marking an already-stale cache stale again is a no-op; a burst of
// identical events therefore costs one refetch on the next read.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ledgerscope/ledgerscope/pkg/log"
)

// Cache key names. One topic may invalidate several of these.
const (
	KeyChain       = "chain"
	KeyCollections = "collections"
	KeyPeers       = "peers"
	KeyMetrics     = "metrics"
	KeyAuditLogs   = "audit-logs"
)

// FetchFunc loads a fresh value for a cache, typically via the REST
// client.
type FetchFunc func(ctx context.Context) (any, error)

type entry struct {
	mu      sync.Mutex
	fetch   FetchFunc
	value   any
	valid   bool
	fetches int
}

// Store is the set of named caches for one session. Constructed once and
// passed by handle to the dispatcher and the CLI commands.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *log.Logger
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		logger:  log.ForComponent("cache"),
	}
}

// Register binds a cache key to its fetch function. Registering an
// existing key replaces the fetcher and drops the cached value.
func (s *Store) Register(key string, fetch FetchFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry{fetch: fetch}
}

// Invalidate marks the cache stale. Unknown keys are ignored so the
// invalidation map can name caches a given session did not register.
func (s *Store) Invalidate(key string) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.valid {
		e.valid = false
		e.value = nil
		s.logger.Debugf("cache %s marked stale", key)
	}
	e.mu.Unlock()
}

// Get returns the cached value, fetching first if the cache is stale or
// has never been read.
func (s *Store) Get(ctx context.Context, key string) (any, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown cache %q", key)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.valid {
		return e.value, nil
	}

	value, err := e.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching cache %s: %w", key, err)
	}
	e.value = value
	e.valid = true
	e.fetches++
	s.logger.Debugf("cache %s refreshed (fetch #%d)", key, e.fetches)
	return value, nil
}

// Stale reports whether the next Get on key would fetch. Unknown keys
// report true.
func (s *Store) Stale(key string) bool {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.valid
}

// Fetches returns how many times key has been fetched from the server.
func (s *Store) Fetches(key string) int {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fetches
}

// Keys lists registered cache keys, sorted for stable output.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
