// Package attrcache stores modification suggestions keyed by the selection
// key of the attribute set they were fetched for.
//
// Entries are grouped by scope. The workflow uses one scope per session and
// cache generation, so invalidating a session's suggestions is a single
// Clear of its current scope.
package attrcache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fpang/garment-studio/internal/garment"
	"github.com/rs/zerolog/log"
)

// DefaultTTL bounds how long a scope's suggestions live in a shared backend.
// Matches the session record TTL.
const DefaultTTL = 24 * time.Hour

// Cache is the suggestion cache contract. Get reports a miss with ok=false.
// Put overwrites any existing entry for the key.
type Cache interface {
	Get(ctx context.Context, scope, key string) (options []garment.ModificationOption, ok bool, err error)
	Put(ctx context.Context, scope, key string, options []garment.ModificationOption) error
	Clear(ctx context.Context, scope string) error
	Len(ctx context.Context, scope string) (int, error)
}

// Memory is an in-process Cache. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]garment.ModificationOption // scope:key -> options
}

// Compile-time interface check.
var _ Cache = (*Memory)(nil)

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]garment.ModificationOption)}
}

// entryKey returns the lookup key for a scope and selection key.
func entryKey(scope, key string) string {
	return scope + ":" + key
}

func (m *Memory) Get(_ context.Context, scope, key string) ([]garment.ModificationOption, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	opts, ok := m.entries[entryKey(scope, key)]
	if !ok {
		return nil, false, nil
	}
	return cloneOptions(opts), true, nil
}

func (m *Memory) Put(_ context.Context, scope, key string, options []garment.ModificationOption) error {
	m.mu.Lock()
	m.entries[entryKey(scope, key)] = cloneOptions(options)
	m.mu.Unlock()

	log.Debug().
		Str("scope", scope).
		Str("selection_key", key).
		Int("options", len(options)).
		Msg("Suggestions cached")
	return nil
}

func (m *Memory) Clear(_ context.Context, scope string) error {
	prefix := scope + ":"

	m.mu.Lock()
	removed := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			removed++
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		log.Debug().Str("scope", scope).Int("removed", removed).Msg("Suggestion cache cleared")
	}
	return nil
}

func (m *Memory) Len(_ context.Context, scope string) (int, error) {
	prefix := scope + ":"

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}

func cloneOptions(in []garment.ModificationOption) []garment.ModificationOption {
	if in == nil {
		return nil
	}
	out := make([]garment.ModificationOption, len(in))
	copy(out, in)
	return out
}
