package metadata

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
)

type LookupStatus int

const (
	Found LookupStatus = iota
	Fallback
)

func (s LookupStatus) String() string {
	if s == Found {
		return "found"
	}
	return "fallback"
}

// FallbackReason explains why a lookup returned the open handle.
type FallbackReason string

const (
	ReasonUndefined   FallbackReason = "undefined"
	ReasonLoadFailure FallbackReason = "load_failure"
)

// LookupResult is the outcome of a registry lookup. Handle is never nil.
type LookupResult struct {
	Status LookupStatus
	Handle *Handle
	Reason FallbackReason
}

// DefinitionSource is the persisted side of the registry: the Schema Store.
type DefinitionSource interface {
	// LookupVersion returns the current version of the named model.
	LookupVersion(ctx context.Context, name string) (int64, bool, error)
	// LookupModel returns the named model with its compiled fields.
	LookupModel(ctx context.Context, name string) (*ModelDefinition, bool, error)
}

type registryEntry struct {
	handle   *Handle
	version  int64
	fallback bool
}

// Registry caches compiled handles by model name. An entry is fresh while
// its version equals the version recorded in the DefinitionSource.
// Concurrent stale lookups may both recompile; the last one cached wins.
type Registry struct {
	mu      sync.RWMutex
	source  DefinitionSource
	entries map[string]*registryEntry
	forced  map[string]bool
}

func NewRegistry(source DefinitionSource) *Registry {
	return &Registry{
		source:  source,
		entries: make(map[string]*registryEntry),
		forced:  make(map[string]bool),
	}
}

// Lookup returns the live handle for a model, recompiling it when stale.
// An error is returned only when the DefinitionSource cannot be read.
func (r *Registry) Lookup(ctx context.Context, name string) (LookupResult, error) {
	key := strings.ToLower(name)

	version, ok, err := r.source.LookupVersion(ctx, key)
	if err != nil {
		return LookupResult{}, fmt.Errorf("lookup version of %s: %w", key, err)
	}
	if !ok {
		return undefinedResult(key), nil
	}

	r.mu.RLock()
	entry := r.entries[key]
	forced := r.forced[key]
	r.mu.RUnlock()

	if entry != nil && !forced && entry.version == version {
		return entry.result(), nil
	}

	return r.recompile(ctx, key)
}

func (r *Registry) recompile(ctx context.Context, key string) (LookupResult, error) {
	r.Evict(key)

	def, ok, err := r.source.LookupModel(ctx, key)
	if err != nil {
		return LookupResult{}, fmt.Errorf("load model %s: %w", key, err)
	}
	if !ok {
		return undefinedResult(key), nil
	}

	entry := &registryEntry{version: def.Version}
	handle, err := compileDefinition(def)
	if err != nil {
		log.Printf("WARN: registry load failure for %s (version %d), serving open shape: %v", key, def.Version, err)
		entry.handle = OpenHandle(key)
		entry.fallback = true
	} else {
		entry.handle = handle
	}

	// A concurrent recompile may have stored a newer version already.
	r.mu.Lock()
	if cur := r.entries[key]; cur == nil || cur.version <= entry.version {
		r.entries[key] = entry
	}
	r.mu.Unlock()

	return entry.result(), nil
}

func compileDefinition(def *ModelDefinition) (*Handle, error) {
	compiled := def.Compiled
	if len(compiled) == 0 {
		var err error
		compiled, err = CompileFields(def.Fields)
		if err != nil {
			return nil, err
		}
	}
	return NewHandle(def.Name, def.Version, compiled)
}

// Invalidate drops the cached entry so the next lookup recompiles.
func (r *Registry) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, strings.ToLower(name))
}

// Evict removes every trace of a model name from the registry.
func (r *Registry) Evict(name string) {
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	delete(r.forced, key)
}

// ForceStale makes the next lookup of name recompile regardless of version.
func (r *Registry) ForceStale(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forced[strings.ToLower(name)] = true
}

// Cached reports whether a handle is currently cached for name.
func (r *Registry) Cached(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[strings.ToLower(name)]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (e *registryEntry) result() LookupResult {
	if e.fallback {
		return LookupResult{Status: Fallback, Handle: e.handle, Reason: ReasonLoadFailure}
	}
	return LookupResult{Status: Found, Handle: e.handle}
}

func undefinedResult(name string) LookupResult {
	return LookupResult{Status: Fallback, Handle: OpenHandle(name), Reason: ReasonUndefined}
}
