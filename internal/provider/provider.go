// Package provider implements the Provider Registry: the mapping from
// provider name to adapter and from external model name to provider name,
// built once at startup from configuration (spec §4.4). Grounded on the
// teacher's sync.RWMutex-guarded map/Register/Get/List shape and on
// original_source/src/providers/registry.rs's dual-table structure and
// get_provider_for_model fallback-to-supports-scan semantics.
package provider

import (
	"fmt"
	"slices"
	"sync"

	"github.com/maypok86/otter/v2"

	gateway "github.com/ccmux/gateway/internal"
)

// modelLookupCacheSize bounds the Supports()-scan memoization cache. The
// registry is immutable after construction (spec §4.4), so cached entries
// never go stale and carry no TTL -- only an LRU cap.
const modelLookupCacheSize = 4096

// Registry is filled by Register calls at startup and only read after that.
// The embedded RWMutex serializes Register, and request-path lookups take
// its read lock, matching spec §3's
// "Provider Registry is built once at startup ... immutable thereafter".
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]gateway.Provider
	modelToProvider map[string]string // external model name -> provider name

	// lookupCache memoizes GetProviderForModel's Supports()-scan fallback
	// (model names reached only via a preview/variant alias, not the model
	// table) so repeated requests for the same unmapped model skip the
	// O(providers) scan.
	lookupCache *otter.Cache[string, string]
}

// NewRegistry returns an empty registry ready for construction-time Register calls.
func NewRegistry() *Registry {
	return &Registry{
		providers:       make(map[string]gateway.Provider),
		modelToProvider: make(map[string]string),
		lookupCache: otter.Must(&otter.Options[string, string]{
			MaximumSize: modelLookupCacheSize,
		}),
	}
}

// Register adds p under name and seeds the model table from its declared
// models. It returns an error if name is already registered (uniqueness
// invariant, spec §4.4).
func (r *Registry) Register(name string, p gateway.Provider, models []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	for _, m := range models {
		r.modelToProvider[m] = name
	}
	return nil
}

// ApplyModelMappings overlays the top-level [[models]] section onto the
// model table. Per spec §9 (resolved Open Question), the top-level mapping
// is authoritative over a provider's own declared models list -- only the
// top-priority mapping per model name is recorded.
func (r *Registry) ApplyModelMappings(mappings []gateway.ModelMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := make(map[string]gateway.ModelMapping)
	for _, m := range mappings {
		if _, ok := r.providers[m.Provider]; !ok {
			return fmt.Errorf("model %q maps to unknown provider %q", m.Name, m.Provider)
		}
		cur, ok := best[m.Name]
		if !ok || m.Priority < cur.Priority {
			best[m.Name] = m
		}
	}
	for name, m := range best {
		r.modelToProvider[name] = m.Provider
	}
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (gateway.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q not registered", gateway.ErrNotFound, name)
	}
	return p, nil
}

// GetProviderForModel resolves a provider for an external model name:
// consult the model table first, then fall back to scanning registered
// adapters for Supports(model), then fail with ErrModelNotSupported.
func (r *Registry) GetProviderForModel(model string) (gateway.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, ok := r.modelToProvider[model]; ok {
		if p, ok := r.providers[name]; ok {
			return p, nil
		}
	}
	if name, ok := r.lookupCache.GetIfPresent(model); ok {
		if p, ok := r.providers[name]; ok {
			return p, nil
		}
	}
	for name, p := range r.providers {
		if p.Supports(model) {
			r.lookupCache.Set(model, name)
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", gateway.ErrModelNotSupported, model)
}

// List returns a sorted slice of all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ListModels returns a sorted slice of every model name in the model table.
func (r *Registry) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modelToProvider))
	for name := range r.modelToProvider {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
