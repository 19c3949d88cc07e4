package circuitbreaker

import (
	"sync"

	"github.com/brightwavehq/streamfetch/internal/classify"
)

// key identifies one breaker: a host plus the error category it tracks.
// A single host can independently trip its Network breaker while its
// Encryption breaker stays closed.
type key struct {
	host     string
	category classify.Category
}

// Registry manages one breaker per (host, category) pair, double-checked
// locking on creation so concurrent segment workers never race.
type Registry struct {
	mu       sync.RWMutex
	breakers map[key]*Breaker
	defaults map[classify.Category]Config
	fallback Config
}

// NewRegistry constructs a registry using the category defaults from
// CategoryDefaults, falling back to DefaultConfig for unlisted categories.
func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[key]*Breaker),
		defaults: CategoryDefaults(),
		fallback: DefaultConfig(),
	}
}

// NewRegistryWithDefaults constructs a registry whose per-category configs
// are CategoryDefaults overridden by overrides, useful when an operator
// tunes breaker thresholds per deployment.
func NewRegistryWithDefaults(overrides map[classify.Category]Config) *Registry {
	defaults := CategoryDefaults()
	for cat, cfg := range overrides {
		defaults[cat] = cfg
	}
	return &Registry{
		breakers: make(map[key]*Breaker),
		defaults: defaults,
		fallback: DefaultConfig(),
	}
}

func (r *Registry) configFor(cat classify.Category) Config {
	if cfg, ok := r.defaults[cat]; ok {
		return cfg
	}
	return r.fallback
}

// GetOrCreate returns the breaker for (host, category), creating it on
// first access.
func (r *Registry) GetOrCreate(host string, cat classify.Category) *Breaker {
	k := key{host: host, category: cat}

	r.mu.RLock()
	b, ok := r.breakers[k]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[k]; ok {
		return b
	}
	b = New(r.configFor(cat))
	r.breakers[k] = b
	return b
}

// Allow is a convenience wrapper returning classify.System/CircuitOpen when
// the relevant breaker rejects the request.
func (r *Registry) Allow(host string, cat classify.Category) *classify.Error {
	b := r.GetOrCreate(host, cat)
	if b.Allow() {
		return nil
	}
	return classify.System(classify.VariantCircuitOpen, "circuit open for "+host, nil)
}

// ResetAll forces every tracked breaker back to Closed. The engine's
// maintenance jobs do not call it; it is for operator-triggered resets.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}

// Len reports how many (host, category) breakers are currently tracked.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.breakers)
}
