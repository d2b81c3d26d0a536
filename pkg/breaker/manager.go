package breaker

import (
	"sort"
	"sync"
)

// Manager owns the process-wide registry of breakers, keyed by dependency
// name. Breakers are created lazily with a shared default config and live
// for the process lifetime. Construct one manager at process start and
// pass it explicitly to components that call external dependencies.
//
// The registry is process-local: in a multi-instance deployment each
// instance learns about an outage independently. That imprecision is
// accepted because the store-level job claim already prevents duplicate
// processing regardless of breaker state.
type Manager struct {
	defaults Config
	opts     []Option

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewManager creates a registry whose breakers inherit the given default
// config and options.
func NewManager(defaults Config, opts ...Option) *Manager {
	return &Manager{
		defaults: defaults.withDefaults(),
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a dependency, instantiating it on first
// reference.
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b = New(name, m.defaults, m.opts...)
	m.breakers[name] = b
	return b
}

// Configure installs a breaker with a dependency-specific config,
// replacing any lazily created one.
func (m *Manager) Configure(name string, cfg Config) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := New(name, cfg, m.opts...)
	m.breakers[name] = b
	return b
}

// AllMetrics returns a snapshot of every registered breaker, sorted by
// name for stable health-endpoint output.
func (m *Manager) AllMetrics() []Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Metrics, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b.Metrics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResetAll returns every breaker to closed with empty history.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.breakers {
		b.Reset()
	}
}
