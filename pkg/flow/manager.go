package flow

import (
	"fmt"
	"sync"

	"github.com/authrelay/authrelay/pkg/types"
)

// Manager holds the configured flow engines, keyed by provider type.
// Registration order is preserved for callers that iterate.
type Manager struct {
	mu      sync.RWMutex
	engines map[types.ProviderType]*Engine
	order   []types.ProviderType
}

func NewManager() *Manager {
	return &Manager{
		engines: make(map[types.ProviderType]*Engine),
	}
}

// Register adds an engine. Registering the same provider type twice is
// a configuration error.
func (m *Manager) Register(e *Engine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := e.ProviderType()
	if _, ok := m.engines[t]; ok {
		return fmt.Errorf("provider %s is configured twice", t)
	}
	m.engines[t] = e
	m.order = append(m.order, t)
	return nil
}

// Get returns the engine for a provider type.
func (m *Manager) Get(t types.ProviderType) (*Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.engines[t]
	if !ok {
		return nil, fmt.Errorf("provider %s is not configured", t)
	}
	return e, nil
}

// Ordered returns the engines in registration order.
func (m *Manager) Ordered() []*Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Engine, 0, len(m.order))
	for _, t := range m.order {
		out = append(out, m.engines[t])
	}
	return out
}
