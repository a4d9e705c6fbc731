package engine

import (
	"fmt"
	"sync"
)

// versionManager resolves a (name, version) pair to a registered
// Definition. It is a mutex-guarded map in the same style as the
// retrieval pack's capability registry: registration happens once at
// startup, lookups happen continuously from concurrent commands.
type versionManager struct {
	mu     sync.RWMutex
	byKey  map[string]*Definition
	byName map[string]*Definition // most recently registered per name
}

func newVersionManager() *versionManager {
	return &versionManager{byKey: make(map[string]*Definition), byName: make(map[string]*Definition)}
}

func versionKey(name, version string) string {
	return name + "@" + version
}

// register adds a built Definition to the manager. Registering the
// same (name, version) twice is an error: definitions are immutable
// once live, so replacing one out from under running workflows would
// silently change their semantics mid-flight.
func (m *versionManager) register(def *Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := versionKey(def.Name(), def.Version())
	if _, exists := m.byKey[key]; exists {
		return fmt.Errorf("definition %s already registered", key)
	}
	m.byKey[key] = def
	m.byName[def.Name()] = def
	return nil
}

func (m *versionManager) lookup(name, version string) (*Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.byKey[versionKey(name, version)]
	if !ok {
		return nil, fmt.Errorf("%w: definition %s@%s", ErrNotFound, name, version)
	}
	return def, nil
}

// latest returns the most recently registered version for a name,
// used when a caller initializes a root workflow without pinning a
// version. "Most recently registered" rather than a semver max: the
// engine treats version strings as opaque labels.
func (m *versionManager) latest(name string) (*Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := m.byName[name]
	if found == nil {
		return nil, fmt.Errorf("%w: no definition registered for %s", ErrNotFound, name)
	}
	return found, nil
}
