package backend

import (
	"fmt"
	"sync"

	"corpusdb/corpuserr"
)

// Factory constructs a Backend bound to a repository host.
type Factory func(host string) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a backend_kind to the open backend registry (spec section
// 9, "Plug-in backends"), mirroring Repository.register in the original
// implementation. Registering the same kind twice overwrites the previous
// factory, which is convenient for tests that swap in a fake.
func Register(kind string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// New builds a Backend for the given backend_kind and host. Unregistered
// kinds are rejected with UnsupportedBackendError, per spec section 6.
func New(kind, host string) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, &corpuserr.UnsupportedBackendError{Kind: kind}
	}
	b, err := factory(host)
	if err != nil {
		return nil, fmt.Errorf("constructing %s backend: %w", kind, err)
	}
	return b, nil
}

// Registered reports whether kind has a registered factory, used by read
// paths that must silently skip repositories with unavailable backends
// (spec section 4.6).
func Registered(kind string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[kind]
	return ok
}
