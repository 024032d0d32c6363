package backend

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// Backend name constants.
const (
	// NameSoft is the simulated timeline backend (backend/soft).
	NameSoft = "soft"
	// NameNative is the HAL backend (backend/native).
	NameNative = "native"
)

// ErrBackendNotAvailable is returned when no registered backend can open a
// device.
var ErrBackendNotAvailable = errors.New("backend: no backend available")

// Factory opens a device. Factories are registered from init functions of
// backend packages.
type Factory func() (Device, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	// Priority order for Default (first backend that opens wins).
	priority = []string{NameNative, NameSoft}
)

// Register registers a backend factory with the given name, replacing any
// previous registration:
//
//	import _ "github.com/gogpu/frameq/backend/soft"
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = f
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open opens a device from the named backend.
func Open(name string) (Device, error) {
	registryMu.RLock()
	f, ok := factories[name]
	registryMu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrBackendNotAvailable, "backend %q is not registered", name)
	}
	dev, err := f()
	if err != nil {
		return nil, errors.Wrapf(err, "open backend %q", name)
	}
	return dev, nil
}

// Default opens a device from the best available backend. Prioritized
// backends are tried first, then the remaining ones in name order. The
// returned name identifies the backend that succeeded.
func Default() (Device, string, error) {
	registryMu.RLock()
	order := make([]string, 0, len(factories))
	seen := make(map[string]bool, len(factories))
	for _, name := range priority {
		if _, ok := factories[name]; ok {
			order = append(order, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(factories))
	for name := range factories {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)
	fs := make([]Factory, len(order))
	for i, name := range order {
		fs[i] = factories[name]
	}
	registryMu.RUnlock()

	var errs error
	for i, f := range fs {
		dev, err := f()
		if err == nil && dev != nil {
			return dev, order[i], nil
		}
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "backend %q", order[i]))
		}
	}
	if errs != nil {
		return nil, "", errors.Mark(errs, ErrBackendNotAvailable)
	}
	return nil, "", ErrBackendNotAvailable
}
