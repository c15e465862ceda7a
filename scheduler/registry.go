package scheduler

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// Parameters used when instantiating a registered policy
type Config struct {
	// Seed for policies that make randomized decisions
	Seed uint64
}

type Factory func(cfg Config) Policy

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register a policy under the name.
//
// Registering two policies under the same name is a programming error and panics.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("scheduler: policy %q registered twice", name))
	}
	registry[name] = f
}

// Instantiate the policy registered under the name
func Lookup(name string, cfg Config) (Policy, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return f(cfg), nil
}

// The sorted names of all registered policies
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
