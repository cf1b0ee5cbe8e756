// Package registry implements the name-to-constructor lookup spec §2/§6
// calls the factory/registry: resolving a config.HomeSpec or
// config.StoreSpec to the concrete home.Home or store.Store variant it
// names, and binding that variant's configuration in the process. It
// generalizes the teacher's Registry — a mutex-guarded map plus a
// default-instance singleton — from a JSON-LD service directory (service
// ID → HTTP endpoint) into a variant-kind → constructor directory,
// following spec §9's note that a "global module-level registry"
// redesigns into "a registry object built at program start; registration
// happens during initialization of each variant package."
package registry

import (
	"fmt"
	"sync"

	"hygge.dev/config"
	"hygge.dev/ferrors"
	"hygge.dev/home"
	"hygge.dev/store"
)

// HomeFactory constructs a home.Home from a bound config.HomeSpec. An
// embedding project supplies one per Home kind at program start, closing
// over whatever driver, pool, or codec dependencies that kind needs —
// the registry itself holds no opinion on how a variant is wired, only on
// how it is looked up.
type HomeFactory func(spec config.HomeSpec) (home.Home, error)

// StoreFactory constructs a store.Store from a bound config.StoreSpec.
type StoreFactory func(spec config.StoreSpec) (store.Store, error)

// Registry is a concurrency-safe kind → constructor directory for both
// Home and Store variants.
type Registry struct {
	mu     sync.RWMutex
	homes  map[string]HomeFactory
	stores map[string]StoreFactory
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		homes:  make(map[string]HomeFactory),
		stores: make(map[string]StoreFactory),
	}
}

// RegisterHome associates kind (e.g. "local", "database") with factory,
// overwriting any existing registration for the same kind — the same
// last-write-wins semantics the teacher's service Register used.
func (r *Registry) RegisterHome(kind string, factory HomeFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.homes[kind] = factory
}

// RegisterStore associates kind (e.g. "local", "database", "blob") with
// factory.
func (r *Registry) RegisterStore(kind string, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[kind] = factory
}

// NewHome resolves spec's kind (exactly one of its fields must be set)
// and dispatches to the matching registered factory. An unresolvable kind
// or an unregistered one is a ConfigError, per spec §7's "raised at
// registration, factory resolution."
func (r *Registry) NewHome(spec config.HomeSpec) (home.Home, error) {
	kind, err := homeKind(spec)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.homes[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, ferrors.NewConfigError(fmt.Sprintf("no home factory registered for kind %q", kind), nil)
	}
	return factory(spec)
}

// NewStore resolves spec's kind and dispatches to the matching registered
// factory, the Store-side counterpart of NewHome.
func (r *Registry) NewStore(spec config.StoreSpec) (store.Store, error) {
	kind, err := storeKind(spec)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.stores[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, ferrors.NewConfigError(fmt.Sprintf("no store factory registered for kind %q", kind), nil)
	}
	return factory(spec)
}

// HomeKinds returns every currently registered Home kind, for diagnostics
// and dry-run reporting.
func (r *Registry) HomeKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.homes))
	for k := range r.homes {
		kinds = append(kinds, k)
	}
	return kinds
}

// StoreKinds returns every currently registered Store kind.
func (r *Registry) StoreKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.stores))
	for k := range r.stores {
		kinds = append(kinds, k)
	}
	return kinds
}

func homeKind(spec config.HomeSpec) (string, error) {
	set := 0
	kind := ""
	if spec.Local != nil {
		set++
		kind = "local"
	}
	if spec.Database != nil {
		set++
		kind = "database"
	}
	switch set {
	case 0:
		return "", ferrors.NewConfigError("home spec names no variant (expected exactly one of local, database)", nil)
	case 1:
		return kind, nil
	default:
		return "", ferrors.NewConfigError("home spec names more than one variant", nil)
	}
}

func storeKind(spec config.StoreSpec) (string, error) {
	set := 0
	kind := ""
	if spec.Local != nil {
		set++
		kind = "local"
	}
	if spec.Database != nil {
		set++
		kind = "database"
	}
	if spec.Blob != nil {
		set++
		kind = "blob"
	}
	switch set {
	case 0:
		return "", ferrors.NewConfigError("store spec names no variant (expected exactly one of local, database, blob)", nil)
	case 1:
		return kind, nil
	default:
		return "", ferrors.NewConfigError("store spec names more than one variant", nil)
	}
}

// Default global registry instance, mirroring the teacher's
// DefaultRegistry/registryOnce singleton pattern: an embedding project
// registers every variant it wires during program initialization, then
// resolves Homes and Stores from configuration through the package-level
// helpers below rather than threading a *Registry through every caller.
var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide default Registry, created empty on
// first use.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// RegisterHome registers factory under kind on the default Registry.
func RegisterHome(kind string, factory HomeFactory) {
	Default().RegisterHome(kind, factory)
}

// RegisterStore registers factory under kind on the default Registry.
func RegisterStore(kind string, factory StoreFactory) {
	Default().RegisterStore(kind, factory)
}

// NewHome resolves spec through the default Registry.
func NewHome(spec config.HomeSpec) (home.Home, error) {
	return Default().NewHome(spec)
}

// NewStore resolves spec through the default Registry.
func NewStore(spec config.StoreSpec) (store.Store, error) {
	return Default().NewStore(spec)
}
