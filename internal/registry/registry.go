// Package registry maps widget names to lazily-resolved factories. The
// mapping is populated at startup, before the first scan; replacing an entry
// afterwards is supported as an extension point and surfaced to watchers.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	enginerr "github.com/anchor-ui/anchor/internal/errors"
	"github.com/anchor-ui/anchor/internal/types"
)

// Registry manages all registered widget factories. Keys are exact and
// case-sensitive. Successful resolutions are memoized so repeat mounts of
// the same widget do not re-run the factory.
type Registry struct {
	mutex     sync.RWMutex
	factories map[string]types.Factory
	resolved  map[string]types.Renderable
	watchers  []chan types.RegistryEvent
}

// NewRegistry creates an empty widget registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]types.Factory),
		resolved:  make(map[string]types.Renderable),
		watchers:  make([]chan types.RegistryEvent, 0),
	}
}

// Register associates a name with a factory. Registering an existing name
// replaces the factory and invalidates its memoized resolution.
func (r *Registry) Register(name string, factory types.Factory) {
	r.mutex.Lock()

	eventType := types.EventTypeRegistered
	if _, exists := r.factories[name]; exists {
		eventType = types.EventTypeReplaced
	}
	r.factories[name] = factory
	delete(r.resolved, name)

	watchers := r.watchers
	r.mutex.Unlock()

	notify(watchers, types.RegistryEvent{Type: eventType, Name: name, Timestamp: time.Now()})
}

// Deregister removes a name from the registry along with any memoized
// resolution. Unknown names are a no-op.
func (r *Registry) Deregister(name string) {
	r.mutex.Lock()
	if _, exists := r.factories[name]; !exists {
		r.mutex.Unlock()
		return
	}
	delete(r.factories, name)
	delete(r.resolved, name)
	watchers := r.watchers
	r.mutex.Unlock()

	notify(watchers, types.RegistryEvent{Type: types.EventTypeRemoved, Name: name, Timestamp: time.Now()})
}

func notify(watchers []chan types.RegistryEvent, event types.RegistryEvent) {
	for _, watcher := range watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}

// Has reports whether a name is registered.
func (r *Registry) Has(name string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// Resolve returns the renderable for a name, invoking the factory on first
// use and memoizing the result. An unknown name yields a not_registered
// error; a failing factory yields a resolve error and is not memoized, so a
// later mount attempt retries it.
func (r *Registry) Resolve(ctx context.Context, name string) (types.Renderable, error) {
	r.mutex.RLock()
	if renderable, ok := r.resolved[name]; ok {
		r.mutex.RUnlock()
		return renderable, nil
	}
	factory, exists := r.factories[name]
	r.mutex.RUnlock()

	if !exists {
		return nil, enginerr.New(enginerr.KindNotRegistered, name, "no factory registered")
	}

	// The factory may be slow (it is the lazy-loading hook), so it runs
	// outside the lock. Concurrent first resolutions of the same name are
	// harmless: last write wins with an equivalent value.
	renderable, err := factory(ctx)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.KindResolve, name, "factory failed", err)
	}
	if renderable == nil {
		return nil, enginerr.New(enginerr.KindResolve, name, "factory returned no renderable")
	}

	r.mutex.Lock()
	// Only memoize if the factory has not been replaced mid-resolution.
	if _, still := r.factories[name]; still {
		r.resolved[name] = renderable
	}
	r.mutex.Unlock()

	return renderable, nil
}

// Names returns the sorted list of registered widget names.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered widgets.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.factories)
}

// Watch returns a channel that receives registry events
func (r *Registry) Watch() <-chan types.RegistryEvent {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	ch := make(chan types.RegistryEvent, 100)
	r.watchers = append(r.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it
func (r *Registry) UnWatch(ch <-chan types.RegistryEvent) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for i, watcher := range r.watchers {
		if watcher == ch {
			close(watcher)
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
			break
		}
	}
}

// Static wraps an already-loaded renderable in a Factory, for widgets that
// need no deferred loading.
func Static(renderable types.Renderable) types.Factory {
	return func(context.Context) (types.Renderable, error) {
		return renderable, nil
	}
}
