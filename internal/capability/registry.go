// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package capability implements per-plugin capability registries.
//
// A plugin declares named capabilities on its Registry. Each Entry owns a
// private emitter and exposes it through an emitter.View, so the plugin can
// attach handlers for the two lifecycle events:
//
//   - "initialize" fires once per entry when the host starts. Handlers may
//     return an emitter.Future; the registry waits for all of them together.
//   - "use" fires once per distinct (consumer, arguments) tuple, lazily, with
//     the consumer as self. The handler returns the capability value, which
//     the Cache remembers so equal requests get the identical value back.
package capability

import (
	"context"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/marktime/internal/emitter"
)

// Lifecycle events emitted on every entry.
const (
	EventInitialize = "initialize"
	EventUse        = "use"
)

// Consumer identifies the plugin requesting a capability.
type Consumer interface {
	Name() string
}

// Factory builds the value of a capability for consumer. It may return an
// emitter.Future.
type Factory func(ctx context.Context, consumer Consumer, args []any) (any, error)

// Initializer runs once when the host starts. It may return an emitter.Future.
type Initializer func(ctx context.Context) (any, error)

// Entry is one declared capability.
type Entry struct {
	name        string
	provider    string
	emitter     *emitter.Emitter
	view        *emitter.View
	initialized bool
}

// Name returns the normalized capability name.
func (e *Entry) Name() string {
	return e.name
}

// View returns the view plugin code attaches lifecycle handlers through.
func (e *Entry) View() *emitter.View {
	return e.view
}

// OnUse registers f as a use handler.
func (e *Entry) OnUse(f Factory) *emitter.Listener {
	return e.view.On(EventUse, func(ctx context.Context, self any, args ...any) (any, error) {
		consumer, _ := self.(Consumer)
		return f(ctx, consumer, args)
	})
}

// OnInitialize registers f as an initialize handler.
func (e *Entry) OnInitialize(f Initializer) *emitter.Listener {
	return e.view.On(EventInitialize, func(ctx context.Context, _ any, _ ...any) (any, error) {
		return f(ctx)
	})
}

// Registry holds the capabilities declared by one provider plugin.
type Registry struct {
	provider string
	entries  map[string]*Entry
	order    []*Entry
	cache    *Cache
	logger   *slog.Logger
	mu       sync.RWMutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates an empty registry for provider.
func NewRegistry(provider string, opts ...Option) *Registry {
	r := &Registry{
		provider: provider,
		entries:  make(map[string]*Entry),
		cache:    NewCache(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "capability", "provider", provider)
	return r
}

// Normalize returns the lookup key for a capability name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Provider returns the name of the plugin owning the registry.
func (r *Registry) Provider() string {
	return r.provider
}

// Cache returns the registry's capability cache.
func (r *Registry) Cache() *Cache {
	return r.cache
}

// Register declares a capability. Names are case-insensitive; declaring the
// same name twice fails with ErrDuplicateCapability.
func (r *Registry) Register(name string) (*Entry, error) {
	key := Normalize(name)
	if key == "" {
		return nil, oops.In("capability").With("provider", r.provider).New("capability name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; ok {
		return nil, duplicateCapability(r.provider, key)
	}
	em := emitter.New()
	entry := &Entry{
		name:     key,
		provider: r.provider,
		emitter:  em,
		view:     emitter.NewView(em),
	}
	r.entries[key] = entry
	r.order = append(r.order, entry)
	return entry, nil
}

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[Normalize(name)]
	return e, ok
}

// Names returns declared capability names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	for i, e := range r.order {
		names[i] = e.name
	}
	return names
}

// Initialize emits "initialize" on every entry that has not been initialized
// yet. All handlers run before any returned future is awaited; the call
// returns once every result has settled. Repeated calls only reach entries
// declared since the previous call.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	pending := make([]*Entry, 0, len(r.order))
	for _, e := range r.order {
		if !e.initialized {
			e.initialized = true
			pending = append(pending, e)
		}
	}
	r.mu.Unlock()

	var results []emitter.Result
	for _, e := range pending {
		Initializations.WithLabelValues(r.provider, e.name).Inc()
		results = append(results, e.emitter.Emit(ctx, nil, EventInitialize)...)
	}

	if _, err := emitter.Settle(ctx, results); err != nil {
		return oops.In("capability").With("provider", r.provider).With("operation", "initialize").Wrap(err)
	}
	return nil
}

// Resolve returns the cached item for (name, consumer, args), building it
// with the entry's use handlers on a miss.
//
// When several use handlers answer, the last non-nil value wins. When none
// does, the capability value is an empty map.
func (r *Registry) Resolve(ctx context.Context, name string, consumer Consumer, args ...any) (*Item, error) {
	consumerName := ""
	if consumer != nil {
		consumerName = consumer.Name()
	}

	entry, ok := r.Lookup(name)
	if !ok {
		RecordRequest(r.provider, Normalize(name), ResultError)
		return nil, unknownCapability(r.provider, Normalize(name), consumerName)
	}

	for i, a := range args {
		if containsFunc(a) {
			RecordRequest(r.provider, entry.name, ResultError)
			return nil, invalidArgument(r.provider, entry.name, i)
		}
	}

	item, hit, err := r.cache.Do(ctx, entry.name, consumerName, args, func(ctx context.Context) (any, error) {
		return r.build(ctx, entry, consumer, consumerName, args)
	})
	switch {
	case err != nil:
		RecordRequest(r.provider, entry.name, ResultError)
		return nil, err
	case hit:
		RecordRequest(r.provider, entry.name, ResultHit)
	default:
		RecordRequest(r.provider, entry.name, ResultMiss)
	}
	return item, nil
}

// build emits "use" for one cache key and picks the capability value.
func (r *Registry) build(ctx context.Context, entry *Entry, consumer Consumer, consumerName string, args []any) (any, error) {
	values, err := emitter.Settle(ctx, entry.emitter.Emit(ctx, consumer, EventUse, args...))
	if err != nil {
		return nil, oops.In("capability").
			With("provider", r.provider).
			With("capability", entry.name).
			With("consumer", consumerName).
			Wrap(err)
	}

	var value any
	answered := 0
	for _, v := range values {
		if v != nil {
			value = v
			answered++
		}
	}
	if answered > 1 {
		r.logger.Warn("multiple use handlers returned a value, keeping the last",
			"capability", entry.name, "consumer", consumerName, "count", answered)
	}
	if value == nil {
		value = map[string]any{}
	}
	return value, nil
}

// containsFunc reports whether v is or holds a function. Functions never
// compare equal, so they cannot key the cache.
func containsFunc(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case []any:
		return slices.ContainsFunc(val, containsFunc)
	case map[string]any:
		for _, item := range val {
			if containsFunc(item) {
				return true
			}
		}
		return false
	}
	return reflect.ValueOf(v).Kind() == reflect.Func
}

// Get is Resolve returning only the capability value.
func (r *Registry) Get(ctx context.Context, name string, consumer Consumer, args ...any) (any, error) {
	item, err := r.Resolve(ctx, name, consumer, args...)
	if err != nil {
		return nil, err
	}
	return item.Value(), nil
}
