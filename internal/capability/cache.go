// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package capability

import (
	"context"
	"reflect"
	"slices"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// argsEqual compares argument tuples structurally. Empty and nil collections
// are equal; functions are never equal unless both are nil.
var argsEqual = []cmp.Option{
	cmpopts.EquateEmpty(),
	cmp.Exporter(func(reflect.Type) bool { return true }),
}

// Item is a memoized capability value. The pointer is stable for the life of
// the cache, so callers may key their own per-value state on it.
type Item struct {
	capability string
	consumer   string
	args       []any
	value      any
}

// Capability returns the capability name the item was built for.
func (i *Item) Capability() string { return i.capability }

// Consumer returns the name of the plugin the item was built for.
func (i *Item) Consumer() string { return i.consumer }

// Args returns the argument tuple the item was built for.
func (i *Item) Args() []any { return i.args }

// Value returns the capability value.
func (i *Item) Value() any { return i.value }

// Cache memoizes capability values by (capability, consumer, args).
//
// Cache is safe for concurrent use. The zero value is ready to use.
type Cache struct {
	items    map[string][]*Item
	inflight map[string][]*flight
	mu       sync.RWMutex
}

// flight is a build in progress. done closes once item or err is set.
type flight struct {
	consumer string
	args     []any
	done     chan struct{}
	item     *Item
	err      error
}

type buildsKey struct{}

// builds returns the flights the calling chain is currently inside.
func builds(ctx context.Context) []*flight {
	fs, _ := ctx.Value(buildsKey{}).([]*flight)
	return fs
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{items: make(map[string][]*Item)}
}

// Lookup returns the item built for consumer with structurally equal args.
func (c *Cache) Lookup(capability, consumer string, args []any) (*Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.find(capability, consumer, args)
}

func (c *Cache) find(capability, consumer string, args []any) (*Item, bool) {
	for _, item := range c.items[capability] {
		if item.consumer == consumer && cmp.Equal(item.args, args, argsEqual...) {
			return item, true
		}
	}
	return nil, false
}

// Do returns the item for the key, calling build on a miss. Concurrent
// callers with an equal key wait for the first build instead of starting
// their own, so build runs once per key. Failed builds are not cached; the
// callers waiting on one receive its error. A build that asks for its own key
// gets ErrRecursive. hit reports whether build was skipped.
func (c *Cache) Do(
	ctx context.Context,
	capability, consumer string,
	args []any,
	build func(ctx context.Context) (any, error),
) (item *Item, hit bool, err error) {
	c.mu.Lock()
	if existing, ok := c.find(capability, consumer, args); ok {
		c.mu.Unlock()
		return existing, true, nil
	}
	if f, ok := c.findFlight(capability, consumer, args); ok {
		c.mu.Unlock()
		if slices.Contains(builds(ctx), f) {
			return nil, false, recursiveCapability(capability, consumer)
		}
		select {
		case <-f.done:
			return f.item, f.err == nil, f.err
		case <-ctx.Done():
			return nil, false, ctx.Err() //nolint:wrapcheck // context errors are returned as-is
		}
	}
	if c.inflight == nil {
		c.inflight = make(map[string][]*flight)
	}
	f := &flight{consumer: consumer, args: args, done: make(chan struct{})}
	c.inflight[capability] = append(c.inflight[capability], f)
	c.mu.Unlock()

	chain := append(slices.Clone(builds(ctx)), f)
	value, err := build(context.WithValue(ctx, buildsKey{}, chain))

	c.mu.Lock()
	c.inflight[capability] = slices.DeleteFunc(c.inflight[capability], func(x *flight) bool { return x == f })
	if len(c.inflight[capability]) == 0 {
		delete(c.inflight, capability)
	}
	if err == nil {
		f.item = c.storeLocked(capability, consumer, args, value)
	}
	f.err = err
	close(f.done)
	c.mu.Unlock()

	return f.item, false, err
}

func (c *Cache) findFlight(capability, consumer string, args []any) (*flight, bool) {
	for _, f := range c.inflight[capability] {
		if f.consumer == consumer && cmp.Equal(f.args, args, argsEqual...) {
			return f, true
		}
	}
	return nil, false
}

// Store records value for the key and returns the cached item. If an equal
// key was stored concurrently, the existing item wins and is returned.
func (c *Cache) Store(capability, consumer string, args []any, value any) *Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storeLocked(capability, consumer, args, value)
}

func (c *Cache) storeLocked(capability, consumer string, args []any, value any) *Item {
	if existing, ok := c.find(capability, consumer, args); ok {
		return existing
	}
	if c.items == nil {
		c.items = make(map[string][]*Item)
	}
	item := &Item{capability: capability, consumer: consumer, args: args, value: value}
	c.items[capability] = append(c.items[capability], item)
	return item
}

// Forget drops every item built for consumer and returns how many were removed.
func (c *Cache) Forget(consumer string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for name, list := range c.items {
		kept := list[:0:0]
		for _, item := range list {
			if item.consumer == consumer {
				removed++
				continue
			}
			kept = append(kept, item)
		}
		if len(kept) == 0 {
			delete(c.items, name)
		} else {
			c.items[name] = kept
		}
	}
	return removed
}

// Len returns the number of cached items.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, list := range c.items {
		n += len(list)
	}
	return n
}
