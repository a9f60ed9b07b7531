// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"

	"github.com/holomush/marktime/internal/capability"
	"github.com/holomush/marktime/internal/prefs"
	"github.com/holomush/marktime/internal/sandbox"
)

// Context is the handle a consumer plugin holds on a provider plugin. It
// resolves the provider's capabilities on behalf of that consumer only.
//
// In Lua the context is a callable table: ctx("store", ...) is
// ctx.api("store", ...).
type Context struct {
	provider *Plugin
	consumer *Plugin
}

// Provider returns the name of the plugin the context reaches.
func (c *Context) Provider() string { return c.provider.Name() }

// Consumer returns the name of the plugin holding the context.
func (c *Context) Consumer() string { return c.consumer.Name() }

// Resolve returns the cached capability item for (name, args).
func (c *Context) Resolve(ctx context.Context, name string, args ...any) (*capability.Item, error) {
	return c.provider.host.resolve(ctx, c.provider, name, c.consumer, args)
}

// API returns the capability value for (name, args).
func (c *Context) API(ctx context.Context, name string, args ...any) (any, error) {
	item, err := c.Resolve(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	return item.Value(), nil
}

// Exists reports whether the provider declared a capability named name.
func (c *Context) Exists(name string) bool {
	_, ok := c.provider.registry.Lookup(name)
	return ok
}

// Config returns the consumer's configuration dictionary,
// plugin.config.<consumer> in the core preferences.
func (c *Context) Config(ctx context.Context) (*prefs.Dictionary, error) {
	return c.provider.host.pluginConfig(ctx, c.consumer.Name())
}

// Export presents the context to the consumer's plugin code.
func (c *Context) Export() map[string]any {
	return map[string]any{
		"name": c.provider.Name(),
		"api":  sandbox.Func(c.Invoke),
		"exists": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
			name, err := stringArg("exists", args, 0)
			if err != nil {
				return nil, err
			}
			return []any{c.Exists(name)}, nil
		}),
		"config": sandbox.Func(func(ctx context.Context, _ ...any) ([]any, error) {
			dict, err := c.Config(ctx)
			if err != nil {
				return nil, err
			}
			return []any{c.consumer.luaValue(dict, dict)}, nil
		}),
	}
}

// Invoke resolves a capability for Lua callers: the first argument names it,
// the rest are its arguments. Repeated equal requests return the identical
// table. Arguments holding functions are refused because they never compare
// equal and so could not be memoized.
func (c *Context) Invoke(ctx context.Context, args ...any) ([]any, error) {
	name, err := stringArg("api", args, 0)
	if err != nil {
		return nil, err
	}
	item, err := c.Resolve(ctx, name, args[1:]...)
	if err != nil {
		return nil, err
	}
	return []any{c.consumer.luaValue(item, item.Value())}, nil
}
