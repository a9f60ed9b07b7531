// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/marktime/internal/capability"
	"github.com/holomush/marktime/internal/emitter"
	"github.com/holomush/marktime/internal/sandbox"
)

// globals returns the values injected into p's sandbox before its entry
// chunk runs:
//
//	API(name)              declare a capability, returns its handle
//	plugins.get(name)      context on another plugin
//	marktime               context on the core plugin
//	host.log(level, msg)   structured logging tagged with the plugin
//	host.new_request_id()  ULID string
//	plugin                 name, version and description of p
func (h *Host) globals(p *Plugin) map[string]any {
	core := h.core.contextFor(p)
	return map[string]any{
		"API": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
			name, err := stringArg("API", args, 0)
			if err != nil {
				return nil, err
			}
			entry, err := h.declare(p, name)
			if err != nil {
				return nil, err
			}
			return []any{&capabilityHandle{entry: entry, plugin: p}}, nil
		}),
		"plugins": map[string]any{
			"get": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
				name, err := stringArg("get", args, 0)
				if err != nil {
					return nil, err
				}
				provider, ok := h.Plugin(name)
				if !ok {
					return nil, pluginNotFound(name)
				}
				c := provider.contextFor(p)
				return []any{p.luaValue(c, c)}, nil
			}),
		},
		"marktime": p.luaValue(core, core),
		"host": map[string]any{
			"log": sandbox.Func(func(ctx context.Context, args ...any) ([]any, error) {
				level, err := stringArg("log", args, 0)
				if err != nil {
					return nil, err
				}
				msg, err := stringArg("log", args, 1)
				if err != nil {
					return nil, err
				}
				p.logger.Log(ctx, logLevel(level), msg, keyValues(args[2:])...)
				return nil, nil
			}),
			"new_request_id": sandbox.Func(func(context.Context, ...any) ([]any, error) {
				return []any{ulid.Make().String()}, nil
			}),
		},
		"plugin": map[string]any{
			"name":        p.Name(),
			"version":     p.Version(),
			"description": p.manifest.Description,
		},
	}
}

// declare registers a capability on p. Declaring is only possible while p's
// entry chunk is loading.
func (h *Host) declare(p *Plugin, name string) (*capability.Entry, error) {
	if p.State() != StateLoading {
		return nil, registrationClosed(p.Name(), name)
	}
	entry, err := p.registry.Register(name)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("capability declared", "capability", entry.Name())
	return entry, nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// keyValues turns trailing host.log arguments into slog attributes. A
// single table argument contributes its fields.
func keyValues(args []any) []any {
	if len(args) == 1 {
		if fields, ok := args[0].(map[string]any); ok {
			out := make([]any, 0, len(fields)*2)
			for k, v := range fields {
				out = append(out, k, v)
			}
			return out
		}
	}
	return args
}

// capabilityHandle is what API(name) returns to plugin code.
type capabilityHandle struct {
	entry  *capability.Entry
	plugin *Plugin
}

func (c *capabilityHandle) Export() map[string]any {
	view := c.entry.View()
	return map[string]any{
		"name": c.entry.Name(),
		// on_use(fn): fn(consumer, ...) returns the capability value.
		"on_use": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
			fn, err := funcArg("on_use", args, 0)
			if err != nil {
				return nil, err
			}
			l := c.entry.OnUse(func(ctx context.Context, consumer capability.Consumer, args []any) (any, error) {
				name := ""
				if consumer != nil {
					name = consumer.Name()
				}
				out, err := fn(ctx, append([]any{name}, args...)...)
				return first(out), err
			})
			return []any{l}, nil
		}),
		// on_initialize(fn): fn() runs once before the plugin counts as loaded.
		"on_initialize": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
			fn, err := funcArg("on_initialize", args, 0)
			if err != nil {
				return nil, err
			}
			l := c.entry.OnInitialize(func(ctx context.Context) (any, error) {
				_, err := fn(ctx)
				return nil, err
			})
			return []any{l}, nil
		}),
		"on": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
			event, fn, err := eventArgs("on", args)
			if err != nil {
				return nil, err
			}
			return []any{view.On(event, luaHandler(fn))}, nil
		}),
		"once": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
			event, fn, err := eventArgs("once", args)
			if err != nil {
				return nil, err
			}
			return []any{view.Once(event, luaHandler(fn))}, nil
		}),
		"off": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
			l, ok := first(args).(*emitter.Listener)
			if !ok {
				return nil, oops.In("plugin").Errorf("off: argument 1 must be a listener")
			}
			return []any{view.RemoveListener(l)}, nil
		}),
		"remove_all_listeners": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
			event, err := stringArg("remove_all_listeners", args, 0)
			if err != nil {
				return nil, err
			}
			view.RemoveAllListeners(event)
			return nil, nil
		}),
		"listener_count": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
			event, err := stringArg("listener_count", args, 0)
			if err != nil {
				return nil, err
			}
			return []any{len(view.Listeners(event))}, nil
		}),
	}
}

// luaHandler adapts a plugin function to an emitter handler. The consumer,
// when there is one, is passed by name as the first argument.
func luaHandler(fn sandbox.Func) emitter.Handler {
	return func(ctx context.Context, self any, args ...any) (any, error) {
		name := ""
		if consumer, ok := self.(capability.Consumer); ok {
			name = consumer.Name()
		}
		out, err := fn(ctx, append([]any{name}, args...)...)
		return first(out), err
	}
}

func eventArgs(fn string, args []any) (string, sandbox.Func, error) {
	event, err := stringArg(fn, args, 0)
	if err != nil {
		return "", nil, err
	}
	handler, err := funcArg(fn, args, 1)
	if err != nil {
		return "", nil, err
	}
	return event, handler, nil
}

func funcArg(fn string, args []any, i int) (sandbox.Func, error) {
	if i < len(args) {
		if f, ok := args[i].(sandbox.Func); ok {
			return f, nil
		}
	}
	return nil, oops.In("plugin").With("function", fn).With("argument", i+1).
		Errorf("%s: argument %d must be a function", fn, i+1)
}

func first(values []any) any {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}
