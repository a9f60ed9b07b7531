// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package sandbox provides isolated execution contexts for plugin code.
//
// Each Context owns a private gopher-lua state, and therefore a private global
// namespace. The host injects values with Copy; nothing else from the host is
// reachable. Values that cross the boundary are converted (see bridge.go):
// plain data is copied into the receiving namespace and functions are proxied
// back to the context that defined them, so code always runs inside its own
// namespace.
//
// A Context is not safe for concurrent use. The plugin host drives every
// context from a single goroutine; nested calls (a plugin calling a capability
// that calls back into the first plugin) are supported.
package sandbox

import (
	"context"
	"strings"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// Context is an isolated execution context.
type Context struct {
	name    string
	state   *lua.LState
	timeout time.Duration
	closed  bool
}

// Option configures a Context.
type Option func(*Context)

// WithTimeout bounds every Run and Call made through the context. Zero means
// only the caller's context applies.
func WithTimeout(d time.Duration) Option {
	return func(c *Context) {
		c.timeout = d
	}
}

// New creates an isolated context named name using a fresh state from factory.
func New(ctx context.Context, name string, factory *StateFactory, opts ...Option) (*Context, error) {
	if factory == nil {
		factory = NewStateFactory()
	}
	L, err := factory.NewState(ctx)
	if err != nil {
		return nil, oops.In("sandbox").With("sandbox", name).Hint("failed to create state").Wrap(err)
	}
	c := &Context{name: name, state: L}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the context name.
func (c *Context) Name() string {
	return c.name
}

// State exposes the underlying Lua state for registering host functions.
func (c *Context) State() *lua.LState {
	return c.state
}

// Copy injects named values into the context's global namespace. Existing
// globals with the same name are replaced. Copying is shallow on the Go side:
// maps and slices are converted into fresh Lua tables, functions and
// Exporters keep pointing at the host values they wrap.
func (c *Context) Copy(values map[string]any) error {
	if c.closed {
		return oops.In("sandbox").With("sandbox", c.name).With("operation", "copy").New("context is closed")
	}
	for key, v := range values {
		if key == "" {
			return oops.In("sandbox").With("sandbox", c.name).With("operation", "copy").New("global name cannot be empty")
		}
		c.state.SetGlobal(key, c.FromGo(v))
	}
	return nil
}

// Run executes code inside the context. self is bound to the local variable
// `self` (nil binds the context's own global table) and args are available to
// the chunk as `...`. The chunk's return values are converted and returned.
//
// chunk names the code in error messages and tracebacks.
func (c *Context) Run(ctx context.Context, chunk, code string, self any, args ...any) ([]any, error) {
	if c.closed {
		return nil, oops.In("sandbox").With("sandbox", c.name).With("operation", "run").New("context is closed")
	}

	// Everything before the user code stays on its first line so reported
	// line numbers match the source.
	wrapped := "local self = ...; return (function(...) " + code + "\nend)(select(2, ...))"
	fn, err := c.state.Load(strings.NewReader(wrapped), chunk)
	if err != nil {
		return nil, oops.In("sandbox").Code("SANDBOX_RUN_FAILED").
			With("sandbox", c.name).With("chunk", chunk).Hint("syntax error").Wrap(err)
	}

	var selfValue lua.LValue = c.state.G.Global
	if self != nil {
		selfValue = c.FromGo(self)
	}
	callArgs := make([]lua.LValue, 0, len(args)+1)
	callArgs = append(callArgs, selfValue)
	for _, a := range args {
		callArgs = append(callArgs, c.FromGo(a))
	}

	out, err := c.call(ctx, fn, callArgs)
	if err != nil {
		return nil, oops.In("sandbox").Code("SANDBOX_RUN_FAILED").
			With("sandbox", c.name).With("chunk", chunk).Wrap(err)
	}
	return out, nil
}

// Call invokes a Lua function with host values as arguments.
func (c *Context) Call(ctx context.Context, fn lua.LValue, args ...any) ([]any, error) {
	if c.closed {
		return nil, oops.In("sandbox").With("sandbox", c.name).With("operation", "call").New("context is closed")
	}
	luaArgs := make([]lua.LValue, len(args))
	for i, a := range args {
		luaArgs[i] = c.FromGo(a)
	}
	out, err := c.call(ctx, fn, luaArgs)
	if err != nil {
		return nil, oops.In("sandbox").Code("SANDBOX_CALL_FAILED").With("sandbox", c.name).Wrap(err)
	}
	return out, nil
}

func (c *Context) call(ctx context.Context, fn lua.LValue, args []lua.LValue) ([]any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	L := c.state
	prev := L.Context()
	L.SetContext(ctx)
	defer func() {
		if prev == nil {
			L.RemoveContext()
		} else {
			L.SetContext(prev)
		}
	}()

	base := L.GetTop()
	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    lua.MultRet,
		Protect: true,
	}, args...); err != nil {
		L.SetTop(base)
		if herr := hostError(err); herr != nil {
			return nil, herr
		}
		return nil, err //nolint:wrapcheck // wrapped by callers with sandbox context
	}

	n := L.GetTop() - base
	out := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		v, err := c.ToGo(L.Get(base + i))
		if err != nil {
			L.SetTop(base)
			return nil, err
		}
		out = append(out, v)
	}
	L.SetTop(base)
	return out, nil
}

// Close releases the context. Further use returns an error.
func (c *Context) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.state.Close()
}
