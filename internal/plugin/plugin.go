// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"log/slog"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/marktime/internal/capability"
	"github.com/holomush/marktime/internal/sandbox"
)

// CoreName names the built-in plugin that provides the preferences and
// configuration capabilities.
const CoreName = "marktime"

// State is a plugin's position in the load lifecycle.
type State int

// Plugin states. A plugin moves from pending to loading exactly once and
// ends loaded or failed.
const (
	StatePending State = iota
	StateLoading
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Plugin is one installed extension. It lives as long as its Host.
type Plugin struct {
	manifest *Manifest
	registry *capability.Registry
	host     *Host
	logger   *slog.Logger

	mu       sync.Mutex
	sandbox  *sandbox.Context
	contexts map[string]*Context
	values   map[any]lua.LValue
	state    State
	err      error
}

func newPlugin(h *Host, m *Manifest) *Plugin {
	logger := h.logger.With("plugin", m.Name)
	return &Plugin{
		manifest: m,
		registry: capability.NewRegistry(m.Name, capability.WithLogger(h.logger)),
		host:     h,
		logger:   logger,
		contexts: make(map[string]*Context),
		values:   make(map[any]lua.LValue),
	}
}

// Name returns the plugin name.
func (p *Plugin) Name() string { return p.manifest.Name }

// Version returns the manifest version.
func (p *Plugin) Version() string { return p.manifest.Version }

// Manifest returns the manifest with defaults applied.
func (p *Plugin) Manifest() *Manifest { return p.manifest }

// Registry returns the capabilities the plugin declared.
func (p *Plugin) Registry() *capability.Registry { return p.registry }

// Capabilities returns declared capability names in declaration order.
func (p *Plugin) Capabilities() []string { return p.registry.Names() }

// State returns the current lifecycle state.
func (p *Plugin) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the load failure of a failed plugin.
func (p *Plugin) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Plugin) setState(s State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
	p.err = err
}

func (p *Plugin) attach(sb *sandbox.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sandbox = sb
}

// contextFor returns the Context consumer uses to reach p. One Context is
// built per consumer.
func (p *Plugin) contextFor(consumer *Plugin) *Context {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.contexts[consumer.Name()]; ok {
		return c
	}
	c := &Context{provider: p, consumer: consumer}
	p.contexts[consumer.Name()] = c
	return c
}

// luaValue converts v into p's sandbox once per key, so handing the same
// capability or context to plugin code twice yields the identical table.
func (p *Plugin) luaValue(key, v any) lua.LValue {
	p.mu.Lock()
	if lv, ok := p.values[key]; ok {
		p.mu.Unlock()
		return lv
	}
	sb := p.sandbox
	p.mu.Unlock()

	if sb == nil {
		return lua.LNil
	}
	lv := sb.FromGo(v)

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.values[key]; ok {
		return existing
	}
	p.values[key] = lv
	return lv
}

func (p *Plugin) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sandbox != nil {
		p.sandbox.Close()
	}
	p.values = make(map[any]lua.LValue)
}
