// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/marktime/internal/capability"
	"github.com/holomush/marktime/internal/prefs"
	"github.com/holomush/marktime/internal/sandbox"
)

// DefaultFetchConcurrency bounds concurrent manifest reads.
const DefaultFetchConcurrency = 8

// Host owns the plugin set, the core plugin and the preference root. It is
// the only way the outside world reaches plugin capabilities.
//
// Plugin code never runs concurrently: Initialize and GetCapability
// serialize on the host, and calls between plugins stay on the calling
// goroutine.
type Host struct {
	root       *prefs.Root
	source     Source
	enforcer   *capability.Enforcer
	factory    *sandbox.StateFactory
	logger     *slog.Logger
	timeout    time.Duration
	backoff    func() retry.Backoff
	fetchLimit int

	core *Plugin

	mu          sync.RWMutex
	plugins     map[string]*Plugin
	order       []string
	defaults    Defaults
	initialized bool

	callMu sync.Mutex
	ready  atomic.Bool
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		h.logger = l
	}
}

// WithStateFactory sets the factory plugin sandboxes are created from.
func WithStateFactory(f *sandbox.StateFactory) Option {
	return func(h *Host) {
		h.factory = f
	}
}

// WithSandboxTimeout bounds every call into plugin code.
func WithSandboxTimeout(d time.Duration) Option {
	return func(h *Host) {
		h.timeout = d
	}
}

// WithFetchBackoff sets the retry policy for reading plugin files.
func WithFetchBackoff(b func() retry.Backoff) Option {
	return func(h *Host) {
		h.backoff = b
	}
}

// WithFetchConcurrency bounds concurrent manifest reads.
func WithFetchConcurrency(n int) Option {
	return func(h *Host) {
		h.fetchLimit = n
	}
}

// WithEnforcer sets the enforcer holding plugin grants.
func WithEnforcer(e *capability.Enforcer) Option {
	return func(h *Host) {
		h.enforcer = e
	}
}

func defaultFetchBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
}

// NewHost creates a host. root must be loaded; the caller keeps ownership of
// root and closes it after the host.
func NewHost(root *prefs.Root, source Source, opts ...Option) *Host {
	h := &Host{
		root:       root,
		source:     source,
		factory:    sandbox.NewStateFactory(),
		logger:     slog.Default(),
		backoff:    defaultFetchBackoff,
		fetchLimit: DefaultFetchConcurrency,
		plugins:    make(map[string]*Plugin),
		defaults:   DefaultsFromConfig(nil),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.enforcer == nil {
		h.enforcer = capability.NewEnforcer()
	}
	h.logger = h.logger.With("component", "plugin-host")

	h.core = newCore(h)
	h.plugins[CoreName] = h.core
	_ = h.enforcer.SetGrants(CoreName, []string{capability.AllowAll})
	return h
}

// Initialize loads every installed plugin.
//
// Manifest read or parse failures abort before any plugin code runs. A
// plugin that fails to load fails every plugin depending on it; unrelated
// plugins still load. Initialize returns the first failure and the host
// only becomes ready when every plugin loaded.
func (h *Host) Initialize(ctx context.Context) error {
	h.callMu.Lock()
	defer h.callMu.Unlock()

	h.mu.Lock()
	if h.initialized {
		h.mu.Unlock()
		return oops.In("plugin").Code(CodeAlreadyInitialized).New("host already initialized")
	}
	h.initialized = true
	h.mu.Unlock()

	start := time.Now()
	if err := h.core.registry.Initialize(ctx); err != nil {
		return err
	}

	defaults, err := h.loadDefaults(ctx)
	if err != nil {
		return err
	}
	names, err := h.installed(ctx)
	if err != nil {
		return err
	}
	h.logger.Info("loading plugin definitions", "count", len(names))

	manifests, err := h.fetchManifests(ctx, names, defaults)
	if err != nil {
		return err
	}

	plugins := make([]*Plugin, 0, len(manifests))
	for _, m := range manifests {
		grants := m.Permissions
		if grants == nil {
			grants = []string{capability.AllowAll}
		}
		if err := h.enforcer.SetGrants(m.Name, grants); err != nil {
			return invalidManifest(m.Name, err)
		}
		plugins = append(plugins, newPlugin(h, m))
	}

	h.mu.Lock()
	h.defaults = defaults
	for _, p := range plugins {
		h.plugins[p.Name()] = p
	}
	h.mu.Unlock()

	l := newLoader(h)
	for _, p := range plugins {
		_ = l.load(ctx, p)
	}
	LoadedPlugins.Set(float64(len(h.LoadOrder()) + 1))

	if l.first != nil {
		h.logger.Error("plugin host failed to initialize",
			"loaded", len(h.LoadOrder()), "failed", l.failed, "duration", time.Since(start))
		return l.first
	}
	h.ready.Store(true)
	h.logger.Info("plugin host ready", "plugins", len(plugins), "duration", time.Since(start))
	return nil
}

// Ready reports whether Initialize completed without failures.
func (h *Host) Ready() bool {
	return h.ready.Load()
}

// Core returns the built-in core plugin.
func (h *Host) Core() *Plugin {
	return h.core
}

// Plugin returns the named plugin, the core included.
func (h *Host) Plugin(name string) (*Plugin, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.plugins[name]
	return p, ok
}

// Plugins returns every installed plugin sorted by name, without the core.
func (h *Host) Plugins() []*Plugin {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Plugin, 0, len(h.plugins))
	for name, p := range h.plugins {
		if name != CoreName {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// LoadOrder returns the names of loaded plugins in the order they finished
// loading.
func (h *Host) LoadOrder() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.order)
}

// Defaults returns the manifest defaults in effect.
func (h *Host) Defaults() Defaults {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.defaults
}

// GetCapability resolves a capability of provider on behalf of the core
// plugin. This is how code outside the plugin set reaches capabilities.
func (h *Host) GetCapability(ctx context.Context, provider, name string, args ...any) (any, error) {
	h.callMu.Lock()
	defer h.callMu.Unlock()

	p, ok := h.Plugin(provider)
	if !ok {
		return nil, pluginNotFound(provider)
	}
	item, err := h.resolve(ctx, p, name, h.core, args)
	if err != nil {
		return nil, err
	}
	return item.Value(), nil
}

// resolve is the single path every capability request takes.
func (h *Host) resolve(ctx context.Context, provider *Plugin, name string, consumer *Plugin, args []any) (*capability.Item, error) {
	state := provider.State()
	if state != StateLoaded && (provider != consumer || state != StateLoading) {
		return nil, pluginNotLoaded(provider.Name(), state)
	}
	if provider != consumer {
		if err := h.enforcer.Authorize(consumer.Name(), provider.Name(), name); err != nil {
			return nil, err
		}
	}
	return provider.registry.Resolve(ctx, name, consumer, args...) //nolint:wrapcheck // registry errors carry codes
}

// corePrefs returns the core plugin's own preference dictionary.
func (h *Host) corePrefs(ctx context.Context) (*prefs.Dictionary, error) {
	v, err := h.core.registry.Get(ctx, CapPreferences, h.core)
	if err != nil {
		return nil, err
	}
	return v.(*prefs.Dictionary), nil //nolint:forcetypeassert // core factory returns dictionaries
}

// pluginConfig returns plugin.config.<name> from the core preferences.
func (h *Host) pluginConfig(ctx context.Context, name string) (*prefs.Dictionary, error) {
	dict, err := h.corePrefs(ctx)
	if err != nil {
		return nil, err
	}
	return dict.GetChild(keyPluginConfig+"."+name, false)
}

// loadDefaults initializes plugin.config through the core configuration
// capability and reads the manifest defaults back.
func (h *Host) loadDefaults(ctx context.Context) (Defaults, error) {
	v, err := h.core.registry.Get(ctx, CapConfiguration, h.core)
	if err != nil {
		return Defaults{}, err
	}
	cfg, err := v.(*Configuration).Load(keyPluginConfig, DefaultConfig()) //nolint:forcetypeassert // core factory
	if err != nil {
		return Defaults{}, err
	}
	return DefaultsFromConfig(cfg), nil
}

// installed returns plugin.list, initializing it to an empty list.
func (h *Host) installed(ctx context.Context) ([]string, error) {
	dict, err := h.corePrefs(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := dict.Maybe(keyPluginList, []any{})
	if err != nil {
		return nil, err
	}

	var names []string
	switch list := raw.(type) {
	case []any:
		for _, item := range list {
			name, ok := item.(string)
			if !ok {
				h.logger.Warn("ignoring non-string plugin list entry", "entry", item)
				continue
			}
			names = append(names, name)
		}
	case []string:
		names = append(names, list...)
	default:
		return nil, oops.In("plugin").With("key", keyPluginList).Errorf("plugin list must be a list, got %T", raw)
	}

	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if seen[name] {
			h.logger.Warn("ignoring duplicate plugin list entry", "plugin", name)
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}

// InstalledPlugins returns plugin.list.
func (h *Host) InstalledPlugins(ctx context.Context) ([]string, error) {
	return h.installed(ctx)
}

// Install appends name to plugin.list after checking that its manifest can
// be read and is valid. The plugin loads on the next Initialize.
func (h *Host) Install(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	defaults, err := h.loadDefaults(ctx)
	if err != nil {
		return err
	}
	if _, err := h.fetchManifest(ctx, name, defaults); err != nil {
		return err
	}

	names, err := h.installed(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(names, name) {
		return nil
	}
	return h.saveInstalled(ctx, append(names, name))
}

// Uninstall removes name from plugin.list. With purge the plugin's own
// preference record is deleted too, along with the core capabilities cached
// for it, so later requests get dictionaries on a fresh record.
func (h *Host) Uninstall(ctx context.Context, name string, purge bool) error {
	names, err := h.installed(ctx)
	if err != nil {
		return err
	}
	i := slices.Index(names, name)
	if i < 0 {
		return pluginNotFound(name)
	}
	if err := h.saveInstalled(ctx, slices.Delete(names, i, i+1)); err != nil {
		return err
	}
	if !purge {
		return nil
	}
	if err := h.root.Remove(ctx, name); err != nil {
		return err //nolint:wrapcheck // prefs errors carry context
	}
	// Core capabilities built for name hold dictionaries on the removed record.
	if n := h.core.registry.Cache().Forget(name); n > 0 {
		h.logger.Debug("dropped cached core capabilities", "plugin", name, "items", n)
	}
	return nil
}

func (h *Host) saveInstalled(ctx context.Context, names []string) error {
	dict, err := h.corePrefs(ctx)
	if err != nil {
		return err
	}
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	if err := dict.Set(keyPluginList, list); err != nil {
		return err
	}
	return dict.Save(ctx)
}

func checkName(name string) error {
	if name == CoreName {
		return oops.In("plugin").Code(CodeReservedPluginName).With("plugin", name).
			Errorf("%q is reserved for the core plugin", name)
	}
	if !ValidName(name) {
		return invalidManifest(name, oops.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", name))
	}
	return nil
}

// Close releases every plugin sandbox. The host is no longer ready
// afterwards. The preference root is left to its owner.
func (h *Host) Close(_ context.Context) error {
	h.callMu.Lock()
	defer h.callMu.Unlock()

	h.ready.Store(false)
	h.mu.RLock()
	plugins := make([]*Plugin, 0, len(h.plugins))
	for _, p := range h.plugins {
		plugins = append(plugins, p)
	}
	h.mu.RUnlock()

	for _, p := range plugins {
		p.close()
	}
	LoadedPlugins.Set(0)
	return nil
}
