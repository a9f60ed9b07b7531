// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/marktime/internal/sandbox"
)

var tracer = otel.Tracer("marktime/plugin")

// Fetch outcome labels.
const (
	fetchSuccess = "success"
	fetchError   = "error"
)

// fetch reads one plugin file, retrying transient failures. Missing files
// and canceled contexts are not retried.
func (h *Host) fetch(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, h.backoff(), func(ctx context.Context) error {
		b, err := h.source.ReadFile(ctx, name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || ctx.Err() != nil {
				return err
			}
			h.logger.Debug("retrying plugin file read", "path", name, "error", err)
			return retry.RetryableError(err)
		}
		data = b
		return nil
	})
	if err != nil {
		ManifestFetches.WithLabelValues(fetchError).Inc()
		return nil, err //nolint:wrapcheck // callers attach plugin context
	}
	ManifestFetches.WithLabelValues(fetchSuccess).Inc()
	return data, nil
}

// fetchManifest reads, parses, defaults and validates one manifest.
func (h *Host) fetchManifest(ctx context.Context, name string, defaults Defaults) (*Manifest, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	manifestPath := defaults.ManifestPath(name)
	data, err := h.fetch(ctx, manifestPath)
	if err != nil {
		return nil, manifestLoad(name, manifestPath, err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, invalidManifest(name, err)
	}
	m.ApplyDefaults(name, defaults)
	if m.Name != name {
		return nil, invalidManifest(name, fmt.Errorf("manifest name %q does not match installed name %q", m.Name, name))
	}
	if err := m.Validate(); err != nil {
		return nil, invalidManifest(name, err)
	}
	return m, nil
}

// fetchManifests reads every manifest concurrently and returns them in the
// order of names. The first failure cancels the remaining reads.
func (h *Host) fetchManifests(ctx context.Context, names []string, defaults Defaults) ([]*Manifest, error) {
	manifests := make([]*Manifest, len(names))

	g, gctx := errgroup.WithContext(ctx)
	if h.fetchLimit > 0 {
		g.SetLimit(h.fetchLimit)
	}
	for i, name := range names {
		g.Go(func() error {
			m, err := h.fetchManifest(gctx, name, defaults)
			if err != nil {
				return err
			}
			manifests[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err //nolint:wrapcheck // manifest errors carry codes
	}
	return manifests, nil
}

// loader walks the dependency graph depth-first. A plugin is marked loading
// when first reached, so meeting a loading plugin again means a cycle.
type loader struct {
	h      *Host
	stack  []string
	cycle  map[string]bool
	first  error
	failed int
}

func newLoader(h *Host) *loader {
	return &loader{h: h, cycle: make(map[string]bool)}
}

func (l *loader) load(ctx context.Context, p *Plugin) error {
	switch p.State() {
	case StateLoaded:
		return nil
	case StateFailed:
		return p.Err()
	case StateLoading:
		start := slices.Index(l.stack, p.Name())
		path := append(slices.Clone(l.stack[start:]), p.Name())
		for _, name := range path {
			l.cycle[name] = true
		}
		return cyclicDependency(path)
	}

	p.setState(StateLoading, nil)
	l.stack = append(l.stack, p.Name())
	defer func() { l.stack = l.stack[:len(l.stack)-1] }()

	deps := make([]*Plugin, 0, len(p.manifest.Dependencies))
	for _, dep := range p.manifest.Dependencies {
		d, ok := l.h.Plugin(dep.Name)
		if !ok {
			return l.fail(p, missingDependency(p.Name(), dep.Name))
		}
		if err := l.load(ctx, d); err != nil {
			if errors.Is(err, ErrCyclicDependency) && l.cycle[p.Name()] {
				return l.fail(p, err)
			}
			return l.fail(p, dependencyFailed(p.Name(), dep.Name, err))
		}
		ok, err := dep.Satisfied(d.Version())
		if err != nil {
			return l.fail(p, invalidManifest(p.Name(), err))
		}
		if !ok {
			return l.fail(p, dependencyVersion(p.Name(), dep.Name, dep.Constraint, d.Version()))
		}
		deps = append(deps, d)
	}

	start := time.Now()
	if err := l.h.loadPlugin(ctx, p, deps); err != nil {
		return l.fail(p, err)
	}
	elapsed := time.Since(start)

	p.setState(StateLoaded, nil)
	l.h.mu.Lock()
	l.h.order = append(l.h.order, p.Name())
	l.h.mu.Unlock()

	LoadDuration.WithLabelValues(p.Name()).Observe(elapsed.Seconds())
	RecordLoad(LoadSuccess)
	p.logger.Info("plugin loaded",
		"version", p.Version(),
		"capabilities", p.Capabilities(),
		"dependencies", p.manifest.Dependencies.Names(),
		"duration", elapsed)
	return nil
}

// fail marks p failed. The earliest failure is the root cause Initialize
// reports.
func (l *loader) fail(p *Plugin, err error) error {
	p.setState(StateFailed, err)
	p.close()
	l.failed++
	if l.first == nil {
		l.first = err
	}
	RecordLoad(LoadFailure)
	p.logger.Error("plugin failed to load", "error", err)
	return err
}

// loadPlugin runs p's entry chunk in a fresh sandbox with the contexts of
// its dependencies as arguments, in declaration order, then settles its
// initialize handlers.
func (h *Host) loadPlugin(ctx context.Context, p *Plugin, deps []*Plugin) (err error) {
	ctx, span := tracer.Start(ctx, "plugin.load",
		trace.WithAttributes(
			attribute.String("plugin.name", p.Name()),
			attribute.String("plugin.version", p.manifest.Version),
			attribute.Int("plugin.dependencies", len(deps)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	entryPath := h.Defaults().EntryPath(p.Name(), p.manifest.Main)
	code, err := h.fetch(ctx, entryPath)
	if err != nil {
		return entryLoad(p.Name(), entryPath, err)
	}

	sb, err := sandbox.New(ctx, p.Name(), h.factory, sandbox.WithTimeout(h.timeout))
	if err != nil {
		return err //nolint:wrapcheck // sandbox errors carry the plugin name
	}
	p.attach(sb)
	if err := sb.Copy(h.globals(p)); err != nil {
		return err //nolint:wrapcheck // sandbox errors carry the plugin name
	}

	args := make([]any, len(deps))
	for i, d := range deps {
		c := d.contextFor(p)
		args[i] = p.luaValue(c, c)
	}
	if _, err := sb.Run(ctx, p.manifest.Main, string(code), nil, args...); err != nil {
		return err //nolint:wrapcheck // sandbox errors carry the chunk name
	}
	return p.registry.Initialize(ctx) //nolint:wrapcheck // registry errors carry the provider
}
