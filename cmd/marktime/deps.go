// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/holomush/marktime/internal/capability"
	"github.com/holomush/marktime/internal/config"
	"github.com/holomush/marktime/internal/observability"
	"github.com/holomush/marktime/internal/plugin"
	"github.com/holomush/marktime/internal/prefs"
	"github.com/holomush/marktime/internal/prefs/store"
)

// RunDeps contains injectable dependencies for commands that open the
// runtime. All fields with nil values will use their default implementations.
type RunDeps struct {
	// StoreOpener opens the preference record store.
	// Default: store.Open
	StoreOpener func(ctx context.Context, dsn string) (store.RecordStore, error)

	// SourceFactory builds the plugin file source.
	// Default: S3 when a bucket is configured, otherwise the plugins dir
	SourceFactory func(ctx context.Context, cfg config.PluginsConfig) (plugin.Source, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, isReady observability.ReadinessChecker) ObservabilityServer

	// SignalNotifier delivers shutdown signals. The returned func stops
	// delivery.
	// Default: signal.Notify for SIGINT and SIGTERM
	SignalNotifier func() (<-chan os.Signal, func())
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func (d *RunDeps) withDefaults() *RunDeps {
	out := RunDeps{}
	if d != nil {
		out = *d
	}
	if out.StoreOpener == nil {
		out.StoreOpener = store.Open
	}
	if out.SourceFactory == nil {
		out.SourceFactory = defaultSource
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, isReady observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, version, isReady,
				plugin.RegisterMetrics,
				capability.RegisterMetrics,
				prefs.RegisterMetrics,
			)
		}
	}
	if out.SignalNotifier == nil {
		out.SignalNotifier = func() (<-chan os.Signal, func()) {
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
			return ch, func() { signal.Stop(ch) }
		}
	}
	return &out
}

func defaultSource(ctx context.Context, cfg config.PluginsConfig) (plugin.Source, error) {
	if cfg.S3.Bucket == "" {
		return plugin.NewFSSource(os.DirFS(cfg.Dir)), nil
	}
	src, err := plugin.NewS3Source(ctx, plugin.S3Config{
		Bucket:    cfg.S3.Bucket,
		Prefix:    cfg.S3.Prefix,
		Region:    cfg.S3.Region,
		Endpoint:  cfg.S3.Endpoint,
		PathStyle: cfg.S3.PathStyle,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // source errors carry bucket context
	}
	return src, nil
}
