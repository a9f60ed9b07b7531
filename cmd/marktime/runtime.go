// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/marktime/internal/config"
	"github.com/holomush/marktime/internal/logging"
	"github.com/holomush/marktime/internal/plugin"
	"github.com/holomush/marktime/internal/prefs"
	"github.com/holomush/marktime/internal/prefs/store"
)

// runtime bundles the store, the preference root and the plugin host in the
// order they have to be opened and closed.
type runtime struct {
	store  store.RecordStore
	root   *prefs.Root
	host   *plugin.Host
	logger *slog.Logger
}

// newLogger builds the logger described by cfg, writing to w.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	return logging.Setup(logging.Options{
		Service: "marktime",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
	}, w)
}

// openRuntime opens the record store, loads every preference record and
// builds a host over the configured plugin source. Plugins are not loaded;
// call Initialize on the host for that.
func openRuntime(ctx context.Context, cfg *config.Config, deps *RunDeps, logger *slog.Logger) (*runtime, error) {
	deps = deps.withDefaults()

	s, err := deps.StoreOpener(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, oops.With("operation", "open preference store").Wrap(err)
	}

	root := prefs.NewRoot(s,
		prefs.WithAutosaveInterval(cfg.Prefs.AutosaveInterval),
		prefs.WithMaxChanges(cfg.Prefs.AutosaveMaxChanges),
		prefs.WithLogger(logger),
	)
	if err := root.Load(ctx); err != nil {
		_ = s.Close() //nolint:errcheck // load error takes precedence
		return nil, oops.With("operation", "load preferences").Wrap(err)
	}

	source, err := deps.SourceFactory(ctx, cfg.Plugins)
	if err != nil {
		_ = root.Close(ctx) //nolint:errcheck // source error takes precedence
		_ = s.Close()       //nolint:errcheck // source error takes precedence
		return nil, oops.Code("SOURCE_OPEN_FAILED").With("operation", "open plugin source").Wrap(err)
	}

	host := plugin.NewHost(root, source,
		plugin.WithLogger(logger),
		plugin.WithSandboxTimeout(cfg.Sandbox.Timeout),
	)
	return &runtime{store: s, root: root, host: host, logger: logger}, nil
}

// Close shuts the host down, flushes preferences and closes the store.
func (r *runtime) Close(ctx context.Context) error {
	var errs []error
	if err := r.host.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.root.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// withRuntime opens the runtime for a one-shot command, runs fn and closes
// the runtime, flushing any preference writes fn made.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := openRuntime(ctx, cfg, nil, newLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	runErr := fn(ctx, rt)
	closeErr := rt.Close(ctx)
	if runErr != nil {
		return runErr
	}
	return closeErr
}
