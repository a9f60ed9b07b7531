// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/marktime/pkg/errutil"
)

// shutdownTimeout bounds the final flush and server shutdown.
const shutdownTimeout = 10 * time.Second

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	return newRunCmd(nil)
}

func newRunCmd(deps *RunDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load every installed plugin and serve until stopped",
		Long: `Load every plugin listed in plugin.list, in dependency order, and keep
the host running until SIGINT or SIGTERM. When --metrics-addr is set the
host exposes /metrics, /healthz/liveness and /healthz/readiness.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithDeps(cmd, deps)
		},
	}
}

// runWithDeps starts the host with injectable dependencies.
// If deps is nil, default implementations are used.
func runWithDeps(cmd *cobra.Command, deps *RunDeps) error {
	deps = deps.withDefaults()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	logger.Info("starting plugin host",
		"plugins_dir", cfg.Plugins.Dir,
		"s3_bucket", cfg.Plugins.S3.Bucket,
	)

	rt, err := openRuntime(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if closeErr := rt.Close(shutdownCtx); closeErr != nil {
			errutil.LogError(logger, "error closing runtime", closeErr)
		}
	}()

	sigChan, stopSignals := deps.SignalNotifier()
	defer stopSignals()

	var obsServer ObservabilityServer
	var obsErrChan <-chan error
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, rt.host.Ready)
		obsErrChan, err = obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
				logger.Warn("error stopping observability server", "error", stopErr)
			}
		}()
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	if err := rt.host.Initialize(ctx); err != nil {
		return oops.With("operation", "initialize plugins").Wrap(err)
	}

	order := rt.host.LoadOrder()
	cmd.Printf("Plugin host ready (%d plugins)\n", len(order))
	logger.Info("plugin host ready", "load_order", order)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err, ok := <-obsErrChan:
		if ok && err != nil {
			return oops.Code("OBSERVABILITY_FAILED").Wrap(err)
		}
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	return nil
}
