// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/playrelay/playrelay/internal/auth"
	"github.com/playrelay/playrelay/internal/config"
	"github.com/playrelay/playrelay/internal/gateway"
	"github.com/playrelay/playrelay/internal/logging"
	"github.com/playrelay/playrelay/internal/observability"
	"github.com/playrelay/playrelay/internal/session"
	"github.com/playrelay/playrelay/internal/tick"
	"github.com/playrelay/playrelay/internal/xdg"
)

const shutdownTimeout = 5 * time.Second

// newServeCmd creates the serve subcommand with all flags configured.
// Flag names match config keys so posflag overrides map one to one.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the session server",
		Long: `Start the session server: accept websocket clients, authenticate
players, and broadcast object state on the configured tick interval.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	cmd.Flags().String("listen_addr", config.DefaultListenAddr, "websocket listen address")
	cmd.Flags().String("metrics_addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log_level", config.DefaultLogLevel, "log verbosity (debug, info, warn, error)")
	cmd.Flags().String("log_format", config.DefaultLogFormat, "log format (json or text)")
	cmd.Flags().Duration("tick_interval", config.DefaultTickInterval, "state broadcast interval")
	cmd.Flags().String("data_file", "", "player snapshot file path")

	return cmd
}

// runServe wires the whole server together and blocks until shutdown.
func runServe(cmd *cobra.Command) error {
	cfgPath := configFile
	if cfgPath == "" {
		cfgPath = xdg.ConfigFile()
	}

	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logging.SetDefault("playrelay", version, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))
	logger := slog.Default()
	logger.Info("starting playrelay",
		"config", cfgPath,
		"listen_addr", cfg.ListenAddr,
		"tick_interval", cfg.TickInterval.String(),
	)

	codec, err := auth.NewTokenCodec(cfg.Secret)
	if err != nil {
		return fmt.Errorf("failed to create token codec: %w", err)
	}
	registry := session.NewRegistry(cfg.Security.Policy(), auth.NewArgon2idHasher(), codec, logger)

	dataFile := cfg.DataFile
	if dataFile == "" {
		dataFile = xdg.DataFile()
	}
	if err := xdg.EnsureDir(filepath.Dir(dataFile)); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := registry.Restore(dataFile); err != nil {
		return fmt.Errorf("failed to restore player data: %w", err)
	}
	for _, u := range cfg.Users {
		if err := registry.SeedUser(u.Username, u.Password, u.Moderator); err != nil {
			return fmt.Errorf("failed to seed user %q: %w", u.Username, err)
		}
	}

	// Cancelled by SIGINT/SIGTERM or by a moderator's shutdown request.
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var metrics *observability.Metrics
	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool { return true }, func() float64 {
			return float64(registry.OnlineCount())
		})
		obsErrCh, obsErr := obsServer.Start()
		if obsErr != nil {
			return fmt.Errorf("failed to start observability server: %w", obsErr)
		}
		go func() {
			if e := <-obsErrCh; e != nil {
				logger.Error("observability server failed", "error", e)
			}
		}()
		metrics = obsServer.Metrics()
	}

	gw := gateway.NewServer(cfg.ListenAddr, registry, metrics, logger, cancel)
	gwErrCh, err := gw.Start()
	if err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	loop := tick.NewLoop(cfg.TickInterval, registry, gw, logger)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()

	logger.Info("playrelay ready", "addr", gw.Addr())

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case gwErr := <-gwErrCh:
		cancel()
		if gwErr != nil {
			logger.Error("gateway failed", "error", gwErr)
		}
	}

	<-loopDone

	// Closing broadcast and disconnects first, then persist what remains.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if stopErr := gw.Stop(shutdownCtx); stopErr != nil {
		logger.Warn("gateway stop incomplete", "error", stopErr)
	}
	registry.ForceLogoutAll()
	if persistErr := registry.Persist(dataFile); persistErr != nil {
		logger.Error("failed to persist player data", "error", persistErr, "path", dataFile)
	} else {
		logger.Info("player data persisted", "path", dataFile, "sessions", registry.Len())
	}
	if obsServer != nil {
		if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
			logger.Warn("observability stop incomplete", "error", stopErr)
		}
	}

	logger.Info("goodbye")
	return nil
}
