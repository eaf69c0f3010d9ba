// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianStats/pkg/logging"
	"github.com/AleutianAI/AleutianStats/services/engine/analysis"
	"github.com/AleutianAI/AleutianStats/services/engine/config"
	"github.com/AleutianAI/AleutianStats/services/engine/dataset"
	"github.com/AleutianAI/AleutianStats/services/engine/engine"
	"github.com/AleutianAI/AleutianStats/services/engine/handlers"
	"github.com/AleutianAI/AleutianStats/services/engine/modules"
	"github.com/AleutianAI/AleutianStats/services/engine/observability"
	"github.com/AleutianAI/AleutianStats/services/engine/session"
	"github.com/AleutianAI/AleutianStats/services/engine/storage/badger"
)

var (
	flagListen   string
	flagDataDir  string
	flagLogLevel string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the engine server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = applyOverrides(cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cfg)
		},
	}
)

// applyOverrides layers command-line flags over the loaded config.
func applyOverrides(cfg config.Config) config.Config {
	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	return cfg
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "listen address (overrides config)")
	serveCmd.Flags().StringVar(&flagDataDir, "data-dir", "", "data directory (overrides config)")
	serveCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}

func newLogger(cfg config.LogConfig) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Level),
		LogDir:  cfg.Dir,
		Service: "statengine",
		JSON:    cfg.JSON || !isatty.IsTerminal(os.Stderr.Fd()),
	})
}

func serve(cfg config.Config) error {
	logger := newLogger(cfg.Log)
	defer logger.Close()
	log := logger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.InitMetrics()

	storeCfg := badger.DefaultConfig()
	storeCfg.Path = filepath.Join(cfg.DataDir, "store")
	storeCfg.Logger = log
	store, err := dataset.OpenStore(storeCfg, log)
	if err != nil {
		return fmt.Errorf("open project store: %w", err)
	}
	defer store.Close()

	mods, err := modules.NewRegistry(cfg.ModulesDir, log)
	if err != nil {
		return fmt.Errorf("open module registry: %w", err)
	}
	defer mods.Close()
	if err := mods.Watch(); err != nil {
		log.Warn("module directory watch unavailable", "error", err)
	}

	pool, err := engine.NewPool(cfg.EngineSlots, engine.NewPlaceholderRunner(), log)
	if err != nil {
		return fmt.Errorf("create engine pool: %w", err)
	}
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start engine pool: %w", err)
	}
	defer pool.Close()

	mgr := session.NewManager(ctx, session.Deps{
		Log:      log,
		Metrics:  metrics,
		Store:    store,
		Registry: analysis.NewRegistry(),
		Pool:     pool,
		Modules:  mods,
		DataDir:  cfg.DataDir,
	})
	defer mgr.Close()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handlers.SetupRoutes(router, mgr, handlers.RateConfig{
		PerSecond: cfg.RateLimit.PerSecond,
		Burst:     cfg.RateLimit.Burst,
	}, metrics, log)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("engine listening", "addr", cfg.Listen, "slots", cfg.EngineSlots)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
