// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

// scanforge-worker serves the binary-analysis message protocol on a
// Unix domain socket. It bootstraps the analysis environment on the
// host's init request — engine runtime, persistent cache, runtime
// components, rule corpus — and then answers scan requests until it is
// shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scanforge-foundation/scanforge/lib/config"
	"github.com/scanforge-foundation/scanforge/lib/deps"
	"github.com/scanforge-foundation/scanforge/lib/engine"
	"github.com/scanforge-foundation/scanforge/lib/rules"
	"github.com/scanforge-foundation/scanforge/lib/store"
	"github.com/scanforge-foundation/scanforge/lib/version"
	"github.com/scanforge-foundation/scanforge/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   string
		socketPath   string
		stateDir     string
		archiveURL   string
		engineBinary string
		showVersion  bool
	)

	flag.StringVar(&configPath, "config", "", "path to YAML config file (defaults to $"+config.EnvVar+")")
	flag.StringVar(&socketPath, "socket", "", "Unix socket path to serve on (overrides config)")
	flag.StringVar(&stateDir, "state-dir", "", "directory for persistent worker state (overrides config)")
	flag.StringVar(&archiveURL, "archive-url", "", "rule corpus archive URL (overrides config)")
	flag.StringVar(&engineBinary, "engine-binary", "", "path to the analyzer binary (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("scanforge-worker %s\n", version.Full())
		return nil
	}

	level := slog.LevelInfo
	if os.Getenv("SCANFORGE_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Socket = socketPath
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if archiveURL != "" {
		cfg.Rules.ArchiveURL = archiveURL
	}
	if engineBinary != "" {
		cfg.Engine.BinaryPath = engineBinary
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := os.MkdirAll(cfg.StateDir, 0700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	cacheStore, err := store.Open(store.Config{
		Path:   cfg.DatabasePath(),
		Dir:    cfg.CacheDir(),
		Logger: logger.With("component", "store"),
	})
	if err != nil {
		return fmt.Errorf("opening persistent cache: %w", err)
	}
	defer cacheStore.Close()

	ruleManager := &rules.Manager{
		Fetch: rules.HTTPFetch(&http.Client{Timeout: 5 * time.Minute},
			cfg.Rules.ArchiveURL),
		Store:       cacheStore,
		ArchivePath: cfg.ArchivePath(),
		RulesDir:    cfg.RulesDir(),
		Logger:      logger.With("component", "rules"),
	}

	analysisEngine := &engine.ExecEngine{
		BinaryPath: cfg.Engine.BinaryPath,
		ScratchDir: cfg.ScratchDir(),
	}

	controller := worker.NewController(worker.Config{
		Engine:         analysisEngine,
		PackageManager: &deps.ExecInstaller{BinaryPath: cfg.Engine.BinaryPath},
		Store:          cacheStore,
		Rules:          ruleManager,
		Logger:         logger.With("component", "controller"),
	}, nil)

	server := worker.NewServer(controller, logger.With("component", "server"))
	listener, err := server.Listen(cfg.Socket)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("scanforge-worker starting",
		"version", version.Info(),
		"socket", cfg.Socket,
		"state_dir", cfg.StateDir,
	)
	return server.Serve(ctx, listener)
}
