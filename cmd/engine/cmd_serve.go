// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ParagrafAI/ParagrafCore/services/engine/api"
	"github.com/ParagrafAI/ParagrafCore/services/engine/config"
	"github.com/ParagrafAI/ParagrafCore/services/engine/orchestrator"
	"github.com/ParagrafAI/ParagrafCore/services/engine/telemetry"
)

var (
	flagListen string
	flagWatch  bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Starts the engine as an HTTP service with blocking and NDJSON
streaming query endpoints, a health check, and Prometheus metrics.`,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", ":12310", "listen address")
	serveCmd.Flags().BoolVar(&flagWatch, "watch", false,
		"hot-reload the weights file when it changes on disk")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	weights, err := loadWeights(ctx)
	if err != nil {
		return fmt.Errorf("load weights: %w", err)
	}

	var provider orchestrator.WeightsProvider = orchestrator.StaticWeights{Weights: weights}
	if flagConfig != "" {
		store := config.NewStore(weights, flagConfig, logger)
		provider = store
		if flagWatch {
			go func() {
				if err := store.Watch(ctx); err != nil {
					logger.Error("weights watcher stopped", slog.String("error", err.Error()))
				}
			}()
		}
	}

	orch, err := buildOrchestrator(provider, logger)
	if err != nil {
		return err
	}

	server, err := api.New(orch, api.WithLogger(logger))
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run(flagListen) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}
