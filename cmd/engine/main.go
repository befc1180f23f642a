// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command engine runs the Paragraf query engine, either as an HTTP service
// (serve) or for a single question from the terminal (query).
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ParagrafAI/ParagrafCore/services/engine/config"
)

var (
	flagConfig   string
	flagLogLevel string

	rootCmd = &cobra.Command{
		Use:   "paragraf-engine",
		Short: "Adaptive query engine for German legal research",
		Long: `The engine classifies a legal question, sizes a token budget for it,
retrieves supporting documents, fans out across source domains, and runs
a staged reasoning chain to produce a sourced answer.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "",
		"path to a weights YAML file (empty uses built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info",
		"log level: debug, info, warn, error")
	rootCmd.PersistentPreRun = func(*cobra.Command, []string) { setupLogger() }
	rootCmd.AddCommand(serveCmd, queryCmd)
}

// setupLogger picks text output on a terminal, JSON otherwise.
func setupLogger() {
	var level slog.Level
	switch strings.ToLower(flagLogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func loadWeights(ctx context.Context) (*config.Weights, error) {
	if flagConfig == "" {
		return config.Default()
	}
	return config.Load(ctx, flagConfig)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("command failed: %v", err)
	}
}
