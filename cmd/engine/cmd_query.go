// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ParagrafAI/ParagrafCore/services/engine/orchestrator"
)

var (
	flagStream bool
	flagJSON   bool

	queryCmd = &cobra.Command{
		Use:   "query [question]",
		Short: "Answer one question from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery,
	}
)

func init() {
	queryCmd.Flags().BoolVar(&flagStream, "stream", false,
		"print the NDJSON event stream instead of the final result")
	queryCmd.Flags().BoolVar(&flagJSON, "json", false,
		"print the full result as JSON")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	weights, err := loadWeights(ctx)
	if err != nil {
		return fmt.Errorf("load weights: %w", err)
	}

	orch, err := buildOrchestrator(orchestrator.StaticWeights{Weights: weights}, logger)
	if err != nil {
		return err
	}

	query := strings.Join(args, " ")

	if flagStream {
		for event := range orch.ProcessStream(ctx, orchestrator.Request{Query: query}) {
			line, err := event.NDJSON()
			if err != nil {
				logger.Error("event serialization failed", slog.String("error", err.Error()))
				continue
			}
			if _, err := os.Stdout.Write(line); err != nil {
				return err
			}
		}
		return nil
	}

	result, err := orch.Process(ctx, orchestrator.Request{Query: query})
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Println(result.Answer)
	if len(result.Sources) > 0 {
		fmt.Println("\nQuellen:")
		for _, s := range result.Sources {
			fmt.Println("  -", s)
		}
	}
	fmt.Printf("\nIntent: %s  Konfidenz: %.2f  Budget: %d Tokens\n",
		result.Intent.Intent, result.Confidence, result.Budget)
	return nil
}
