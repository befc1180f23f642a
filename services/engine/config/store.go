// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Store holds the current weight tables and supports atomic hot reload.
//
// Description:
//
//	Readers call Current and get an immutable snapshot; a reload swaps the
//	pointer without blocking readers. An invalid replacement file is logged
//	and ignored so the engine keeps serving with the last good tables.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	current atomic.Pointer[Weights]
	path    string
	logger  *slog.Logger
}

// NewStore creates a store seeded with the given tables.
//
// Inputs:
//
//	initial - The starting tables. Must not be nil.
//	path - File to watch for reloads. Empty disables watching.
//	logger - Logger for reload outcomes. If nil, uses slog.Default().
func NewStore(initial *Weights, path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger}
	s.current.Store(initial)
	return s
}

// Current returns the active weight tables. Never nil.
func (s *Store) Current() *Weights {
	return s.current.Load()
}

// Reload reads the watched file and swaps the tables if it validates.
//
// Outputs:
//
//	error - Non-nil if the file could not be loaded; the previous tables
//	        stay active in that case.
func (s *Store) Reload(ctx context.Context) error {
	w, err := Load(ctx, s.path)
	if err != nil {
		s.logger.Error("weights reload rejected, keeping previous tables",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.current.Store(w)
	s.logger.Info("weights reloaded",
		slog.String("path", s.path),
		slog.Int("intent_patterns", len(w.Intent.Patterns)),
		slog.Int("keywords", len(w.Complexity.Keywords)),
	)
	return nil
}

// Watch reloads the tables whenever the watched file changes.
//
// Description:
//
//	Blocks until ctx is canceled. Watches the file's directory rather than
//	the file itself so editors that replace-on-save (rename + create) still
//	trigger a reload.
//
// Inputs:
//
//	ctx - Cancel to stop watching.
//
// Outputs:
//
//	error - Non-nil if the watcher could not be created.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Reload errors are already logged; keep watching.
			_ = s.Reload(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("weights watcher error", slog.String("error", err.Error()))
		}
	}
}
