// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "paragraf-engine", cfg.ServiceName)
	assert.NotEmpty(t, cfg.TraceExporter)
	assert.NotEmpty(t, cfg.MetricExporter)
}

func TestInit_DisabledExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		ServiceName:    "test",
		TraceExporter:  "none",
		MetricExporter: "none",
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporterRejected(t *testing.T) {
	_, err := Init(context.Background(), Config{
		ServiceName:    "test",
		TraceExporter:  "bogus",
		MetricExporter: "none",
	})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_StdoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		ServiceName:    "test",
		TraceExporter:  "stdout",
		MetricExporter: "stdout",
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
