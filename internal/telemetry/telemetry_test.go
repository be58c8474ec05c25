// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactor-rt/reactors/internal/tag"
)

func TestCollector_ObserveTagUpdatesGaugeAndCounter(t *testing.T) {
	t.Parallel()

	c := NewCollector("reactors_test")
	reg := prometheus.NewRegistry()
	c.MustRegister(reg)

	c.ObserveTag(tag.New(150, 0))

	var m dto.Metric
	require.NoError(t, c.CurrentOffset.Write(&m))
	assert.Equal(t, float64(150), m.GetGauge().GetValue())

	require.NoError(t, c.TagsAdvanced.Write(&m))
	assert.Equal(t, float64(1), m.GetCounter().GetValue())
}

func TestCollector_ReactionsRunIsLabeledByReactor(t *testing.T) {
	t.Parallel()

	c := NewCollector("reactors_test")
	c.ReactionsRun.WithLabelValues("Gain").Inc()
	c.ReactionsRun.WithLabelValues("Gain").Inc()
	c.ReactionsRun.WithLabelValues("Printer").Inc()

	var m dto.Metric
	require.NoError(t, c.ReactionsRun.WithLabelValues("Gain").Write(&m))
	assert.Equal(t, float64(2), m.GetCounter().GetValue())
}

func TestNewTracerProvider_BuildsAndShutsDownCleanly(t *testing.T) {
	tp := NewTracerProvider()
	require.NotNil(t, tp)
	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestStartReactionSpan_ReturnsNonNilSpan(t *testing.T) {
	t.Parallel()

	_, span := StartReactionSpan(context.Background(), "Gain", tag.New(0, 0))
	defer span.End()

	assert.NotNil(t, span)
}
