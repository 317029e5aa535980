// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gradient construction metrics, exported through the default prometheus registry.
var (
	gradientPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opgraph_gradient_passes_total",
		Help: "Total number of gradient constructions, by result (ok or error)",
	}, []string{"result"})

	gradientInputOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opgraph_gradient_inputs_total",
		Help: "Total number of requested gradient inputs, by outcome",
	}, []string{"outcome"})

	gradientVisitedOps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opgraph_gradient_visited_ops",
		Help:    "Number of operators whose local gradient was built in a gradient construction",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	gradientCreatedOps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opgraph_gradient_created_ops",
		Help:    "Number of operators added to the graph by a gradient construction",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})
)

const (
	outcomeGradient          = "gradient"
	outcomeNotDifferentiable = "not_differentiable"
	outcomeDisconnected      = "disconnected"
)
