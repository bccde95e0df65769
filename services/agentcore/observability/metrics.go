// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the agent core.
//
// # Description
//
// Metrics cover the reasoning loop (turns, iterations, limit terminations),
// the emission channel (frames by kind, active streams), the circuit breaker
// (state, rejections), and the policy gate (verdicts). Exposed via /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "agentcore"

// Metrics holds all Prometheus metrics for the agent core service.
//
// Initialize once at startup via NewMetrics.
type Metrics struct {
	// TurnsTotal counts completed turns by outcome.
	// Labels: outcome (completed, limit, backend_error, policy_rejected, cancelled)
	TurnsTotal *prometheus.CounterVec

	// IterationsPerTurn observes reasoning rounds per turn.
	IterationsPerTurn prometheus.Histogram

	// LimitTerminationsTotal counts limit-driven terminations by limit type.
	// Labels: limit_type
	LimitTerminationsTotal *prometheus.CounterVec

	// FramesEmittedTotal counts emitted frames by kind.
	// Labels: kind
	FramesEmittedTotal *prometheus.CounterVec

	// ActiveStreams tracks currently active streaming connections.
	ActiveStreams prometheus.Gauge

	// TokensTotal counts tokens accounted by the engine.
	TokensTotal prometheus.Counter

	// BreakerRejectionsTotal counts admissions denied by the circuit breaker.
	BreakerRejectionsTotal prometheus.Counter

	// PolicyVerdictsTotal counts gate verdicts.
	// Labels: verdict (allowed, rejected)
	PolicyVerdictsTotal *prometheus.CounterVec

	// TurnDurationSeconds observes wall-clock turn duration by outcome.
	// Labels: outcome
	TurnDurationSeconds *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the given registerer.
//
// Inputs:
//
//	reg - Target registerer. Nil uses the default registry.
//
// Outputs:
//
//	*Metrics - The initialized metrics instance.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome.",
		}, []string{"outcome"}),

		IterationsPerTurn: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "iterations_per_turn",
			Help:      "Reasoning rounds performed per turn.",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		}),

		LimitTerminationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "limit_terminations_total",
			Help:      "Turns terminated by a resource limit, by limit type.",
		}, []string{"limit_type"}),

		FramesEmittedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_emitted_total",
			Help:      "Emission frames produced, by kind.",
		}, []string{"kind"}),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_streams",
			Help:      "Currently active streaming connections.",
		}),

		TokensTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tokens_total",
			Help:      "Tokens accounted by the reasoning engine.",
		}),

		BreakerRejectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "breaker_rejections_total",
			Help:      "Turn admissions denied by the circuit breaker.",
		}),

		PolicyVerdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "policy_verdicts_total",
			Help:      "Policy gate verdicts for supervised decisions.",
		}, []string{"verdict"}),

		TurnDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock turn duration by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
}
