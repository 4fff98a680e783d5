// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ptri

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Note: no per-store labels on histograms to avoid cardinality growth with
// the number of open sessions.
var (
	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptri_timeline_commits_total",
		Help: "Total commits applied to the timeline, by origin",
	}, []string{"origin"}) // mutate | checkout

	timelineMovesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptri_timeline_moves_total",
		Help: "Total undo/redo pointer moves, by direction and outcome",
	}, []string{"direction", "outcome"})

	mutationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ptri_mutation_failures_total",
		Help: "Total submitted mutation batches rejected by the engine",
	})

	mutationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ptri_mutation_queue_depth",
		Help: "Current number of mutation batches waiting in the serializer",
	})

	mutationApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ptri_mutation_apply_duration_seconds",
		Help:    "Time to apply one mutation batch against the engine",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	subscriptionEvalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptri_subscription_evaluations_total",
		Help: "Subscription fingerprint evaluations, by result",
	}, []string{"result"}) // changed | unchanged | stale | error

	metadataSavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptri_metadata_saves_total",
		Help: "Timeline metadata persistence attempts, by status",
	}, []string{"status"}) // ok | error
)
