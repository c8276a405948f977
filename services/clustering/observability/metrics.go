// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the clustering engine.
//
// # Description
//
// Metrics include:
//   - Submission counters (by structure and outcome)
//   - Canonical step creation and merge counters
//   - Whole-solution dedup hits and tree splits
//   - Ingestion latency histograms
//   - Registered assignment gauge and dropped event counter
//
// # Nil Receivers
//
// Every Record method is a no-op on a nil *Metrics, so core packages accept
// an optional metrics handle without branching at each call site.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "solgraph"

// Subsystem for engine metrics
const engineSubsystem = "engine"

// Structure labels a metric with the representation it concerns.
type Structure string

const (
	// StructureGraph is the consolidated step graph.
	StructureGraph Structure = "graph"

	// StructureTree is the prefix tree.
	StructureTree Structure = "tree"
)

// Metrics holds the engine's Prometheus collectors.
//
// # Fields
//
//   - SubmissionsTotal: submissions by structure and status (accepted, failed)
//   - FailuresTotal: failed submissions by structure and error kind
//   - StepsCreatedTotal: new canonical steps
//   - StepMergesTotal: steps merged into an existing canonical step
//   - DedupHitsTotal: whole-solution duplicates
//   - TreeSplitsTotal: tree node splits
//   - IngestDurationSeconds: per-structure ingestion latency
//   - Assignments: number of registered assignments
//   - EventsDroppedTotal: events discarded for slow subscribers
type Metrics struct {
	SubmissionsTotal      *prometheus.CounterVec
	FailuresTotal         *prometheus.CounterVec
	StepsCreatedTotal     prometheus.Counter
	StepMergesTotal       prometheus.Counter
	DedupHitsTotal        prometheus.Counter
	TreeSplitsTotal       prometheus.Counter
	IngestDurationSeconds *prometheus.HistogramVec
	Assignments           prometheus.Gauge
	EventsDroppedTotal    prometheus.Counter
}

// NewMetrics creates and registers the collectors on reg.
//
// # Inputs
//
//   - reg: Registry to register on. Tests pass prometheus.NewRegistry();
//     the server passes prometheus.DefaultRegisterer.
//
// # Limitations
//
//   - Panics if called twice on the same registry (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SubmissionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "submissions_total",
				Help:      "Total submissions by structure and status",
			},
			[]string{"structure", "status"},
		),
		FailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "failures_total",
				Help:      "Failed submissions by structure and error kind",
			},
			[]string{"structure", "kind"},
		),
		StepsCreatedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "steps_created_total",
			Help:      "Canonical steps created",
		}),
		StepMergesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "step_merges_total",
			Help:      "Steps resolved to an existing canonical step",
		}),
		DedupHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "dedup_hits_total",
			Help:      "Submissions matched to an existing solution without splitting",
		}),
		TreeSplitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "tree_splits_total",
			Help:      "Tree nodes split at a shared prefix",
		}),
		IngestDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "ingest_duration_seconds",
				Help:      "Time to ingest one submission into a structure",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"structure"},
		),
		Assignments: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "assignments",
			Help:      "Registered assignments",
		}),
		EventsDroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "events_dropped_total",
			Help:      "Events discarded because a subscriber queue was full",
		}),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordSubmission records one ingestion attempt.
//
// # Inputs
//
//   - structure: Which structure ingested the submission.
//   - kind: Error kind code, or "" on success.
//   - d: Time spent.
func (m *Metrics) RecordSubmission(structure Structure, kind string, d time.Duration) {
	if m == nil {
		return
	}
	status := "accepted"
	if kind != "" {
		status = "failed"
		m.FailuresTotal.WithLabelValues(string(structure), kind).Inc()
	}
	m.SubmissionsTotal.WithLabelValues(string(structure), status).Inc()
	m.IngestDurationSeconds.WithLabelValues(string(structure)).Observe(d.Seconds())
}

// StepCreated counts a new canonical step.
func (m *Metrics) StepCreated() {
	if m == nil {
		return
	}
	m.StepsCreatedTotal.Inc()
}

// StepMerged counts a step resolved to an existing canonical step.
func (m *Metrics) StepMerged() {
	if m == nil {
		return
	}
	m.StepMergesTotal.Inc()
}

// DedupHit counts a whole-solution duplicate.
func (m *Metrics) DedupHit() {
	if m == nil {
		return
	}
	m.DedupHitsTotal.Inc()
}

// TreeSplit counts a node split.
func (m *Metrics) TreeSplit() {
	if m == nil {
		return
	}
	m.TreeSplitsTotal.Inc()
}

// SetAssignments sets the registered assignment gauge.
func (m *Metrics) SetAssignments(n int) {
	if m == nil {
		return
	}
	m.Assignments.Set(float64(n))
}

// EventDropped counts a discarded event.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDroppedTotal.Inc()
}
