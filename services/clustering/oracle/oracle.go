// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package oracle resolves step texts to canonical step ids.
//
// # Description
//
// Each Canonicalize call embeds the step, searches the k nearest stored
// step embeddings, and asks the equivalence judge about every candidate
// closer than the distance threshold. The first "yes" aliases the new slot
// to the candidate's root. Without a match the step is summarized and
// becomes a new canonical step.
//
// Every call appends exactly one vector and one alias slot, even when the
// step merges. Alias slots form a forest: a root slot owns a step id, every
// other slot points toward a root. Resolution compresses paths so repeated
// lookups through a merged slot cost O(1).
//
// # Atomicity
//
// A failed call leaves no trace. Callers that need atomicity across several
// calls take a Checkpoint first and Rollback on failure.
//
// # Thread Safety
//
// Not safe for concurrent use. The owning builder is serialized by the
// manager.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/solgraph/services/clustering/collab"
	"github.com/AleutianAI/solgraph/services/clustering/observability"
	"github.com/AleutianAI/solgraph/services/clustering/vectorindex"
)

var tracer = otel.Tracer("solgraph.oracle")

// noStep marks a slot that does not own a step.
const noStep = -1

// ErrIndexOutOfSync is returned when the vector index position disagrees
// with the alias array.
var ErrIndexOutOfSync = errors.New("vector index out of sync with alias slots")

// Config tunes candidate selection.
type Config struct {
	// SearchCount is k for the nearest-neighbor search. Default: 3.
	SearchCount int `yaml:"search_count" validate:"gte=1"`

	// DistanceThreshold is the squared L2 distance below which a candidate
	// is verified with the judge.
	DistanceThreshold float32 `yaml:"distance_threshold" validate:"gt=0"`
}

// DefaultConfig returns the step-level defaults.
func DefaultConfig() Config {
	return Config{SearchCount: 3, DistanceThreshold: 0.8}
}

// Deps are the collaborators the oracle calls.
type Deps struct {
	Embedder   collab.Embedder
	Judge      collab.Judge
	Summarizer collab.Summarizer
	Index      vectorindex.Index
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// StepOracle canonicalizes step texts.
type StepOracle struct {
	deps Deps
	cfg  Config

	// alias[slot] is the parent slot; roots point to themselves.
	alias []int

	// owner[slot] is the step id a root slot owns, or noStep.
	owner []int

	// summaries[id] is the summary of canonical step id.
	summaries []string

	// Merges and creations since the last Commit. Rollback discards them so
	// the counters only see committed steps.
	pendingMerged  int
	pendingCreated int
}

// New creates an empty oracle.
func New(deps Deps, cfg Config) *StepOracle {
	if cfg.SearchCount < 1 {
		cfg.SearchCount = DefaultConfig().SearchCount
	}
	if cfg.DistanceThreshold <= 0 {
		cfg.DistanceThreshold = DefaultConfig().DistanceThreshold
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &StepOracle{deps: deps, cfg: cfg}
}

// Canonicalize resolves text to a canonical step id.
//
// # Outputs
//
//   - int: Existing step id on a verified match, else a new dense id.
//   - error: Wraps collab.ErrEmbed, collab.ErrOracle or collab.ErrSummarize.
func (o *StepOracle) Canonicalize(ctx context.Context, text string) (int, error) {
	ctx, span := tracer.Start(ctx, "oracle.Canonicalize")
	defer span.End()

	vec, err := o.deps.Embedder.Embed(ctx, text)
	if err != nil {
		return 0, collab.Wrap(collab.ErrEmbed, err)
	}
	if len(vec) == 0 {
		return 0, collab.Wrap(collab.ErrEmbed, errors.New("empty embedding"))
	}

	candidates, err := o.deps.Index.Search(ctx, vec, o.cfg.SearchCount)
	if err != nil {
		return 0, collab.Wrap(collab.ErrEmbed, fmt.Errorf("vector search: %w", err))
	}

	cp := o.Checkpoint()
	slot, err := o.deps.Index.Add(ctx, vec)
	if err != nil {
		return 0, collab.Wrap(collab.ErrEmbed, fmt.Errorf("vector add: %w", err))
	}
	if slot != len(o.alias) {
		o.Rollback(ctx, cp)
		return 0, fmt.Errorf("%w: position %d, slots %d", ErrIndexOutOfSync, slot, len(o.alias))
	}
	o.alias = append(o.alias, slot)
	o.owner = append(o.owner, noStep)

	asked := make(map[int]bool, len(candidates))
	for _, c := range candidates {
		if c.Distance >= o.cfg.DistanceThreshold {
			break
		}
		if c.Position < 0 || c.Position >= slot {
			continue
		}
		root := o.find(c.Position)
		id := o.owner[root]
		if id == noStep || asked[root] {
			continue
		}
		asked[root] = true

		same, err := o.deps.Judge.Equivalent(ctx, text, o.summaries[id])
		if err != nil {
			o.Rollback(ctx, cp)
			return 0, collab.Wrap(collab.ErrOracle, err)
		}
		if same {
			o.alias[slot] = root
			o.pendingMerged++
			span.SetAttributes(attribute.Int("step_id", id), attribute.Bool("merged", true))
			o.deps.Logger.Debug("step merged", "step_id", id, "slot", slot, "distance", c.Distance)
			return id, nil
		}
	}

	summary, err := o.deps.Summarizer.Summarize(ctx, text)
	if err == nil && strings.TrimSpace(summary) == "" {
		err = errors.New("empty summary")
	}
	if err != nil {
		o.Rollback(ctx, cp)
		return 0, collab.Wrap(collab.ErrSummarize, err)
	}

	id := len(o.summaries)
	o.summaries = append(o.summaries, strings.TrimSpace(summary))
	o.owner[slot] = id
	o.pendingCreated++
	span.SetAttributes(attribute.Int("step_id", id), attribute.Bool("merged", false))
	o.deps.Logger.Debug("step created", "step_id", id, "slot", slot)
	return id, nil
}

// find returns the root slot of x, compressing the path behind it.
func (o *StepOracle) find(x int) int {
	root := x
	for o.alias[root] != root {
		root = o.alias[root]
	}
	for o.alias[x] != root {
		next := o.alias[x]
		o.alias[x] = root
		x = next
	}
	return root
}

// =============================================================================
// Checkpoints
// =============================================================================

// Checkpoint marks the oracle's current size.
type Checkpoint struct {
	slots   int
	steps   int
	merged  int
	created int
}

// Checkpoint returns a mark that Rollback restores.
func (o *StepOracle) Checkpoint() Checkpoint {
	return Checkpoint{
		slots:   len(o.alias),
		steps:   len(o.summaries),
		merged:  o.pendingMerged,
		created: o.pendingCreated,
	}
}

// Commit reports the merges and creations made since the last Commit to the
// step counters. Callers commit once the enclosing operation can no longer
// roll back.
func (o *StepOracle) Commit() {
	for ; o.pendingMerged > 0; o.pendingMerged-- {
		o.deps.Metrics.StepMerged()
	}
	for ; o.pendingCreated > 0; o.pendingCreated-- {
		o.deps.Metrics.StepCreated()
	}
}

// Rollback discards every slot, vector and step created after cp.
//
// Slots before cp never point at later slots, so truncation keeps the forest
// consistent. Step ids discarded here were never returned from a committed
// operation.
func (o *StepOracle) Rollback(ctx context.Context, cp Checkpoint) {
	if cp.slots > len(o.alias) || cp.steps > len(o.summaries) {
		return
	}
	o.alias = o.alias[:cp.slots]
	o.owner = o.owner[:cp.slots]
	o.summaries = o.summaries[:cp.steps]
	if cp.merged <= o.pendingMerged && cp.created <= o.pendingCreated {
		o.pendingMerged, o.pendingCreated = cp.merged, cp.created
	}
	if o.deps.Index.Len() > cp.slots {
		if err := o.deps.Index.Truncate(ctx, cp.slots); err != nil {
			o.deps.Logger.Error("vector index rollback failed",
				"slots", cp.slots,
				"error", err)
		}
	}
	trace.SpanFromContext(ctx).AddEvent("oracle.rollback",
		trace.WithAttributes(attribute.Int("slots", cp.slots), attribute.Int("steps", cp.steps)))
}

// =============================================================================
// Accessors
// =============================================================================

// StepCount reports the number of canonical steps.
func (o *StepOracle) StepCount() int { return len(o.summaries) }

// SlotCount reports the number of alias slots, one per successful call.
func (o *StepOracle) SlotCount() int { return len(o.alias) }

// Summary returns the summary of step id.
func (o *StepOracle) Summary(id int) string { return o.summaries[id] }

// Summaries returns a copy of every step summary indexed by id.
func (o *StepOracle) Summaries() []string {
	return append([]string(nil), o.summaries...)
}

// Resolve returns the step id that slot resolves to, compressing its path.
func (o *StepOracle) Resolve(slot int) (int, bool) {
	if slot < 0 || slot >= len(o.alias) {
		return 0, false
	}
	id := o.owner[o.find(slot)]
	return id, id != noStep
}

// Parent returns the slot's current alias target without compressing.
func (o *StepOracle) Parent(slot int) int { return o.alias[slot] }
