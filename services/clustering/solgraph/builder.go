// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package solgraph builds the consolidated step graph of an assignment.
//
// # Description
//
// Every accepted submission becomes a path of canonical step ids between
// the START and END sentinels. Near-duplicate submissions are detected on
// the whole text first and share the path of the solution they duplicate.
//
// Fuzzy step matching can route one submission back through an earlier
// step, so the raw graph may contain cycles. GenerateGraph condenses the
// raw graph into strongly connected components and only draws edges between
// different components, which makes the rendered graph acyclic.
//
// # Node Ids
//
// Rendered node 0 is START, node 1 is END, and canonical step s is node s+2.
//
// # Thread Safety
//
// Not safe for concurrent use. The manager serializes calls per assignment.
package solgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/solgraph/services/clustering/collab"
	"github.com/AleutianAI/solgraph/services/clustering/observability"
	"github.com/AleutianAI/solgraph/services/clustering/oracle"
	"github.com/AleutianAI/solgraph/services/clustering/render"
	"github.com/AleutianAI/solgraph/services/clustering/vectorindex"
)

var tracer = otel.Tracer("solgraph.graph")

// Sentinel node ids and labels.
const (
	StartNode  = 0
	EndNode    = 1
	nodeOffset = 2

	StartLabel = "START"
	EndLabel   = "END"
)

// ErrEmptySolution is returned for blank solution text.
var ErrEmptySolution = errors.New("empty solution text")

// Config tunes dedup and step canonicalization.
type Config struct {
	// DedupSearchCount is k for the whole-solution search. Default: 3.
	DedupSearchCount int `yaml:"dedup_search_count" validate:"gte=1"`

	// DedupThreshold is the squared L2 distance below which a stored
	// solution is checked with the solution judge.
	DedupThreshold float32 `yaml:"dedup_threshold" validate:"gt=0"`

	// Steps configures the step oracle.
	Steps oracle.Config `yaml:"steps"`
}

// DefaultConfig returns the defaults. Dedup is stricter than step matching.
func DefaultConfig() Config {
	return Config{
		DedupSearchCount: 3,
		DedupThreshold:   0.3,
		Steps:            oracle.DefaultConfig(),
	}
}

// Deps are the builder's collaborators and indexes.
type Deps struct {
	Collab        collab.GraphCollaborators
	StepIndex     vectorindex.Index
	SolutionIndex vectorindex.Index
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

type solution struct {
	text    string
	path    []int
	correct bool
}

// Builder accumulates submissions into one step graph.
type Builder struct {
	problem string
	deps    Deps
	cfg     Config
	oracle  *oracle.StepOracle

	solutions   []solution
	byUID       map[string]int
	uids        []string
	stepCorrect []bool
}

// New creates an empty builder for one problem.
func New(problemText string, deps Deps, cfg Config) *Builder {
	if cfg.DedupSearchCount < 1 {
		cfg.DedupSearchCount = DefaultConfig().DedupSearchCount
	}
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = DefaultConfig().DedupThreshold
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	o := oracle.New(oracle.Deps{
		Embedder:   deps.Collab.Embedder,
		Judge:      deps.Collab.StepJudge,
		Summarizer: deps.Collab.Summarizer,
		Index:      deps.StepIndex,
		Metrics:    deps.Metrics,
		Logger:     deps.Logger,
	}, cfg.Steps)
	return &Builder{
		problem: problemText,
		deps:    deps,
		cfg:     cfg,
		oracle:  o,
		byUID:   make(map[string]int),
	}
}

// AddSolution ingests one submission.
//
// # Description
//
// A near-duplicate of a stored solution is registered on that solution's
// path and ORs its correctness in. Otherwise the text is split into steps
// and each step is canonicalized. Insertion is atomic: on any failure the
// step oracle and both indexes are rolled back and the graph is unchanged.
//
// # Outputs
//
//   - bool: True if the submission was accepted.
//   - error: A collab error kind on collaborator failure.
func (b *Builder) AddSolution(ctx context.Context, uid, text string, correct bool) (bool, error) {
	ctx, span := tracer.Start(ctx, "solgraph.AddSolution")
	defer span.End()
	span.SetAttributes(attribute.String("submission_uid", uid))

	ok, err := b.addSolution(ctx, uid, text, correct)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, collab.Kind(err))
	}
	return ok, err
}

func (b *Builder) addSolution(ctx context.Context, uid, text string, correct bool) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, ErrEmptySolution
	}

	vec, err := b.deps.Collab.Embedder.Embed(ctx, text)
	if err != nil {
		return false, collab.Wrap(collab.ErrEmbed, err)
	}

	match, found, err := b.findDuplicate(ctx, text, vec)
	if err != nil {
		return false, err
	}
	if found {
		b.register(uid, match)
		if correct {
			b.solutions[match].correct = true
			b.markCorrect(b.solutions[match].path)
		}
		b.deps.Metrics.DedupHit()
		b.deps.Logger.Debug("solution deduplicated",
			"submission_uid", uid,
			"matched_solution", match)
		return true, nil
	}

	steps, err := b.deps.Collab.Splitter.SplitSteps(ctx, b.problem, text)
	if err != nil {
		return false, collab.Wrap(collab.ErrSplit, err)
	}
	steps = nonBlank(steps)
	if len(steps) == 0 {
		return false, collab.Wrap(collab.ErrSplit, errors.New("splitter returned no steps"))
	}

	cp := b.oracle.Checkpoint()
	path := make([]int, 0, len(steps))
	for i, step := range steps {
		id, err := b.oracle.Canonicalize(ctx, step)
		if err != nil {
			b.oracle.Rollback(ctx, cp)
			b.deps.Logger.Warn("solution rejected",
				"submission_uid", uid,
				"failed_step", i,
				"error", err)
			return false, err
		}
		path = append(path, id)
	}

	pos, err := b.deps.SolutionIndex.Add(ctx, vec)
	if err == nil && pos != len(b.solutions) {
		_ = b.deps.SolutionIndex.Truncate(ctx, len(b.solutions))
		err = fmt.Errorf("%w: solution position %d, solutions %d", oracle.ErrIndexOutOfSync, pos, len(b.solutions))
	}
	if err != nil {
		b.oracle.Rollback(ctx, cp)
		return false, collab.Wrap(collab.ErrEmbed, err)
	}

	b.oracle.Commit()
	b.solutions = append(b.solutions, solution{text: text, path: path, correct: correct})
	b.register(uid, pos)
	if correct {
		b.markCorrect(path)
	}
	b.deps.Logger.Debug("solution added",
		"submission_uid", uid,
		"steps", len(path),
		"canonical_steps", b.oracle.StepCount())
	return true, nil
}

// findDuplicate returns the index of a stored solution the judge accepts as
// the same solution.
func (b *Builder) findDuplicate(ctx context.Context, text string, vec []float32) (int, bool, error) {
	candidates, err := b.deps.SolutionIndex.Search(ctx, vec, b.cfg.DedupSearchCount)
	if err != nil {
		return 0, false, collab.Wrap(collab.ErrEmbed, fmt.Errorf("solution search: %w", err))
	}
	for _, c := range candidates {
		if c.Distance >= b.cfg.DedupThreshold {
			break
		}
		if c.Position < 0 || c.Position >= len(b.solutions) {
			continue
		}
		same, err := b.deps.Collab.SolutionJudge.Equivalent(ctx, text, b.solutions[c.Position].text)
		if err != nil {
			return 0, false, collab.Wrap(collab.ErrOracle, err)
		}
		if same {
			return c.Position, true, nil
		}
	}
	return 0, false, nil
}

// register maps uid to a solution. A uid seen before is moved, not repeated.
func (b *Builder) register(uid string, idx int) {
	if _, seen := b.byUID[uid]; !seen {
		b.uids = append(b.uids, uid)
	}
	b.byUID[uid] = idx
}

func (b *Builder) markCorrect(path []int) {
	for _, id := range path {
		for len(b.stepCorrect) <= id {
			b.stepCorrect = append(b.stepCorrect, false)
		}
		b.stepCorrect[id] = true
	}
}

func nonBlank(steps []string) []string {
	out := steps[:0:0]
	for _, s := range steps {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// =============================================================================
// Accessors
// =============================================================================

// SubmissionCount reports the number of registered uids.
func (b *Builder) SubmissionCount() int { return len(b.uids) }

// SolutionCount reports the number of distinct stored paths.
func (b *Builder) SolutionCount() int { return len(b.solutions) }

// StepCount reports the number of canonical steps.
func (b *Builder) StepCount() int { return b.oracle.StepCount() }

// StepCorrect reports whether canonical step id lies on a correct path.
func (b *Builder) StepCorrect(id int) bool {
	return id >= 0 && id < len(b.stepCorrect) && b.stepCorrect[id]
}

// =============================================================================
// Rendering
// =============================================================================

// GenerateGraph renders the condensed graph.
//
// # Outputs
//
//   - *render.Structure: Edges, summaries, correctness and per-uid paths.
//   - bool: False if no submission has been accepted yet.
func (b *Builder) GenerateGraph() (*render.Structure, bool) {
	if len(b.uids) == 0 {
		return nil, false
	}

	n := b.oracle.StepCount() + nodeOffset
	paths := make([][]int, len(b.solutions))
	anyCorrect := false
	for i, s := range b.solutions {
		paths[i] = nodePath(s.path)
		anyCorrect = anyCorrect || s.correct
	}

	comp, _ := stronglyConnected(rawAdjacency(n, paths))

	edgeSet := make(map[render.Edge]struct{})
	for _, p := range paths {
		for i := 1; i < len(p)-1; i++ {
			from := StartNode
			for j := i - 1; j >= 0; j-- {
				if comp[p[j]] != comp[p[i]] {
					from = p[j]
					break
				}
			}
			to := EndNode
			for j := i + 1; j < len(p); j++ {
				if comp[p[j]] != comp[p[i]] {
					to = p[j]
					break
				}
			}
			edgeSet[render.Edge{From: from, To: p[i]}] = struct{}{}
			edgeSet[render.Edge{From: p[i], To: to}] = struct{}{}
		}
	}
	edges := make([]render.Edge, 0, len(edgeSet))
	for e := range edgeSet {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})

	summary := make([]string, n)
	correct := make([]bool, n)
	summary[StartNode], summary[EndNode] = StartLabel, EndLabel
	correct[StartNode], correct[EndNode] = anyCorrect, anyCorrect
	for id, s := range b.oracle.Summaries() {
		summary[id+nodeOffset] = s
		correct[id+nodeOffset] = b.StepCorrect(id)
	}

	submissions := make([]render.Submission, 0, len(b.uids))
	for _, uid := range b.uids {
		submissions = append(submissions, render.Submission{
			UID:   uid,
			Nodes: append([]int(nil), paths[b.byUID[uid]]...),
		})
	}

	return &render.Structure{
		Graph:         edges,
		StepSummary:   summary,
		StepIsCorrect: correct,
		Submissions:   submissions,
	}, true
}

// nodePath converts step ids to rendered node ids framed by the sentinels.
func nodePath(steps []int) []int {
	out := make([]int, 0, len(steps)+2)
	out = append(out, StartNode)
	for _, id := range steps {
		out = append(out, id+nodeOffset)
	}
	return append(out, EndNode)
}

// rawAdjacency builds deduplicated, sorted adjacency from consecutive pairs.
func rawAdjacency(n int, paths [][]int) [][]int {
	seen := make(map[render.Edge]struct{})
	adj := make([][]int, n)
	for _, p := range paths {
		for i := 0; i+1 < len(p); i++ {
			e := render.Edge{From: p[i], To: p[i+1]}
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			adj[e.From] = append(adj[e.From], e.To)
		}
	}
	for _, outs := range adj {
		sort.Ints(outs)
	}
	return adj
}
