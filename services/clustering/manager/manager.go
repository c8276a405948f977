// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manager is the per-assignment registry of graphs and trees.
//
// # Description
//
// Manager owns one solution graph and one solution tree per assignment id,
// created on the first submission for that id. Each submission is ingested
// by both structures concurrently and independently: a failure in one
// structure does not undo the other.
//
// # Thread Safety
//
// Manager is safe for concurrent use. Operations on one assignment are
// serialized by that assignment's mutex; distinct assignments proceed in
// parallel.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/solgraph/pkg/validation"
	"github.com/AleutianAI/solgraph/services/clustering/collab"
	"github.com/AleutianAI/solgraph/services/clustering/events"
	"github.com/AleutianAI/solgraph/services/clustering/observability"
	"github.com/AleutianAI/solgraph/services/clustering/render"
	"github.com/AleutianAI/solgraph/services/clustering/solgraph"
	"github.com/AleutianAI/solgraph/services/clustering/soltree"
	"github.com/AleutianAI/solgraph/services/clustering/vectorindex"
)

var tracer = otel.Tracer("solgraph.manager")

var (
	// ErrNotInitialized is returned when a structure has no accepted
	// submission yet.
	ErrNotInitialized = errors.New("structure not initialized")

	// ErrEmptySolution is returned for a submission with blank text.
	ErrEmptySolution = errors.New("empty solution text")

	// ErrMissingAssignment is returned for a submission without an
	// assignment id.
	ErrMissingAssignment = errors.New("assignment id is required")

	// ErrInvalidSubmission is returned for a malformed assignment id or
	// solution uid.
	ErrInvalidSubmission = errors.New("invalid submission")
)

// Submission is one student solution.
type Submission struct {
	AssignmentID string `json:"assignment_id"`
	UID          string `json:"solution_uid"`
	Text         string `json:"solution_text"`
	ProblemText  string `json:"problem_text,omitempty"`
	Correct      bool   `json:"is_correct,omitempty"`

	// FinalAnswer and ExpectedAnswer, when both set, decide correctness
	// instead of Correct.
	FinalAnswer    string `json:"final_answer,omitempty"`
	ExpectedAnswer string `json:"correct_answer,omitempty"`
}

// IsCorrect resolves the submission's correctness.
func (s Submission) IsCorrect() bool {
	if s.FinalAnswer != "" || s.ExpectedAnswer != "" {
		return AnswersMatch(s.FinalAnswer, s.ExpectedAnswer)
	}
	return s.Correct
}

// AnswersMatch compares two final answers ignoring case and surrounding
// whitespace. Blank answers never match.
func AnswersMatch(final, expected string) bool {
	f := strings.TrimSpace(final)
	e := strings.TrimSpace(expected)
	if f == "" || e == "" {
		return false
	}
	return strings.EqualFold(f, e)
}

// Result reports what each structure did with one submission.
type Result struct {
	GraphAccepted bool  `json:"graph_accepted"`
	TreeAccepted  bool  `json:"tree_accepted"`
	GraphErr      error `json:"-"`
	TreeErr       error `json:"-"`
}

// Accepted reports whether both structures accepted the submission.
func (r Result) Accepted() bool { return r.GraphAccepted && r.TreeAccepted }

// Err joins the per-structure errors.
func (r Result) Err() error { return errors.Join(r.GraphErr, r.TreeErr) }

// Config tunes the manager.
type Config struct {
	Graph solgraph.Config `yaml:"graph"`

	// IngestConcurrency bounds how many assignments IngestBatch processes
	// at once. Default: 4.
	IngestConcurrency int `yaml:"ingest_concurrency" validate:"gte=1"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{Graph: solgraph.DefaultConfig(), IngestConcurrency: 4}
}

// Deps are the collaborators shared by every assignment.
type Deps struct {
	Graph collab.GraphCollaborators
	Tree  collab.TreeCollaborators

	// Indexes creates the step and solution indexes of a new assignment.
	Indexes vectorindex.Factory

	Metrics *observability.Metrics
	Events  *events.Bus
	Logger  *slog.Logger
}

type assignment struct {
	mu      sync.Mutex
	id      string
	problem string
	graph   *solgraph.Builder
	tree    *soltree.Builder
}

// Manager is the assignment registry.
type Manager struct {
	deps Deps
	cfg  Config

	mu          sync.Mutex
	assignments map[string]*assignment
	ready       int
}

// New creates an empty registry.
func New(deps Deps, cfg Config) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Indexes == nil {
		deps.Indexes = vectorindex.FlatFactory
	}
	if cfg.IngestConcurrency < 1 {
		cfg.IngestConcurrency = DefaultConfig().IngestConcurrency
	}
	return &Manager{
		deps:        deps,
		cfg:         cfg,
		assignments: make(map[string]*assignment),
	}
}

// =============================================================================
// Ingestion
// =============================================================================

// AddSolution routes a submission to the graph and tree of its assignment.
//
// # Description
//
// The assignment is created on first use with the submission's problem
// text. Both structures ingest the submission concurrently. Blank text is
// rejected before any collaborator is called.
//
// # Outputs
//
//   - Result: Per-structure acceptance and errors.
//   - error: ErrEmptySolution, ErrMissingAssignment, ErrInvalidSubmission,
//     an index creation failure, or the joined per-structure errors.
func (m *Manager) AddSolution(ctx context.Context, sub Submission) (Result, error) {
	ctx, span := tracer.Start(ctx, "manager.AddSolution")
	defer span.End()
	span.SetAttributes(
		attribute.String("assignment_id", sub.AssignmentID),
		attribute.String("submission_uid", sub.UID),
	)

	if strings.TrimSpace(sub.AssignmentID) == "" {
		return Result{}, ErrMissingAssignment
	}
	if err := validation.ValidateAssignmentID(sub.AssignmentID); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if err := validation.ValidateSolutionUID(sub.UID); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if strings.TrimSpace(sub.Text) == "" {
		return Result{}, ErrEmptySolution
	}

	a := m.lookupOrCreate(sub.AssignmentID)
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := m.initialize(ctx, a, sub.ProblemText); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "initialize assignment")
		return Result{}, err
	}

	correct := sub.IsCorrect()
	var res Result
	var g errgroup.Group
	g.Go(func() error {
		start := time.Now()
		res.GraphAccepted, res.GraphErr = a.graph.AddSolution(ctx, sub.UID, sub.Text, correct)
		m.report(sub, observability.StructureGraph, res.GraphAccepted, res.GraphErr, time.Since(start))
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		res.TreeAccepted, res.TreeErr = a.tree.AddSolution(ctx, sub.UID, sub.Text, correct)
		m.report(sub, observability.StructureTree, res.TreeAccepted, res.TreeErr, time.Since(start))
		return nil
	})
	_ = g.Wait()

	err := res.Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, collab.Kind(err))
	}
	return res, err
}

func (m *Manager) lookupOrCreate(id string) *assignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		a = &assignment{id: id}
		m.assignments[id] = a
	}
	return a
}

// initialize builds the structures of a on first use. Caller holds a.mu.
func (m *Manager) initialize(ctx context.Context, a *assignment, problem string) error {
	if a.graph != nil {
		return nil
	}
	stepIndex, err := m.deps.Indexes(ctx, a.id+"/steps")
	if err != nil {
		return fmt.Errorf("create step index for %s: %w", a.id, err)
	}
	solutionIndex, err := m.deps.Indexes(ctx, a.id+"/solutions")
	if err != nil {
		return fmt.Errorf("create solution index for %s: %w", a.id, err)
	}

	logger := m.deps.Logger.With("assignment_id", a.id)
	a.problem = problem
	a.tree = soltree.New(soltree.Deps{
		Collab:  m.deps.Tree,
		Metrics: m.deps.Metrics,
		Logger:  logger.With("structure", string(observability.StructureTree)),
	})
	a.graph = solgraph.New(problem, solgraph.Deps{
		Collab:        m.deps.Graph,
		StepIndex:     stepIndex,
		SolutionIndex: solutionIndex,
		Metrics:       m.deps.Metrics,
		Logger:        logger.With("structure", string(observability.StructureGraph)),
	}, m.cfg.Graph)

	m.mu.Lock()
	m.ready++
	m.deps.Metrics.SetAssignments(m.ready)
	m.mu.Unlock()

	m.deps.Events.Publish(events.Event{Kind: events.KindAssignmentCreated, AssignmentID: a.id})
	logger.Info("assignment created")
	return nil
}

func (m *Manager) report(sub Submission, structure observability.Structure, accepted bool, err error, d time.Duration) {
	kind := ""
	if err != nil {
		kind = collab.Kind(err)
	} else if !accepted {
		kind = "rejected"
	}
	m.deps.Metrics.RecordSubmission(structure, kind, d)

	ev := events.Event{
		Kind:          events.KindSubmissionAccepted,
		AssignmentID:  sub.AssignmentID,
		SubmissionUID: sub.UID,
		Structure:     string(structure),
	}
	if kind != "" {
		ev.Kind = events.KindSubmissionRejected
		ev.ErrorCode = kind
		m.deps.Logger.Warn("submission rejected",
			"assignment_id", sub.AssignmentID,
			"submission_uid", sub.UID,
			"structure", string(structure),
			"error_code", kind,
			"error", err)
	}
	m.deps.Events.Publish(ev)
}

// =============================================================================
// Queries
// =============================================================================

// GenerateGraph renders the graph of an assignment.
func (m *Manager) GenerateGraph(assignmentID string) (*render.Structure, error) {
	a := m.lookup(assignmentID)
	if a == nil {
		return nil, ErrNotInitialized
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.graph == nil {
		return nil, ErrNotInitialized
	}
	s, ok := a.graph.GenerateGraph()
	if !ok {
		return nil, ErrNotInitialized
	}
	return s, nil
}

// GenerateTree renders the tree of an assignment.
func (m *Manager) GenerateTree(assignmentID string) (*render.Structure, error) {
	a := m.lookup(assignmentID)
	if a == nil {
		return nil, ErrNotInitialized
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tree == nil {
		return nil, ErrNotInitialized
	}
	s, ok := a.tree.GenerateTree()
	if !ok {
		return nil, ErrNotInitialized
	}
	return s, nil
}

func (m *Manager) lookup(id string) *assignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assignments[id]
}

// AssignmentInfo summarizes one registered assignment.
type AssignmentInfo struct {
	ID              string `json:"assignment_id"`
	GraphSubmission int    `json:"graph_submissions"`
	Solutions       int    `json:"distinct_solutions"`
	Steps           int    `json:"canonical_steps"`
	TreeSubmission  int    `json:"tree_submissions"`
	TreeNodes       int    `json:"tree_nodes"`
}

// Assignments lists initialized assignments sorted by id.
func (m *Manager) Assignments() []AssignmentInfo {
	m.mu.Lock()
	all := make([]*assignment, 0, len(m.assignments))
	for _, a := range m.assignments {
		all = append(all, a)
	}
	m.mu.Unlock()

	out := make([]AssignmentInfo, 0, len(all))
	for _, a := range all {
		a.mu.Lock()
		if a.graph != nil {
			out = append(out, AssignmentInfo{
				ID:              a.id,
				GraphSubmission: a.graph.SubmissionCount(),
				Solutions:       a.graph.SolutionCount(),
				Steps:           a.graph.StepCount(),
				TreeSubmission:  a.tree.SubmissionCount(),
				TreeNodes:       a.tree.NodeCount(),
			})
		}
		a.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
